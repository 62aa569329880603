package event_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/talentmatch/internal/domain/event"
	"github.com/okian/talentmatch/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

const jobEvent = `{
  "id": "evt-job-1",
  "type": "job.requirements.extracted",
  "occurredAt": "2024-02-01T10:00:00Z",
  "data": {
    "jobId": "job-1",
    "requirements": {
      "skills": [{"name": " React ", "weight": 1, "required": true}, {"name": "TypeScript", "weight": 0.9, "required": true}, {"name": "GraphQL"}],
      "experienceYears": {"min": 2},
      "educationLevel": "BSc",
      "companyProfile": {"descriptors": ["mentoring", " "]}
    }
  }
}`

const resumeEvent = `{
  "type": "resume.parsed",
  "data": {
    "jobId": "job-1",
    "resumeId": "res-1",
    "profile": {
      "name": "Alex",
      "parsedAt": "2024-01-15",
      "skills": ["React", "", "TypeScript"],
      "workExperience": [
        {"company": "Acme", "position": "Frontend Developer", "start": "2020-01-17", "end": "2022-01"},
        {"company": "Globex", "position": "Senior Developer", "start": "2022-01", "end": "present"}
      ],
      "education": [{"school": "State", "degree": "Master of Science", "major": "CS"}]
    }
  }
}`

func TestCodecDecode(t *testing.T) {
	codec, err := event.NewCodec()
	if err != nil {
		t.Fatal(err)
	}

	Convey("Given a valid job event", t, func() {
		ev, err := codec.Decode([]byte(jobEvent))

		Convey("Then it decodes into the typed job variant", func() {
			So(err, ShouldBeNil)
			So(ev.ID, ShouldEqual, "evt-job-1")
			So(ev.Type, ShouldEqual, model.EventJobRequirementsExtracted)
			So(ev.JobID(), ShouldEqual, "job-1")
			So(ev.ResumeID(), ShouldEqual, "")
			So(ev.OccurredAt, ShouldEqual, time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC))

			job := ev.Job.Requirements
			So(job.JobID, ShouldEqual, "job-1")
			So(job.Skills[0].Name, ShouldEqual, "React")
			So(job.Skills[2].Weight, ShouldEqual, 1.0)
			So(job.EducationLevel, ShouldEqual, model.EducationBachelor)
			So(job.CompanyProfile.Descriptors, ShouldResemble, []string{"mentoring"})
		})
	})

	Convey("Given a valid resume event without an id", t, func() {
		first, err := codec.Decode([]byte(resumeEvent))
		second, _ := codec.Decode([]byte(resumeEvent))

		Convey("Then dates are normalized and the id is derived from the content", func() {
			So(err, ShouldBeNil)
			So(first.ID, ShouldNotBeEmpty)
			So(first.ID, ShouldEqual, second.ID)

			p := first.Resume.Profile
			So(p.ResumeID, ShouldEqual, "res-1")
			So(p.Skills, ShouldResemble, []string{"React", "TypeScript"})
			So(p.WorkExperience[0].Start, ShouldEqual, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
			So(*p.WorkExperience[0].End, ShouldEqual, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))
			So(p.WorkExperience[1].End, ShouldBeNil)
			So(p.Education[0].Level, ShouldEqual, model.EducationMaster)
			So(*p.ParsedAt, ShouldEqual, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
		})
	})

	Convey("Given input that is not an event", t, func() {
		for _, raw := range []string{`{`, `[]`, `{"type":"resume.parsed"}`, `{"type":"order.created","data":{}}`} {
			_, err := codec.Decode([]byte(raw))
			So(errors.Is(err, event.ErrMalformed), ShouldBeTrue)
		}
	})

	Convey("Given a resume whose end precedes its start", t, func() {
		raw := `{"type":"resume.parsed","data":{"jobId":"job-1","resumeId":"res-9","profile":{"skills":[],"workExperience":[{"start":"2022-05","end":"2021-01"}],"education":[]}}}`
		_, err := codec.Decode([]byte(raw))

		Convey("Then the rejection keeps the ids and names the field", func() {
			var verr *event.ValidationError
			So(errors.As(err, &verr), ShouldBeTrue)
			So(errors.Is(err, event.ErrInvalidInput), ShouldBeTrue)
			So(verr.JobID, ShouldEqual, "job-1")
			So(verr.ResumeID, ShouldEqual, "res-9")
			So(verr.Addressable(), ShouldBeTrue)
			So(verr.Cause(), ShouldEqual, model.CauseMissingResumeData)
			So(verr.Fields[0].Field, ShouldEqual, "profile.workExperience[0].end")
		})
	})

	Convey("Given a job with an out of range weight", t, func() {
		raw := `{"type":"job.requirements.extracted","data":{"jobId":"job-2","requirements":{"skills":[{"name":"Go","weight":1.5}]}}}`
		_, err := codec.Decode([]byte(raw))

		Convey("Then it is rejected as missing job data", func() {
			var verr *event.ValidationError
			So(errors.As(err, &verr), ShouldBeTrue)
			So(verr.Cause(), ShouldEqual, model.CauseMissingJobData)
			So(verr.JobID, ShouldEqual, "job-2")
		})
	})

	Convey("Given a job with an unknown education level", t, func() {
		raw := `{"type":"job.requirements.extracted","data":{"jobId":"job-3","requirements":{"skills":[],"educationLevel":"wizard"}}}`
		_, err := codec.Decode([]byte(raw))

		Convey("Then the level is reported", func() {
			var verr *event.ValidationError
			So(errors.As(err, &verr), ShouldBeTrue)
			So(verr.Fields[0].Field, ShouldEqual, "requirements.educationLevel")
		})
	})

	Convey("Given failure events", t, func() {
		jf, err := codec.Decode([]byte(`{"type":"job.requirements.failed","data":{"jobId":"job-4","reason":"ocr"}}`))
		So(err, ShouldBeNil)
		So(jf.JobFailed.Reason, ShouldEqual, "ocr")

		rf, err := codec.Decode([]byte(`{"type":"resume.parse.failed","data":{"jobId":"job-4","resumeId":"res-4"}}`))
		So(err, ShouldBeNil)
		So(rf.ResumeID(), ShouldEqual, "res-4")

		_, err = codec.Decode([]byte(`{"type":"resume.parse.failed","data":{"jobId":"job-4"}}`))
		var verr *event.ValidationError
		So(errors.As(err, &verr), ShouldBeTrue)
		So(verr.Addressable(), ShouldBeFalse)
	})
}

func TestCodecBareProfiles(t *testing.T) {
	codec, err := event.NewCodec()
	if err != nil {
		t.Fatal(err)
	}

	Convey("Given bare profile documents", t, func() {
		job, err := codec.DecodeJobProfile([]byte(`{"jobId":"j","skills":[{"name":"Go","weight":0.5}],"educationLevel":"phd"}`))
		So(err, ShouldBeNil)
		So(job.EducationLevel, ShouldEqual, model.EducationPhD)

		cand, err := codec.DecodeCandidateProfile([]byte(`{"resumeId":"r","skills":["Go"],"workExperience":[{"start":"2019-03-01T00:00:00Z"}],"education":[]}`))
		So(err, ShouldBeNil)
		So(cand.WorkExperience[0].Start.Month(), ShouldEqual, time.March)
	})
}
