package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = godotenv.Load()
	_ = logger.Init(logger.WithWriter(os.Stderr))
	os.Exit(m.Run())
}

const (
	jobDoc = `{"jobId":"job-1","skills":[{"name":"Go","weight":1,"required":true},{"name":"Kubernetes","weight":0.5}],` +
		`"experienceYears":{"min":2},"educationLevel":"bachelor"}`
	resumeDoc = `{"resumeId":"res-1","skills":["Go","Docker"],` +
		`"workExperience":[{"position":"Backend Engineer","company":"Acme","start":"2018-01","end":"2023-01","summary":"Go services, remote-first and collaborative team"}],` +
		`"education":[{"degree":"bachelor","major":"Computer Science"}]}`
	companyDoc = `{"descriptors":["collaborative","remote-first"]}`
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	Convey("The root command exposes every subcommand", t, func() {
		names := map[string]bool{}
		for _, c := range rootCmd.Commands() {
			names[c.Name()] = true
		}
		So(names["serve"], ShouldBeTrue)
		So(names["score"], ShouldBeTrue)
		So(names["replay"], ShouldBeTrue)
	})
}

func TestScoreCommand(t *testing.T) {
	dir := t.TempDir()
	jobPath := writeFile(t, dir, "job.json", jobDoc)
	resumePath := writeFile(t, dir, "resume.json", resumeDoc)
	companyPath := writeFile(t, dir, "company.json", companyDoc)

	Convey("Given a job and a resume on disk", t, func() {
		Reset(func() { scoreCompanyPath = "" })

		Convey("score prints the match result", func() {
			out, err := execute("score", "--job", jobPath, "--resume", resumePath)
			So(err, ShouldBeNil)

			var res model.MatchResult
			So(json.Unmarshal([]byte(out), &res), ShouldBeNil)
			So(res.JobID, ShouldEqual, "job-1")
			So(res.ResumeID, ShouldEqual, "res-1")
			So(res.OverallScore, ShouldBeBetweenOrEqual, 0, 100)
			So(res.ModelVersion, ShouldStartWith, "match-v1")
			So(res.Breakdown.CulturalFitScore, ShouldBeNil)
		})

		Convey("a company profile turns on cultural fit", func() {
			out, err := execute("score", "--job", jobPath, "--resume", resumePath, "--company", companyPath)
			So(err, ShouldBeNil)

			var res model.MatchResult
			So(json.Unmarshal([]byte(out), &res), ShouldBeNil)
			So(res.Breakdown.CulturalFitScore, ShouldNotBeNil)
		})

		Convey("an invalid profile is reported", func() {
			bad := writeFile(t, dir, "bad.json", `{"jobId":"job-1","skills":[{"name":"Go","weight":9}]}`)
			_, err := execute("score", "--job", bad, "--resume", resumePath)
			So(err, ShouldNotBeNil)
		})

		Convey("a missing file is reported", func() {
			_, err := execute("score", "--job", filepath.Join(dir, "nope.json"), "--resume", resumePath)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestReplayCommand(t *testing.T) {
	Convey("replay needs a source of events", t, func() {
		_, err := execute("replay", "--url", "http://127.0.0.1:0")
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "--file or --synthetic")
	})
}

func TestUpdateSystemMetrics(t *testing.T) {
	Convey("Runtime gauges update without error", t, func() {
		So(updateSystemMetrics, ShouldNotPanic)
	})
}
