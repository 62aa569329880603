// Package event decodes loosely typed upstream events into the typed model
// variants. Anything that fails here never reaches correlation state.
package event

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const present = "present"

var dateLayouts = []string{"2006-01", "2006-01-02", time.RFC3339}

// Inbound lists the event types the codec accepts.
var Inbound = []model.EventType{
	model.EventJobRequirementsExtracted,
	model.EventResumeParsed,
	model.EventJobRequirementsFailed,
	model.EventResumeParseFailed,
}

// Codec validates and decodes inbound events. It is safe for concurrent use.
type Codec struct {
	envelope *gojsonschema.Schema
	payloads map[model.EventType]*gojsonschema.Schema
	validate *validator.Validate
	now      func() time.Time
}

// NewCodec compiles the embedded schemas.
func NewCodec() (*Codec, error) {
	c := &Codec{
		payloads: make(map[model.EventType]*gojsonschema.Schema, len(Inbound)),
		validate: validator.New(),
		now:      time.Now,
	}
	c.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	var err error
	if c.envelope, err = loadSchema("envelope"); err != nil {
		return nil, err
	}
	for _, t := range Inbound {
		if c.payloads[t], err = loadSchema(string(t)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func loadSchema(name string) (*gojsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return s, nil
}

// Decode turns raw bytes into a typed event. Errors wrap ErrMalformed or are
// a *ValidationError (which wraps ErrInvalidInput).
func (c *Codec) Decode(raw []byte) (model.Event, error) {
	res, err := c.envelope.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !res.Valid() {
		return model.Event{}, fmt.Errorf("%w: %s", ErrMalformed, schemaFields(res)[0].Message)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	typ := model.EventType(env.Type)
	schema, ok := c.payloads[typ]
	if !ok {
		return model.Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}

	ev := model.Event{ID: env.ID, Type: typ, OccurredAt: c.now().UTC()}
	if ev.ID == "" {
		ev.ID = uuid.NewSHA1(uuid.NameSpaceOID, raw).String()
	}
	if env.OccurredAt != nil {
		ev.OccurredAt = env.OccurredAt.UTC()
	}

	jobID, resumeID := probeIDs(env.Data)
	reject := func(fields []FieldError) error {
		return &ValidationError{Type: typ, JobID: jobID, ResumeID: resumeID, Fields: fields}
	}

	res, err = schema.Validate(gojsonschema.NewBytesLoader(env.Data))
	if err != nil {
		return model.Event{}, reject([]FieldError{{Field: "data", Message: err.Error()}})
	}
	if !res.Valid() {
		return model.Event{}, reject(schemaFields(res))
	}

	switch typ {
	case model.EventJobRequirementsExtracted:
		var p JobRequirementsPayload
		if fields := c.unmarshal(env.Data, &p); len(fields) > 0 {
			return model.Event{}, reject(fields)
		}
		job, fields := toJob(p.Requirements, p.JobID, "requirements")
		if len(fields) > 0 {
			return model.Event{}, reject(fields)
		}
		ev.Job = &model.JobRequirementsExtracted{JobID: p.JobID, Requirements: job}
	case model.EventResumeParsed:
		var p ResumeParsedPayload
		if fields := c.unmarshal(env.Data, &p); len(fields) > 0 {
			return model.Event{}, reject(fields)
		}
		cand, fields := toCandidate(p.Profile, p.ResumeID, "profile")
		if len(fields) > 0 {
			return model.Event{}, reject(fields)
		}
		ev.Resume = &model.ResumeParsed{JobID: p.JobID, ResumeID: p.ResumeID, Profile: cand}
	case model.EventJobRequirementsFailed:
		var p JobFailedPayload
		if fields := c.unmarshal(env.Data, &p); len(fields) > 0 {
			return model.Event{}, reject(fields)
		}
		ev.JobFailed = &model.JobRequirementsFailed{JobID: p.JobID, Reason: p.Reason}
	case model.EventResumeParseFailed:
		var p ResumeFailedPayload
		if fields := c.unmarshal(env.Data, &p); len(fields) > 0 {
			return model.Event{}, reject(fields)
		}
		ev.ResumeFailed = &model.ResumeParseFailed{JobID: p.JobID, ResumeID: p.ResumeID, Reason: p.Reason}
	}
	return ev, nil
}

// DecodeJobProfile reads a bare job profile document, as used by the
// offline score command.
func (c *Codec) DecodeJobProfile(raw []byte) (model.JobRequirementProfile, error) {
	var w JobWire
	if fields := c.unmarshal(raw, &w); len(fields) > 0 {
		return model.JobRequirementProfile{}, &ValidationError{Type: model.EventJobRequirementsExtracted, JobID: w.JobID, Fields: fields}
	}
	job, fields := toJob(w, w.JobID, "")
	if len(fields) > 0 {
		return model.JobRequirementProfile{}, &ValidationError{Type: model.EventJobRequirementsExtracted, JobID: w.JobID, Fields: fields}
	}
	return job, nil
}

// DecodeCandidateProfile reads a bare candidate profile document.
func (c *Codec) DecodeCandidateProfile(raw []byte) (model.CandidateProfile, error) {
	var w CandidateWire
	if fields := c.unmarshal(raw, &w); len(fields) > 0 {
		return model.CandidateProfile{}, &ValidationError{Type: model.EventResumeParsed, ResumeID: w.ResumeID, Fields: fields}
	}
	cand, fields := toCandidate(w, w.ResumeID, "")
	if len(fields) > 0 {
		return model.CandidateProfile{}, &ValidationError{Type: model.EventResumeParsed, ResumeID: w.ResumeID, Fields: fields}
	}
	return cand, nil
}

func (c *Codec) unmarshal(raw []byte, dst any) []FieldError {
	if err := json.Unmarshal(raw, dst); err != nil {
		return []FieldError{{Field: "data", Message: err.Error()}}
	}
	err := c.validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "data", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out = append(out, FieldError{Field: ns, Message: msg})
	}
	return out
}

func schemaFields(res *gojsonschema.Result) []FieldError {
	out := make([]FieldError, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		out = append(out, FieldError{Field: e.Field(), Message: e.Description()})
	}
	return out
}

// probeIDs pulls ids out of a payload that may not validate.
func probeIDs(data json.RawMessage) (jobID, resumeID string) {
	var ids map[string]any
	if json.Unmarshal(data, &ids) != nil {
		return "", ""
	}
	jobID, _ = ids["jobId"].(string)
	resumeID, _ = ids["resumeId"].(string)
	return strings.TrimSpace(jobID), strings.TrimSpace(resumeID)
}

func path(prefix, field string) string {
	if prefix == "" {
		return field
	}
	return prefix + "." + field
}

func toJob(w JobWire, jobID, prefix string) (model.JobRequirementProfile, []FieldError) {
	var fields []FieldError
	if w.JobID != "" && w.JobID != jobID {
		fields = append(fields, FieldError{Field: path(prefix, "jobId"), Message: "does not match event jobId"})
	}
	if jobID == "" {
		fields = append(fields, FieldError{Field: path(prefix, "jobId"), Message: "required"})
	}

	job := model.JobRequirementProfile{
		JobID:           jobID,
		Skills:          make([]model.RequiredSkill, 0, len(w.Skills)),
		ExperienceYears: model.YearsRange{Min: w.ExperienceYears.Min, Max: w.ExperienceYears.Max},
		DomainKeywords:  trimAll(w.DomainKeywords),
		Seniority:       strings.TrimSpace(w.Seniority),
	}
	for i, s := range w.Skills {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			fields = append(fields, FieldError{Field: fmt.Sprintf("%s[%d].name", path(prefix, "skills"), i), Message: "required"})
			continue
		}
		weight := 1.0
		if s.Weight != nil {
			weight = *s.Weight
		}
		if weight < 0 || weight > 1 {
			fields = append(fields, FieldError{Field: fmt.Sprintf("%s[%d].weight", path(prefix, "skills"), i), Message: "must be within [0,1]"})
			continue
		}
		job.Skills = append(job.Skills, model.RequiredSkill{Name: name, Weight: weight, Required: s.Required})
	}
	if y := w.ExperienceYears; y.Min < 0 || y.Max < 0 || (y.Max > 0 && y.Max < y.Min) {
		fields = append(fields, FieldError{Field: path(prefix, "experienceYears"), Message: "min must be >= 0 and <= max"})
	}
	if lvl := strings.TrimSpace(w.EducationLevel); lvl != "" {
		parsed, ok := model.ParseEducationLevel(lvl)
		if !ok {
			fields = append(fields, FieldError{Field: path(prefix, "educationLevel"), Message: fmt.Sprintf("unknown level %q", lvl)})
		}
		job.EducationLevel = parsed
	}
	if w.CompanyProfile != nil {
		job.CompanyProfile = &model.CompanyProfile{Descriptors: trimAll(w.CompanyProfile.Descriptors)}
	}
	return job, fields
}

func toCandidate(w CandidateWire, resumeID, prefix string) (model.CandidateProfile, []FieldError) {
	var fields []FieldError
	if w.ResumeID != "" && w.ResumeID != resumeID {
		fields = append(fields, FieldError{Field: path(prefix, "resumeId"), Message: "does not match event resumeId"})
	}
	if resumeID == "" {
		fields = append(fields, FieldError{Field: path(prefix, "resumeId"), Message: "required"})
	}

	c := model.CandidateProfile{
		ResumeID:       resumeID,
		Name:           w.Name,
		Skills:         trimAll(w.Skills),
		WorkExperience: make([]model.WorkExperience, 0, len(w.WorkExperience)),
		Education:      make([]model.Education, 0, len(w.Education)),
	}
	if w.ParsedAt != "" {
		t, err := parseDate(w.ParsedAt, false)
		if err != nil {
			fields = append(fields, FieldError{Field: path(prefix, "parsedAt"), Message: err.Error()})
		} else {
			c.ParsedAt = &t
		}
	}

	for i, we := range w.WorkExperience {
		at := fmt.Sprintf("%s[%d]", path(prefix, "workExperience"), i)
		start, err := parseDate(we.Start, true)
		if err != nil {
			fields = append(fields, FieldError{Field: at + ".start", Message: err.Error()})
			continue
		}
		entry := model.WorkExperience{
			Company:  strings.TrimSpace(we.Company),
			Position: strings.TrimSpace(we.Position),
			Start:    start,
			Summary:  strings.TrimSpace(we.Summary),
		}
		if end := strings.TrimSpace(we.End); end != "" && !strings.EqualFold(end, present) {
			t, err := parseDate(end, true)
			if err != nil {
				fields = append(fields, FieldError{Field: at + ".end", Message: err.Error()})
				continue
			}
			if t.Before(start) {
				fields = append(fields, FieldError{Field: at + ".end", Message: "before start"})
				continue
			}
			entry.End = &t
		}
		c.WorkExperience = append(c.WorkExperience, entry)
	}

	for _, e := range w.Education {
		lvl, _ := model.ParseEducationLevel(e.Degree)
		c.Education = append(c.Education, model.Education{
			School: strings.TrimSpace(e.School),
			Degree: strings.TrimSpace(e.Degree),
			Major:  strings.TrimSpace(e.Major),
			Level:  lvl,
		})
	}
	return c, fields
}

// parseDate accepts YYYY-MM, YYYY-MM-DD and RFC3339. With month set, the
// result is the first of that month in UTC.
func parseDate(s string, month bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		t = t.UTC()
		if month {
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
