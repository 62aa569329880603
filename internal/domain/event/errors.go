package event

import (
	"errors"
	"fmt"
	"strings"

	"github.com/okian/talentmatch/internal/domain/model"
)

var (
	// ErrMalformed covers input that cannot be read as an event at all:
	// broken JSON, a bad envelope or an unknown type.
	ErrMalformed = errors.New("malformed event")

	// ErrInvalidInput covers a recognised event whose payload fails
	// validation. It is never retried.
	ErrInvalidInput = errors.New("invalid event payload")
)

// FieldError is one failed rule at a JSON path.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries whatever ids could be read from a rejected
// payload, so a match.failed can still be addressed.
type ValidationError struct {
	Type     model.EventType `json:"type"`
	JobID    string          `json:"jobId,omitempty"`
	ResumeID string          `json:"resumeId,omitempty"`
	Fields   []FieldError    `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// Cause maps the rejected event onto a match.failed cause.
func (e *ValidationError) Cause() model.Cause {
	switch e.Type {
	case model.EventJobRequirementsExtracted, model.EventJobRequirementsFailed:
		return model.CauseMissingJobData
	default:
		return model.CauseMissingResumeData
	}
}

// Addressable reports whether enough ids survived to publish a failure.
func (e *ValidationError) Addressable() bool {
	if e.JobID == "" {
		return false
	}
	switch e.Type {
	case model.EventResumeParsed, model.EventResumeParseFailed:
		return e.ResumeID != ""
	}
	return true
}
