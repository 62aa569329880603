package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/okian/talentmatch/internal/domain/event"
	"github.com/okian/talentmatch/internal/ingest"
	"golang.org/x/time/rate"
)

// EventsHandler handles event requests.
type EventsHandler struct {
	ingestor     Ingestor
	limiter      *rate.Limiter
	maxBodyBytes int64
}

// NewEventsHandler creates a new events handler. A nil limiter leaves
// ingest unlimited.
func NewEventsHandler(ingestor Ingestor, limiter *rate.Limiter, maxBodyBytes int64) *EventsHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &EventsHandler{ingestor: ingestor, limiter: limiter, maxBodyBytes: maxBodyBytes}
}

type ackResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
	Type   string `json:"type"`
}

type rejection struct {
	Type     string             `json:"type"`
	JobID    string             `json:"jobId,omitempty"`
	ResumeID string             `json:"resumeId,omitempty"`
	Cause    string             `json:"cause"`
	Fields   []event.FieldError `json:"fields"`
}

// HandlePostEvent handles POST /events.
//
//	202 accepted and routed to its shard
//	400 unreadable input or unknown type
//	422 invalid payload, match.failed published
//	429 shard full or rate limited, nothing recorded
//	503 invalid payload whose match.failed could not be published
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	if h.limiter != nil && !h.limiter.Allow() {
		writeError(w, NewKind(op, ErrRateLimited))
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	ev, err := h.ingestor.Accept(r.Context(), raw)
	if err == nil {
		writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", ID: ev.ID, Type: string(ev.Type)})
		return
	}

	var verr *event.ValidationError
	switch {
	case errors.Is(err, ingest.ErrBackpressure):
		writeError(w, WrapKind(op, ErrBackpressure, err))
	case errors.Is(err, ingest.ErrRejectNotPublished):
		writeError(w, WrapKind(op, ErrUnavailable, err))
	case errors.As(err, &verr):
		writeErrorDetails(w, WrapKind(op, ErrUnprocessable, err), rejection{
			Type:     string(verr.Type),
			JobID:    verr.JobID,
			ResumeID: verr.ResumeID,
			Cause:    string(verr.Cause()),
			Fields:   verr.Fields,
		})
	case errors.Is(err, event.ErrMalformed):
		writeError(w, WrapKind(op, ErrBadRequest, err))
	default:
		writeError(w, Wrap(op, err))
	}
}
