package api

import (
	"net/http"
	"time"

	"github.com/okian/talentmatch/internal/domain/model"
)

// CorrelationsHandler exposes correlation state for operators. Profiles are
// left out; only whether each side arrived is shown.
type CorrelationsHandler struct {
	reader Reader
}

// NewCorrelationsHandler creates a new correlations handler.
func NewCorrelationsHandler(reader Reader) *CorrelationsHandler {
	return &CorrelationsHandler{reader: reader}
}

type correlationResponse struct {
	JobID       string      `json:"jobId"`
	ResumeID    string      `json:"resumeId"`
	State       model.State `json:"state"`
	Cause       model.Cause `json:"cause,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	Attempts    int         `json:"attempts"`
	Generation  int         `json:"generation"`
	HasJob      bool        `json:"hasJob"`
	HasResume   bool        `json:"hasResume"`
	Notified    bool        `json:"notified"`
	WindowStart time.Time   `json:"windowStart"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	SettledAt   *time.Time  `json:"settledAt,omitempty"`
}

// HandleGet handles GET /correlations/{jobId}/{resumeId}.
func (h *CorrelationsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_correlation"
	key := model.Key{JobID: r.PathValue("jobId"), ResumeID: r.PathValue("resumeId")}

	p, ok, err := h.reader.GetPending(r.Context(), key)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	if !ok {
		writeError(w, NewKind(op, ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, correlationResponse{
		JobID:       p.Key.JobID,
		ResumeID:    p.Key.ResumeID,
		State:       p.State,
		Cause:       p.Cause,
		Detail:      p.Detail,
		Attempts:    p.Attempts,
		Generation:  p.Generation,
		HasJob:      p.Job != nil,
		HasResume:   p.Candidate != nil,
		Notified:    p.Notified,
		WindowStart: p.WindowStart,
		UpdatedAt:   p.UpdatedAt,
		SettledAt:   p.SettledAt,
	})
}
