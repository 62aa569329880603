package api

import (
	"net/http"
	"strconv"

	"github.com/okian/talentmatch/internal/domain/model"
)

// MatchesHandler serves stored results.
type MatchesHandler struct {
	reader   Reader
	maxLimit int
}

// NewMatchesHandler creates a new matches handler.
func NewMatchesHandler(reader Reader, maxLimit int) *MatchesHandler {
	return &MatchesHandler{reader: reader, maxLimit: maxLimit}
}

type rankedResponse struct {
	JobID   string              `json:"jobId"`
	Count   int                 `json:"count"`
	Results []model.MatchResult `json:"results"`
}

type matchResponse struct {
	Result    model.MatchResult `json:"result"`
	Rank      int               `json:"rank"`
	Total     int               `json:"total"`
	Published bool              `json:"published"`
}

// HandleList handles GET /matches/{jobId}?limit=N, ranked by overallScore
// desc then resumeId asc.
func (h *MatchesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_matches"
	jobID := r.PathValue("jobId")

	n := defaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			writeError(w, NewKind(op, ErrBadRequest))
			return
		}
		n = v
	}
	if n > h.maxLimit {
		writeError(w, NewKind(op, ErrBadRequest))
		return
	}

	results, err := h.reader.ListByJob(r.Context(), jobID, n)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, rankedResponse{JobID: jobID, Count: len(results), Results: results})
}

// HandleGet handles GET /matches/{jobId}/{resumeId}.
func (h *MatchesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_match"
	key := model.Key{JobID: r.PathValue("jobId"), ResumeID: r.PathValue("resumeId")}

	stored, ok, err := h.reader.GetResult(r.Context(), key)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	if !ok {
		writeError(w, NewKind(op, ErrNotFound))
		return
	}
	pos, total, err := h.reader.Rank(r.Context(), key)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, matchResponse{Result: stored.Result, Rank: pos, Total: total, Published: stored.Published})
}
