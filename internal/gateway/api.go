package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"coursebot/internal/domain"
)

type queryRequest struct {
	Query     *string `json:"query"`
	SessionID string  `json:"session_id,omitempty"`
}

type queryResponse struct {
	Answer    string            `json:"answer"`
	Sources   []domain.Citation `json:"sources"`
	SessionID string            `json:"session_id"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type api struct {
	svc    QueryService
	logger *slog.Logger
}

func (a *api) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Course Materials RAG System",
	})
}

// handleQuery answers POST /api/query. A missing query is 422; any failure of
// the query service is 500 with the error text as detail.
func (a *api) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "invalid request body: " + err.Error()})
		return
	}
	if req.Query == nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "field required: query"})
		return
	}

	ans, err := a.svc.Query(r.Context(), *req.Query, req.SessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}
	sources := ans.Sources
	if sources == nil {
		sources = []domain.Citation{}
	}
	writeJSON(w, http.StatusOK, queryResponse{Answer: ans.Text, Sources: sources, SessionID: ans.SessionID})
}

func (a *api) handleCourses(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.CourseAnalytics(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
