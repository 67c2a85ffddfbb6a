package questions

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/studytrack/backend/internal/httpx"
	"github.com/studytrack/backend/internal/middleware"
	"github.com/studytrack/backend/internal/models"
)

// RegisterProgressRoutes mounts the mastery progress endpoints.
func (h *Handler) RegisterProgressRoutes(r *mux.Router) {
	r.HandleFunc("/subjects/{id}/progress", h.GetSubjectProgress).Methods("GET")
	r.HandleFunc("/questions/{id}/stats", h.GetQuestionStats).Methods("GET")
}

func (h *Handler) GetSubjectProgress(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	progress, err := h.service.SubjectProgress(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, progress)
}

func (h *Handler) GetQuestionStats(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	q, err := h.service.GetQuestion(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if q.IsGroup {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"question_id": q.ID,
			"progress":    models.BuildProgress(q.SubjectID, []models.Question{*q}),
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"question_id": q.ID,
		"status":      q.Status(),
		"stats":       q.QuestionStats,
	})
}
