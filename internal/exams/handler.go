package exams

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/studytrack/backend/internal/httpx"
	"github.com/studytrack/backend/internal/logger"
	"github.com/studytrack/backend/internal/middleware"
	"github.com/studytrack/backend/internal/models"
)

type Handler struct {
	service *Service
	log     *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{service: service, log: log}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/exams", h.List).Methods("GET")
	r.HandleFunc("/exams", h.Create).Methods("POST")
	r.HandleFunc("/exams/{id}", h.Paper).Methods("GET")
	r.HandleFunc("/exams/{id}", h.Delete).Methods("DELETE")
	r.HandleFunc("/exams/{id}/answers", h.SaveProgress).Methods("PUT")
	r.HandleFunc("/exams/{id}/submit", h.Submit).Methods("POST")
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var req models.ComposeExamRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if req.ScoreMode == "" {
		req.ScoreMode = models.ScoreAuto
	}

	exam, err := h.service.Create(r.Context(), userID, req)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, exam)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	resp, err := h.service.List(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) Paper(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	paper, err := h.service.Paper(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, paper)
}

func (h *Handler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var req models.ExamAnswersRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if err := h.service.SaveProgress(r.Context(), userID, mux.Vars(r)["id"], req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var req models.ExamAnswersRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(w, r, &req); err != nil {
			httpx.WriteError(w, h.log, err)
			return
		}
	}
	result, err := h.service.Submit(r.Context(), userID, mux.Vars(r)["id"], req)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	if err := h.service.Delete(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
