package questions

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/studytrack/backend/internal/apierr"
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

// RegisterRoutes mounts curriculum and question endpoints on an
// authenticated subrouter.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/subjects", h.ListSubjects).Methods("GET")
	r.HandleFunc("/subjects", h.CreateSubject).Methods("POST")
	r.HandleFunc("/subjects/{id}/topics", h.CreateTopic).Methods("POST")
	r.HandleFunc("/topics/{id}/units", h.CreateUnit).Methods("POST")

	r.HandleFunc("/questions", h.ListQuestions).Methods("GET")
	r.HandleFunc("/questions", h.CreateQuestion).Methods("POST")
	r.HandleFunc("/questions/{id}", h.GetQuestion).Methods("GET")
	r.HandleFunc("/questions/{id}", h.DeleteQuestion).Methods("DELETE")
}

func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	subjects, err := h.service.ListSubjects(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, subjects)
}

func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var req models.CreateSubjectRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	subj, err := h.service.CreateSubject(r.Context(), userID, req)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, subj)
}

func (h *Handler) CreateTopic(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var req models.CreateTopicRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	topic, err := h.service.CreateTopic(r.Context(), userID, mux.Vars(r)["id"], req)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, topic)
}

func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var req models.CreateUnitRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	unit, err := h.service.CreateUnit(r.Context(), userID, mux.Vars(r)["id"], req)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, unit)
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	query := r.URL.Query()

	subjectID := query.Get("subject_id")
	if subjectID == "" {
		httpx.WriteError(w, h.log, apierr.InvalidRequest("subject_id is required"))
		return
	}
	limit := httpx.IntQueryParam(query, "limit", 50)
	offset := httpx.IntQueryParam(query, "offset", 0)

	resp, err := h.service.ListQuestions(r.Context(), userID, subjectID,
		models.Kind(query.Get("kind")), models.MasteryStatus(query.Get("status")), limit, offset)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if resp.Questions == nil {
		resp.Questions = []models.Question{}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var req models.CreateQuestionRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	q, err := h.service.CreateQuestion(r.Context(), userID, req)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, q)
}

func (h *Handler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	q, err := h.service.GetQuestion(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, q)
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	if err := h.service.DeleteQuestion(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
