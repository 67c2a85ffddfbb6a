package practice

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/studytrack/backend/internal/httpx"
	"github.com/studytrack/backend/internal/logger"
	"github.com/studytrack/backend/internal/middleware"
	"github.com/studytrack/backend/internal/models"
)

type Handler struct {
	engine *Engine
	log    *logger.Logger
}

func NewHandler(engine *Engine, log *logger.Logger) *Handler {
	return &Handler{engine: engine, log: log}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/practice", h.Start).Methods("POST")
	r.HandleFunc("/practice/{id}", h.Current).Methods("GET")
	r.HandleFunc("/practice/{id}", h.Discard).Methods("DELETE")
	r.HandleFunc("/practice/{id}/answer", h.Answer).Methods("POST")
	r.HandleFunc("/practice/{id}/skip", h.Skip).Methods("POST")
	r.HandleFunc("/practice/{id}/next", h.Next).Methods("POST")
	r.HandleFunc("/practice/{id}/restart", h.Restart).Methods("POST")
	r.HandleFunc("/practice/{id}/summary", h.Summary).Methods("GET")
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var req models.StartPracticeRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	view, err := h.engine.Start(r.Context(), userID, req)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, view)
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	view, err := h.engine.Current(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) Answer(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var req models.PracticeAnswerRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	feedback, err := h.engine.Answer(r.Context(), userID, mux.Vars(r)["id"], req.Answer)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, feedback)
}

func (h *Handler) Skip(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, h.engine.Skip)
}

func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, h.engine.Next)
}

func (h *Handler) Restart(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, h.engine.Restart)
}

type stepFunc func(ctx context.Context, userID, id string) (*models.PracticeView, error)

func (h *Handler) step(w http.ResponseWriter, r *http.Request, fn stepFunc) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	view, err := fn(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	sum, err := h.engine.Summary(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sum)
}

func (h *Handler) Discard(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	if err := h.engine.Discard(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
