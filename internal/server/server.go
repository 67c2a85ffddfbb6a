// Package server assembles the HTTP surface of the study tracker.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/studytrack/backend/internal/auth"
	"github.com/studytrack/backend/internal/exams"
	"github.com/studytrack/backend/internal/httpx"
	"github.com/studytrack/backend/internal/logger"
	"github.com/studytrack/backend/internal/middleware"
	"github.com/studytrack/backend/internal/practice"
	"github.com/studytrack/backend/internal/questions"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handlers struct {
	Auth      *auth.Handler
	Questions *questions.Handler
	Exams     *exams.Handler
	Practice  *practice.Handler
}

type Options struct {
	Tokens      middleware.TokenVerifier
	DB          Pinger
	CORSOrigins []string
	Log         *logger.Logger
}

// NewRouter mounts every route under /api/v1. Everything except register
// and login requires a bearer token.
func NewRouter(h Handlers, opts Options) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(opts.Log))

	api := r.PathPrefix("/api/v1").Subrouter()

	// Public routes
	api.HandleFunc("/auth/register", h.Auth.Register).Methods("POST")
	api.HandleFunc("/auth/login", h.Auth.Login).Methods("POST")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.Auth(opts.Tokens))
	protected.HandleFunc("/auth/me", h.Auth.GetCurrentUser).Methods("GET")
	h.Questions.RegisterRoutes(protected)
	h.Questions.RegisterProgressRoutes(protected)
	h.Exams.RegisterRoutes(protected)
	h.Practice.RegisterRoutes(protected)

	r.HandleFunc("/health", health(opts.DB)).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
