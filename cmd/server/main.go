package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/studytrack/backend/internal/auth"
	"github.com/studytrack/backend/internal/config"
	"github.com/studytrack/backend/internal/database"
	"github.com/studytrack/backend/internal/exams"
	"github.com/studytrack/backend/internal/logger"
	"github.com/studytrack/backend/internal/mastery"
	"github.com/studytrack/backend/internal/practice"
	"github.com/studytrack/backend/internal/questions"
	"github.com/studytrack/backend/internal/server"
	"github.com/studytrack/backend/internal/shuffle"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Connect(ctx, cfg.DB)
	if err != nil {
		log.Fatal("database connection failed", "driver", cfg.DB.Driver, "error", err)
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.DB.Driver); err != nil {
		log.Fatal("migrations failed", "error", err)
	}

	// Practice session store
	var sessions practice.SessionStore
	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		store, rdb, err := practice.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.SessionTTL, log)
		if err != nil {
			log.Fatal("redis session store unavailable", "addr", cfg.Redis.Addr, "error", err)
		}
		defer rdb.Close()
		sessions = store
	default:
		sessions = practice.NewMemoryStore(cfg.SessionTTL)
	}

	// Services
	rng := shuffle.NewLocked(shuffle.NewSeed())
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	bank := questions.NewStore(db)
	questionSvc := questions.NewService(bank, log)
	examSvc := exams.NewService(exams.NewSQLStore(db), bank, questionSvc, rng, log)
	engine := practice.NewEngine(bank, questionSvc, sessions, mastery.NewTracker(bank, log), rng, log)

	handler := server.NewRouter(server.Handlers{
		Auth:      auth.NewHandler(db, tokens, log),
		Questions: questions.NewHandler(questionSvc, log),
		Exams:     exams.NewHandler(examSvc, log),
		Practice:  practice.NewHandler(engine, log),
	}, server.Options{Tokens: tokens, DB: db, CORSOrigins: cfg.CORSOrigins, Log: log})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.HTTPAddr, "env", cfg.Env, "db", cfg.DB.Driver, "sessions", cfg.SessionStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", "error", err)
	}
}
