package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/campuswatch/attendance-sentry/internal/assistant"
	"github.com/campuswatch/attendance-sentry/internal/config"
	"github.com/campuswatch/attendance-sentry/internal/httpserver"
	"github.com/campuswatch/attendance-sentry/internal/session"
	"github.com/campuswatch/attendance-sentry/internal/store"
)

// main boots the service: config → logger → store → session → HTTP server.
// Missing store or assistant credentials degrade the service instead of
// failing startup.
func main() {
	zl, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zl.Sync()
	log := zl.Sugar()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to the event store when configured; run degraded otherwise.
	var st *store.Store
	if cfg.StoreConfigured() {
		st, err = store.New(cfg.DBURL, log)
		if err != nil {
			log.Errorw("event store unreachable; running degraded", "error", err)
			st = nil
		} else {
			defer st.Close()
			// Ensure required tables/trigger exist so `docker compose up
			// --build` is enough.
			if err := st.EnsureSchema(); err != nil {
				log.Errorw("schema bootstrap failed", "error", err)
			}
		}
	} else {
		log.Warnw("DB_URL not set; reads will return empty results")
	}

	summarizer := assistant.NewClient(assistant.Config{
		APIKey: cfg.AssistantKey,
		Model:  cfg.Model,
		Logger: log,
	})
	if !summarizer.IsConfigured() {
		log.Warnw("GENAI_API_KEY not set; assistant will report itself offline")
	}

	// The session interface is typed against the Gateway; a nil *Store must
	// become a nil interface, not an interface holding a nil pointer.
	var gw session.Gateway
	if st != nil {
		gw = st
	}

	sess := session.New(gw, summarizer, log)
	if err := sess.Start(ctx); err != nil {
		log.Fatalw("session start failed", "error", err)
	}
	defer sess.Close()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpserver.NewRouter(st, sess, log),
	}

	go func() {
		log.Infow("server started", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("shutdown incomplete", "error", err)
	}
}
