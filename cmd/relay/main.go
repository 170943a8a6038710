package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/diagnosis/gatekeeper-relay/internal/http/handlers"
	"github.com/diagnosis/gatekeeper-relay/internal/listener"
	"github.com/diagnosis/gatekeeper-relay/internal/live"
	"github.com/diagnosis/gatekeeper-relay/internal/metrics"
	"github.com/diagnosis/gatekeeper-relay/internal/repo/csvfile"
	"github.com/diagnosis/gatekeeper-relay/internal/service"
	"github.com/diagnosis/gatekeeper-relay/pkg/config"
	"github.com/diagnosis/gatekeeper-relay/pkg/events"
	"github.com/diagnosis/gatekeeper-relay/pkg/logger"
	mw "github.com/diagnosis/gatekeeper-relay/pkg/middleware"
)

func main() {
	slog.SetDefault(logger.Default())
	cfg := config.Load()

	for _, dir := range []string{cfg.Storage.UploadDir, cfg.Storage.ImageDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("Failed to create directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	// Connect to event bus
	var eventBus events.EventBus
	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL, events.Options{
		Name:          cfg.NATS.ClientName,
		ReconnectWait: cfg.NATS.ReconnectWait,
		MaxReconnects: cfg.NATS.MaxReconnects,
	})
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	hub := live.NewHub()
	broadcaster := live.NewBroadcaster(hub, cfg.Broadcast.EntryClearDelay, cfg.Broadcast.ExitClearDelay)
	defer broadcaster.Close()

	visitRepo := csvfile.NewVisitRepo(cfg.Storage.LogFile)
	visitService := service.NewVisitService(visitRepo, broadcaster)
	captureService := service.NewCaptureService(service.NewPendingMetadata(), cfg.Storage.UploadDir, eventBus, cfg.Subjects.Ack, m)

	l := listener.New(cfg.Subjects, visitService, captureService, m)
	if err := l.Start(eventBus); err != nil {
		logger.Error("Failed to subscribe", "error", err)
		eventBus.Close()
		os.Exit(1)
	}

	h := handlers.New(captureService, hub, m, handlers.Options{
		UploadDir:      cfg.Storage.UploadDir,
		ImageDir:       cfg.Storage.ImageDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		ViewerBuffer:   cfg.Broadcast.ClientBuffer,
	})

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("relay"))
	r.Use(mw.Logging)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(mw.Health)
	r.Use(mw.Metrics(m.Handler()))
	h.Mount(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down relay...")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Relay shutdown error", "error", err)
		}
	}()

	logger.Info("Starting relay", "port", cfg.Server.Port, "log_file", cfg.Storage.LogFile, "nats", cfg.NATS.URL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Relay server error", "error", err)
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("Failed to close event bus", "error", err)
	}
	logger.Info("Relay stopped")
}
