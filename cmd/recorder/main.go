package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livedownload/internal/platform/config"
	"livedownload/internal/platform/logger"
	"livedownload/internal/platform/metrics"
	"livedownload/internal/recorder"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	outputRoot := config.GetEnv("OUTPUT_ROOT", ".")
	pollInterval := config.GetEnvDuration("POLL_INTERVAL", recorder.DefaultPollInterval)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	client := &http.Client{Timeout: 30 * time.Second}
	store := recorder.NewFsStore(afero.NewOsFs(), outputRoot)
	fetcher := recorder.NewHTTPManifestFetcher(client, recorder.DefaultFetchRetries)
	transport := recorder.NewHTTPSegmentTransport(client)
	met := metrics.New()

	mgr, err := recorder.NewManager(recorder.ManagerConfig{
		Store:        store,
		Fetcher:      fetcher,
		Transport:    transport,
		Settings:     recorder.EnvSettings{},
		Logger:       log,
		Metrics:      met,
		PollInterval: pollInterval,
	})
	if err != nil {
		log.Error("manager setup failed", "error", err)
		os.Exit(1)
	}
	h := recorder.NewHandler(mgr, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetActiveRecordings(mgr.ActiveCount()) }).ServeHTTP(w, req)
	})
	r.Get("/streams/check", h.CheckStream)
	r.Route("/recordings", func(r chi.Router) {
		r.Post("/", h.StartRecording)
		r.Get("/", h.ListRecordings)
		r.Get("/{id}", h.GetRecording)
		r.Post("/{id}/stop", h.StopRecording)
	})

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"output_root", outputRoot,
		"poll_interval", pollInterval.String(),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, finishing active recordings")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := mgr.StopAll(ctx); err != nil {
		log.Error("recordings did not finish before deadline", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
