package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/voxflow/voxflow/internal/config"
	"github.com/voxflow/voxflow/internal/notifier"
	"github.com/voxflow/voxflow/internal/webhook"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[notifier] ", log.LstdFlags|log.Lmsgprefix)

	logger.Printf(
		"starting notifier concurrency=%d queue=%s redis=%s",
		cfg.Notifier.Concurrency,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv := notifier.NewServer(logger, cfg.Queue, cfg.Notifier, webhookClient)

	go func() {
		metricsServer := &http.Server{
			Addr:              cfg.Notifier.MetricsAddr,
			Handler:           srv.MetricsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.Printf("metrics listening on %s", cfg.Notifier.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	if err := srv.Run(); err != nil {
		logger.Fatalf("notifier failed: %v", err)
	}
}
