package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/voxflow/voxflow/internal/api"
	"github.com/voxflow/voxflow/internal/callback"
	"github.com/voxflow/voxflow/internal/config"
	"github.com/voxflow/voxflow/internal/queue"
	"github.com/voxflow/voxflow/internal/ratelimit"
	"github.com/voxflow/voxflow/internal/relay"
	"github.com/voxflow/voxflow/internal/storage"
	"github.com/voxflow/voxflow/internal/store"
	"github.com/voxflow/voxflow/internal/stream"
	"github.com/voxflow/voxflow/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    cfg.Trace.ServiceName,
		ServiceVersion: cfg.Trace.ServiceVersion,
		Exporter:       cfg.Trace.Exporter,
		OTLPEndpoint:   cfg.Trace.OTLPEndpoint,
		OTLPInsecure:   cfg.Trace.OTLPInsecure,
		SampleRatio:    cfg.Trace.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	var jobStore store.JobStore
	if cfg.Database.DSN != "" {
		pgStore, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres job store failed: %v", err)
		}
		defer func() {
			if err := pgStore.Close(); err != nil {
				logger.Printf("job store close error: %v", err)
			}
		}()
		jobStore = pgStore
		logger.Printf("using postgres job store")
	} else {
		jobStore = store.NewMemoryJobStore()
		logger.Printf("using in-memory job store; set POSTGRES_DSN for durability")
	}

	notifyQueue := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := notifyQueue.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	opts := api.Options{
		NotifyQueue:           notifyQueue,
		RateLimitUserIDHeader: cfg.RateLimit.UserIDHeader,
	}

	if cfg.Storage.Enabled {
		storageClient, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Fatalf("storage client failed: %v", err)
		}
		if err := storageClient.EnsureBucket(ctx); err != nil {
			logger.Fatalf("storage bucket check failed: %v", err)
		}
		opts.Storage = storageClient
		logger.Printf("audio archival enabled bucket=%s", storageClient.Bucket())
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		opts.RateLimiter = limiter
	}

	submitter := relay.New(logger, relay.Config{
		EndpointURL: cfg.Upstream.URL,
		Timeout:     cfg.Upstream.Timeout,
	})
	streamer := stream.NewStreamer(logger, jobStore, stream.Config{
		PollInterval: cfg.Stream.PollInterval,
		MaxTicks:     cfg.Stream.MaxTicks,
	})
	ingestor := callback.NewIngestor(logger, jobStore)

	app := api.NewServer(logger, jobStore, submitter, streamer, ingestor, opts)

	// WriteTimeout stays zero: status streams legitimately outlive any fixed
	// response deadline.
	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s upstream=%s", cfg.API.Addr, cfg.Upstream.URL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}
