package notifier

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/voxflow/voxflow/internal/config"
	"github.com/voxflow/voxflow/internal/queue"
	"github.com/voxflow/voxflow/internal/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Server consumes notify:webhook tasks and delivers signed webhook
// notifications to the endpoint a job registered at creation time.
type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	webhookClient webhookSender
	metrics       *metrics
	tracer        trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(logger *log.Logger, queueCfg config.QueueConfig, notifierCfg config.NotifierConfig, webhookClient *webhook.Client) *Server {
	return &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: max(1, notifierCfg.Concurrency),
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		webhookClient: webhookClient,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("voxflow/notifier"),
	}
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeNotifyWebhook, s.handleNotifyWebhook)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleNotifyWebhook(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := "failed"

	payload, err := queue.ParseNotifyWebhookPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "notifier.deliver_webhook", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("webhook.event", payload.Event),
	)
	defer span.End()
	defer func() {
		s.metrics.deliveryDuration.WithLabelValues(payload.Event, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.deliveriesTotal.WithLabelValues(payload.Event, outcome).Inc()
	}()

	body := map[string]any{
		"jobId":      payload.JobID,
		"status":     payload.Status,
		"finishedAt": payload.FinishedAt,
	}
	if payload.ResultText != "" {
		body["resultText"] = payload.ResultText
	}
	if payload.ResultURL != "" {
		body["resultUrl"] = payload.ResultURL
	}
	if payload.ErrorDetail != "" {
		body["error"] = payload.ErrorDetail
	}

	if err := s.webhookClient.Send(ctx, payload.Endpoint, payload.Event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, payload.Event, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		return fmt.Errorf("deliver webhook: %w", err)
	}

	s.logger.Printf("webhook delivered job_id=%s event=%s", payload.JobID, payload.Event)
	outcome = "delivered"
	span.SetStatus(codes.Ok, "delivered")
	return nil
}
