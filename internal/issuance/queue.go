package issuance

import (
	"context"
	"encoding/json"
	"log/slog"

	"emblem/internal/platform/kafka/consumer"
	"emblem/internal/platform/kafka/producer"
	"emblem/internal/platform/metrics"
	"emblem/internal/rules/ports"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
)

// Job is one queued issuance request. IdempotencyKey is stable across
// redeliveries of the same logical request and doubles as the record key, so
// retries of one job land on one partition in order.
type Job struct {
	IdempotencyKey  string             `json:"idempotencyKey"`
	TenantID        id.TenantID        `json:"tenantId"`
	BadgeTemplateID id.BadgeTemplateID `json:"badgeTemplateId"`
	Recipient       id.LearnerID       `json:"recipient"`
	RecipientType   string             `json:"recipientType"`
}

// Enqueuer publishes issue jobs to the issuance topic.
type Enqueuer struct {
	producer *producer.Producer
	topic    string
}

// NewEnqueuer creates an enqueuer for the given topic.
func NewEnqueuer(p *producer.Producer, topic string) *Enqueuer {
	if p == nil {
		panic("issuance.NewEnqueuer: producer is required")
	}
	return &Enqueuer{producer: p, topic: topic}
}

// Enqueue publishes one job, waiting for broker acknowledgement.
func (e *Enqueuer) Enqueue(ctx context.Context, job Job) error {
	if job.IdempotencyKey == "" {
		return dErrors.New(dErrors.CodeValidation, "idempotency key is required")
	}
	value, err := json.Marshal(job)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal issue job")
	}
	err = e.producer.Produce(ctx, &producer.Message{
		Topic: e.topic,
		Key:   []byte(job.IdempotencyKey),
		Value: value,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeDownstream, "enqueue issue job")
	}
	return nil
}

// Handler consumes issue jobs. Delivery is at-least-once; the idempotency
// claim plus the gateway's learner/template dedup make handling effectively
// once.
type Handler struct {
	gateway     ports.IssuanceGateway
	idempotency IdempotencyStore
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// HandlerOption configures the Handler.
type HandlerOption func(*Handler)

// WithHandlerMetrics sets the metrics collector.
func WithHandlerMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates the issue job handler.
func NewHandler(gateway ports.IssuanceGateway, idempotency IdempotencyStore, opts ...HandlerOption) *Handler {
	if gateway == nil {
		panic("issuance.NewHandler: issuance gateway is required")
	}
	if idempotency == nil {
		panic("issuance.NewHandler: idempotency store is required")
	}

	h := &Handler{gateway: gateway, idempotency: idempotency}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one queued job. Malformed payloads are acked and dropped:
// redelivering them can never succeed. Gateway failures are returned so the
// message is redelivered.
func (h *Handler) Handle(ctx context.Context, msg *consumer.Message) error {
	var job Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		h.observe("malformed")
		if h.logger != nil {
			h.logger.ErrorContext(ctx, "dropping malformed issue job",
				"topic", msg.Topic,
				"offset", msg.Offset,
				"error", err,
			)
		}
		return nil
	}

	done, err := h.idempotency.Done(ctx, job.IdempotencyKey)
	if err != nil {
		return err
	}
	if done {
		h.observe("duplicate")
		return nil
	}

	result, err := h.gateway.Issue(ctx, job.TenantID, job.BadgeTemplateID, job.Recipient, job.RecipientType)
	if err != nil {
		h.observe("failed")
		return err
	}
	if err := h.idempotency.MarkDone(ctx, job.IdempotencyKey); err != nil && h.logger != nil {
		// A lost mark only costs one redundant redelivery round; the
		// gateway dedup absorbs it.
		h.logger.WarnContext(ctx, "idempotency mark failed", "key", job.IdempotencyKey, "error", err)
	}

	h.observe(string(result.Status))
	if h.logger != nil {
		h.logger.InfoContext(ctx, "issue job handled",
			"idempotency_key", job.IdempotencyKey,
			"status", result.Status,
		)
	}
	return nil
}

func (h *Handler) observe(result string) {
	if h.metrics != nil {
		h.metrics.IssuanceJobs.WithLabelValues(result).Inc()
	}
}
