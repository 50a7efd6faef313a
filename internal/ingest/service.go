package ingest

import (
	"context"
	"log/slog"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"webhook-service/internal/db"
	"webhook-service/internal/gateway"
	"webhook-service/internal/logcontext"
	"webhook-service/internal/webhook"
)

var (
	acceptedCounter  = metrics.GetOrCreateCounter(`webhook_ingest_total{result="accepted"}`)
	malformedCounter = metrics.GetOrCreateCounter(`webhook_ingest_total{result="malformed"}`)
	storeErrCounter  = metrics.GetOrCreateCounter(`webhook_ingest_total{result="store_failed"}`)
)

// Store is the slice of the webhook repository ingestion needs.
type Store interface {
	Create(ctx context.Context, entity *db.WebhookEventEntity) (*db.WebhookEventEntity, error)
}

// Submitter hands a stored webhook to immediate processing.
type Submitter interface {
	Submit(id uuid.UUID)
}

// Ack is what the front door returns to the sending gateway. Durability of
// the stored record is the only pre-acknowledgment guarantee.
type Ack struct {
	WebhookID uuid.UUID         `json:"webhookId"`
	EventType webhook.EventType `json:"eventType"`
	Priority  webhook.Priority  `json:"priority"`
}

// Service is the ingestion boundary: classify, durably store, acknowledge.
// HIGH priority webhooks are additionally handed to the dispatcher right
// away; processing outcome never blocks the acknowledgment.
type Service struct {
	repo       Store
	normalizer *gateway.Registry
	dispatcher Submitter
	logger     *slog.Logger
}

func NewService(repo Store, normalizer *gateway.Registry, dispatcher Submitter, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		normalizer: normalizer,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (s *Service) Receive(ctx context.Context, gw webhook.Gateway, signature string, rawBody []byte) (*Ack, error) {
	if !s.normalizer.Known(gw) {
		malformedCounter.Inc()
		return nil, errors.Errorf("unknown gateway %q", gw)
	}

	payload, err := s.normalizer.Parse(rawBody)
	if err != nil {
		// malformed input is rejected synchronously, never stored as a
		// retryable item
		malformedCounter.Inc()
		return nil, err
	}

	eventType, priority := s.normalizer.Classify(gw, payload)

	entity := &db.WebhookEventEntity{
		ID:         uuid.New(),
		Gateway:    gw,
		EventType:  eventType,
		RawPayload: string(rawBody),
		Signature:  signature,
		Priority:   priority,
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("webhookId", entity.ID.String()))

	if _, err := s.repo.Create(ctx, entity); err != nil {
		storeErrCounter.Inc()
		return nil, err
	}

	s.logger.InfoContext(ctx, "Webhook accepted",
		"gateway", gw, "eventType", eventType, "priority", priority.String())
	acceptedCounter.Inc()

	if priority == webhook.PriorityHigh {
		s.dispatcher.Submit(entity.ID)
	}

	return &Ack{
		WebhookID: entity.ID,
		EventType: eventType,
		Priority:  priority,
	}, nil
}
