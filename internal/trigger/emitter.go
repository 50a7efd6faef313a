package trigger

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const (
	TypePaymentCaptured       = "payment_captured"
	TypeSubscriptionCancelled = "subscription_cancelled"
	TypeDisputeCreated        = "dispute_created"
)

// Trigger is a domain event for downstream billing/notification/CRM
// consumers. Delivery is at-least-once; WebhookID lets consumers dedupe.
type Trigger struct {
	Type      string         `json:"type"`
	EntityID  string         `json:"entityId"`
	WebhookID uuid.UUID      `json:"webhookId"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Emitter struct {
	writer Writer
	logger *slog.Logger
}

func NewEmitter(writer Writer, logger *slog.Logger) *Emitter {
	return &Emitter{writer: writer, logger: logger}
}

func (e *Emitter) Emit(ctx context.Context, t Trigger) error {
	value, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "marshalling trigger")
	}

	msg := kafka.Message{
		// Key by entity so triggers for one entity stay ordered
		Key:   []byte(t.EntityID),
		Value: value,
	}

	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "emitting %s trigger", t.Type)
	}

	e.logger.InfoContext(ctx, "Emitted domain trigger", "type", t.Type, "entityId", t.EntityID)
	return nil
}
