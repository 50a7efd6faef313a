package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"webhook-service/internal/db"
	"webhook-service/internal/trigger"
	"webhook-service/internal/webhook"
)

type PaymentStore interface {
	SelectForUpdateByKey(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, gatewayPaymentID string) (*db.PaymentEntity, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	MarkCaptured(ctx context.Context, tx pgx.Tx, id uuid.UUID, capturedAmount float64) error
	InsertRefund(ctx context.Context, tx pgx.Tx, refund *db.RefundEntity) (bool, error)
	UpdateRefundTotals(ctx context.Context, tx pgx.Tx, id uuid.UUID, refundedAmount float64, status string) error
	InsertDispute(ctx context.Context, tx pgx.Tx, dispute *db.DisputeEntity) (bool, error)
}

type SubscriptionStore interface {
	Upsert(ctx context.Context, tx pgx.Tx, entity *db.SubscriptionEntity) error
	Cancel(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, gatewaySubscriptionID string, at time.Time) (*db.SubscriptionEntity, bool, error)
	SelectByKey(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, gatewaySubscriptionID string) (*db.SubscriptionEntity, bool, error)
	UpsertInvoice(ctx context.Context, tx pgx.Tx, entity *db.InvoiceEntity) error
}

type TriggerEmitter interface {
	Emit(ctx context.Context, t trigger.Trigger) error
}

// Handlers implements one state transition per event type. Every handler is
// written for at-least-once, not-necessarily-in-order delivery: correctness
// comes from the data (natural keys, explicit statuses, accumulated
// amounts), never from delivery order.
type Handlers struct {
	payments      PaymentStore
	subscriptions SubscriptionStore
	emitter       TriggerEmitter
	logger        *slog.Logger
}

func NewHandlers(payments PaymentStore, subscriptions SubscriptionStore, emitter TriggerEmitter, logger *slog.Logger) *Handlers {
	return &Handlers{
		payments:      payments,
		subscriptions: subscriptions,
		emitter:       emitter,
		logger:        logger,
	}
}
