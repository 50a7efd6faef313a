package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"webhook-service/internal/webhook"
)

type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

// Upsert creates or updates the subscription by its natural gateway key.
func (r *SubscriptionRepository) Upsert(ctx context.Context, tx pgx.Tx, entity *SubscriptionEntity) error {
	query := `INSERT INTO subscription (id, gateway, gateway_subscription_id, status, plan, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (gateway, gateway_subscription_id)
		DO UPDATE SET status = EXCLUDED.status,
		              plan = COALESCE(EXCLUDED.plan, subscription.plan),
		              updated_at = now()`
	_, err := tx.Exec(ctx, query, entity.ID, entity.Gateway, entity.GatewaySubscriptionID, entity.Status, entity.Plan)
	return errors.Wrap(err, "upserting subscription")
}

// Cancel marks the subscription cancelled. Returns found=false when no row
// exists for the key yet.
func (r *SubscriptionRepository) Cancel(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, gatewaySubscriptionID string, at time.Time) (*SubscriptionEntity, bool, error) {
	query := `UPDATE subscription
		SET status = 'cancelled', cancelled_at = $3, updated_at = now()
		WHERE gateway = $1 AND gateway_subscription_id = $2
		RETURNING id, gateway, gateway_subscription_id, status, plan, cancelled_at, created_at, updated_at`
	var e SubscriptionEntity
	err := tx.QueryRow(ctx, query, gateway, gatewaySubscriptionID, at).Scan(
		&e.ID, &e.Gateway, &e.GatewaySubscriptionID, &e.Status, &e.Plan, &e.CancelledAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "cancelling subscription")
	}
	return &e, true, nil
}

func (r *SubscriptionRepository) SelectByKey(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, gatewaySubscriptionID string) (*SubscriptionEntity, bool, error) {
	query := `SELECT id, gateway, gateway_subscription_id, status, plan, cancelled_at, created_at, updated_at
		FROM subscription
		WHERE gateway = $1 AND gateway_subscription_id = $2`
	var e SubscriptionEntity
	err := tx.QueryRow(ctx, query, gateway, gatewaySubscriptionID).Scan(
		&e.ID, &e.Gateway, &e.GatewaySubscriptionID, &e.Status, &e.Plan, &e.CancelledAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "selecting subscription")
	}
	return &e, true, nil
}

func (r *SubscriptionRepository) UpsertInvoice(ctx context.Context, tx pgx.Tx, entity *InvoiceEntity) error {
	query := `INSERT INTO invoice (id, gateway, gateway_invoice_id, subscription_id, status, amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (gateway, gateway_invoice_id)
		DO UPDATE SET status = EXCLUDED.status,
		              amount = EXCLUDED.amount,
		              updated_at = now()`
	_, err := tx.Exec(ctx, query,
		entity.ID, entity.Gateway, entity.GatewayInvoiceID, entity.SubscriptionID, entity.Status, entity.Amount)
	return errors.Wrap(err, "upserting invoice")
}
