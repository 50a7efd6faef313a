package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"webhook-service/internal/webhook"
)

// PaymentRepository mutates payment, refund and dispute rows. Lookups use the
// natural gateway key, never the webhook id: the same payment can arrive via
// several distinct deliveries.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) SelectForUpdateByKey(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, gatewayPaymentID string) (*PaymentEntity, error) {
	query := `SELECT id, gateway, gateway_payment_id, status, amount, captured_amount,
			refunded_amount, currency, created_at, updated_at
		FROM payment
		WHERE gateway = $1 AND gateway_payment_id = $2
		FOR UPDATE`
	var e PaymentEntity
	err := tx.QueryRow(ctx, query, gateway, gatewayPaymentID).Scan(
		&e.ID, &e.Gateway, &e.GatewayPaymentID, &e.Status, &e.Amount, &e.CapturedAmount,
		&e.RefundedAmount, &e.Currency, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	query := `UPDATE payment SET status = $2, updated_at = now() WHERE id = $1`
	_, err := tx.Exec(ctx, query, id, status)
	return errors.Wrap(err, "updating payment status")
}

func (r *PaymentRepository) MarkCaptured(ctx context.Context, tx pgx.Tx, id uuid.UUID, capturedAmount float64) error {
	query := `UPDATE payment
		SET status = 'success', captured_amount = $2, updated_at = now()
		WHERE id = $1`
	_, err := tx.Exec(ctx, query, id, capturedAmount)
	return errors.Wrap(err, "marking payment captured")
}

// InsertRefund inserts a refund keyed on (gateway, gateway_refund_id).
// Returns inserted=false when the refund was already recorded, so a
// redelivered refund event never double-credits.
func (r *PaymentRepository) InsertRefund(ctx context.Context, tx pgx.Tx, refund *RefundEntity) (bool, error) {
	query := `INSERT INTO refund (id, payment_id, gateway, gateway_refund_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (gateway, gateway_refund_id) DO NOTHING`
	tag, err := tx.Exec(ctx, query, refund.ID, refund.PaymentID, refund.Gateway, refund.GatewayRefundID, refund.Amount)
	if err != nil {
		return false, errors.Wrap(err, "inserting refund")
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PaymentRepository) UpdateRefundTotals(ctx context.Context, tx pgx.Tx, id uuid.UUID, refundedAmount float64, status string) error {
	query := `UPDATE payment
		SET refunded_amount = $2, status = $3, updated_at = now()
		WHERE id = $1`
	_, err := tx.Exec(ctx, query, id, refundedAmount, status)
	return errors.Wrap(err, "updating refund totals")
}

// InsertDispute is keyed on (gateway, gateway_dispute_id); duplicates are
// no-ops for the record itself. The caller decides about trigger emission.
func (r *PaymentRepository) InsertDispute(ctx context.Context, tx pgx.Tx, dispute *DisputeEntity) (bool, error) {
	query := `INSERT INTO dispute (id, payment_id, gateway, gateway_dispute_id, amount, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (gateway, gateway_dispute_id) DO NOTHING`
	tag, err := tx.Exec(ctx, query,
		dispute.ID, dispute.PaymentID, dispute.Gateway, dispute.GatewayDisputeID,
		dispute.Amount, dispute.Reason, dispute.Status)
	if err != nil {
		return false, errors.Wrap(err, "inserting dispute")
	}
	return tag.RowsAffected() > 0, nil
}
