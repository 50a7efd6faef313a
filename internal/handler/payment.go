package handler

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"webhook-service/internal/db"
	"webhook-service/internal/trigger"
	"webhook-service/internal/webhook"
)

// PaymentSuccess marks the payment captured. Re-delivery of an already
// captured payment is a no-op success so downstream triggers never
// double-fire.
func (h *Handlers) PaymentSuccess(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, data webhook.EventData) webhook.Outcome {
	payment, outcome := h.lookupPayment(ctx, tx, gateway, data.GatewayPaymentID)
	if payment == nil {
		return outcome
	}

	if payment.Status == "success" {
		return webhook.Success("payment already captured")
	}

	if err := h.payments.MarkCaptured(ctx, tx, payment.ID, data.Amount); err != nil {
		return webhook.Retry(err)
	}

	err := h.emitter.Emit(ctx, trigger.Trigger{
		Type:      trigger.TypePaymentCaptured,
		EntityID:  payment.ID.String(),
		WebhookID: data.WebhookID,
		Payload: map[string]any{
			"gatewayPaymentId": data.GatewayPaymentID,
			"amount":           data.Amount,
			"currency":         data.Currency,
		},
	})
	if err != nil {
		return webhook.Retry(err)
	}

	return webhook.Success("payment captured")
}

func (h *Handlers) PaymentFailed(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, data webhook.EventData) webhook.Outcome {
	payment, outcome := h.lookupPayment(ctx, tx, gateway, data.GatewayPaymentID)
	if payment == nil {
		return outcome
	}

	// A success that already landed wins over a late failure notification.
	if payment.Status == "success" || payment.Status == "refunded" || payment.Status == "partial_refunded" {
		return webhook.Success("payment already settled, failure ignored")
	}

	if err := h.payments.UpdateStatus(ctx, tx, payment.ID, "failed"); err != nil {
		return webhook.Retry(err)
	}
	return webhook.Success("payment marked failed")
}

func (h *Handlers) PaymentPending(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, data webhook.EventData) webhook.Outcome {
	payment, outcome := h.lookupPayment(ctx, tx, gateway, data.GatewayPaymentID)
	if payment == nil {
		return outcome
	}

	if payment.Status != "created" && payment.Status != "pending" {
		return webhook.Success("payment already settled, pending ignored")
	}

	if err := h.payments.UpdateStatus(ctx, tx, payment.ID, "pending"); err != nil {
		return webhook.Retry(err)
	}
	return webhook.Success("payment marked pending")
}

// PaymentRefunded accumulates the refund. The refund row is keyed on
// (gateway, gateway_refund_id), so a redelivered refund event never counts
// twice; order of distinct refunds does not matter.
func (h *Handlers) PaymentRefunded(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, data webhook.EventData) webhook.Outcome {
	if data.GatewayRefundID == "" {
		return webhook.Fail(errors.New("refund event without refund id"))
	}

	payment, outcome := h.lookupPayment(ctx, tx, gateway, data.GatewayPaymentID)
	if payment == nil {
		return outcome
	}

	inserted, err := h.payments.InsertRefund(ctx, tx, &db.RefundEntity{
		ID:              uuid.New(),
		PaymentID:       payment.ID,
		Gateway:         gateway,
		GatewayRefundID: data.GatewayRefundID,
		Amount:          data.Amount,
	})
	if err != nil {
		return webhook.Retry(err)
	}
	if !inserted {
		return webhook.Success("refund already recorded")
	}

	captured := payment.Amount
	if payment.CapturedAmount != nil {
		captured = *payment.CapturedAmount
	}

	total := payment.RefundedAmount + data.Amount
	status := "partial_refunded"
	if total >= captured {
		status = "refunded"
	}

	if err := h.payments.UpdateRefundTotals(ctx, tx, payment.ID, total, status); err != nil {
		return webhook.Retry(err)
	}
	return webhook.Success("refund recorded")
}

// DisputeCreated records the dispute and notifies downstream. The trigger
// fires at-least-once; consumers dedupe on the dispute id.
func (h *Handlers) DisputeCreated(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, data webhook.EventData) webhook.Outcome {
	if data.GatewayDisputeID == "" {
		return webhook.Fail(errors.New("dispute event without dispute id"))
	}

	entity := &db.DisputeEntity{
		ID:               uuid.New(),
		Gateway:          gateway,
		GatewayDisputeID: data.GatewayDisputeID,
		Status:           "open",
	}
	if data.Amount > 0 {
		entity.Amount = &data.Amount
	}
	if data.Reason != "" {
		entity.Reason = &data.Reason
	}

	if data.GatewayPaymentID != "" {
		payment, outcome := h.lookupPayment(ctx, tx, gateway, data.GatewayPaymentID)
		if payment == nil {
			return outcome
		}
		entity.PaymentID = &payment.ID
	}

	inserted, err := h.payments.InsertDispute(ctx, tx, entity)
	if err != nil {
		return webhook.Retry(err)
	}
	if !inserted {
		return webhook.Success("dispute already recorded")
	}

	err = h.emitter.Emit(ctx, trigger.Trigger{
		Type:      trigger.TypeDisputeCreated,
		EntityID:  data.GatewayDisputeID,
		WebhookID: data.WebhookID,
		Payload: map[string]any{
			"gateway":          gateway,
			"gatewayPaymentId": data.GatewayPaymentID,
			"reason":           data.Reason,
		},
	})
	if err != nil {
		return webhook.Retry(err)
	}

	return webhook.Success("dispute recorded")
}

// lookupPayment resolves the payment by natural key. A missing row is a
// retryable failure: the creating event may simply not have arrived yet.
func (h *Handlers) lookupPayment(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, gatewayPaymentID string) (*db.PaymentEntity, webhook.Outcome) {
	if gatewayPaymentID == "" {
		return nil, webhook.Fail(errors.New("event without payment id"))
	}

	payment, err := h.payments.SelectForUpdateByKey(ctx, tx, gateway, gatewayPaymentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, webhook.Retry(errors.Errorf("payment %s/%s not found", gateway, gatewayPaymentID))
	}
	if err != nil {
		return nil, webhook.Retry(err)
	}
	return payment, webhook.Outcome{}
}
