package handler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"webhook-service/internal/db"
	"webhook-service/internal/trigger"
	"webhook-service/internal/webhook"
)

func (h *Handlers) SubscriptionCreated(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, data webhook.EventData) webhook.Outcome {
	return h.upsertSubscription(ctx, tx, gateway, data, "active")
}

func (h *Handlers) SubscriptionUpdated(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, data webhook.EventData) webhook.Outcome {
	return h.upsertSubscription(ctx, tx, gateway, data, "")
}

func (h *Handlers) upsertSubscription(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, data webhook.EventData, fallbackStatus string) webhook.Outcome {
	if data.GatewaySubscriptionID == "" {
		return webhook.Fail(errors.New("subscription event without subscription id"))
	}

	status := data.Status
	if status == "" {
		status = fallbackStatus
	}
	if status == "" {
		return webhook.Fail(errors.New("subscription update without status"))
	}

	entity := &db.SubscriptionEntity{
		ID:                    uuid.New(),
		Gateway:               gateway,
		GatewaySubscriptionID: data.GatewaySubscriptionID,
		Status:                status,
	}
	if data.Plan != "" {
		entity.Plan = &data.Plan
	}

	if err := h.subscriptions.Upsert(ctx, tx, entity); err != nil {
		return webhook.Retry(err)
	}
	return webhook.Success("subscription upserted")
}

// SubscriptionCancelled updates the record and fires the retention trigger.
func (h *Handlers) SubscriptionCancelled(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, data webhook.EventData) webhook.Outcome {
	if data.GatewaySubscriptionID == "" {
		return webhook.Fail(errors.New("subscription event without subscription id"))
	}

	sub, found, err := h.subscriptions.Cancel(ctx, tx, gateway, data.GatewaySubscriptionID, time.Now())
	if err != nil {
		return webhook.Retry(err)
	}
	if !found {
		// the creation event may not have arrived yet
		return webhook.Retry(errors.Errorf("subscription %s/%s not found", gateway, data.GatewaySubscriptionID))
	}

	err = h.emitter.Emit(ctx, trigger.Trigger{
		Type:      trigger.TypeSubscriptionCancelled,
		EntityID:  sub.ID.String(),
		WebhookID: data.WebhookID,
		Payload: map[string]any{
			"gateway":               gateway,
			"gatewaySubscriptionId": data.GatewaySubscriptionID,
			"reason":                data.Reason,
		},
	})
	if err != nil {
		return webhook.Retry(err)
	}

	return webhook.Success("subscription cancelled")
}

func (h *Handlers) InvoicePaid(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, data webhook.EventData) webhook.Outcome {
	return h.upsertInvoice(ctx, tx, gateway, data, "paid")
}

func (h *Handlers) InvoiceFailed(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, data webhook.EventData) webhook.Outcome {
	return h.upsertInvoice(ctx, tx, gateway, data, "failed")
}

func (h *Handlers) upsertInvoice(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, data webhook.EventData, status string) webhook.Outcome {
	if data.GatewayInvoiceID == "" {
		return webhook.Fail(errors.New("invoice event without invoice id"))
	}

	entity := &db.InvoiceEntity{
		ID:               uuid.New(),
		Gateway:          gateway,
		GatewayInvoiceID: data.GatewayInvoiceID,
		Status:           status,
		Amount:           data.Amount,
	}

	// Link the subscription when it already exists; an invoice may arrive
	// before its subscription and still reconciles on its own key.
	if data.GatewaySubscriptionID != "" {
		sub, found, err := h.subscriptions.SelectByKey(ctx, tx, gateway, data.GatewaySubscriptionID)
		if err != nil {
			return webhook.Retry(err)
		}
		if found {
			entity.SubscriptionID = &sub.ID
		}
	}

	if err := h.subscriptions.UpsertInvoice(ctx, tx, entity); err != nil {
		return webhook.Retry(err)
	}
	return webhook.Success("invoice " + status)
}
