package handler

import (
	"context"

	"github.com/jackc/pgx/v5"

	"webhook-service/internal/webhook"
)

// Func performs one idempotent state transition for a normalized event,
// inside the transaction the dispatcher opened.
type Func func(ctx context.Context, tx pgx.Tx, gateway webhook.Gateway, data webhook.EventData) webhook.Outcome

type key struct {
	gateway webhook.Gateway
	event   webhook.EventType
}

// Registry is the (gateway, event type) -> handler dispatch table. Built
// once at startup; adding a gateway registers rows, not branches.
type Registry struct {
	handlers map[key]Func
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[key]Func)}
}

func (r *Registry) Register(gateway webhook.Gateway, event webhook.EventType, fn Func) {
	r.handlers[key{gateway: gateway, event: event}] = fn
}

func (r *Registry) Lookup(gateway webhook.Gateway, event webhook.EventType) (Func, bool) {
	fn, ok := r.handlers[key{gateway: gateway, event: event}]
	return fn, ok
}

// DefaultRegistry registers the standard handler set for every gateway.
func DefaultRegistry(h *Handlers, gateways []webhook.Gateway) *Registry {
	r := NewRegistry()
	for _, gw := range gateways {
		r.Register(gw, webhook.EventPaymentSuccess, h.PaymentSuccess)
		r.Register(gw, webhook.EventPaymentFailed, h.PaymentFailed)
		r.Register(gw, webhook.EventPaymentPending, h.PaymentPending)
		r.Register(gw, webhook.EventPaymentRefunded, h.PaymentRefunded)
		r.Register(gw, webhook.EventSubscriptionCreated, h.SubscriptionCreated)
		r.Register(gw, webhook.EventSubscriptionUpdated, h.SubscriptionUpdated)
		r.Register(gw, webhook.EventSubscriptionCancelled, h.SubscriptionCancelled)
		r.Register(gw, webhook.EventInvoicePaid, h.InvoicePaid)
		r.Register(gw, webhook.EventInvoiceFailed, h.InvoiceFailed)
		r.Register(gw, webhook.EventDisputeCreated, h.DisputeCreated)
	}
	return r
}
