package gateway

import "webhook-service/internal/webhook"

// DefaultRegistry carries the mapping table for every supported gateway.
func DefaultRegistry() *Registry {
	return NewRegistry(map[webhook.Gateway]Mapping{
		webhook.GatewayRazorpay: {
			EventField: "event",
			EntityPaths: map[webhook.Entity][]string{
				webhook.EntityPayment:      {"payload", "payment", "entity"},
				webhook.EntityRefund:       {"payload", "refund", "entity"},
				webhook.EntitySubscription: {"payload", "subscription", "entity"},
				webhook.EntityInvoice:      {"payload", "invoice", "entity"},
				webhook.EntityDispute:      {"payload", "dispute", "entity"},
			},
			Fields: FieldMap{
				ID:              "id",
				PaymentRef:      "payment_id",
				SubscriptionRef: "subscription_id",
				Amount:          "amount",
				Currency:        "currency",
				Status:          "status",
				Plan:            "plan_id",
				Reason:          "reason",
			},
			MinorUnitFactor: 100, // paise
			Events: map[string]webhook.EventType{
				"payment.captured":        webhook.EventPaymentSuccess,
				"payment.failed":          webhook.EventPaymentFailed,
				"payment.authorized":      webhook.EventPaymentPending,
				"refund.processed":        webhook.EventPaymentRefunded,
				"subscription.activated":  webhook.EventSubscriptionCreated,
				"subscription.updated":    webhook.EventSubscriptionUpdated,
				"subscription.cancelled":  webhook.EventSubscriptionCancelled,
				"invoice.paid":            webhook.EventInvoicePaid,
				"invoice.expired":         webhook.EventInvoiceFailed,
				"payment.dispute.created": webhook.EventDisputeCreated,
			},
		},
		webhook.GatewayStripe: {
			EventField: "type",
			EntityPaths: map[webhook.Entity][]string{
				webhook.EntityPayment:      {"data", "object"},
				webhook.EntityRefund:       {"data", "object"},
				webhook.EntitySubscription: {"data", "object"},
				webhook.EntityInvoice:      {"data", "object"},
				webhook.EntityDispute:      {"data", "object"},
			},
			Fields: FieldMap{
				ID:              "id",
				PaymentRef:      "payment_intent",
				SubscriptionRef: "subscription",
				Amount:          "amount",
				Currency:        "currency",
				Status:          "status",
				Plan:            "plan",
				Reason:          "reason",
			},
			MinorUnitFactor: 100, // cents
			Events: map[string]webhook.EventType{
				"payment_intent.succeeded":      webhook.EventPaymentSuccess,
				"payment_intent.payment_failed": webhook.EventPaymentFailed,
				"payment_intent.processing":     webhook.EventPaymentPending,
				"charge.refunded":               webhook.EventPaymentRefunded,
				"customer.subscription.created": webhook.EventSubscriptionCreated,
				"customer.subscription.updated": webhook.EventSubscriptionUpdated,
				"customer.subscription.deleted": webhook.EventSubscriptionCancelled,
				"invoice.paid":                  webhook.EventInvoicePaid,
				"invoice.payment_failed":        webhook.EventInvoiceFailed,
				"charge.dispute.created":        webhook.EventDisputeCreated,
			},
		},
		webhook.GatewayPayU: {
			EventField: "event",
			EntityPaths: map[webhook.Entity][]string{
				webhook.EntityPayment: nil,
				webhook.EntityRefund:  nil,
			},
			Fields: FieldMap{
				ID:         "mihpayid",
				PaymentRef: "payment_id",
				Amount:     "amount",
				Currency:   "currency",
				Status:     "status",
				Reason:     "error_Message",
			},
			MinorUnitFactor: 1, // rupees, already major units
			Events: map[string]webhook.EventType{
				"payment_success":  webhook.EventPaymentSuccess,
				"payment_failed":   webhook.EventPaymentFailed,
				"payment_pending":  webhook.EventPaymentPending,
				"refund_processed": webhook.EventPaymentRefunded,
			},
		},
		webhook.GatewayCashfree: {
			EventField: "type",
			EntityPaths: map[webhook.Entity][]string{
				webhook.EntityPayment:      {"data"},
				webhook.EntityRefund:       {"data"},
				webhook.EntitySubscription: {"data"},
				webhook.EntityDispute:      {"data"},
			},
			Fields: FieldMap{
				ID:              "cf_id",
				PaymentRef:      "order_id",
				SubscriptionRef: "subscription_id",
				Amount:          "amount",
				Currency:        "currency",
				Status:          "status",
				Plan:            "plan_id",
				Reason:          "reason",
			},
			MinorUnitFactor: 1,
			Events: map[string]webhook.EventType{
				"payment_success_webhook":      webhook.EventPaymentSuccess,
				"payment_failed_webhook":       webhook.EventPaymentFailed,
				"payment_user_dropped_webhook": webhook.EventPaymentPending,
				"refund_status_webhook":        webhook.EventPaymentRefunded,
				"subscription_new_webhook":     webhook.EventSubscriptionCreated,
				"subscription_status_change":   webhook.EventSubscriptionUpdated,
				"subscription_cancelled":       webhook.EventSubscriptionCancelled,
				"dispute_created_webhook":      webhook.EventDisputeCreated,
			},
		},
	})
}
