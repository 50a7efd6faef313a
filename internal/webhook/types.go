package webhook

import "github.com/google/uuid"

type Gateway string

const (
	GatewayRazorpay Gateway = "razorpay"
	GatewayStripe   Gateway = "stripe"
	GatewayPayU     Gateway = "payu"
	GatewayCashfree Gateway = "cashfree"
)

func Gateways() []Gateway {
	return []Gateway{GatewayRazorpay, GatewayStripe, GatewayPayU, GatewayCashfree}
}

// ParseGateway returns the gateway for its wire name, false if unknown.
func ParseGateway(s string) (Gateway, bool) {
	for _, g := range Gateways() {
		if string(g) == s {
			return g, true
		}
	}
	return "", false
}

type EventType string

const (
	EventPaymentSuccess        EventType = "PAYMENT_SUCCESS"
	EventPaymentFailed         EventType = "PAYMENT_FAILED"
	EventPaymentPending        EventType = "PAYMENT_PENDING"
	EventPaymentRefunded       EventType = "PAYMENT_REFUNDED"
	EventSubscriptionCreated   EventType = "SUBSCRIPTION_CREATED"
	EventSubscriptionUpdated   EventType = "SUBSCRIPTION_UPDATED"
	EventSubscriptionCancelled EventType = "SUBSCRIPTION_CANCELLED"
	EventInvoicePaid           EventType = "INVOICE_PAID"
	EventInvoiceFailed         EventType = "INVOICE_FAILED"
	EventDisputeCreated        EventType = "DISPUTE_CREATED"
	EventUnknown               EventType = "UNKNOWN"
)

type Priority int16

const (
	PriorityLow    Priority = 0
	PriorityMedium Priority = 1
	PriorityHigh   Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// PriorityFor derives the dispatch priority from the normalized event type.
// Money-moving and dispute events must reach customer-facing state first.
func PriorityFor(t EventType) Priority {
	switch t {
	case EventPaymentSuccess, EventPaymentFailed, EventPaymentRefunded, EventDisputeCreated:
		return PriorityHigh
	case EventSubscriptionCreated, EventSubscriptionCancelled, EventInvoicePaid:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "PENDING"
	StatusProcessing ProcessingStatus = "PROCESSING"
	StatusProcessed  ProcessingStatus = "PROCESSED"
	StatusFailed     ProcessingStatus = "FAILED"
	StatusRetry      ProcessingStatus = "RETRY"
	StatusIgnored    ProcessingStatus = "IGNORED"
)

type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "UNVERIFIED"
	VerificationVerified   VerificationStatus = "VERIFIED"
	VerificationFailed     VerificationStatus = "FAILED"
)

// Entity names the business object a normalized event refers to.
type Entity string

const (
	EntityPayment      Entity = "payment"
	EntityRefund       Entity = "refund"
	EntitySubscription Entity = "subscription"
	EntityInvoice      Entity = "invoice"
	EntityDispute      Entity = "dispute"
)

// EntityFor maps an event type to the entity its payload carries.
func EntityFor(t EventType) Entity {
	switch t {
	case EventPaymentRefunded:
		return EntityRefund
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionCancelled:
		return EntitySubscription
	case EventInvoicePaid, EventInvoiceFailed:
		return EntityInvoice
	case EventDisputeCreated:
		return EntityDispute
	default:
		return EntityPayment
	}
}

// EventData is the uniform shape every handler operates on, regardless of
// gateway. Amounts are already converted to decimal major units. WebhookID
// is stamped by the dispatcher so triggers can carry it for downstream dedup.
type EventData struct {
	WebhookID             uuid.UUID `json:"webhookId"`
	EventType             EventType `json:"eventType"`
	GatewayPaymentID      string    `json:"gatewayPaymentId,omitempty"`
	GatewayRefundID       string    `json:"gatewayRefundId,omitempty"`
	GatewaySubscriptionID string    `json:"gatewaySubscriptionId,omitempty"`
	GatewayInvoiceID      string    `json:"gatewayInvoiceId,omitempty"`
	GatewayDisputeID      string    `json:"gatewayDisputeId,omitempty"`
	Amount                float64   `json:"amount,omitempty"`
	Currency              string    `json:"currency,omitempty"`
	Status                string    `json:"status,omitempty"`
	Plan                  string    `json:"plan,omitempty"`
	Reason                string    `json:"reason,omitempty"`
}
