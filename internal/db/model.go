package db

import (
	"time"

	"github.com/google/uuid"

	"webhook-service/internal/webhook"
)

type WebhookEventEntity struct {
	ID                 uuid.UUID
	Gateway            webhook.Gateway
	EventType          webhook.EventType
	RawPayload         string
	Signature          string
	Priority           webhook.Priority
	ProcessingStatus   webhook.ProcessingStatus
	VerificationStatus webhook.VerificationStatus
	ProcessingAttempts int
	NextRetryAt        *time.Time
	ErrorDetail        *string
	ProcessingResult   *string
	ReceivedAt         time.Time
	ProcessedAt        *time.Time
	UpdatedAt          time.Time
}

type PaymentEntity struct {
	ID               uuid.UUID
	Gateway          webhook.Gateway
	GatewayPaymentID string
	Status           string
	Amount           float64
	CapturedAmount   *float64
	RefundedAmount   float64
	Currency         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type SubscriptionEntity struct {
	ID                    uuid.UUID
	Gateway               webhook.Gateway
	GatewaySubscriptionID string
	Status                string
	Plan                  *string
	CancelledAt           *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type RefundEntity struct {
	ID              uuid.UUID
	PaymentID       uuid.UUID
	Gateway         webhook.Gateway
	GatewayRefundID string
	Amount          float64
	CreatedAt       time.Time
}

type DisputeEntity struct {
	ID               uuid.UUID
	PaymentID        *uuid.UUID
	Gateway          webhook.Gateway
	GatewayDisputeID string
	Amount           *float64
	Reason           *string
	Status           string
	CreatedAt        time.Time
}

type InvoiceEntity struct {
	ID               uuid.UUID
	Gateway          webhook.Gateway
	GatewayInvoiceID string
	SubscriptionID   *uuid.UUID
	Status           string
	Amount           float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
