package gateway

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"webhook-service/internal/webhook"
)

// FieldMap names the payload fields within a gateway's entity object.
type FieldMap struct {
	ID              string
	PaymentRef      string
	SubscriptionRef string
	Amount          string
	Currency        string
	Status          string
	Plan            string
	Reason          string
}

// Mapping describes how one gateway shapes its webhook payloads: where the
// event string lives, where each entity nests, how provider event names map
// to the internal taxonomy, and the gateway's minor-unit convention.
type Mapping struct {
	EventField string
	// EntityPaths locates the entity object per entity kind. An absent or
	// empty path means the entity fields sit at the payload's top level.
	EntityPaths map[webhook.Entity][]string
	Fields      FieldMap
	// MinorUnitFactor converts amounts to decimal major units (100 for
	// paise/cents, 1 for gateways that already send major units).
	MinorUnitFactor float64
	Events          map[string]webhook.EventType
}

// Registry holds one mapping per gateway. Built once at startup, read-only
// thereafter: adding a gateway is a data change, not a code change.
type Registry struct {
	mappings map[webhook.Gateway]Mapping
}

func NewRegistry(mappings map[webhook.Gateway]Mapping) *Registry {
	return &Registry{mappings: mappings}
}

func (r *Registry) Known(gateway webhook.Gateway) bool {
	_, ok := r.mappings[gateway]
	return ok
}

// Parse decodes the raw payload. Unparseable bodies are malformed input and
// are rejected at ingestion, never stored.
func (r *Registry) Parse(rawPayload []byte) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return nil, errors.Wrap(err, "parsing webhook payload")
	}
	return payload, nil
}

// Classify maps the provider event string (case-insensitive) to the internal
// event type and derives the priority. Unmapped strings classify as UNKNOWN,
// never an error: downstream they become IGNORED, retained for audit.
func (r *Registry) Classify(gateway webhook.Gateway, payload map[string]any) (webhook.EventType, webhook.Priority) {
	mapping, ok := r.mappings[gateway]
	if !ok {
		return webhook.EventUnknown, webhook.PriorityLow
	}

	raw, _ := payload[mapping.EventField].(string)
	eventType, ok := mapping.Events[strings.ToLower(raw)]
	if !ok {
		return webhook.EventUnknown, webhook.PriorityLow
	}

	return eventType, webhook.PriorityFor(eventType)
}

// Extract pulls the canonical field subset for the event type. Amount
// conversion to major units happens here and only here.
func (r *Registry) Extract(gateway webhook.Gateway, payload map[string]any, eventType webhook.EventType) (webhook.EventData, error) {
	mapping, ok := r.mappings[gateway]
	if !ok {
		return webhook.EventData{}, errors.Errorf("no mapping for gateway %s", gateway)
	}

	entityKind := webhook.EntityFor(eventType)
	entity := dig(payload, mapping.EntityPaths[entityKind])
	if entity == nil {
		return webhook.EventData{}, errors.Errorf("payload carries no %s entity", entityKind)
	}

	data := webhook.EventData{
		EventType: eventType,
		Currency:  getString(entity, mapping.Fields.Currency),
		Status:    getString(entity, mapping.Fields.Status),
		Reason:    getString(entity, mapping.Fields.Reason),
	}

	if amount, ok := getNumber(entity, mapping.Fields.Amount); ok {
		data.Amount = amount / mapping.MinorUnitFactor
	}

	id := getString(entity, mapping.Fields.ID)
	switch entityKind {
	case webhook.EntityPayment:
		data.GatewayPaymentID = id
	case webhook.EntityRefund:
		data.GatewayRefundID = id
		data.GatewayPaymentID = getString(entity, mapping.Fields.PaymentRef)
	case webhook.EntitySubscription:
		data.GatewaySubscriptionID = id
		data.Plan = getString(entity, mapping.Fields.Plan)
	case webhook.EntityInvoice:
		data.GatewayInvoiceID = id
		data.GatewaySubscriptionID = getString(entity, mapping.Fields.SubscriptionRef)
	case webhook.EntityDispute:
		data.GatewayDisputeID = id
		data.GatewayPaymentID = getString(entity, mapping.Fields.PaymentRef)
	}

	if id == "" {
		return webhook.EventData{}, errors.Errorf("%s entity has no %s field", entityKind, mapping.Fields.ID)
	}

	return data, nil
}

func dig(payload map[string]any, path []string) map[string]any {
	current := payload
	for _, key := range path {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

func getString(entity map[string]any, field string) string {
	if field == "" {
		return ""
	}
	s, _ := entity[field].(string)
	return s
}

func getNumber(entity map[string]any, field string) (float64, bool) {
	if field == "" {
		return 0, false
	}
	switch v := entity[field].(type) {
	case float64:
		return v, true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
