package ingest_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-service/internal/db"
	"webhook-service/internal/gateway"
	"webhook-service/internal/ingest"
	"webhook-service/internal/webhook"
)

type fakeStore struct {
	created []*db.WebhookEventEntity
	err     error
}

func (f *fakeStore) Create(ctx context.Context, entity *db.WebhookEventEntity) (*db.WebhookEventEntity, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, entity)
	return entity, nil
}

type fakeSubmitter struct {
	submitted []uuid.UUID
}

func (f *fakeSubmitter) Submit(id uuid.UUID) {
	f.submitted = append(f.submitted, id)
}

func newService(store *fakeStore, submitter *fakeSubmitter) *ingest.Service {
	return ingest.NewService(store, gateway.DefaultRegistry(), submitter, slog.Default())
}

func TestReceive_HighPriorityDispatchedImmediately(t *testing.T) {
	store := &fakeStore{}
	submitter := &fakeSubmitter{}
	svc := newService(store, submitter)

	body := `{"event": "payment.captured", "payload": {"payment": {"entity": {"id": "pay_1", "amount": 100}}}}`
	ack, err := svc.Receive(context.Background(), webhook.GatewayRazorpay, "sig", []byte(body))

	require.NoError(t, err)
	assert.Equal(t, webhook.EventPaymentSuccess, ack.EventType)
	assert.Equal(t, webhook.PriorityHigh, ack.Priority)

	require.Len(t, store.created, 1)
	entity := store.created[0]
	assert.Equal(t, ack.WebhookID, entity.ID)
	assert.Equal(t, body, entity.RawPayload)
	assert.Equal(t, "sig", entity.Signature)

	assert.Equal(t, []uuid.UUID{entity.ID}, submitter.submitted)
}

func TestReceive_MediumPriorityNotSubmitted(t *testing.T) {
	store := &fakeStore{}
	submitter := &fakeSubmitter{}
	svc := newService(store, submitter)

	body := `{"type": "customer.subscription.created", "data": {"object": {"id": "sub_1"}}}`
	ack, err := svc.Receive(context.Background(), webhook.GatewayStripe, "sig", []byte(body))

	require.NoError(t, err)
	assert.Equal(t, webhook.PriorityMedium, ack.Priority)
	assert.Len(t, store.created, 1)
	assert.Empty(t, submitter.submitted)
}

func TestReceive_UnknownEventStillStored(t *testing.T) {
	store := &fakeStore{}
	submitter := &fakeSubmitter{}
	svc := newService(store, submitter)

	ack, err := svc.Receive(context.Background(), webhook.GatewayStripe, "sig", []byte(`{"type": "brand.new.event"}`))

	require.NoError(t, err)
	assert.Equal(t, webhook.EventUnknown, ack.EventType)
	assert.Equal(t, webhook.PriorityLow, ack.Priority)
	assert.Len(t, store.created, 1)
	assert.Empty(t, submitter.submitted)
}

func TestReceive_MalformedRejectedSynchronously(t *testing.T) {
	store := &fakeStore{}
	svc := newService(store, &fakeSubmitter{})

	_, err := svc.Receive(context.Background(), webhook.GatewayRazorpay, "sig", []byte(`not json`))

	assert.Error(t, err)
	assert.Empty(t, store.created)
}

func TestReceive_UnknownGatewayRejected(t *testing.T) {
	store := &fakeStore{}
	svc := newService(store, &fakeSubmitter{})

	_, err := svc.Receive(context.Background(), webhook.Gateway("paypal"), "sig", []byte(`{}`))

	assert.Error(t, err)
	assert.Empty(t, store.created)
}
