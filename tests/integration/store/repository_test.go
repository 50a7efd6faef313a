package store

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"webhook-service/internal/db"
	"webhook-service/internal/webhook"
	"webhook-service/tests/testhelpers"
)

type WebhookRepositoryTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	sut         *db.WebhookRepository
	ctx         context.Context
}

func (s *WebhookRepositoryTestSuite) SetupSuite() {
	time.Local = time.UTC

	s.ctx = context.Background()
	pgContainer, err := testhelpers.CreatePostgresContainer(s.ctx)
	if err != nil {
		log.Fatal(err)
	}
	s.pgContainer = pgContainer

	db.RunMigrations(pgContainer.ConnectionString, "../../../migrations")

	pool, err := db.GetPool(pgContainer.ConnectionString)
	if err != nil {
		log.Fatal(err)
	}

	s.pool = pool
	s.sut = db.NewWebhookRepository(pool)
}

func (s *WebhookRepositoryTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *WebhookRepositoryTestSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, "DELETE FROM webhook_event")
	if err != nil {
		log.Fatalf("error truncating webhook_event table: %s", err)
	}
}

func (s *WebhookRepositoryTestSuite) newEvent(eventType webhook.EventType) *db.WebhookEventEntity {
	return &db.WebhookEventEntity{
		ID:         uuid.New(),
		Gateway:    webhook.GatewayRazorpay,
		EventType:  eventType,
		RawPayload: `{"event": "payment.captured"}`,
		Signature:  "sig",
		Priority:   webhook.PriorityFor(eventType),
	}
}

func (s *WebhookRepositoryTestSuite) TestCreate() {
	t := s.T()

	entity := s.newEvent(webhook.EventPaymentSuccess)

	created, err := s.sut.Create(s.ctx, entity)
	assert.NoError(t, err)
	assert.NotNil(t, created)
	assert.False(t, created.ReceivedAt.IsZero())

	stored, err := s.sut.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, webhook.StatusPending, stored.ProcessingStatus)
	assert.Equal(t, webhook.VerificationUnverified, stored.VerificationStatus)
	assert.Equal(t, 0, stored.ProcessingAttempts)
}

func (s *WebhookRepositoryTestSuite) TestClaimForProcessing() {
	t := s.T()

	entity := s.newEvent(webhook.EventPaymentSuccess)
	_, err := s.sut.Create(s.ctx, entity)
	assert.NoError(t, err)

	claimed, ok, err := s.sut.ClaimForProcessing(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, webhook.StatusProcessing, claimed.ProcessingStatus)
	assert.Equal(t, 1, claimed.ProcessingAttempts)

	// a second claim loses: the record is already PROCESSING
	_, ok, err = s.sut.ClaimForProcessing(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func (s *WebhookRepositoryTestSuite) TestClaimRaceHasSingleWinner() {
	t := s.T()

	entity := s.newEvent(webhook.EventPaymentSuccess)
	_, err := s.sut.Create(s.ctx, entity)
	assert.NoError(t, err)

	type result struct {
		ok  bool
		err error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, ok, err := s.sut.ClaimForProcessing(s.ctx, entity.ID)
			results <- result{ok: ok, err: err}
		}()
	}

	winners := 0
	for i := 0; i < 2; i++ {
		r := <-results
		assert.NoError(t, r.err)
		if r.ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	stored, err := s.sut.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, stored.ProcessingAttempts)
}

func (s *WebhookRepositoryTestSuite) TestFetchDueIDsPriorityOrder() {
	t := s.T()

	low := s.newEvent(webhook.EventInvoiceFailed)
	medium := s.newEvent(webhook.EventSubscriptionCreated)
	high := s.newEvent(webhook.EventPaymentSuccess)

	// insert lowest-priority first so ordering cannot come from insertion order
	for _, e := range []*db.WebhookEventEntity{low, medium, high} {
		_, err := s.sut.Create(s.ctx, e)
		assert.NoError(t, err)
	}

	ids, err := s.sut.FetchDueIDs(s.ctx, 10)
	assert.NoError(t, err)
	assert.Equal(t, []uuid.UUID{high.ID, medium.ID, low.ID}, ids)

	ids, err = s.sut.FetchDueIDs(s.ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, []uuid.UUID{high.ID}, ids)
}

func (s *WebhookRepositoryTestSuite) TestFetchDueIDsSkipsFutureRetries() {
	t := s.T()

	entity := s.newEvent(webhook.EventPaymentSuccess)
	_, err := s.sut.Create(s.ctx, entity)
	assert.NoError(t, err)

	_, ok, err := s.sut.ClaimForProcessing(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.True(t, ok)

	err = s.sut.ScheduleRetry(s.ctx, entity.ID, time.Now().Add(time.Hour), "transient")
	assert.NoError(t, err)

	ids, err := s.sut.FetchDueIDs(s.ctx, 10)
	assert.NoError(t, err)
	assert.Empty(t, ids)
}

func (s *WebhookRepositoryTestSuite) TestScheduleRetryThenReclaim() {
	t := s.T()

	entity := s.newEvent(webhook.EventPaymentSuccess)
	_, err := s.sut.Create(s.ctx, entity)
	assert.NoError(t, err)

	_, ok, err := s.sut.ClaimForProcessing(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.True(t, ok)

	err = s.sut.ScheduleRetry(s.ctx, entity.ID, time.Now().Add(-time.Second), "transient")
	assert.NoError(t, err)

	ids, err := s.sut.FetchDueIDs(s.ctx, 10)
	assert.NoError(t, err)
	assert.Equal(t, []uuid.UUID{entity.ID}, ids)

	claimed, ok, err := s.sut.ClaimForProcessing(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, claimed.ProcessingAttempts)
	assert.Nil(t, claimed.NextRetryAt)
}

func (s *WebhookRepositoryTestSuite) TestMarkProcessedRequiresProcessing() {
	t := s.T()

	entity := s.newEvent(webhook.EventPaymentSuccess)
	_, err := s.sut.Create(s.ctx, entity)
	assert.NoError(t, err)

	// PENDING record cannot jump straight to PROCESSED
	err = s.sut.MarkProcessed(s.ctx, entity.ID, `{"status": "success"}`)
	assert.Error(t, err)

	_, ok, err := s.sut.ClaimForProcessing(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.True(t, ok)

	err = s.sut.MarkProcessed(s.ctx, entity.ID, `{"status": "success"}`)
	assert.NoError(t, err)

	stored, err := s.sut.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessed, stored.ProcessingStatus)
	assert.NotNil(t, stored.ProcessedAt)
	assert.NotNil(t, stored.ProcessingResult)

	// terminal records never get claimed again
	_, ok, err = s.sut.ClaimForProcessing(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func (s *WebhookRepositoryTestSuite) TestMarkFailedKeepsErrorDetail() {
	t := s.T()

	entity := s.newEvent(webhook.EventPaymentSuccess)
	_, err := s.sut.Create(s.ctx, entity)
	assert.NoError(t, err)

	_, ok, err := s.sut.ClaimForProcessing(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.True(t, ok)

	err = s.sut.MarkFailed(s.ctx, entity.ID, "signature verification failed")
	assert.NoError(t, err)

	stored, err := s.sut.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, webhook.StatusFailed, stored.ProcessingStatus)
	assert.Equal(t, "signature verification failed", *stored.ErrorDetail)
	assert.Nil(t, stored.NextRetryAt)
}

func (s *WebhookRepositoryTestSuite) TestSetVerificationStatus() {
	t := s.T()

	entity := s.newEvent(webhook.EventPaymentSuccess)
	_, err := s.sut.Create(s.ctx, entity)
	assert.NoError(t, err)

	err = s.sut.SetVerificationStatus(s.ctx, entity.ID, webhook.VerificationVerified)
	assert.NoError(t, err)

	stored, err := s.sut.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, webhook.VerificationVerified, stored.VerificationStatus)
}

func (s *WebhookRepositoryTestSuite) TestRequeueStale() {
	t := s.T()

	entity := s.newEvent(webhook.EventPaymentSuccess)
	_, err := s.sut.Create(s.ctx, entity)
	assert.NoError(t, err)

	_, ok, err := s.sut.ClaimForProcessing(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.True(t, ok)

	// backdate the claim to simulate a worker that died mid-flight
	_, err = s.pool.Exec(s.ctx,
		"UPDATE webhook_event SET updated_at = now() - interval '10 minutes' WHERE id = $1", entity.ID)
	assert.NoError(t, err)

	n, err := s.sut.RequeueStale(s.ctx, 5*time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err := s.sut.SelectByID(s.ctx, entity.ID)
	assert.NoError(t, err)
	assert.Equal(t, webhook.StatusRetry, stored.ProcessingStatus)
	assert.NotNil(t, stored.NextRetryAt)

	// a fresh claim is untouched
	n, err = s.sut.RequeueStale(s.ctx, 5*time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestWebhookRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(WebhookRepositoryTestSuite))
}
