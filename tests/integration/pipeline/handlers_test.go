package pipeline

import (
	"context"
	"log"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"webhook-service/internal/db"
	"webhook-service/internal/handler"
	"webhook-service/internal/trigger"
	"webhook-service/internal/webhook"
	"webhook-service/tests/testhelpers"
)

type recordingEmitter struct {
	mu       sync.Mutex
	triggers []trigger.Trigger
}

func (e *recordingEmitter) Emit(ctx context.Context, t trigger.Trigger) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggers = append(e.triggers, t)
	return nil
}

func (e *recordingEmitter) ofType(triggerType string) []trigger.Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []trigger.Trigger
	for _, t := range e.triggers {
		if t.Type == triggerType {
			out = append(out, t)
		}
	}
	return out
}

type HandlersTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	emitter     *recordingEmitter
	sut         *handler.Handlers
	ctx         context.Context
}

func (s *HandlersTestSuite) SetupSuite() {
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
}

func (s *HandlersTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *HandlersTestSuite) SetupTest() {
	for _, table := range []string{"refund", "dispute", "invoice", "payment", "subscription"} {
		if _, err := s.pool.Exec(s.ctx, "DELETE FROM "+table); err != nil {
			log.Fatalf("error truncating %s table: %s", table, err)
		}
	}

	s.emitter = &recordingEmitter{}
	s.sut = handler.NewHandlers(
		db.NewPaymentRepository(s.pool),
		db.NewSubscriptionRepository(s.pool),
		s.emitter,
		slog.Default(),
	)
}

func (s *HandlersTestSuite) seedPayment(gatewayPaymentID string, amount float64) uuid.UUID {
	id := uuid.New()
	_, err := s.pool.Exec(s.ctx,
		`INSERT INTO payment (id, gateway, gateway_payment_id, status, amount, currency, created_at, updated_at)
		 VALUES ($1, $2, $3, 'created', $4, 'INR', now(), now())`,
		id, webhook.GatewayRazorpay, gatewayPaymentID, amount)
	if err != nil {
		log.Fatalf("error seeding payment: %s", err)
	}
	return id
}

// run executes one handler attempt in its own transaction, committing on
// success and rolling back otherwise, exactly like the dispatcher does.
func (s *HandlersTestSuite) run(fn handler.Func, data webhook.EventData) webhook.Outcome {
	tx, err := s.pool.Begin(s.ctx)
	assert.NoError(s.T(), err)

	outcome := fn(s.ctx, tx, webhook.GatewayRazorpay, data)
	if outcome.Kind == webhook.OutcomeSuccess {
		assert.NoError(s.T(), tx.Commit(s.ctx))
	} else {
		assert.NoError(s.T(), tx.Rollback(s.ctx))
	}
	return outcome
}

func (s *HandlersTestSuite) paymentByKey(gatewayPaymentID string) *db.PaymentEntity {
	tx, err := s.pool.Begin(s.ctx)
	assert.NoError(s.T(), err)
	defer tx.Rollback(s.ctx)

	payment, err := db.NewPaymentRepository(s.pool).SelectForUpdateByKey(s.ctx, tx, webhook.GatewayRazorpay, gatewayPaymentID)
	assert.NoError(s.T(), err)
	return payment
}

func (s *HandlersTestSuite) TestPaymentCaptureIsIdempotent() {
	t := s.T()

	s.seedPayment("pay_100", 500)
	data := webhook.EventData{
		WebhookID:        uuid.New(),
		GatewayPaymentID: "pay_100",
		Amount:           500,
		Currency:         "INR",
	}

	outcome := s.run(s.sut.PaymentSuccess, data)
	assert.Equal(t, webhook.OutcomeSuccess, outcome.Kind)

	// redelivery of the same notification
	outcome = s.run(s.sut.PaymentSuccess, data)
	assert.Equal(t, webhook.OutcomeSuccess, outcome.Kind)

	payment := s.paymentByKey("pay_100")
	assert.Equal(t, "success", payment.Status)
	assert.Equal(t, 500.0, *payment.CapturedAmount)

	assert.Len(t, s.emitter.ofType(trigger.TypePaymentCaptured), 1)
}

func (s *HandlersTestSuite) TestPaymentForUnknownKeyIsRetryable() {
	t := s.T()

	outcome := s.run(s.sut.PaymentSuccess, webhook.EventData{GatewayPaymentID: "pay_missing", Amount: 10})
	assert.Equal(t, webhook.OutcomeRetry, outcome.Kind)
	assert.Empty(t, s.emitter.triggers)
}

func (s *HandlersTestSuite) TestRefundsAccumulateWithoutDoubleCounting() {
	t := s.T()

	s.seedPayment("pay_200", 100)
	capture := webhook.EventData{GatewayPaymentID: "pay_200", Amount: 100, Currency: "INR"}
	assert.Equal(t, webhook.OutcomeSuccess, s.run(s.sut.PaymentSuccess, capture).Kind)

	first := webhook.EventData{GatewayPaymentID: "pay_200", GatewayRefundID: "rfnd_1", Amount: 40}
	second := webhook.EventData{GatewayPaymentID: "pay_200", GatewayRefundID: "rfnd_2", Amount: 70}

	assert.Equal(t, webhook.OutcomeSuccess, s.run(s.sut.PaymentRefunded, first).Kind)

	payment := s.paymentByKey("pay_200")
	assert.Equal(t, "partial_refunded", payment.Status)
	assert.Equal(t, 40.0, payment.RefundedAmount)

	// redelivered first refund hits the unique key, nothing accumulates
	assert.Equal(t, webhook.OutcomeSuccess, s.run(s.sut.PaymentRefunded, first).Kind)
	payment = s.paymentByKey("pay_200")
	assert.Equal(t, 40.0, payment.RefundedAmount)

	assert.Equal(t, webhook.OutcomeSuccess, s.run(s.sut.PaymentRefunded, second).Kind)
	payment = s.paymentByKey("pay_200")
	assert.Equal(t, "refunded", payment.Status)
	assert.Equal(t, 110.0, payment.RefundedAmount)
}

func (s *HandlersTestSuite) TestLateFailureAfterCaptureIsIgnored() {
	t := s.T()

	s.seedPayment("pay_300", 250)
	capture := webhook.EventData{GatewayPaymentID: "pay_300", Amount: 250, Currency: "INR"}
	assert.Equal(t, webhook.OutcomeSuccess, s.run(s.sut.PaymentSuccess, capture).Kind)

	outcome := s.run(s.sut.PaymentFailed, webhook.EventData{GatewayPaymentID: "pay_300"})
	assert.Equal(t, webhook.OutcomeSuccess, outcome.Kind)

	assert.Equal(t, "success", s.paymentByKey("pay_300").Status)
}

func (s *HandlersTestSuite) TestDisputeRecordedExactlyOnce() {
	t := s.T()

	s.seedPayment("pay_400", 1000)
	data := webhook.EventData{
		GatewayPaymentID: "pay_400",
		GatewayDisputeID: "disp_1",
		Amount:           1000,
		Reason:           "fraudulent",
	}

	assert.Equal(t, webhook.OutcomeSuccess, s.run(s.sut.DisputeCreated, data).Kind)
	assert.Equal(t, webhook.OutcomeSuccess, s.run(s.sut.DisputeCreated, data).Kind)

	var count int
	err := s.pool.QueryRow(s.ctx, "SELECT count(*) FROM dispute WHERE gateway_dispute_id = 'disp_1'").Scan(&count)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Len(t, s.emitter.ofType(trigger.TypeDisputeCreated), 1)
}

func (s *HandlersTestSuite) TestSubscriptionLifecycleOutOfOrder() {
	t := s.T()

	// cancellation before the creating event has arrived must retry
	cancel := webhook.EventData{GatewaySubscriptionID: "sub_1", Reason: "customer request"}
	outcome := s.run(s.sut.SubscriptionCancelled, cancel)
	assert.Equal(t, webhook.OutcomeRetry, outcome.Kind)

	plan := "gold"
	created := webhook.EventData{GatewaySubscriptionID: "sub_1", Status: "active", Plan: plan}
	assert.Equal(t, webhook.OutcomeSuccess, s.run(s.sut.SubscriptionCreated, created).Kind)

	assert.Equal(t, webhook.OutcomeSuccess, s.run(s.sut.SubscriptionCancelled, cancel).Kind)

	var status string
	var cancelledAt *time.Time
	err := s.pool.QueryRow(s.ctx,
		"SELECT status, cancelled_at FROM subscription WHERE gateway_subscription_id = 'sub_1'").
		Scan(&status, &cancelledAt)
	assert.NoError(t, err)
	assert.Equal(t, "cancelled", status)
	assert.NotNil(t, cancelledAt)

	assert.Len(t, s.emitter.ofType(trigger.TypeSubscriptionCancelled), 1)
}

func (s *HandlersTestSuite) TestInvoiceLinksSubscriptionWhenPresent() {
	t := s.T()

	created := webhook.EventData{GatewaySubscriptionID: "sub_2", Status: "active"}
	assert.Equal(t, webhook.OutcomeSuccess, s.run(s.sut.SubscriptionCreated, created).Kind)

	invoice := webhook.EventData{
		GatewayInvoiceID:      "inv_1",
		GatewaySubscriptionID: "sub_2",
		Amount:                29.99,
	}
	assert.Equal(t, webhook.OutcomeSuccess, s.run(s.sut.InvoicePaid, invoice).Kind)

	var subscriptionID *uuid.UUID
	var status string
	err := s.pool.QueryRow(s.ctx,
		"SELECT subscription_id, status FROM invoice WHERE gateway_invoice_id = 'inv_1'").
		Scan(&subscriptionID, &status)
	assert.NoError(t, err)
	assert.NotNil(t, subscriptionID)
	assert.Equal(t, "paid", status)
}

func TestHandlersTestSuite(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}
