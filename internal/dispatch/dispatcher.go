package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"webhook-service/internal/config"
	"webhook-service/internal/db"
	"webhook-service/internal/gateway"
	"webhook-service/internal/handler"
	"webhook-service/internal/logcontext"
	"webhook-service/internal/retry"
	"webhook-service/internal/verify"
	"webhook-service/internal/webhook"
)

const (
	defaultParallelism       = 100
	defaultFetchSize         = 50
	defaultPollingIntervalMs = 2_000
	defaultMaxWindowMs       = 30_000
	defaultAttemptTimeoutMs  = 30_000
	defaultStaleAfterMs      = 300_000
)

var (
	// batch metrics
	batchErrorFetchingCounter = metrics.GetOrCreateCounter(`webhook_dispatcher_total{result="fetching_failed"}`)
	batchSuccessCounter       = metrics.GetOrCreateCounter(`webhook_dispatcher_total{result="success"}`)
	batchDurationHistogram    = metrics.GetOrCreateHistogram(`webhook_dispatcher_duration_milliseconds`)
	staleRequeuedCounter      = metrics.GetOrCreateCounter(`webhook_dispatcher_stale_requeued_total`)

	// per webhook metrics
	processedCounter          = metrics.GetOrCreateCounter(`webhook_processing_total{result="processed"}`)
	ignoredCounter            = metrics.GetOrCreateCounter(`webhook_processing_total{result="ignored"}`)
	retriedCounter            = metrics.GetOrCreateCounter(`webhook_processing_total{result="rescheduled"}`)
	failedCounter             = metrics.GetOrCreateCounter(`webhook_processing_total{result="failed"}`)
	verificationFailedCounter = metrics.GetOrCreateCounter(`webhook_processing_total{result="verification_failed"}`)
	claimLostCounter          = metrics.GetOrCreateCounter(`webhook_processing_total{result="claim_lost"}`)

	processingDurationHistogram = metrics.GetOrCreateHistogram(`webhook_processing_duration_milliseconds`)
)

// Store is the slice of the webhook repository the dispatcher drives.
type Store interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	ClaimForProcessing(ctx context.Context, id uuid.UUID) (*db.WebhookEventEntity, bool, error)
	FetchDueIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
	SetVerificationStatus(ctx context.Context, id uuid.UUID, status webhook.VerificationStatus) error
	MarkProcessed(ctx context.Context, id uuid.UUID, result string) error
	MarkIgnored(ctx context.Context, id uuid.UUID, detail string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errDetail string) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, at time.Time, errDetail string) error
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Dispatcher decides when stored webhooks are processed: HIGH priority ones
// immediately on ingestion, the rest via the periodic batch puller. Both
// paths share one bounded worker pool; the store's conditional claim is the
// only serialization point.
type Dispatcher struct {
	store      Store
	verifier   verify.Verifier
	normalizer *gateway.Registry
	handlers   *handler.Registry
	policy     *retry.Policy
	logger     *slog.Logger

	sem    chan struct{}
	wg     sync.WaitGroup
	runCtx context.Context
	cancel context.CancelFunc

	fetchSize       int
	pollingInterval time.Duration
	maxWindow       time.Duration
	attemptTimeout  time.Duration
	staleAfter      time.Duration
}

func NewDispatcher(
	store Store,
	verifier verify.Verifier,
	normalizer *gateway.Registry,
	handlers *handler.Registry,
	policy *retry.Policy,
	cfg config.Dispatcher,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:           store,
		verifier:        verifier,
		normalizer:      normalizer,
		handlers:        handlers,
		policy:          policy,
		logger:          logger,
		sem:             make(chan struct{}, intOrDefault(cfg.Parallelism, defaultParallelism)),
		fetchSize:       intOrDefault(cfg.FetchSize, defaultFetchSize),
		pollingInterval: msOrDefault(cfg.PollingIntervalMs, defaultPollingIntervalMs),
		maxWindow:       msOrDefault(cfg.MaxWindowMs, defaultMaxWindowMs),
		attemptTimeout:  msOrDefault(cfg.AttemptTimeoutMs, defaultAttemptTimeoutMs),
		staleAfter:      msOrDefault(cfg.StaleAfterMs, defaultStaleAfterMs),
	}
}

func intOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func msOrDefault(v, def int) time.Duration {
	return time.Duration(intOrDefault(v, def)) * time.Millisecond
}

// Start requeues work abandoned by a crashed process, then runs the batch
// puller until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.runCtx, d.cancel = context.WithCancel(ctx)

	d.requeueStale(d.runCtx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(d.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.runBatch(d.runCtx)
			case <-d.runCtx.Done():
				d.logger.InfoContext(d.runCtx, "Context done, stopping dispatcher")
				return
			}
		}
	}()
}

// Stop drains in-flight processing tasks.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Submit schedules one webhook for immediate processing, fire-and-forget
// from the caller's perspective.
func (d *Dispatcher) Submit(id uuid.UUID) {
	ctx := d.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-d.sem }()

		d.process(ctx, id)
	}()
}

func (d *Dispatcher) requeueStale(ctx context.Context) {
	n, err := d.store.RequeueStale(ctx, d.staleAfter)
	if err != nil {
		d.logger.ErrorContext(ctx, "Error requeueing stale webhooks", "error", err)
		return
	}
	if n > 0 {
		d.logger.WarnContext(ctx, "Requeued stale webhooks", "count", n)
		staleRequeuedCounter.Add(int(n))
	}
}

// runBatch pulls due webhooks until the backlog is drained or the wall-clock
// window closes, so a pathological backlog cannot starve the next tick.
func (d *Dispatcher) runBatch(ctx context.Context) {
	startTime := time.Now()
	deadline := startTime.Add(d.maxWindow)

	// runId correlates all logs of one puller invocation
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	d.requeueStale(ctx)

	for {
		ids, err := d.store.FetchDueIDs(ctx, d.fetchSize)
		if err != nil {
			d.logger.ErrorContext(ctx, "Error fetching due webhooks", "error", err)
			batchErrorFetchingCounter.Inc()
			return
		}
		if len(ids) == 0 {
			break
		}

		d.logger.InfoContext(ctx, "Dispatching due webhooks", "count", len(ids))

		var batch sync.WaitGroup
		for _, id := range ids {
			select {
			case d.sem <- struct{}{}:
			case <-ctx.Done():
				batch.Wait()
				return
			}

			batch.Add(1)
			go func(id uuid.UUID) {
				defer batch.Done()
				defer func() { <-d.sem }()
				d.process(ctx, id)
			}(id)
		}
		batch.Wait()

		if len(ids) < d.fetchSize || time.Now().After(deadline) {
			break
		}
	}

	batchSuccessCounter.Inc()
	batchDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
}

// process runs one bounded processing attempt: claim, verify, normalize,
// handle, transition. Every failure is classified here and converted into a
// store transition; nothing escapes to the puller loop.
func (d *Dispatcher) process(ctx context.Context, id uuid.UUID) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	ctx = logcontext.AppendCtx(ctx, slog.String("webhookId", id.String()))

	// transitions must land even when the attempt deadline has passed
	statusCtx := context.WithoutCancel(ctx)

	entity, claimed, err := d.store.ClaimForProcessing(ctx, id)
	if err != nil {
		d.logger.ErrorContext(ctx, "Error claiming webhook", "error", err)
		return
	}
	if !claimed {
		// another worker won the conditional update
		claimLostCounter.Inc()
		return
	}

	valid, err := d.verifier.Verify(ctx, entity.Gateway, []byte(entity.RawPayload), entity.Signature)
	if err != nil {
		d.logger.ErrorContext(ctx, "Verification capability unavailable", "error", err)
		d.retryOrFail(statusCtx, entity, errors.Wrap(err, "verification unavailable").Error())
		return
	}
	if !valid {
		// a forged signature cannot become valid on retry
		d.logger.WarnContext(ctx, "Signature verification failed", "gateway", entity.Gateway)
		d.transition(statusCtx, entity.ID, func() error {
			if err := d.store.SetVerificationStatus(statusCtx, entity.ID, webhook.VerificationFailed); err != nil {
				return err
			}
			return d.store.MarkFailed(statusCtx, entity.ID, "signature verification failed")
		})
		verificationFailedCounter.Inc()
		return
	}
	if err := d.store.SetVerificationStatus(statusCtx, entity.ID, webhook.VerificationVerified); err != nil {
		d.logger.ErrorContext(ctx, "Error updating verification status", "error", err)
	}

	if entity.EventType == webhook.EventUnknown {
		// kept for audit and schema-drift monitoring, success for the pipeline
		d.logger.WarnContext(ctx, "Unrecognized event type, ignoring", "gateway", entity.Gateway)
		d.transition(statusCtx, entity.ID, func() error {
			return d.store.MarkIgnored(statusCtx, entity.ID, "unrecognized event type")
		})
		ignoredCounter.Inc()
		return
	}

	payload, err := d.normalizer.Parse([]byte(entity.RawPayload))
	if err != nil {
		d.markFailed(statusCtx, entity.ID, errors.Wrap(err, "parsing payload").Error())
		return
	}

	data, err := d.normalizer.Extract(entity.Gateway, payload, entity.EventType)
	if err != nil {
		// extraction errors are data errors, retrying cannot fix them
		d.markFailed(statusCtx, entity.ID, errors.Wrap(err, "extracting event data").Error())
		return
	}
	data.WebhookID = entity.ID

	fn, ok := d.handlers.Lookup(entity.Gateway, entity.EventType)
	if !ok {
		d.logger.WarnContext(ctx, "No handler registered, ignoring",
			"gateway", entity.Gateway, "eventType", entity.EventType)
		d.transition(statusCtx, entity.ID, func() error {
			return d.store.MarkIgnored(statusCtx, entity.ID, "no handler registered")
		})
		ignoredCounter.Inc()
		return
	}

	d.runHandler(ctx, statusCtx, entity, fn, data)

	processingDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
}

func (d *Dispatcher) runHandler(ctx, statusCtx context.Context, entity *db.WebhookEventEntity, fn handler.Func, data webhook.EventData) {
	tx, err := d.store.BeginTx(ctx)
	if err != nil {
		d.retryOrFail(statusCtx, entity, errors.Wrap(err, "starting transaction").Error())
		return
	}

	outcome := fn(ctx, tx, entity.Gateway, data)

	switch outcome.Kind {
	case webhook.OutcomeSuccess:
		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(statusCtx)
			d.retryOrFail(statusCtx, entity, errors.Wrap(err, "committing transaction").Error())
			return
		}
		result, _ := json.Marshal(map[string]string{
			"status": "success",
			"detail": outcome.Detail,
		})
		d.transition(statusCtx, entity.ID, func() error {
			return d.store.MarkProcessed(statusCtx, entity.ID, string(result))
		})
		processedCounter.Inc()
		d.logger.InfoContext(ctx, "Webhook processed", "detail", outcome.Detail)

	case webhook.OutcomeRetry:
		_ = tx.Rollback(statusCtx)
		d.retryOrFail(statusCtx, entity, outcome.ErrorDetail())

	case webhook.OutcomeFail:
		_ = tx.Rollback(statusCtx)
		d.markFailed(statusCtx, entity.ID, outcome.ErrorDetail())
	}
}

// retryOrFail reschedules a transient failure or, with the budget exhausted,
// fails terminally.
func (d *Dispatcher) retryOrFail(ctx context.Context, entity *db.WebhookEventEntity, detail string) {
	if d.policy.Exhausted(entity.ProcessingAttempts) {
		d.logger.WarnContext(ctx, "Retries exhausted, failing webhook",
			"attempts", entity.ProcessingAttempts, "detail", detail)
		d.markFailed(ctx, entity.ID, detail)
		return
	}

	at := time.Now().Add(d.policy.Backoff(entity.ProcessingAttempts))
	d.logger.InfoContext(ctx, "Rescheduling webhook",
		"attempts", entity.ProcessingAttempts, "nextRetryAt", at, "detail", detail)
	d.transition(ctx, entity.ID, func() error {
		return d.store.ScheduleRetry(ctx, entity.ID, at, detail)
	})
	retriedCounter.Inc()
}

func (d *Dispatcher) markFailed(ctx context.Context, id uuid.UUID, detail string) {
	d.transition(ctx, id, func() error {
		return d.store.MarkFailed(ctx, id, detail)
	})
	failedCounter.Inc()
}

func (d *Dispatcher) transition(ctx context.Context, id uuid.UUID, fn func() error) {
	if err := fn(); err != nil {
		// the row stays PROCESSING; the stale requeue will recover it
		d.logger.ErrorContext(ctx, "Error transitioning webhook status", "id", id, "error", err)
	}
}
