package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"webhook-service/internal/webhook"
)

const webhookColumns = `id, gateway, event_type, raw_payload, signature, priority,
	processing_status, verification_status, processing_attempts, next_retry_at,
	error_detail, processing_result, received_at, processed_at, updated_at`

// WebhookRepository is the durable webhook store. All status transitions go
// through status-guarded updates so racing workers cannot both win.
type WebhookRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookRepository(pool *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{pool: pool}
}

func (r *WebhookRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *WebhookRepository) Create(ctx context.Context, entity *WebhookEventEntity) (*WebhookEventEntity, error) {
	query := `INSERT INTO webhook_event
		(id, gateway, event_type, raw_payload, signature, priority,
		 processing_status, verification_status, processing_attempts, received_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, now(), now())
		RETURNING id, received_at`
	err := r.pool.QueryRow(ctx, query,
		entity.ID, entity.Gateway, entity.EventType, entity.RawPayload, entity.Signature,
		entity.Priority, webhook.StatusPending, webhook.VerificationUnverified,
	).Scan(&entity.ID, &entity.ReceivedAt)
	if err != nil {
		return nil, errors.Wrap(err, "inserting webhook event")
	}
	return entity, nil
}

func (r *WebhookRepository) SelectByID(ctx context.Context, id uuid.UUID) (*WebhookEventEntity, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_event WHERE id = $1`
	entity, err := scanWebhook(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, errors.Wrap(err, "selecting webhook event")
	}
	return entity, nil
}

// ClaimForProcessing transitions PENDING/RETRY to PROCESSING and increments
// the attempt counter. Returns claimed=false when another worker already
// holds the record or it is terminal.
func (r *WebhookRepository) ClaimForProcessing(ctx context.Context, id uuid.UUID) (*WebhookEventEntity, bool, error) {
	query := `UPDATE webhook_event
		SET processing_status = $2,
		    processing_attempts = processing_attempts + 1,
		    next_retry_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND (processing_status = $3 OR processing_status = $4)
		RETURNING ` + webhookColumns
	entity, err := scanWebhook(r.pool.QueryRow(ctx, query, id,
		webhook.StatusProcessing, webhook.StatusPending, webhook.StatusRetry))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "claiming webhook event")
	}
	return entity, true, nil
}

// FetchDueIDs returns ids eligible for processing, oldest and most urgent
// first. The store itself is the retry queue: a restart loses nothing.
func (r *WebhookRepository) FetchDueIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM webhook_event
		WHERE processing_status = $1
		   OR (processing_status = $2 AND next_retry_at <= now())
		ORDER BY priority DESC, received_at ASC
		LIMIT $3`
	rows, err := r.pool.Query(ctx, query, webhook.StatusPending, webhook.StatusRetry, limit)
	if err != nil {
		return nil, errors.Wrap(err, "fetching due webhook events")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning due webhook id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *WebhookRepository) SetVerificationStatus(ctx context.Context, id uuid.UUID, status webhook.VerificationStatus) error {
	query := `UPDATE webhook_event SET verification_status = $2, updated_at = now() WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, status)
	return errors.Wrap(err, "updating verification status")
}

func (r *WebhookRepository) MarkProcessed(ctx context.Context, id uuid.UUID, result string) error {
	return r.finish(ctx, id, webhook.StatusProcessed, &result, nil)
}

func (r *WebhookRepository) MarkIgnored(ctx context.Context, id uuid.UUID, detail string) error {
	return r.finish(ctx, id, webhook.StatusIgnored, nil, &detail)
}

func (r *WebhookRepository) MarkFailed(ctx context.Context, id uuid.UUID, errDetail string) error {
	return r.finish(ctx, id, webhook.StatusFailed, nil, &errDetail)
}

func (r *WebhookRepository) finish(ctx context.Context, id uuid.UUID, status webhook.ProcessingStatus, result, detail *string) error {
	query := `UPDATE webhook_event
		SET processing_status = $2,
		    processing_result = $3,
		    error_detail = $4,
		    next_retry_at = NULL,
		    processed_at = now(),
		    updated_at = now()
		WHERE id = $1 AND processing_status = $5`
	tag, err := r.pool.Exec(ctx, query, id, status, result, detail, webhook.StatusProcessing)
	if err != nil {
		return errors.Wrapf(err, "marking webhook event %s", status)
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("webhook event %s is not in %s", id, webhook.StatusProcessing)
	}
	return nil
}

func (r *WebhookRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, at time.Time, errDetail string) error {
	query := `UPDATE webhook_event
		SET processing_status = $2,
		    next_retry_at = $3,
		    error_detail = $4,
		    updated_at = now()
		WHERE id = $1 AND processing_status = $5`
	tag, err := r.pool.Exec(ctx, query, id, webhook.StatusRetry, at, errDetail, webhook.StatusProcessing)
	if err != nil {
		return errors.Wrap(err, "scheduling retry")
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("webhook event %s is not in %s", id, webhook.StatusProcessing)
	}
	return nil
}

// RequeueStale moves PROCESSING records untouched for longer than olderThan
// back to RETRY. Covers workers that died mid-flight.
func (r *WebhookRepository) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `UPDATE webhook_event
		SET processing_status = $1,
		    next_retry_at = now(),
		    updated_at = now()
		WHERE processing_status = $2 AND updated_at < now() - ($3 * interval '1 second')`
	tag, err := r.pool.Exec(ctx, query, webhook.StatusRetry, webhook.StatusProcessing, olderThan.Seconds())
	if err != nil {
		return 0, errors.Wrap(err, "requeueing stale webhook events")
	}
	return tag.RowsAffected(), nil
}

func scanWebhook(row pgx.Row) (*WebhookEventEntity, error) {
	var e WebhookEventEntity
	err := row.Scan(
		&e.ID, &e.Gateway, &e.EventType, &e.RawPayload, &e.Signature, &e.Priority,
		&e.ProcessingStatus, &e.VerificationStatus, &e.ProcessingAttempts, &e.NextRetryAt,
		&e.ErrorDetail, &e.ProcessingResult, &e.ReceivedAt, &e.ProcessedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
