package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/unclebandit/smsleopard-broadcast/internal/db"
	"github.com/unclebandit/smsleopard-broadcast/internal/model"
)

type DeferredJobRepositoryInterface interface {
	Insert(ctx context.Context, job *model.DeferredJob) error
	GetByID(ctx context.Context, id int64) (*model.DeferredJob, error)
	// ListDue returns scheduled jobs due at or before now, oldest due time first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.DeferredJob, error)
	// Claim moves a job from scheduled to claimed. Only one caller can win.
	Claim(ctx context.Context, id int64, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int64, reason string, at time.Time) (bool, error)
	RecordError(ctx context.Context, id int64, reason string, at time.Time) error
	ListStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]model.DeferredJob, error)
	IncrementStuck(ctx context.Context, id int64, at time.Time) (int, error)
	DeleteScheduled(ctx context.Context, tenantID string, id int64) (bool, error)
	ListScheduledByTenant(ctx context.Context, tenantID string) ([]model.DeferredJob, error)
}

// DeferredJobRepository stores broadcast_queue rows.
type DeferredJobRepository struct {
	DB      *sql.DB
	Dialect db.Dialect
}

const jobColumns = `id, tenant_id, campaign_id, campaign_name, message_type, message_content, image_url,
	recipients, batch_size, message_delay_ms, batch_delay_ms, scheduled_at, status, claimed_at,
	stuck_checks, last_error, created_at`

func (r *DeferredJobRepository) Insert(ctx context.Context, job *model.DeferredJob) error {
	recipients, err := json.Marshal(job.Recipients)
	if err != nil {
		return err
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.Status == "" {
		job.Status = model.JobScheduled
	}

	query := r.Dialect.Rebind(`
		INSERT INTO broadcast_queue
		(tenant_id, campaign_id, campaign_name, message_type, message_content, image_url, recipients,
		 batch_size, message_delay_ms, batch_delay_ms, scheduled_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`)
	return r.DB.QueryRowContext(ctx, query,
		job.TenantID,
		job.CampaignID,
		job.CampaignName,
		string(job.MessageType),
		job.MessageContent,
		job.ImageURL,
		string(recipients),
		job.Batch.BatchSize,
		job.Batch.MessageDelay.Milliseconds(),
		job.Batch.BatchDelay.Milliseconds(),
		job.ScheduledAt.UTC(),
		job.Status,
		job.CreatedAt.UTC(),
	).Scan(&job.ID)
}

func (r *DeferredJobRepository) GetByID(ctx context.Context, id int64) (*model.DeferredJob, error) {
	query := r.Dialect.Rebind(`SELECT ` + jobColumns + ` FROM broadcast_queue WHERE id=$1`)
	jobs, err := r.list(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

func (r *DeferredJobRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]model.DeferredJob, error) {
	query := r.Dialect.Rebind(`
		SELECT ` + jobColumns + `
		FROM broadcast_queue
		WHERE status='scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $2
	`)
	return r.list(ctx, query, now.UTC(), limit)
}

func (r *DeferredJobRepository) Claim(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := r.Dialect.Rebind(`
		UPDATE broadcast_queue
		SET status='claimed', claimed_at=$1, updated_at=$1
		WHERE id=$2 AND status='scheduled'
	`)
	return r.execOne(ctx, query, now.UTC(), id)
}

func (r *DeferredJobRepository) MarkCompleted(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := r.Dialect.Rebind(`
		UPDATE broadcast_queue SET status='completed', updated_at=$1
		WHERE id=$2 AND status='claimed'
	`)
	return r.execOne(ctx, query, at.UTC(), id)
}

func (r *DeferredJobRepository) MarkFailed(ctx context.Context, id int64, reason string, at time.Time) (bool, error) {
	query := r.Dialect.Rebind(`
		UPDATE broadcast_queue SET status='failed', last_error=$1, updated_at=$2
		WHERE id=$3 AND status='claimed'
	`)
	return r.execOne(ctx, query, reason, at.UTC(), id)
}

func (r *DeferredJobRepository) RecordError(ctx context.Context, id int64, reason string, at time.Time) error {
	query := r.Dialect.Rebind(`UPDATE broadcast_queue SET last_error=$1, updated_at=$2 WHERE id=$3`)
	_, err := r.DB.ExecContext(ctx, query, reason, at.UTC(), id)
	return err
}

func (r *DeferredJobRepository) ListStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]model.DeferredJob, error) {
	query := r.Dialect.Rebind(`
		SELECT ` + jobColumns + `
		FROM broadcast_queue
		WHERE status='claimed' AND claimed_at <= $1
		ORDER BY claimed_at ASC
		LIMIT $2
	`)
	return r.list(ctx, query, claimedBefore.UTC(), limit)
}

func (r *DeferredJobRepository) IncrementStuck(ctx context.Context, id int64, at time.Time) (int, error) {
	query := r.Dialect.Rebind(`
		UPDATE broadcast_queue SET stuck_checks = stuck_checks + 1, updated_at=$1
		WHERE id=$2 AND status='claimed'
		RETURNING stuck_checks
	`)
	var n int
	err := r.DB.QueryRowContext(ctx, query, at.UTC(), id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// DeleteScheduled cancels a job that has not been claimed yet.
func (r *DeferredJobRepository) DeleteScheduled(ctx context.Context, tenantID string, id int64) (bool, error) {
	query := r.Dialect.Rebind(`DELETE FROM broadcast_queue WHERE id=$1 AND tenant_id=$2 AND status='scheduled'`)
	return r.execOne(ctx, query, id, tenantID)
}

func (r *DeferredJobRepository) ListScheduledByTenant(ctx context.Context, tenantID string) ([]model.DeferredJob, error) {
	query := r.Dialect.Rebind(`
		SELECT ` + jobColumns + `
		FROM broadcast_queue
		WHERE tenant_id=$1 AND status='scheduled'
		ORDER BY created_at DESC
	`)
	return r.list(ctx, query, tenantID)
}

func (r *DeferredJobRepository) execOne(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *DeferredJobRepository) list(ctx context.Context, query string, args ...any) ([]model.DeferredJob, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []model.DeferredJob{}
	for rows.Next() {
		var (
			j            model.DeferredJob
			kind         string
			recipients   []byte
			messageDelay int64
			batchDelay   int64
			claimed      sql.NullTime
		)
		if err := rows.Scan(
			&j.ID, &j.TenantID, &j.CampaignID, &j.CampaignName, &kind, &j.MessageContent, &j.ImageURL,
			&recipients, &j.Batch.BatchSize, &messageDelay, &batchDelay, &j.ScheduledAt, &j.Status, &claimed,
			&j.StuckChecks, &j.LastError, &j.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(recipients, &j.Recipients); err != nil {
			return nil, fmt.Errorf("decode recipients of job %d: %w", j.ID, err)
		}
		j.MessageType = model.MessageKind(kind)
		j.Batch.MessageDelay = time.Duration(messageDelay) * time.Millisecond
		j.Batch.BatchDelay = time.Duration(batchDelay) * time.Millisecond
		j.ClaimedAt = timePtr(claimed)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

var _ DeferredJobRepositoryInterface = (*DeferredJobRepository)(nil)
