package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unclebandit/smsleopard-broadcast/internal/db"
	"github.com/unclebandit/smsleopard-broadcast/internal/model"
)

type DeliveryRecordRepositoryInterface interface {
	// CreatePending inserts pending rows, ignoring recipients that already have a row for the campaign.
	CreatePending(ctx context.Context, recs []model.DeliveryRecord) error
	ListByCampaign(ctx context.Context, campaignID string) ([]model.DeliveryRecord, error)
	// MarkOutcome moves a pending row to a terminal status. It reports false if the row was not pending.
	MarkOutcome(ctx context.Context, campaignID, recipient, status, lastError string, at time.Time) (bool, error)
	FailPending(ctx context.Context, campaignID, reason string, at time.Time) (int64, error)
	ListByTenant(ctx context.Context, tenantID string) ([]model.DeliveryRecord, error)
}

// DeliveryRecordRepository stores broadcast_recipients rows.
type DeliveryRecordRepository struct {
	DB      *sql.DB
	Dialect db.Dialect
}

const recordColumns = `id, campaign_id, campaign_name, tenant_id, recipient, message_text, image_url,
	status, last_error, scheduled_at, created_at, updated_at`

func (r *DeliveryRecordRepository) CreatePending(ctx context.Context, recs []model.DeliveryRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.Dialect.Rebind(`
		INSERT INTO broadcast_recipients
		(campaign_id, campaign_name, tenant_id, recipient, message_text, image_url, status, last_error, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', '', $7, $8)
		ON CONFLICT (campaign_id, recipient) DO NOTHING
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range recs {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			rec.CampaignID,
			rec.CampaignName,
			rec.TenantID,
			rec.Recipient,
			rec.MessageText,
			rec.ImageURL,
			nullTime(rec.ScheduledAt),
			createdAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert recipient %s: %w", rec.Recipient, err)
		}
	}
	return tx.Commit()
}

func (r *DeliveryRecordRepository) ListByCampaign(ctx context.Context, campaignID string) ([]model.DeliveryRecord, error) {
	query := r.Dialect.Rebind(`SELECT ` + recordColumns + ` FROM broadcast_recipients WHERE campaign_id=$1 ORDER BY id`)
	return r.list(ctx, query, campaignID)
}

func (r *DeliveryRecordRepository) MarkOutcome(ctx context.Context, campaignID, recipient, status, lastError string, at time.Time) (bool, error) {
	query := r.Dialect.Rebind(`
		UPDATE broadcast_recipients
		SET status=$1, last_error=$2, updated_at=$3
		WHERE campaign_id=$4 AND recipient=$5 AND status='pending'
	`)
	res, err := r.DB.ExecContext(ctx, query, status, lastError, at.UTC(), campaignID, recipient)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *DeliveryRecordRepository) FailPending(ctx context.Context, campaignID, reason string, at time.Time) (int64, error) {
	query := r.Dialect.Rebind(`
		UPDATE broadcast_recipients
		SET status='failed', last_error=$1, updated_at=$2
		WHERE campaign_id=$3 AND status='pending'
	`)
	res, err := r.DB.ExecContext(ctx, query, reason, at.UTC(), campaignID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListByTenant returns every recipient row of the tenant, newest first.
func (r *DeliveryRecordRepository) ListByTenant(ctx context.Context, tenantID string) ([]model.DeliveryRecord, error) {
	query := r.Dialect.Rebind(`SELECT ` + recordColumns + ` FROM broadcast_recipients WHERE tenant_id=$1 ORDER BY created_at DESC, id DESC`)
	return r.list(ctx, query, tenantID)
}

func (r *DeliveryRecordRepository) list(ctx context.Context, query string, args ...any) ([]model.DeliveryRecord, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []model.DeliveryRecord{}
	for rows.Next() {
		var (
			rec       model.DeliveryRecord
			scheduled sql.NullTime
			updated   sql.NullTime
		)
		if err := rows.Scan(
			&rec.ID, &rec.CampaignID, &rec.CampaignName, &rec.TenantID, &rec.Recipient,
			&rec.MessageText, &rec.ImageURL, &rec.Status, &rec.LastError,
			&scheduled, &rec.CreatedAt, &updated,
		); err != nil {
			return nil, err
		}
		rec.ScheduledAt = timePtr(scheduled)
		rec.UpdatedAt = timePtr(updated)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

var _ DeliveryRecordRepositoryInterface = (*DeliveryRecordRepository)(nil)
