package dispatcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
	"github.com/unclebandit/smsleopard-broadcast/internal/model"
	"github.com/unclebandit/smsleopard-broadcast/internal/repository"
)

// Recorder persists per-recipient outcomes of a dispatch pass.
type Recorder interface {
	// Begin prepares pending rows and returns recipients that already reached a terminal status.
	Begin(ctx context.Context, req Request) (map[string]string, error)
	// Record writes one outcome. Failures are absorbed; a send is never repeated because of them.
	Record(ctx context.Context, req Request, out Outcome)
}

// RepositoryRecorder writes outcomes to broadcast_recipients.
type RepositoryRecorder struct {
	Repo repository.DeliveryRecordRepositoryInterface
	Log  zerolog.Logger
	Now  func() time.Time
}

func NewRecorder(repo repository.DeliveryRecordRepositoryInterface, log zerolog.Logger) *RepositoryRecorder {
	return &RepositoryRecorder{
		Repo: repo,
		Log:  log.With().Str("component", "recorder").Logger(),
		Now:  time.Now,
	}
}

func (r *RepositoryRecorder) Begin(ctx context.Context, req Request) (map[string]string, error) {
	now := r.Now()
	recs := make([]model.DeliveryRecord, 0, len(req.Recipients))
	for _, recipient := range req.Recipients {
		recs = append(recs, model.DeliveryRecord{
			CampaignID:   req.CampaignID,
			CampaignName: req.CampaignName,
			TenantID:     req.TenantID,
			Recipient:    recipient,
			MessageText:  req.Message,
			ImageURL:     req.ImageRef,
			ScheduledAt:  req.ScheduledAt,
			CreatedAt:    now,
		})
	}
	if err := r.Repo.CreatePending(ctx, recs); err != nil {
		r.Log.Error().Err(err).Str("campaign_id", req.CampaignID).Msg("failed to create pending rows")
	}

	existing, err := r.Repo.ListByCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, appErrors.NewPersistence("list campaign rows", err)
	}
	done := make(map[string]string)
	for _, rec := range existing {
		if model.IsTerminalRecipientStatus(rec.Status) {
			done[rec.Recipient] = rec.Status
		}
	}
	return done, nil
}

func (r *RepositoryRecorder) Record(ctx context.Context, req Request, out Outcome) {
	ok, err := r.Repo.MarkOutcome(ctx, req.CampaignID, out.Recipient, out.Status, out.Reason, r.Now())
	if err != nil {
		r.Log.Error().
			Err(appErrors.NewPersistence("mark outcome", err)).
			Str("campaign_id", req.CampaignID).
			Str("recipient", out.Recipient).
			Str("status", out.Status).
			Msg("delivery outcome not recorded")
		return
	}
	if !ok {
		r.Log.Warn().
			Str("campaign_id", req.CampaignID).
			Str("recipient", out.Recipient).
			Msg("no pending row for outcome")
	}
}

var _ Recorder = (*RepositoryRecorder)(nil)
