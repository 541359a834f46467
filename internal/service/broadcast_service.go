// internal/service/broadcast_service.go
package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unclebandit/smsleopard-broadcast/internal/dispatcher"
	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
	"github.com/unclebandit/smsleopard-broadcast/internal/model"
	"github.com/unclebandit/smsleopard-broadcast/internal/queue"
	"github.com/unclebandit/smsleopard-broadcast/internal/repository"
)

// Dispatcher runs one campaign pass.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) (*dispatcher.Report, error)
}

// BroadcastService accepts campaigns and routes them to the queue or the deferred store.
type BroadcastService struct {
	Tenants    repository.TenantRepositoryInterface
	Jobs       repository.DeferredJobRepositoryInterface
	Records    repository.DeliveryRecordRepositoryInterface
	Queue      queue.Queue
	Dispatcher Dispatcher
	Normalizer NormalizerOptions
	Defaults   model.BatchConfig
	Log        zerolog.Logger

	Now   func() time.Time
	NewID func() string
}

func (s *BroadcastService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *BroadcastService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// Send validates a campaign and either queues it for dispatch or stores it as a deferred job.
// Only validation and not-found errors are expected by callers; everything after the ack
// happens in the background.
func (s *BroadcastService) Send(ctx context.Context, req model.BroadcastRequest) (*model.Ack, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	batch, err := req.ResolveBatch(s.Defaults)
	if err != nil {
		return nil, appErrors.NewValidation("batch", err.Error())
	}

	var scheduledAt time.Time
	if req.ScheduleType == model.ScheduleLater {
		t, err := ParseScheduleTime(req.ScheduleTime)
		if err != nil {
			return nil, err
		}
		scheduledAt = t
	}

	tenant, err := s.Tenants.GetByID(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(tenant.PhoneNumber) == "" {
		return nil, appErrors.NewValidation("tenantId", "tenant has no sender phone number")
	}

	norm := Normalize(req.Recipients, s.Normalizer)
	if len(norm.Recipients) == 0 {
		return nil, appErrors.NewValidation("recipients", "No valid recipients after normalization")
	}

	campaignID := s.newID()
	log := s.Log.With().
		Str("campaign_id", campaignID).
		Str("tenant_id", req.TenantID).
		Str("campaign", req.CampaignName).
		Logger()

	if req.ScheduleType == model.ScheduleLater {
		job := &model.DeferredJob{
			TenantID:       req.TenantID,
			CampaignID:     campaignID,
			CampaignName:   req.CampaignName,
			MessageType:    req.MessageType,
			MessageContent: req.Message,
			ImageURL:       req.ImageRef,
			Recipients:     norm.Recipients,
			Batch:          batch,
			ScheduledAt:    scheduledAt,
			Status:         model.JobScheduled,
			CreatedAt:      s.now(),
		}
		if err := s.Jobs.Insert(ctx, job); err != nil {
			return nil, appErrors.NewPersistence("schedule broadcast", err)
		}
		log.Info().
			Int64("job_id", job.ID).
			Time("scheduled_at", scheduledAt).
			Int("recipients", len(norm.Recipients)).
			Int("rejected", norm.Rejected).
			Msg("broadcast scheduled")
		return &model.Ack{
			CampaignID:    campaignID,
			CampaignName:  req.CampaignName,
			Status:        model.AckScheduled,
			Total:         len(norm.Recipients),
			Rejected:      norm.Rejected,
			JobID:         job.ID,
			ScheduledTime: &scheduledAt,
		}, nil
	}

	task := queue.Task{
		CampaignID:   campaignID,
		TenantID:     req.TenantID,
		CampaignName: req.CampaignName,
		Sender:       tenant.PhoneNumber,
		Message:      req.Message,
		ImageRef:     req.ImageRef,
		Kind:         req.MessageType,
		Recipients:   norm.Recipients,
		Batch:        batch,
		EnqueuedAt:   s.now(),
	}
	if err := s.Queue.Publish(ctx, task); err != nil {
		return nil, err
	}
	log.Info().
		Int("recipients", len(norm.Recipients)).
		Int("rejected", norm.Rejected).
		Msg("broadcast queued")
	return &model.Ack{
		CampaignID:   campaignID,
		CampaignName: req.CampaignName,
		Status:       model.AckQueued,
		Total:        len(norm.Recipients),
		Rejected:     norm.Rejected,
	}, nil
}

func validateRequest(req *model.BroadcastRequest) error {
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.CampaignName = strings.TrimSpace(req.CampaignName)

	var missing []string
	if req.TenantID == "" {
		missing = append(missing, "tenantId")
	}
	if req.CampaignName == "" {
		missing = append(missing, "campaignName")
	}
	if strings.TrimSpace(req.Message) == "" {
		missing = append(missing, "message")
	}
	if len(req.Recipients) == 0 {
		missing = append(missing, "recipients")
	}
	if len(missing) > 0 {
		return appErrors.NewValidation("", "Missing required fields: "+strings.Join(missing, ", "))
	}

	if req.MessageType == "" {
		req.MessageType = model.MessageKindText
	}
	if !req.MessageType.Valid() {
		return appErrors.NewValidation("messageType", "must be text or image")
	}
	if req.MessageType == model.MessageKindImage && strings.TrimSpace(req.ImageRef) == "" {
		return appErrors.NewValidation("imageBase64", "required for image messages")
	}

	switch req.ScheduleType {
	case "":
		req.ScheduleType = model.ScheduleNow
	case model.ScheduleNow, model.ScheduleLater:
	default:
		return appErrors.NewValidation("scheduleType", "must be now or later")
	}
	return nil
}

// HandleTask is the worker-side handler for queued campaigns.
func (s *BroadcastService) HandleTask(ctx context.Context, t queue.Task) error {
	report, err := s.Dispatcher.Dispatch(ctx, dispatcher.Request{
		CampaignID:   t.CampaignID,
		TenantID:     t.TenantID,
		CampaignName: t.CampaignName,
		Sender:       t.Sender,
		Message:      t.Message,
		ImageRef:     t.ImageRef,
		Kind:         t.Kind,
		Recipients:   t.Recipients,
		Batch:        t.Batch.WithDefaults(s.Defaults),
		ScheduledAt:  t.ScheduledAt,
	})
	if err != nil {
		if t.JobID > 0 && appErrors.IsValidation(err) {
			// the job can never succeed
			if _, mErr := s.Jobs.MarkFailed(ctx, t.JobID, err.Error(), s.now()); mErr != nil {
				s.Log.Error().Err(mErr).Int64("job_id", t.JobID).Msg("failed to mark job failed")
			}
		}
		return err
	}

	if t.JobID > 0 {
		ok, err := s.Jobs.MarkCompleted(ctx, t.JobID, s.now())
		if err != nil {
			s.Log.Error().Err(appErrors.NewPersistence("complete job", err)).Int64("job_id", t.JobID).Msg("job not marked completed")
		} else if !ok {
			s.Log.Warn().Int64("job_id", t.JobID).Msg("job was no longer claimed")
		}
	}
	s.Log.Debug().
		Str("campaign_id", t.CampaignID).
		Int("sent", report.Sent).
		Int("failed", report.Failed).
		Msg("task handled")
	return nil
}

// ReportFailure records a worker failure against the campaign so no row stays pending.
func (s *BroadcastService) ReportFailure(ctx context.Context, t queue.Task, cause error) {
	reason := "dispatch aborted"
	if cause != nil {
		reason = cause.Error()
	}
	now := s.now()

	// A task that never reached the dispatcher has no rows yet.
	recs := make([]model.DeliveryRecord, 0, len(t.Recipients))
	for _, recipient := range t.Recipients {
		recs = append(recs, model.DeliveryRecord{
			CampaignID:   t.CampaignID,
			CampaignName: t.CampaignName,
			TenantID:     t.TenantID,
			Recipient:    recipient,
			MessageText:  t.Message,
			ImageURL:     t.ImageRef,
			ScheduledAt:  t.ScheduledAt,
			CreatedAt:    now,
		})
	}
	if err := s.Records.CreatePending(ctx, recs); err != nil {
		s.Log.Error().Err(err).Str("campaign_id", t.CampaignID).Msg("failed to create rows for failed task")
	}

	n, err := s.Records.FailPending(ctx, t.CampaignID, reason, now)
	if err != nil {
		s.Log.Error().Err(err).Str("campaign_id", t.CampaignID).Msg("failed to report worker failure")
	} else if n > 0 {
		s.Log.Warn().Str("campaign_id", t.CampaignID).Int64("rows", n).Msg("pending recipients marked failed")
	}
	if t.JobID > 0 {
		// tasks are never retried, so the job is finished
		ok, err := s.Jobs.MarkFailed(ctx, t.JobID, reason, now)
		if err != nil || !ok {
			if err := s.Jobs.RecordError(ctx, t.JobID, reason, now); err != nil {
				s.Log.Error().Err(err).Int64("job_id", t.JobID).Msg("failed to note job error")
			}
		}
	}
}

// CancelScheduled removes a deferred job that the poller has not claimed yet.
func (s *BroadcastService) CancelScheduled(ctx context.Context, tenantID string, jobID int64) error {
	if strings.TrimSpace(tenantID) == "" {
		return appErrors.NewValidation("tenantId", "required")
	}
	ok, err := s.Jobs.DeleteScheduled(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.NewNotFound("scheduled broadcast", strconv.FormatInt(jobID, 10))
	}
	s.Log.Info().Int64("job_id", jobID).Str("tenant_id", tenantID).Msg("scheduled broadcast cancelled")
	return nil
}

// IsQueueFull reports whether a Send failed because the dispatch buffer had no room
// or is shutting down.
func IsQueueFull(err error) bool {
	return errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrPoolStopped)
}
