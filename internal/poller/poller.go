// Package poller turns due deferred jobs into dispatch tasks.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/unclebandit/smsleopard-broadcast/internal/config"
	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
	"github.com/unclebandit/smsleopard-broadcast/internal/model"
	"github.com/unclebandit/smsleopard-broadcast/internal/queue"
	"github.com/unclebandit/smsleopard-broadcast/internal/repository"
)

const stuckReason = "claimed job never completed"

// Stats summarises one poll cycle.
type Stats struct {
	Due           int `json:"due"`
	Claimed       int `json:"claimed"`
	Conflicts     int `json:"conflicts"`
	Published     int `json:"published"`
	PublishFailed int `json:"publish_failed"`
	Stuck         int `json:"stuck"`
	StuckFailed   int `json:"stuck_failed"`
}

type Poller struct {
	Jobs     repository.DeferredJobRepositoryInterface
	Tenants  repository.TenantRepositoryInterface
	Records  repository.DeliveryRecordRepositoryInterface
	Queue    queue.Queue
	Defaults model.BatchConfig
	Cfg      config.PollerConfig
	Log      zerolog.Logger
	Now      func() time.Time

	mu sync.Mutex
	c  *cron.Cron
}

func New(cfg config.PollerConfig, jobs repository.DeferredJobRepositoryInterface, tenants repository.TenantRepositoryInterface,
	records repository.DeliveryRecordRepositoryInterface, q queue.Queue, defaults model.BatchConfig, log zerolog.Logger) *Poller {
	return &Poller{
		Jobs:     jobs,
		Tenants:  tenants,
		Records:  records,
		Queue:    q,
		Defaults: defaults,
		Cfg:      cfg,
		Log:      log.With().Str("component", "poller").Logger(),
		Now:      time.Now,
	}
}

// RunOnce claims every due job and hands it to the queue, then sweeps stuck claims.
// A job that loses the claim race is skipped silently.
func (p *Poller) RunOnce(ctx context.Context) (Stats, error) {
	var st Stats
	now := p.Now()

	limit := p.Cfg.BatchLimit
	if limit <= 0 {
		limit = 50
	}
	due, err := p.Jobs.ListDue(ctx, now, limit)
	if err != nil {
		return st, fmt.Errorf("failed to list due jobs: %w", err)
	}
	st.Due = len(due)

	for i := range due {
		job := &due[i]
		ok, err := p.Jobs.Claim(ctx, job.ID, now)
		if err != nil {
			p.Log.Error().Err(err).Int64("job_id", job.ID).Msg("claim failed")
			continue
		}
		if !ok {
			st.Conflicts++
			p.Log.Debug().Err(appErrors.ErrClaimConflict).Int64("job_id", job.ID).Msg("skipping job")
			continue
		}
		st.Claimed++

		if err := p.expand(ctx, job, now); err != nil {
			st.PublishFailed++
			continue
		}
		st.Published++
	}

	if err := p.sweepStuck(ctx, now, limit, &st); err != nil {
		return st, err
	}

	if st.Due > 0 || st.Stuck > 0 {
		p.Log.Info().
			Int("due", st.Due).
			Int("claimed", st.Claimed).
			Int("conflicts", st.Conflicts).
			Int("published", st.Published).
			Int("stuck", st.Stuck).
			Msg("poll cycle finished")
	}
	return st, nil
}

// expand publishes a claimed job. On failure the job stays claimed.
func (p *Poller) expand(ctx context.Context, job *model.DeferredJob, now time.Time) error {
	log := p.Log.With().Int64("job_id", job.ID).Str("campaign_id", job.CampaignID).Logger()

	tenant, err := p.Tenants.GetByID(ctx, job.TenantID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			if _, mErr := p.Jobs.MarkFailed(ctx, job.ID, err.Error(), now); mErr != nil {
				log.Error().Err(mErr).Msg("failed to mark job failed")
			}
		} else {
			p.noteError(ctx, job.ID, err, now)
		}
		log.Error().Err(err).Msg("tenant lookup failed")
		return err
	}

	kind := job.MessageType
	if kind == "" {
		kind = model.MessageKindText
	}
	scheduledAt := job.ScheduledAt
	task := queue.Task{
		CampaignID:   job.CampaignID,
		TenantID:     job.TenantID,
		CampaignName: job.CampaignName,
		Sender:       tenant.PhoneNumber,
		Message:      job.MessageContent,
		ImageRef:     job.ImageURL,
		Kind:         kind,
		Recipients:   job.Recipients,
		Batch:        job.Batch.WithDefaults(p.Defaults),
		ScheduledAt:  &scheduledAt,
		JobID:        job.ID,
		EnqueuedAt:   now,
	}
	if err := p.Queue.Publish(ctx, task); err != nil {
		p.noteError(ctx, job.ID, err, now)
		log.Error().Err(err).Msg("failed to publish claimed job")
		return err
	}
	log.Info().Int("recipients", len(job.Recipients)).Msg("deferred job expanded")
	return nil
}

func (p *Poller) noteError(ctx context.Context, id int64, cause error, now time.Time) {
	if err := p.Jobs.RecordError(ctx, id, cause.Error(), now); err != nil {
		p.Log.Error().Err(err).Int64("job_id", id).Msg("failed to note job error")
	}
}

// sweepStuck counts detections of long-claimed jobs and fails them once the limit is hit.
// Stuck jobs are never put back to scheduled.
func (p *Poller) sweepStuck(ctx context.Context, now time.Time, limit int, st *Stats) error {
	if p.Cfg.StuckClaimAfter <= 0 {
		return nil
	}
	stuck, err := p.Jobs.ListStuck(ctx, now.Add(-p.Cfg.StuckClaimAfter), limit)
	if err != nil {
		return fmt.Errorf("failed to list stuck jobs: %w", err)
	}
	maxDetections := p.Cfg.StuckMaxDetections
	if maxDetections <= 0 {
		maxDetections = 3
	}

	for _, job := range stuck {
		st.Stuck++
		n, err := p.Jobs.IncrementStuck(ctx, job.ID, now)
		if err != nil {
			p.Log.Error().Err(err).Int64("job_id", job.ID).Msg("failed to count stuck detection")
			continue
		}
		p.Log.Warn().Int64("job_id", job.ID).Int("detections", n).Msg("claimed job looks stuck")
		if n < maxDetections {
			continue
		}

		ok, err := p.Jobs.MarkFailed(ctx, job.ID, stuckReason, now)
		if err != nil || !ok {
			continue
		}
		st.StuckFailed++
		if p.Records != nil {
			if _, err := p.Records.FailPending(ctx, job.CampaignID, stuckReason, now); err != nil {
				p.Log.Error().Err(err).Str("campaign_id", job.CampaignID).Msg("failed to close pending rows")
			}
		}
		p.Log.Error().Int64("job_id", job.ID).Str("campaign_id", job.CampaignID).Msg("stuck job marked failed")
	}
	return nil
}

// Start runs RunOnce on the configured interval. Overlapping runs are skipped.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c != nil {
		return nil
	}
	interval := p.Cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cronLog := cron.PrintfLogger(&p.Log)
	c := cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))
	c.Schedule(cron.Every(interval), cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.RunOnce(ctx); err != nil {
			p.Log.Error().Err(err).Msg("poll cycle failed")
		}
	}))
	c.Start()
	p.c = c
	p.Log.Info().Dur("interval", interval).Msg("poller started")
	return nil
}

// Stop halts the schedule and waits for a running cycle until ctx expires.
func (p *Poller) Stop(ctx context.Context) {
	p.mu.Lock()
	c := p.c
	p.c = nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
		p.Log.Info().Msg("poller stopped")
	case <-ctx.Done():
		p.Log.Warn().Msg("poller stop timed out")
	}
}
