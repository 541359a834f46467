// Package dispatcher sends one campaign to its recipients in paced batches.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
	"github.com/unclebandit/smsleopard-broadcast/internal/model"
	"github.com/unclebandit/smsleopard-broadcast/internal/transport"
)

// Request is one dispatch pass over a normalized recipient list.
type Request struct {
	CampaignID   string
	TenantID     string
	CampaignName string
	Sender       string
	Message      string
	ImageRef     string
	Kind         model.MessageKind
	Recipients   []string
	Batch        model.BatchConfig
	ScheduledAt  *time.Time
}

func (r Request) validate() error {
	if len(r.Recipients) == 0 {
		return appErrors.NewValidation("recipients", "no recipients to dispatch")
	}
	if r.Sender == "" {
		return appErrors.NewValidation("sender", "tenant has no sender identity")
	}
	if r.CampaignID == "" {
		return appErrors.NewValidation("campaign_id", "required")
	}
	if !r.Kind.Valid() {
		return appErrors.NewValidation("messageType", fmt.Sprintf("unsupported kind %q", r.Kind))
	}
	if err := r.Batch.Validate(); err != nil {
		return appErrors.NewValidation("batch", err.Error())
	}
	return nil
}

type Outcome struct {
	Recipient string
	Status    string
	Reason    string
	Skipped   bool
}

// Report lists one outcome per recipient in attempt order.
type Report struct {
	Outcomes []Outcome
	Sent     int
	Failed   int
	Skipped  int
}

type Dispatcher struct {
	Messenger transport.Messenger
	Recorder  Recorder
	// Limiter is the account-wide ceiling shared by every campaign. Nil means unlimited.
	Limiter *rate.Limiter
	Log     zerolog.Logger

	wait func(ctx context.Context, d time.Duration) error
}

func New(m transport.Messenger, rec Recorder, limiter *rate.Limiter, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		Messenger: m,
		Recorder:  rec,
		Limiter:   limiter,
		Log:       log.With().Str("component", "dispatcher").Logger(),
	}
}

// NewLimiter returns a limiter allowing perSec sends per second, or nil when perSec is not positive.
func NewLimiter(perSec int) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}

// Dispatch sends req.Message to every recipient in order. Transport failures are recorded
// per recipient and never stop the pass. Cancelling ctx stops the pass at the next batch
// boundary; the partial report is returned with ctx.Err().
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Report, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	log := d.Log.With().Str("campaign_id", req.CampaignID).Str("tenant_id", req.TenantID).Logger()

	done, err := d.Recorder.Begin(ctx, req)
	if err != nil {
		return nil, err
	}

	// A started batch runs to completion even if ctx is cancelled.
	batchCtx := context.WithoutCancel(ctx)

	report := &Report{Outcomes: make([]Outcome, 0, len(req.Recipients))}
	start := time.Now()
	log.Info().
		Int("recipients", len(req.Recipients)).
		Int("already_done", len(done)).
		Int("batch_size", req.Batch.BatchSize).
		Msg("dispatch started")

	for b := 0; b*req.Batch.BatchSize < len(req.Recipients); b++ {
		if b > 0 {
			if err := d.sleep(ctx, req.Batch.BatchDelay); err != nil {
				log.Warn().Int("batch", b).Msg("dispatch interrupted between batches")
				return report, err
			}
		}

		lo := b * req.Batch.BatchSize
		hi := min(lo+req.Batch.BatchSize, len(req.Recipients))
		attempted := false
		for _, recipient := range req.Recipients[lo:hi] {
			if status, ok := done[recipient]; ok {
				report.Skipped++
				report.Outcomes = append(report.Outcomes, Outcome{Recipient: recipient, Status: status, Skipped: true})
				continue
			}
			if attempted {
				_ = d.sleep(batchCtx, req.Batch.MessageDelay)
			}
			attempted = true

			out := d.sendOne(batchCtx, req, recipient)
			d.Recorder.Record(batchCtx, req, out)
			if out.Status == model.RecipientSent {
				report.Sent++
			} else {
				report.Failed++
				log.Debug().Str("recipient", recipient).Str("reason", out.Reason).Msg("recipient failed")
			}
			report.Outcomes = append(report.Outcomes, out)
		}
	}

	log.Info().
		Int("sent", report.Sent).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Dur("elapsed", time.Since(start)).
		Msg("dispatch finished")
	return report, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, req Request, recipient string) Outcome {
	if d.Limiter != nil {
		if err := d.Limiter.Wait(ctx); err != nil {
			return Outcome{Recipient: recipient, Status: model.RecipientFailed, Reason: "rate limiter: " + err.Error()}
		}
	}

	var err error
	switch req.Kind {
	case model.MessageKindImage:
		err = d.Messenger.SendImage(ctx, req.Sender, recipient, req.Message, req.ImageRef)
	default:
		err = d.Messenger.SendText(ctx, req.Sender, recipient, req.Message)
	}
	if err != nil {
		return Outcome{Recipient: recipient, Status: model.RecipientFailed, Reason: failureReason(err)}
	}
	return Outcome{Recipient: recipient, Status: model.RecipientSent}
}

func failureReason(err error) string {
	var te *appErrors.TransportError
	if errors.As(err, &te) {
		return te.Reason
	}
	return err.Error()
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) error {
	if d.wait != nil {
		return d.wait(ctx, dur)
	}
	return Sleep(ctx, dur)
}

// Sleep waits for dur or until ctx is done.
func Sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
