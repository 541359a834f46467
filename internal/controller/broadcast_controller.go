// internal/controller/broadcast_controller.go
package controller

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
	"github.com/unclebandit/smsleopard-broadcast/internal/model"
)

type Broadcaster interface {
	Send(ctx context.Context, req model.BroadcastRequest) (*model.Ack, error)
	CancelScheduled(ctx context.Context, tenantID string, jobID int64) error
}

type HistoryReader interface {
	History(ctx context.Context, tenantID string) ([]model.CampaignSummary, error)
}

type BroadcastController struct {
	Broadcasts Broadcaster
	History    HistoryReader
	Log        zerolog.Logger
}

func (c *BroadcastController) Send(w http.ResponseWriter, r *http.Request) {
	var req model.BroadcastRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, c.Log, err)
		return
	}

	c.Log.Info().
		Str("tenant_id", req.TenantID).
		Str("campaign", req.CampaignName).
		Int("recipients", len(req.Recipients)).
		Str("schedule_type", string(req.ScheduleType)).
		Msg("broadcast request")

	ack, err := c.Broadcasts.Send(r.Context(), req)
	if err != nil {
		respondError(w, c.Log, err)
		return
	}

	msg := fmt.Sprintf("Broadcast queued! Processing %d recipients in background.", ack.Total)
	if ack.Status == model.AckScheduled && ack.ScheduledTime != nil {
		msg = "Broadcast scheduled for " + ack.ScheduledTime.Format(time.RFC3339)
	}
	respondOK(w, Envelope{"message": msg, "details": ack})
}

func (c *BroadcastController) GetHistory(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	broadcasts, err := c.History.History(r.Context(), tenantID)
	if err != nil {
		respondError(w, c.Log, err)
		return
	}
	respondOK(w, Envelope{"broadcasts": broadcasts})
}

func (c *BroadcastController) CancelScheduled(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobId"), 10, 64)
	if err != nil {
		respondError(w, c.Log, appErrors.NewValidation("jobId", "must be a number"))
		return
	}
	if err := c.Broadcasts.CancelScheduled(r.Context(), r.URL.Query().Get("tenantId"), jobID); err != nil {
		respondError(w, c.Log, err)
		return
	}
	respondOK(w, Envelope{"message": "Scheduled broadcast cancelled"})
}
