// internal/service/history_service.go
package service

import (
	"context"
	"slices"
	"time"

	"github.com/unclebandit/smsleopard-broadcast/internal/model"
	"github.com/unclebandit/smsleopard-broadcast/internal/repository"
)

// HistoryLimit caps the number of campaigns returned per tenant.
const HistoryLimit = 20

type HistoryService struct {
	Records repository.DeliveryRecordRepositoryInterface
	Jobs    repository.DeferredJobRepositoryInterface
}

// History summarises a tenant's campaigns, newest first. Deferred jobs that have not been
// claimed yet are listed with status scheduled.
func (s *HistoryService) History(ctx context.Context, tenantID string) ([]model.CampaignSummary, error) {
	rows, err := s.Records.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	summaries := Aggregate(rows, 0)

	if s.Jobs != nil {
		jobs, err := s.Jobs.ListScheduledByTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			scheduledAt := j.ScheduledAt
			summaries = append(summaries, model.CampaignSummary{
				CampaignID:     j.CampaignID,
				CampaignName:   j.CampaignName,
				MessageContent: j.MessageContent,
				ImageURL:       j.ImageURL,
				ScheduledAt:    &scheduledAt,
				CreatedAt:      j.CreatedAt,
				RecipientCount: len(j.Recipients),
				Status:         model.CampaignScheduled,
			})
		}
	}

	sortNewestFirst(summaries)
	if len(summaries) > HistoryLimit {
		summaries = summaries[:HistoryLimit]
	}
	return summaries, nil
}

// Aggregate groups recipient rows into campaign summaries, newest first.
// Rows are grouped by campaign ID, or by name and creation time when the ID is empty.
// A limit of zero or less returns every campaign.
func Aggregate(rows []model.DeliveryRecord, limit int) []model.CampaignSummary {
	index := make(map[string]int)
	out := []model.CampaignSummary{}

	for _, r := range rows {
		key := groupKey(r)
		i, ok := index[key]
		if !ok {
			out = append(out, model.CampaignSummary{
				CampaignID:     r.CampaignID,
				CampaignName:   r.CampaignName,
				MessageContent: r.MessageText,
				ImageURL:       r.ImageURL,
				ScheduledAt:    r.ScheduledAt,
				CreatedAt:      r.CreatedAt,
			})
			i = len(out) - 1
			index[key] = i
		}

		c := &out[i]
		c.RecipientCount++
		switch r.Status {
		case model.RecipientSent, model.RecipientDelivered:
			c.SuccessCount++
		case model.RecipientFailed:
			c.FailCount++
		}
		if model.IsTerminalRecipientStatus(r.Status) && r.UpdatedAt != nil {
			if c.SentAt == nil || r.UpdatedAt.After(*c.SentAt) {
				t := *r.UpdatedAt
				c.SentAt = &t
			}
		}
	}

	for i := range out {
		out[i].Status = compositeStatus(out[i])
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func groupKey(r model.DeliveryRecord) string {
	if r.CampaignID != "" {
		return r.CampaignID
	}
	return r.CampaignName + "_" + r.CreatedAt.UTC().Format(time.RFC3339Nano)
}

func compositeStatus(c model.CampaignSummary) string {
	switch {
	case c.SuccessCount+c.FailCount >= c.RecipientCount:
		return model.CampaignCompleted
	case c.SuccessCount > 0 || c.FailCount > 0:
		return model.CampaignProcessing
	default:
		return model.CampaignPending
	}
}

func sortNewestFirst(s []model.CampaignSummary) {
	slices.SortStableFunc(s, func(a, b model.CampaignSummary) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}
