// internal/model/deferred_job.go
package model

import "time"

const (
	JobScheduled = "scheduled"
	JobClaimed   = "claimed"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// DeferredJob is a send-later campaign waiting in broadcast_queue.
// Recipients stay unexpanded until the poller claims the job.
type DeferredJob struct {
	ID             int64       `db:"id" json:"id"`
	TenantID       string      `db:"tenant_id" json:"tenant_id"`
	CampaignID     string      `db:"campaign_id" json:"campaign_id"`
	CampaignName   string      `db:"campaign_name" json:"campaign_name"`
	MessageType    MessageKind `db:"message_type" json:"message_type"`
	MessageContent string      `db:"message_content" json:"message_content"`
	ImageURL       string      `db:"image_url" json:"image_url,omitempty"`
	Recipients     []string    `db:"recipients" json:"recipients"`
	Batch          BatchConfig `db:"-" json:"batch"`
	ScheduledAt    time.Time   `db:"scheduled_at" json:"scheduled_at"`
	Status         string      `db:"status" json:"status"`
	ClaimedAt      *time.Time  `db:"claimed_at" json:"claimed_at,omitempty"`
	StuckChecks    int         `db:"stuck_checks" json:"stuck_checks"`
	LastError      string      `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
}
