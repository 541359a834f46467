// internal/model/campaign.go
package model

import (
	"fmt"
	"time"
)

type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
)

func (k MessageKind) Valid() bool {
	return k == MessageKindText || k == MessageKindImage
}

type ScheduleType string

const (
	ScheduleNow   ScheduleType = "now"
	ScheduleLater ScheduleType = "later"
)

// BatchConfig controls how a campaign's recipients are paced through the transport.
type BatchConfig struct {
	BatchSize    int           `json:"batch_size" yaml:"batch_size"`
	MessageDelay time.Duration `json:"message_delay" yaml:"message_delay"`
	BatchDelay   time.Duration `json:"batch_delay" yaml:"batch_delay"`
}

// DefaultBatchConfig mirrors the pacing the dashboard has always used.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:    10,
		MessageDelay: 500 * time.Millisecond,
		BatchDelay:   2000 * time.Millisecond,
	}
}

// MaxDelay bounds a single pacing delay.
const MaxDelay = time.Hour

// WithDefaults returns def for a config that was never resolved (no batch size).
// A resolved config keeps its delays as they are, zero included.
func (b BatchConfig) WithDefaults(def BatchConfig) BatchConfig {
	if b.BatchSize <= 0 {
		return def
	}
	return b
}

func (b BatchConfig) Validate() error {
	if b.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", b.BatchSize)
	}
	if b.MessageDelay < 0 || b.BatchDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if b.MessageDelay > MaxDelay || b.BatchDelay > MaxDelay {
		return fmt.Errorf("delays must not exceed %s", MaxDelay)
	}
	return nil
}

// BroadcastRequest is the intake shape of a campaign.
// Delay overrides are expressed in milliseconds on the wire.
type BroadcastRequest struct {
	TenantID       string       `json:"tenantId"`
	CampaignName   string       `json:"campaignName"`
	Message        string       `json:"message"`
	ImageRef       string       `json:"imageBase64,omitempty"`
	MessageType    MessageKind  `json:"messageType"`
	Recipients     []string     `json:"recipients"`
	ScheduleType   ScheduleType `json:"scheduleType"`
	ScheduleTime   string       `json:"scheduleTime,omitempty"`
	BatchSize      *int         `json:"batchSize,omitempty"`
	MessageDelayMs *int         `json:"messageDelay,omitempty"`
	BatchDelayMs   *int         `json:"batchDelay,omitempty"`
}

// ResolveBatch applies the wire overrides on top of def. Only fields the caller
// sent are applied, so an explicit 0 delay stays 0.
func (r BroadcastRequest) ResolveBatch(def BatchConfig) (BatchConfig, error) {
	b := def
	if r.BatchSize != nil {
		b.BatchSize = *r.BatchSize
	}
	if r.MessageDelayMs != nil {
		d, err := millis("messageDelay", *r.MessageDelayMs)
		if err != nil {
			return BatchConfig{}, err
		}
		b.MessageDelay = d
	}
	if r.BatchDelayMs != nil {
		d, err := millis("batchDelay", *r.BatchDelayMs)
		if err != nil {
			return BatchConfig{}, err
		}
		b.BatchDelay = d
	}
	return b, b.Validate()
}

func millis(field string, ms int) (time.Duration, error) {
	if ms < 0 || int64(ms) > MaxDelay.Milliseconds() {
		return 0, fmt.Errorf("%s must be between 0 and %d ms, got %d", field, MaxDelay.Milliseconds(), ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

const (
	AckQueued    = "queued"
	AckScheduled = "scheduled"
)

// Ack is returned to the caller once a campaign has been accepted.
type Ack struct {
	CampaignID    string     `json:"campaign_id"`
	CampaignName  string     `json:"campaign_name"`
	Status        string     `json:"status"`
	Total         int        `json:"total"`
	Rejected      int        `json:"rejected"`
	JobID         int64      `json:"job_id,omitempty"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
}

// Composite campaign statuses as seen through the history view.
const (
	CampaignPending    = "pending"
	CampaignScheduled  = "scheduled"
	CampaignProcessing = "processing"
	CampaignCompleted  = "completed"
)

// CampaignSummary is one row of the broadcast history.
type CampaignSummary struct {
	CampaignID     string     `json:"campaign_id,omitempty"`
	CampaignName   string     `json:"campaign_name"`
	MessageContent string     `json:"message_content"`
	ImageURL       string     `json:"image_url,omitempty"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	RecipientCount int        `json:"recipient_count"`
	SuccessCount   int        `json:"success_count"`
	FailCount      int        `json:"fail_count"`
	Status         string     `json:"status"`
}
