// internal/model/delivery_record.go
package model

import "time"

const (
	RecipientPending   = "pending"
	RecipientSent      = "sent"
	RecipientDelivered = "delivered"
	RecipientFailed    = "failed"
)

// DeliveryRecord is the outcome row for one recipient of one campaign.
type DeliveryRecord struct {
	ID           int64      `db:"id" json:"id"`
	CampaignID   string     `db:"campaign_id" json:"campaign_id"`
	CampaignName string     `db:"campaign_name" json:"campaign_name"`
	TenantID     string     `db:"tenant_id" json:"tenant_id"`
	Recipient    string     `db:"recipient" json:"recipient"`
	MessageText  string     `db:"message_text" json:"message_text"`
	ImageURL     string     `db:"image_url" json:"image_url,omitempty"`
	Status       string     `db:"status" json:"status"` // pending, sent, delivered, failed
	LastError    string     `db:"last_error" json:"last_error,omitempty"`
	ScheduledAt  *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

func IsTerminalRecipientStatus(status string) bool {
	switch status {
	case RecipientSent, RecipientDelivered, RecipientFailed:
		return true
	}
	return false
}
