// internal/model/contact_group.go
package model

import "time"

type ContactGroup struct {
	ID           int64     `db:"id" json:"id"`
	TenantID     string    `db:"tenant_id" json:"tenant_id"`
	GroupName    string    `db:"group_name" json:"group_name"`
	Contacts     []string  `db:"contacts" json:"contacts"`
	ContactCount int       `db:"contact_count" json:"contact_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
