// internal/model/tenant.go
package model

type Tenant struct {
	ID           string `db:"id" json:"id"`
	BusinessName string `db:"business_name" json:"business_name"`
	PhoneNumber  string `db:"phone_number" json:"phone_number"`
}
