package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/unclebandit/smsleopard-broadcast/internal/db"
	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
	"github.com/unclebandit/smsleopard-broadcast/internal/model"
)

type TenantRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Tenant, error)
}

type TenantRepository struct {
	DB      *sql.DB
	Dialect db.Dialect
}

// GetByID resolves a tenant's sender identity. Unknown tenants are a NotFoundError.
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*model.Tenant, error) {
	query := r.Dialect.Rebind(`SELECT id, business_name, phone_number FROM tenants WHERE id=$1`)
	var t model.Tenant
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.BusinessName, &t.PhoneNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewTenantNotFound(id)
		}
		return nil, err
	}
	return &t, nil
}

var _ TenantRepositoryInterface = (*TenantRepository)(nil)
