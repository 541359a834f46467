package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/unclebandit/smsleopard-broadcast/internal/db"
	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
	"github.com/unclebandit/smsleopard-broadcast/internal/model"
)

type ContactGroupRepositoryInterface interface {
	Create(ctx context.Context, g *model.ContactGroup) error
	ListByTenant(ctx context.Context, tenantID string) ([]model.ContactGroup, error)
	Delete(ctx context.Context, id int64) error
}

type ContactGroupRepository struct {
	DB      *sql.DB
	Dialect db.Dialect
}

// Create stores a named contact list. A duplicate name within the tenant is a ConflictError.
func (r *ContactGroupRepository) Create(ctx context.Context, g *model.ContactGroup) error {
	var exists int
	err := r.DB.QueryRowContext(ctx,
		r.Dialect.Rebind(`SELECT 1 FROM contact_groups WHERE tenant_id=$1 AND group_name=$2`),
		g.TenantID, g.GroupName,
	).Scan(&exists)
	if err == nil {
		return duplicateGroup(g.GroupName)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	contacts, err := json.Marshal(g.Contacts)
	if err != nil {
		return err
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	g.ContactCount = len(g.Contacts)

	query := r.Dialect.Rebind(`
		INSERT INTO contact_groups (tenant_id, group_name, contacts, contact_count, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`)
	err = r.DB.QueryRowContext(ctx, query,
		g.TenantID, g.GroupName, string(contacts), g.ContactCount, g.CreatedAt.UTC(),
	).Scan(&g.ID)
	if isUniqueViolation(err) {
		return duplicateGroup(g.GroupName)
	}
	return err
}

func (r *ContactGroupRepository) ListByTenant(ctx context.Context, tenantID string) ([]model.ContactGroup, error) {
	query := r.Dialect.Rebind(`
		SELECT id, tenant_id, group_name, contacts, contact_count, created_at
		FROM contact_groups
		WHERE tenant_id=$1
		ORDER BY created_at DESC, id DESC
	`)
	rows, err := r.DB.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []model.ContactGroup{}
	for rows.Next() {
		var (
			g        model.ContactGroup
			contacts []byte
		)
		if err := rows.Scan(&g.ID, &g.TenantID, &g.GroupName, &contacts, &g.ContactCount, &g.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(contacts, &g.Contacts); err != nil {
			return nil, fmt.Errorf("decode contacts of group %d: %w", g.ID, err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *ContactGroupRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(`DELETE FROM contact_groups WHERE id=$1`), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewNotFound("contact group", strconv.FormatInt(id, 10))
	}
	return nil
}

func duplicateGroup(name string) error {
	return appErrors.NewConflict(fmt.Sprintf("contact group %q already exists", name))
}

var _ ContactGroupRepositoryInterface = (*ContactGroupRepository)(nil)
