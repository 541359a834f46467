package service

import (
	"context"
	"strings"

	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
	"github.com/unclebandit/smsleopard-broadcast/internal/model"
	"github.com/unclebandit/smsleopard-broadcast/internal/repository"
)

type ContactGroupService struct {
	Repo repository.ContactGroupRepositoryInterface
}

func (s *ContactGroupService) Create(ctx context.Context, tenantID, name string, contacts []string) (*model.ContactGroup, error) {
	tenantID = strings.TrimSpace(tenantID)
	name = strings.TrimSpace(name)
	if tenantID == "" || name == "" || len(contacts) == 0 {
		return nil, appErrors.NewValidation("", "Missing required fields: tenantId, groupName, contacts")
	}
	g := &model.ContactGroup{TenantID: tenantID, GroupName: name, Contacts: contacts}
	if err := s.Repo.Create(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *ContactGroupService) List(ctx context.Context, tenantID string) ([]model.ContactGroup, error) {
	return s.Repo.ListByTenant(ctx, tenantID)
}

func (s *ContactGroupService) Delete(ctx context.Context, id int64) error {
	return s.Repo.Delete(ctx, id)
}
