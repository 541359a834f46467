package controller

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
	"github.com/unclebandit/smsleopard-broadcast/internal/model"
)

type ContactGroups interface {
	Create(ctx context.Context, tenantID, name string, contacts []string) (*model.ContactGroup, error)
	List(ctx context.Context, tenantID string) ([]model.ContactGroup, error)
	Delete(ctx context.Context, id int64) error
}

type ContactGroupController struct {
	Groups ContactGroups
	Log    zerolog.Logger
}

func (c *ContactGroupController) Save(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID  string   `json:"tenantId"`
		GroupName string   `json:"groupName"`
		Contacts  []string `json:"contacts"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, c.Log, err)
		return
	}
	group, err := c.Groups.Create(r.Context(), body.TenantID, body.GroupName, body.Contacts)
	if err != nil {
		respondError(w, c.Log, err)
		return
	}
	respondOK(w, Envelope{"group": group})
}

func (c *ContactGroupController) List(w http.ResponseWriter, r *http.Request) {
	groups, err := c.Groups.List(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		respondError(w, c.Log, err)
		return
	}
	respondOK(w, Envelope{"groups": groups})
}

func (c *ContactGroupController) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "groupId"), 10, 64)
	if err != nil {
		respondError(w, c.Log, appErrors.NewValidation("groupId", "must be a number"))
		return
	}
	if err := c.Groups.Delete(r.Context(), id); err != nil {
		respondError(w, c.Log, err)
		return
	}
	respondOK(w, Envelope{"message": "Group deleted successfully"})
}
