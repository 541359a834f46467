package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/unclebandit/smsleopard-broadcast/internal/dispatcher"
	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
	"github.com/unclebandit/smsleopard-broadcast/internal/model"
	"github.com/unclebandit/smsleopard-broadcast/internal/queue"
)

// Mock tenant repository
type MockTenantRepo struct {
	tenants map[string]*model.Tenant
}

func (m *MockTenantRepo) GetByID(ctx context.Context, id string) (*model.Tenant, error) {
	if t, ok := m.tenants[id]; ok {
		return t, nil
	}
	return nil, appErrors.NewTenantNotFound(id)
}

// Mock deferred job repository
type MockJobRepo struct {
	mu   sync.Mutex
	jobs []*model.DeferredJob
}

func (m *MockJobRepo) Insert(ctx context.Context, job *model.DeferredJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.ID = int64(len(m.jobs) + 1)
	cp := *job
	m.jobs = append(m.jobs, &cp)
	return nil
}

func (m *MockJobRepo) get(id int64) *model.DeferredJob {
	for _, j := range m.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

func (m *MockJobRepo) GetByID(ctx context.Context, id int64) (*model.DeferredJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id), nil
}

func (m *MockJobRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]model.DeferredJob, error) {
	return nil, nil
}

func (m *MockJobRepo) Claim(ctx context.Context, id int64, now time.Time) (bool, error) {
	return m.transition(id, model.JobScheduled, model.JobClaimed), nil
}

func (m *MockJobRepo) MarkCompleted(ctx context.Context, id int64, at time.Time) (bool, error) {
	return m.transition(id, model.JobClaimed, model.JobCompleted), nil
}

func (m *MockJobRepo) MarkFailed(ctx context.Context, id int64, reason string, at time.Time) (bool, error) {
	ok := m.transition(id, model.JobClaimed, model.JobFailed)
	if ok {
		m.mu.Lock()
		m.get(id).LastError = reason
		m.mu.Unlock()
	}
	return ok, nil
}

func (m *MockJobRepo) transition(id int64, from, to string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.get(id)
	if j == nil || j.Status != from {
		return false
	}
	j.Status = to
	return true
}

func (m *MockJobRepo) RecordError(ctx context.Context, id int64, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j := m.get(id); j != nil {
		j.LastError = reason
	}
	return nil
}

func (m *MockJobRepo) ListStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]model.DeferredJob, error) {
	return nil, nil
}

func (m *MockJobRepo) IncrementStuck(ctx context.Context, id int64, at time.Time) (int, error) {
	return 0, nil
}

func (m *MockJobRepo) DeleteScheduled(ctx context.Context, tenantID string, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, j := range m.jobs {
		if j.ID == id && j.TenantID == tenantID && j.Status == model.JobScheduled {
			m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MockJobRepo) ListScheduledByTenant(ctx context.Context, tenantID string) ([]model.DeferredJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DeferredJob
	for _, j := range m.jobs {
		if j.TenantID == tenantID && j.Status == model.JobScheduled {
			out = append(out, *j)
		}
	}
	return out, nil
}

// Mock delivery record repository
type MockRecordRepo struct {
	rows       []model.DeliveryRecord
	failedWith map[string]string
}

func (m *MockRecordRepo) CreatePending(ctx context.Context, recs []model.DeliveryRecord) error {
	m.rows = append(m.rows, recs...)
	return nil
}

func (m *MockRecordRepo) ListByCampaign(ctx context.Context, campaignID string) ([]model.DeliveryRecord, error) {
	return nil, nil
}

func (m *MockRecordRepo) MarkOutcome(ctx context.Context, campaignID, recipient, status, lastError string, at time.Time) (bool, error) {
	return true, nil
}

func (m *MockRecordRepo) FailPending(ctx context.Context, campaignID, reason string, at time.Time) (int64, error) {
	if m.failedWith == nil {
		m.failedWith = map[string]string{}
	}
	m.failedWith[campaignID] = reason
	return 1, nil
}

func (m *MockRecordRepo) ListByTenant(ctx context.Context, tenantID string) ([]model.DeliveryRecord, error) {
	var out []model.DeliveryRecord
	for _, r := range m.rows {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Mock queue
type MockQueue struct {
	tasks []queue.Task
	err   error
}

func (m *MockQueue) Publish(ctx context.Context, t queue.Task) error {
	if m.err != nil {
		return m.err
	}
	m.tasks = append(m.tasks, t)
	return nil
}

// Mock dispatcher
type MockDispatcher struct {
	requests []dispatcher.Request
	err      error
}

func (m *MockDispatcher) Dispatch(ctx context.Context, req dispatcher.Request) (*dispatcher.Report, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &dispatcher.Report{Sent: len(req.Recipients)}, nil
}
