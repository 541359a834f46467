package repository_test

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unclebandit/smsleopard-broadcast/internal/config"
	"github.com/unclebandit/smsleopard-broadcast/internal/db"
	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
	"github.com/unclebandit/smsleopard-broadcast/internal/model"
	"github.com/unclebandit/smsleopard-broadcast/internal/repository"
)

func openTestDB(t *testing.T) (*sql.DB, db.Dialect) {
	t.Helper()
	conn, dialect, err := db.Open(config.DatabaseConfig{Driver: "sqlite", URL: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := db.Migrate(context.Background(), conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn, dialect
}

func TestTenantRepository_GetByID(t *testing.T) {
	conn, dialect := openTestDB(t)
	ctx := context.Background()
	if _, err := conn.Exec(`INSERT INTO tenants (id, business_name, phone_number) VALUES ('t-1', 'Leopard Shoes', '254700000001')`); err != nil {
		t.Fatal(err)
	}
	repo := &repository.TenantRepository{DB: conn, Dialect: dialect}

	tenant, err := repo.GetByID(ctx, "t-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant.BusinessName != "Leopard Shoes" {
		t.Errorf("got business name %q", tenant.BusinessName)
	}

	_, err = repo.GetByID(ctx, "missing")
	if !appErrors.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestDeliveryRecordRepository_Lifecycle(t *testing.T) {
	conn, dialect := openTestDB(t)
	ctx := context.Background()
	repo := &repository.DeliveryRecordRepository{DB: conn, Dialect: dialect}

	recs := []model.DeliveryRecord{
		{CampaignID: "c-1", CampaignName: "Promo", TenantID: "t-1", Recipient: "254700000001", MessageText: "hi"},
		{CampaignID: "c-1", CampaignName: "Promo", TenantID: "t-1", Recipient: "254700000002", MessageText: "hi"},
	}
	if err := repo.CreatePending(ctx, recs); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	// A second pass must not duplicate rows.
	if err := repo.CreatePending(ctx, recs); err != nil {
		t.Fatalf("create pending again: %v", err)
	}

	got, err := repo.ListByCampaign(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	for _, r := range got {
		if r.Status != model.RecipientPending {
			t.Errorf("expected pending, got %s", r.Status)
		}
	}

	now := time.Now()
	ok, err := repo.MarkOutcome(ctx, "c-1", "254700000001", model.RecipientSent, "", now)
	if err != nil || !ok {
		t.Fatalf("mark sent: ok=%v err=%v", ok, err)
	}
	ok, err = repo.MarkOutcome(ctx, "c-1", "254700000001", model.RecipientFailed, "late", now)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Errorf("terminal row must not be overwritten")
	}

	n, err := repo.FailPending(ctx, "c-1", "worker crashed", now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pending row failed, got %d", n)
	}

	got, _ = repo.ListByTenant(ctx, "t-1")
	statuses := map[string]string{}
	for _, r := range got {
		statuses[r.Recipient] = r.Status
		if r.UpdatedAt == nil {
			t.Errorf("expected updated_at on %s", r.Recipient)
		}
	}
	if statuses["254700000001"] != model.RecipientSent || statuses["254700000002"] != model.RecipientFailed {
		t.Errorf("unexpected statuses %v", statuses)
	}
}

func newJob(tenant string, due time.Time) *model.DeferredJob {
	return &model.DeferredJob{
		TenantID:       tenant,
		CampaignID:     "c-" + due.Format("150405.000"),
		CampaignName:   "Later",
		MessageType:    model.MessageKindText,
		MessageContent: "see you soon",
		Recipients:     []string{"254700000001", "254700000002"},
		Batch:          model.DefaultBatchConfig(),
		ScheduledAt:    due,
	}
}

func TestDeferredJobRepository_DueAndClaim(t *testing.T) {
	conn, dialect := openTestDB(t)
	ctx := context.Background()
	repo := &repository.DeferredJobRepository{DB: conn, Dialect: dialect}
	now := time.Now().UTC()

	past := newJob("t-1", now.Add(-time.Minute))
	future := newJob("t-1", now.Add(time.Hour))
	for _, j := range []*model.DeferredJob{past, future} {
		if err := repo.Insert(ctx, j); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if past.ID == 0 || future.ID == 0 {
		t.Fatalf("expected ids to be assigned")
	}

	due, err := repo.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != past.ID {
		t.Fatalf("expected only the past job to be due, got %+v", due)
	}
	if len(due[0].Recipients) != 2 || due[0].Batch.MessageDelay != 500*time.Millisecond {
		t.Errorf("job payload not round-tripped: %+v", due[0])
	}

	ok, err := repo.Claim(ctx, past.ID, now)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, _ = repo.Claim(ctx, past.ID, now)
	if ok {
		t.Errorf("second claim must lose")
	}

	ok, _ = repo.MarkCompleted(ctx, future.ID, now)
	if ok {
		t.Errorf("an unclaimed job must not complete")
	}
	ok, err = repo.MarkCompleted(ctx, past.ID, now)
	if err != nil || !ok {
		t.Fatalf("mark completed: ok=%v err=%v", ok, err)
	}
	got, _ := repo.GetByID(ctx, past.ID)
	if got.Status != model.JobCompleted || got.ClaimedAt == nil {
		t.Errorf("unexpected job state %+v", got)
	}
}

func TestDeferredJobRepository_ConcurrentClaim(t *testing.T) {
	conn, dialect := openTestDB(t)
	ctx := context.Background()
	repo := &repository.DeferredJobRepository{DB: conn, Dialect: dialect}
	job := newJob("t-1", time.Now().Add(-time.Second))
	if err := repo.Insert(ctx, job); err != nil {
		t.Fatal(err)
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Claim(ctx, job.ID, time.Now())
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
}

func TestDeferredJobRepository_StuckAndCancel(t *testing.T) {
	conn, dialect := openTestDB(t)
	ctx := context.Background()
	repo := &repository.DeferredJobRepository{DB: conn, Dialect: dialect}
	now := time.Now().UTC()

	stuck := newJob("t-1", now.Add(-3*time.Hour))
	waiting := newJob("t-1", now.Add(time.Hour))
	repo.Insert(ctx, stuck)
	repo.Insert(ctx, waiting)
	repo.Claim(ctx, stuck.ID, now.Add(-3*time.Hour))

	jobs, err := repo.ListStuck(ctx, now.Add(-2*time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != stuck.ID {
		t.Fatalf("expected the claimed job to be stuck, got %+v", jobs)
	}
	for want := 1; want <= 2; want++ {
		n, err := repo.IncrementStuck(ctx, stuck.ID, now)
		if err != nil || n != want {
			t.Fatalf("increment %d: n=%d err=%v", want, n, err)
		}
	}
	ok, err := repo.MarkFailed(ctx, stuck.ID, "stuck", now)
	if err != nil || !ok {
		t.Fatalf("mark failed: ok=%v err=%v", ok, err)
	}

	scheduled, _ := repo.ListScheduledByTenant(ctx, "t-1")
	if len(scheduled) != 1 || scheduled[0].ID != waiting.ID {
		t.Fatalf("expected only the waiting job, got %+v", scheduled)
	}
	ok, _ = repo.DeleteScheduled(ctx, "t-2", waiting.ID)
	if ok {
		t.Errorf("another tenant must not cancel the job")
	}
	ok, _ = repo.DeleteScheduled(ctx, "t-1", waiting.ID)
	if !ok {
		t.Errorf("expected cancel to succeed")
	}
	ok, _ = repo.DeleteScheduled(ctx, "t-1", stuck.ID)
	if ok {
		t.Errorf("a finished job must not be cancelled")
	}
}

func TestContactGroupRepository(t *testing.T) {
	conn, dialect := openTestDB(t)
	ctx := context.Background()
	repo := &repository.ContactGroupRepository{DB: conn, Dialect: dialect}

	g := &model.ContactGroup{TenantID: "t-1", GroupName: "VIP", Contacts: []string{"254700000001", "254700000002"}}
	if err := repo.Create(ctx, g); err != nil {
		t.Fatalf("create: %v", err)
	}
	if g.ID == 0 || g.ContactCount != 2 {
		t.Errorf("unexpected group %+v", g)
	}

	err := repo.Create(ctx, &model.ContactGroup{TenantID: "t-1", GroupName: "VIP", Contacts: []string{"1"}})
	if !appErrors.IsConflict(err) {
		t.Errorf("expected ConflictError, got %v", err)
	}
	if err := repo.Create(ctx, &model.ContactGroup{TenantID: "t-2", GroupName: "VIP"}); err != nil {
		t.Errorf("same name under another tenant must be allowed: %v", err)
	}

	groups, err := repo.ListByTenant(ctx, "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || len(groups[0].Contacts) != 2 {
		t.Fatalf("unexpected groups %+v", groups)
	}

	if err := repo.Delete(ctx, g.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, g.ID); !appErrors.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}
