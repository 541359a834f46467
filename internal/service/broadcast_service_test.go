package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
	"github.com/unclebandit/smsleopard-broadcast/internal/model"
	"github.com/unclebandit/smsleopard-broadcast/internal/queue"
	"github.com/unclebandit/smsleopard-broadcast/internal/service"
)

type fixture struct {
	svc     *service.BroadcastService
	jobs    *MockJobRepo
	records *MockRecordRepo
	queue   *MockQueue
	disp    *MockDispatcher
}

func newFixture() *fixture {
	f := &fixture{
		jobs:    &MockJobRepo{},
		records: &MockRecordRepo{},
		queue:   &MockQueue{},
		disp:    &MockDispatcher{},
	}
	f.svc = &service.BroadcastService{
		Tenants: &MockTenantRepo{tenants: map[string]*model.Tenant{
			"t-1": {ID: "t-1", BusinessName: "Leopard Shoes", PhoneNumber: "254711000000"},
			"t-2": {ID: "t-2", BusinessName: "No Phone"},
		}},
		Jobs:       f.jobs,
		Records:    f.records,
		Queue:      f.queue,
		Dispatcher: f.disp,
		Normalizer: service.NormalizerOptions{DefaultCountryCode: "254", MinDigits: 7, MaxDigits: 15},
		Defaults:   model.DefaultBatchConfig(),
		Log:        zerolog.Nop(),
		Now:        func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) },
		NewID:      func() string { return "c-fixed" },
	}
	return f
}

func sendNow() model.BroadcastRequest {
	return model.BroadcastRequest{
		TenantID:     "t-1",
		CampaignName: "Promo",
		Message:      "Shoes 20% off",
		Recipients:   []string{"0712 345 678", "+254712345678", "bad", "254700000001"},
		ScheduleType: model.ScheduleNow,
	}
}

func intPtr(i int) *int { return &i }

func TestSend_NowQueuesNormalizedTask(t *testing.T) {
	f := newFixture()
	req := sendNow()
	req.BatchSize = intPtr(5)

	ack, err := f.svc.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Status != model.AckQueued || ack.CampaignID != "c-fixed" || ack.Total != 2 || ack.Rejected != 1 {
		t.Errorf("unexpected ack %+v", ack)
	}
	if len(f.queue.tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(f.queue.tasks))
	}
	task := f.queue.tasks[0]
	if task.Sender != "254711000000" || task.Kind != model.MessageKindText {
		t.Errorf("unexpected task %+v", task)
	}
	want := []string{"254712345678", "254700000001"}
	for i, r := range want {
		if task.Recipients[i] != r {
			t.Errorf("recipient %d = %s, want %s", i, task.Recipients[i], r)
		}
	}
	if task.Batch.BatchSize != 5 || task.Batch.MessageDelay != 500*time.Millisecond {
		t.Errorf("batch overrides not applied: %+v", task.Batch)
	}
	if len(f.jobs.jobs) != 0 {
		t.Errorf("a now campaign must not create a deferred job")
	}
}

func TestSend_ValidationErrors(t *testing.T) {
	cases := map[string]func(r *model.BroadcastRequest){
		"missing tenant":    func(r *model.BroadcastRequest) { r.TenantID = "" },
		"missing name":      func(r *model.BroadcastRequest) { r.CampaignName = " " },
		"missing message":   func(r *model.BroadcastRequest) { r.Message = "" },
		"no recipients":     func(r *model.BroadcastRequest) { r.Recipients = nil },
		"bad kind":          func(r *model.BroadcastRequest) { r.MessageType = "video" },
		"image without id":  func(r *model.BroadcastRequest) { r.MessageType = model.MessageKindImage },
		"bad schedule":      func(r *model.BroadcastRequest) { r.ScheduleType = "tomorrow" },
		"negative delay":    func(r *model.BroadcastRequest) { r.MessageDelayMs = intPtr(-1) },
		"delay over 1h":     func(r *model.BroadcastRequest) { r.BatchDelayMs = intPtr(3_600_001) },
		"overflowing delay": func(r *model.BroadcastRequest) { r.MessageDelayMs = intPtr(1 << 62) },
		"zero batch size":   func(r *model.BroadcastRequest) { r.BatchSize = intPtr(0) },
		"no sender":         func(r *model.BroadcastRequest) { r.TenantID = "t-2" },
	}
	for name, mutate := range cases {
		f := newFixture()
		req := sendNow()
		mutate(&req)
		if _, err := f.svc.Send(context.Background(), req); !appErrors.IsValidation(err) {
			t.Errorf("%s: expected ValidationError, got %v", name, err)
		}
		if len(f.queue.tasks) != 0 || len(f.jobs.jobs) != 0 {
			t.Errorf("%s: side effect before rejection", name)
		}
	}
}

func TestSend_ExplicitZeroDelaysAreKept(t *testing.T) {
	f := newFixture()
	req := sendNow()
	req.MessageDelayMs = intPtr(0)
	req.BatchDelayMs = intPtr(0)

	if _, err := f.svc.Send(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	batch := f.queue.tasks[0].Batch
	if batch.MessageDelay != 0 || batch.BatchDelay != 0 || batch.BatchSize != 10 {
		t.Errorf("expected zero delays with default batch size, got %+v", batch)
	}

	// the worker must not put the defaults back
	if err := f.svc.HandleTask(context.Background(), f.queue.tasks[0]); err != nil {
		t.Fatal(err)
	}
	got := f.disp.requests[0].Batch
	if got.MessageDelay != 0 || got.BatchDelay != 0 {
		t.Errorf("worker restored default delays: %+v", got)
	}
}

func TestSend_UpperBoundDelayAccepted(t *testing.T) {
	f := newFixture()
	req := sendNow()
	req.BatchDelayMs = intPtr(3_600_000)
	if _, err := f.svc.Send(context.Background(), req); err != nil {
		t.Fatalf("1h delay must be accepted: %v", err)
	}
	if f.queue.tasks[0].Batch.BatchDelay != time.Hour {
		t.Errorf("got %v", f.queue.tasks[0].Batch.BatchDelay)
	}
}

func TestSend_UnknownTenant(t *testing.T) {
	f := newFixture()
	req := sendNow()
	req.TenantID = "ghost"
	_, err := f.svc.Send(context.Background(), req)
	if !appErrors.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

// Scenario E
func TestSend_AllRecipientsMalformed(t *testing.T) {
	f := newFixture()
	req := sendNow()
	req.Recipients = []string{"abc", "  ", "12"}
	_, err := f.svc.Send(context.Background(), req)
	if !appErrors.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(f.queue.tasks) != 0 || len(f.jobs.jobs) != 0 || len(f.records.rows) != 0 {
		t.Errorf("nothing may be created for an empty recipient list")
	}
}

// Scenario D
func TestSend_LaterRejectsBadTime(t *testing.T) {
	f := newFixture()
	req := sendNow()
	req.ScheduleType = model.ScheduleLater
	req.ScheduleTime = "not-a-date"
	_, err := f.svc.Send(context.Background(), req)
	if !appErrors.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(f.jobs.jobs) != 0 {
		t.Errorf("no deferred job may be created")
	}
}

func TestSend_LaterCreatesOneJob(t *testing.T) {
	f := newFixture()
	req := sendNow()
	req.ScheduleType = model.ScheduleLater
	req.ScheduleTime = "2026-03-02T09:30"

	ack, err := f.svc.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	if ack.Status != model.AckScheduled || ack.ScheduledTime == nil || !ack.ScheduledTime.Equal(want) {
		t.Errorf("unexpected ack %+v", ack)
	}
	if len(f.jobs.jobs) != 1 || len(f.queue.tasks) != 0 {
		t.Fatalf("expected exactly one job and no task")
	}
	job := f.jobs.jobs[0]
	if job.Status != model.JobScheduled || job.CampaignID != "c-fixed" || len(job.Recipients) != 2 {
		t.Errorf("unexpected job %+v", job)
	}
	if ack.JobID != job.ID {
		t.Errorf("ack must carry the job id")
	}
}

func TestSend_QueueFull(t *testing.T) {
	f := newFixture()
	f.queue.err = queue.ErrQueueFull
	_, err := f.svc.Send(context.Background(), sendNow())
	if !service.IsQueueFull(err) {
		t.Errorf("expected queue full, got %v", err)
	}
}

func TestHandleTask_CompletesDeferredJob(t *testing.T) {
	f := newFixture()
	job := &model.DeferredJob{TenantID: "t-1", CampaignID: "c-9", Status: model.JobScheduled}
	f.jobs.Insert(context.Background(), job)
	f.jobs.Claim(context.Background(), job.ID, time.Now())

	task := queue.Task{
		CampaignID: "c-9",
		TenantID:   "t-1",
		Sender:     "254711000000",
		Message:    "hi",
		Kind:       model.MessageKindText,
		Recipients: []string{"254700000001"},
		JobID:      job.ID,
	}
	if err := f.svc.HandleTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	if got, _ := f.jobs.GetByID(context.Background(), job.ID); got.Status != model.JobCompleted {
		t.Errorf("expected completed job, got %s", got.Status)
	}
	if f.disp.requests[0].Batch != model.DefaultBatchConfig() {
		t.Errorf("missing batch must fall back to defaults, got %+v", f.disp.requests[0].Batch)
	}
}

func TestHandleTask_ReportedFailureFailsJob(t *testing.T) {
	f := newFixture()
	job := &model.DeferredJob{TenantID: "t-1", CampaignID: "c-9", Status: model.JobScheduled}
	f.jobs.Insert(context.Background(), job)
	f.jobs.Claim(context.Background(), job.ID, time.Now())
	f.disp.err = errors.New("db down")

	task := queue.Task{CampaignID: "c-9", JobID: job.ID}
	err := f.svc.HandleTask(context.Background(), task)
	if err == nil {
		t.Fatal("expected error")
	}
	f.svc.ReportFailure(context.Background(), task, err)

	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if got.Status != model.JobFailed || got.LastError != "db down" {
		t.Errorf("expected failed job with error noted, got %+v", got)
	}
	if f.records.failedWith["c-9"] != "db down" {
		t.Errorf("pending rows must be failed, got %v", f.records.failedWith)
	}
}

func TestReportFailure_TaskThatNeverRan(t *testing.T) {
	f := newFixture()
	task := queue.Task{
		CampaignID:   "c-10",
		TenantID:     "t-1",
		CampaignName: "Flash sale",
		Message:      "today only",
		Recipients:   []string{"254700000001", "254700000002"},
	}
	f.svc.ReportFailure(context.Background(), task, queue.ErrPoolStopped)

	rows, _ := f.records.ListByTenant(context.Background(), "t-1")
	if len(rows) != 2 {
		t.Fatalf("expected a row per recipient, got %d", len(rows))
	}
	if rows[0].CampaignName != "Flash sale" || rows[0].MessageText != "today only" {
		t.Errorf("row does not describe the campaign: %+v", rows[0])
	}
	if f.records.failedWith["c-10"] != queue.ErrPoolStopped.Error() {
		t.Errorf("rows must be failed with the stop reason, got %v", f.records.failedWith)
	}
}

func TestCancelScheduled(t *testing.T) {
	f := newFixture()
	job := &model.DeferredJob{TenantID: "t-1", CampaignID: "c-9", Status: model.JobScheduled}
	f.jobs.Insert(context.Background(), job)

	if err := f.svc.CancelScheduled(context.Background(), "t-2", job.ID); !appErrors.IsNotFound(err) {
		t.Errorf("other tenant: expected NotFoundError, got %v", err)
	}
	if err := f.svc.CancelScheduled(context.Background(), "t-1", job.ID); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := f.svc.CancelScheduled(context.Background(), "t-1", job.ID); !appErrors.IsNotFound(err) {
		t.Errorf("second cancel: expected NotFoundError, got %v", err)
	}
}

func TestParseScheduleTime(t *testing.T) {
	ok := map[string]time.Time{
		"2026-03-02T09:30:00Z":      time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		"2026-03-02T12:30:00+03:00": time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		"2026-03-02T09:30:00.5Z":    time.Date(2026, 3, 2, 9, 30, 0, 5e8, time.UTC),
		"2026-03-02 09:30:00":       time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}
	for in, want := range ok {
		got, err := service.ParseScheduleTime(in)
		if err != nil || !got.Equal(want) {
			t.Errorf("ParseScheduleTime(%q) = %v, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "not-a-date", "2026-13-40T00:00"} {
		if _, err := service.ParseScheduleTime(in); !appErrors.IsValidation(err) {
			t.Errorf("ParseScheduleTime(%q) expected ValidationError, got %v", in, err)
		}
	}
}
