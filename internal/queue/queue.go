// Package queue carries dispatch tasks from the scheduler and poller to background workers.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/unclebandit/smsleopard-broadcast/internal/model"
)

var (
	ErrQueueFull   = errors.New("dispatch queue is full")
	ErrPoolStopped = errors.New("dispatch pool stopped before the task ran")
)

// Task is one campaign ready for dispatch. JobID is set when the task came from a deferred job.
type Task struct {
	CampaignID   string            `json:"campaign_id"`
	TenantID     string            `json:"tenant_id"`
	CampaignName string            `json:"campaign_name"`
	Sender       string            `json:"sender"`
	Message      string            `json:"message"`
	ImageRef     string            `json:"image_ref,omitempty"`
	Kind         model.MessageKind `json:"kind"`
	Recipients   []string          `json:"recipients"`
	Batch        model.BatchConfig `json:"batch"`
	ScheduledAt  *time.Time        `json:"scheduled_at,omitempty"`
	JobID        int64             `json:"job_id,omitempty"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
}

type Queue interface {
	Publish(ctx context.Context, t Task) error
}

// Handler runs one task. A returned error is reported through the failure callback, never retried.
type Handler func(ctx context.Context, t Task) error

// FailureFunc is called when a handler returns an error or panics.
type FailureFunc func(ctx context.Context, t Task, err error)
