package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Job is a durable fulfillment request for one succeeded payment.
type Job struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Reference   string       `gorm:"type:text;not null;index"`
	Status      JobStatus    `gorm:"type:text;not null;index:idx_fulfillment_jobs_claim"`
	Attempts    int          `gorm:"not null;default:0"`
	AvailableAt time.Time    `gorm:"not null;index:idx_fulfillment_jobs_claim"`
	LastError   string       `gorm:"type:text"`
	CreatedAt   time.Time    `gorm:"not null"`
	UpdatedAt   time.Time    `gorm:"not null"`
}

func (Job) TableName() string { return "fulfillment_jobs" }

// Task is a claimed job. Attempts already counts the current attempt.
type Task struct {
	ID        snowflake.ID `json:"id"`
	Reference string       `json:"reference"`
	Attempts  int          `json:"attempts"`
}

// Queue hands payment references from the webhook path to the worker.
type Queue interface {
	Enqueue(ctx context.Context, reference string) error
	Claim(ctx context.Context, limit int) ([]Task, error)
	Complete(ctx context.Context, task Task) error
	Retry(ctx context.Context, task Task, cause error, availableAt time.Time) error
	Fail(ctx context.Context, task Task, cause error) error
	// Holds reports whether the queue still owns the reference: queued,
	// claimed, waiting on a retry, or dead after exhausting its attempts.
	Holds(ctx context.Context, reference string) (bool, error)
}

var (
	ErrFileNotFound       = errors.New("file_not_found")
	ErrDispatchInProgress = errors.New("dispatch_in_progress")
	ErrEmptyReference     = errors.New("empty_reference")
)

// FileStore reads deliverable files by storage-relative path.
type FileStore interface {
	Stat(ctx context.Context, path string) (int64, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// Locker serializes dispatches of the same reference across workers.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type OutcomeStatus string

const (
	OutcomeDispatched OutcomeStatus = "dispatched"
	OutcomeSkipped    OutcomeStatus = "skipped"
	OutcomeIgnored    OutcomeStatus = "ignored"
)

const (
	ReasonDelivered           = "delivered"
	ReasonNotSucceeded        = "not_succeeded"
	ReasonPaymentNotFound     = "payment_not_found"
	ReasonUnregisteredPayable = "unregistered_payable"
	ReasonPayableNotFound     = "payable_not_found"
	ReasonAlreadyDelivered    = "already_delivered"
	ReasonDuplicatePayment    = "duplicate_payment"
	ReasonNoRecipient         = "no_recipient"
)

// Outcome reports what one Dispatch call did.
type Outcome struct {
	Status OutcomeStatus
	Reason string
	Mode   string
	// Attachments are the display names sent, in order.
	Attachments []string
	// Omitted are storage paths left out because they were missing or over the cap.
	Omitted []string
}
