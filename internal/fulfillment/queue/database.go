package queue

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paysettle/internal/clock"
	fulfillmentdomain "github.com/smallbiznis/paysettle/internal/fulfillment/domain"
	obsmetrics "github.com/smallbiznis/paysettle/internal/observability/metrics"
	"github.com/smallbiznis/paysettle/pkg/db"
	"gorm.io/gorm"
)

const maxErrorLength = 1024

// Database is the default queue: a fulfillment_jobs outbox polled by workers.
// A job stuck in running longer than lease is claimable again.
type Database struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
	lease time.Duration
}

func NewDatabase(conn *gorm.DB, genID *snowflake.Node, clk clock.Clock, lease time.Duration) *Database {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &Database{db: conn, genID: genID, clock: clk, lease: lease}
}

// Enqueue is a no-op while a queued or running job exists for the reference.
func (q *Database) Enqueue(ctx context.Context, reference string) error {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return fulfillmentdomain.ErrEmptyReference
	}
	now := q.clock.Now().UTC()

	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending int64
		if err := tx.Raw(
			`SELECT COUNT(1) FROM fulfillment_jobs
			 WHERE reference = ? AND status IN (?, ?)`,
			reference,
			fulfillmentdomain.JobStatusQueued,
			fulfillmentdomain.JobStatusRunning,
		).Scan(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return nil
		}

		return tx.Create(&fulfillmentdomain.Job{
			ID:          q.genID.Generate(),
			Reference:   reference,
			Status:      fulfillmentdomain.JobStatusQueued,
			AvailableAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}).Error
	})
}

func (q *Database) Claim(ctx context.Context, limit int) ([]fulfillmentdomain.Task, error) {
	if limit <= 0 {
		limit = 1
	}
	now := q.clock.Now().UTC()
	staleBefore := now.Add(-q.lease)

	var tasks []fulfillmentdomain.Task
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := `SELECT id, reference, attempts
			 FROM fulfillment_jobs
			 WHERE (status = ? AND available_at <= ?)
			    OR (status = ? AND updated_at <= ?)
			 ORDER BY available_at ASC, id ASC
			 LIMIT ?`
		if db.SupportsRowLocks(tx) {
			query += " FOR UPDATE SKIP LOCKED"
		}

		var jobs []fulfillmentdomain.Job
		lockStart := time.Now()
		err := tx.Raw(query,
			fulfillmentdomain.JobStatusQueued, now,
			fulfillmentdomain.JobStatusRunning, staleBefore,
			limit,
		).Scan(&jobs).Error
		obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceFulfillmentJobs, time.Since(lockStart))
		if err != nil {
			return err
		}

		for _, job := range jobs {
			attempts := job.Attempts + 1
			if err := tx.Exec(
				`UPDATE fulfillment_jobs
				 SET status = ?, attempts = ?, updated_at = ?
				 WHERE id = ?`,
				fulfillmentdomain.JobStatusRunning, attempts, now, job.ID,
			).Error; err != nil {
				return err
			}
			tasks = append(tasks, fulfillmentdomain.Task{
				ID:        job.ID,
				Reference: job.Reference,
				Attempts:  attempts,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (q *Database) Complete(ctx context.Context, task fulfillmentdomain.Task) error {
	return q.db.WithContext(ctx).Exec(
		`UPDATE fulfillment_jobs SET status = ?, last_error = '', updated_at = ? WHERE id = ?`,
		fulfillmentdomain.JobStatusDone, q.clock.Now().UTC(), task.ID,
	).Error
}

func (q *Database) Retry(ctx context.Context, task fulfillmentdomain.Task, cause error, availableAt time.Time) error {
	return q.db.WithContext(ctx).Exec(
		`UPDATE fulfillment_jobs
		 SET status = ?, available_at = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		fulfillmentdomain.JobStatusQueued, availableAt.UTC(), errorText(cause), q.clock.Now().UTC(), task.ID,
	).Error
}

func (q *Database) Fail(ctx context.Context, task fulfillmentdomain.Task, cause error) error {
	return q.db.WithContext(ctx).Exec(
		`UPDATE fulfillment_jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		fulfillmentdomain.JobStatusFailed, errorText(cause), q.clock.Now().UTC(), task.ID,
	).Error
}

// Holds counts failed jobs so the recovery sweep never refills an exhausted budget.
func (q *Database) Holds(ctx context.Context, reference string) (bool, error) {
	var held int64
	err := q.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM fulfillment_jobs
		 WHERE reference = ? AND status IN (?, ?, ?)`,
		strings.TrimSpace(reference),
		fulfillmentdomain.JobStatusQueued,
		fulfillmentdomain.JobStatusRunning,
		fulfillmentdomain.JobStatusFailed,
	).Scan(&held).Error
	if err != nil {
		return false, err
	}
	return held > 0, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	return msg
}
