// Package offline buffers local mutations made while disconnected and
// replays them in order once the server is reachable again.
package offline

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/db/controller/queuestore"
	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/value"
)

var (
	// ErrQueueFull is returned when enqueueing beyond capacity. The queue
	// never drops older entries to make room.
	ErrQueueFull = errors.New("offline queue is full")
)

// Op is one mutation to hold until reconnect.
type Op struct {
	Op         models.QueueOp
	Key        string
	Value      value.Value
	UserID     string
	LocationID string
	Actor      string
}

// Queue is a durable bounded FIFO of offline mutations.
type Queue struct {
	db       *gorm.DB
	capacity int

	// mu makes the capacity check and the append one step.
	mu  sync.Mutex
	now func() time.Time
}

// NewQueue creates a queue bounded to capacity entries.
func NewQueue(db *gorm.DB, capacity int) *Queue {
	return &Queue{
		db:       db,
		capacity: capacity,
		now:      time.Now,
	}
}

// Capacity returns the configured entry bound.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Enqueue appends a mutation. It fails with ErrQueueFull at capacity.
func (q *Queue) Enqueue(ctx context.Context, op Op) (*models.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	db := q.db.WithContext(ctx)

	count, err := queuestore.Count(db)
	if err != nil {
		return nil, err
	}
	if count >= int64(q.capacity) {
		return nil, ErrQueueFull
	}

	entry := &models.QueueEntry{
		Op:              op.Op,
		Key:             op.Key,
		UserID:          op.UserID,
		LocationID:      op.LocationID,
		Actor:           op.Actor,
		ClientTimestamp: q.now().UnixMilli(),
	}
	if op.Op == models.QueueOpSet {
		raw, err := op.Value.JSON()
		if err != nil {
			return nil, err
		}
		entry.Value = raw
	}

	if err := queuestore.Append(db, entry); err != nil {
		return nil, err
	}
	observeDepth(count + 1)

	return entry, nil
}

// Depth returns the number of queued entries.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	count, err := queuestore.Count(q.db.WithContext(ctx))
	if err != nil {
		return 0, err
	}
	observeDepth(count)

	return count, nil
}

// ReplayFunc pushes one queued mutation to the server. A nil return is the
// server's ack and removes the entry.
type ReplayFunc func(ctx context.Context, entry models.QueueEntry) error

// ReplayReport summarizes one replay pass.
type ReplayReport struct {
	Applied int
	// Remaining counts entries still queued after the pass.
	Remaining int64
}

// Replay drains the queue oldest-first through apply. The first failure
// stops the pass so later entries never overtake an earlier one; the
// failed entry keeps its place and its attempt count grows.
func (q *Queue) Replay(ctx context.Context, apply ReplayFunc) (ReplayReport, error) {
	db := q.db.WithContext(ctx)

	entries, err := queuestore.Oldest(db, 0)
	if err != nil {
		return ReplayReport{}, err
	}

	var report ReplayReport
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			break
		}

		if err := apply(ctx, entry); err != nil {
			if incErr := queuestore.IncrementAttempt(db, entry.ID); incErr != nil {
				return report, incErr
			}
			report.Remaining, _ = queuestore.Count(db)
			observeDepth(report.Remaining)
			return report, err
		}

		if err := queuestore.Delete(db, entry.ID); err != nil {
			return report, err
		}
		report.Applied++
	}

	report.Remaining, err = queuestore.Count(db)
	if err != nil {
		return report, err
	}
	observeDepth(report.Remaining)

	return report, nil
}
