// Package outbox is the durable FIFO queue of local mutations awaiting
// delivery to the sync authority. Each entry carries an idempotency key that
// is generated exactly once and survives every retry, so the remote can
// collapse duplicate deliveries.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/syncbox/internal/clock"
)

type State string

const (
	StatePending State = "pending"
	StateSynced  State = "synced"
	StateFailed  State = "failed"
)

var (
	ErrEntryNotFound   = errors.New("outbox_entry_not_found")
	ErrEntryNotFailed  = errors.New("outbox_entry_not_failed")
	ErrMissingMutation = errors.New("missing_mutation_type")
)

// Entry is one queued mutation. Failed entries are kept for operator
// inspection and excluded from future pushes.
type Entry struct {
	ID             uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	Type           string         `gorm:"type:text;not null" json:"type"`
	Data           datatypes.JSON `gorm:"not null" json:"data"`
	IdempotencyKey string         `gorm:"type:text;not null;uniqueIndex" json:"idempotencyKey"`
	Timestamp      time.Time      `gorm:"not null;index" json:"timestamp"`
	SyncState      State          `gorm:"type:text;not null;index" json:"syncState"`
	RetryCount     int            `gorm:"not null;default:0" json:"retryCount"`
	Error          string         `gorm:"type:text" json:"error,omitempty"`
}

func (Entry) TableName() string { return "outbox" }

type Queue struct {
	db    *gorm.DB
	clock clock.Clock
	log   *zap.Logger
}

func New(db *gorm.DB, clk clock.Clock, log *zap.Logger) (*Queue, error) {
	if db == nil {
		return nil, errors.New("missing_database")
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Queue{db: db, clock: clk, log: log.Named("outbox")}, nil
}

// Enqueue appends a pending mutation and returns its idempotency key. It has
// no network dependency; a failure here is a local-storage failure and is
// fatal to the calling action.
func (q *Queue) Enqueue(ctx context.Context, mutationType string, data any) (string, error) {
	if strings.TrimSpace(mutationType) == "" {
		return "", ErrMissingMutation
	}
	body, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	entry := Entry{
		Type:           mutationType,
		Data:           body,
		IdempotencyKey: uuid.NewString(),
		Timestamp:      q.clock.Now(),
		SyncState:      StatePending,
	}
	if err := q.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return "", err
	}
	q.log.Debug("mutation enqueued",
		zap.Uint("entry_id", entry.ID),
		zap.String("type", mutationType),
	)
	return entry.IdempotencyKey, nil
}

// Pending returns pending entries oldest first.
func (q *Queue) Pending(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := q.db.WithContext(ctx).
		Where("sync_state = ?", StatePending).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Entries returns all entries in one state, oldest first.
func (q *Queue) Entries(ctx context.Context, state State) ([]Entry, error) {
	var entries []Entry
	err := q.db.WithContext(ctx).
		Where("sync_state = ?", state).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).
		Model(&Entry{}).
		Where("sync_state = ?", StatePending).
		Count(&count).Error
	return count, err
}

func (q *Queue) MarkSynced(ctx context.Context, id uint) error {
	return q.update(ctx, id, map[string]any{
		"sync_state": StateSynced,
		"error":      "",
	})
}

// MarkFailed parks an entry permanently; it will not appear in future pushes.
func (q *Queue) MarkFailed(ctx context.Context, id uint, errMsg string) error {
	return q.update(ctx, id, map[string]any{
		"sync_state": StateFailed,
		"error":      errMsg,
	})
}

// IncrementRetry bumps the attempt counter and records the latest error. The
// idempotency key is untouched.
func (q *Queue) IncrementRetry(ctx context.Context, id uint, errMsg string) error {
	return q.update(ctx, id, map[string]any{
		"retry_count": gorm.Expr("retry_count + 1"),
		"error":       errMsg,
	})
}

// Requeue returns a failed entry to the pending queue for another delivery
// attempt, keeping its original idempotency key.
func (q *Queue) Requeue(ctx context.Context, id uint) error {
	result := q.db.WithContext(ctx).
		Model(&Entry{}).
		Where("id = ? AND sync_state = ?", id, StateFailed).
		Updates(map[string]any{
			"sync_state":  StatePending,
			"retry_count": 0,
			"error":       "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFailed
	}
	return nil
}

// ClearSynced purges delivered entries. Opportunistic; never required for
// correctness.
func (q *Queue) ClearSynced(ctx context.Context) (int64, error) {
	result := q.db.WithContext(ctx).
		Where("sync_state = ?", StateSynced).
		Delete(&Entry{})
	return result.RowsAffected, result.Error
}

func (q *Queue) update(ctx context.Context, id uint, values map[string]any) error {
	result := q.db.WithContext(ctx).
		Model(&Entry{}).
		Where("id = ?", id).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}
