package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository defines the interface for item creation.
type EnqueuerRepository interface {
	CreateItem(ctx context.Context, item *Item) error
}

// ProcessorRepository defines the interface for the processing loop.
type ProcessorRepository interface {
	// FetchBatch returns eligible items ordered by priority desc then
	// creation time asc, restricted to ScheduledAt <= now.
	FetchBatch(ctx context.Context, filter BatchFilter) ([]*Item, error)

	// ClaimItem atomically transitions a pending item to processing on
	// behalf of workerID. Returns false when another claimer won the race.
	ClaimItem(ctx context.Context, itemID, workerID uuid.UUID, lockDuration time.Duration) (bool, error)

	// UpdateItem applies a partial update to a single item.
	UpdateItem(ctx context.Context, itemID uuid.UUID, update ItemUpdate) error
}

// MonitorRepository defines the read-only interface for health sampling.
type MonitorRepository interface {
	AggregateStats(ctx context.Context, filter *StatsFilter) (*Stats, error)
}

// SchedulerRepository defines the interface for periodic job scheduling.
type SchedulerRepository interface {
	CreateItem(ctx context.Context, item *Item) error

	// GetPendingItemByType reports whether an undone instance of a periodic
	// job is still queued, to prevent double scheduling.
	GetPendingItemByType(ctx context.Context, jobType string) (*Item, error)
}

// Storage combines every live-queue persistence concern. Implementations
// must make each operation individually atomic; no cross-operation
// transaction is required.
type Storage interface {
	EnqueuerRepository
	ProcessorRepository
	MonitorRepository

	// DeleteOlderThan removes items in the given terminal statuses whose
	// creation time is older than age. Returns the number of removed items.
	DeleteOlderThan(ctx context.Context, age time.Duration, statuses []Status) (int64, error)
}

// DeadLetterRepository defines persistence for terminally-failed work.
type DeadLetterRepository interface {
	AddEntry(ctx context.Context, entry *DeadLetterEntry) error
	GetEntry(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error)
	ListEntries(ctx context.Context, filter DeadLetterFilter) ([]*DeadLetterEntry, error)
	UpdateEntry(ctx context.Context, id uuid.UUID, update DeadLetterUpdate) error
	DeleteEntry(ctx context.Context, id uuid.UUID) error
	EntryStats(ctx context.Context) (*DeadLetterStats, error)
}
