package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPaused     Status = "paused"
)

// Priority represents item priority (0-100, higher is served first).
// Using int8 provides sufficient range while keeping memory footprint minimal.
type Priority int8

// Priority constants
const (
	PriorityMin     Priority = 0
	PriorityLow     Priority = 25
	PriorityMedium  Priority = 50
	PriorityHigh    Priority = 75
	PriorityMax     Priority = 100
	PriorityDefault Priority = PriorityMedium
)

// Valid checks if the priority is within valid range.
func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

// Band buckets a priority into "low", "medium" or "high" for aggregate stats.
func (p Priority) Band() string {
	switch {
	case p < 34:
		return "low"
	case p < 67:
		return "medium"
	default:
		return "high"
	}
}

// Item represents a single unit of scheduled asynchronous work.
type Item struct {
	ID                    uuid.UUID       `json:"id"`
	Type                  string          `json:"type"`
	Payload               json.RawMessage `json:"payload,omitempty"`
	Result                json.RawMessage `json:"result,omitempty"`
	Status                Status          `json:"status"`
	Priority              Priority        `json:"priority"`
	ScheduledAt           time.Time       `json:"scheduled_at"`
	RetryCount            int8            `json:"retry_count"`
	MaxRetries            int8            `json:"max_retries"`
	LastError             *string         `json:"last_error,omitempty"`
	ProcessingStartedAt   *time.Time      `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time      `json:"processing_completed_at,omitempty"`
	LockedUntil           *time.Time      `json:"locked_until,omitempty"`
	LockedBy              *uuid.UUID      `json:"locked_by,omitempty"`
	UserID                *uuid.UUID      `json:"user_id,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

// ItemUpdate describes a partial update to a queue item. Nil fields are
// left untouched; ClearLock releases claim bookkeeping in the same write.
type ItemUpdate struct {
	Status                *Status
	Priority              *Priority
	ScheduledAt           *time.Time
	RetryCount            *int8
	Result                json.RawMessage
	LastError             *string
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
	ClearLock             bool
}

// BatchFilter restricts which items FetchBatch returns.
type BatchFilter struct {
	Status Status
	Limit  int
	UserID *uuid.UUID
}

// Stats is an aggregate snapshot of the live queue.
type Stats struct {
	Total             int64            `json:"total"`
	ByStatus          map[Status]int64 `json:"by_status"`
	ByPriorityBand    map[string]int64 `json:"by_priority_band"`
	OldestPendingAge  time.Duration    `json:"oldest_pending_age"`
	AvgProcessingTime time.Duration    `json:"avg_processing_time"`
}

// StatsFilter optionally narrows aggregate stats to one originating user.
type StatsFilter struct {
	UserID *uuid.UUID
}

// DeadLetterStatus represents the remediation state of a dead letter entry.
type DeadLetterStatus string

const (
	DeadLetterPendingReview DeadLetterStatus = "pending_review"
	DeadLetterRetrying      DeadLetterStatus = "retrying"
	DeadLetterResolved      DeadLetterStatus = "resolved"
	DeadLetterFailed        DeadLetterStatus = "failed"
)

// DeadLetterEntry preserves a terminally-failed item for inspection and
// remediation. Its lifecycle is independent from the live queue.
type DeadLetterEntry struct {
	ID              uuid.UUID        `json:"id"`
	ItemID          uuid.UUID        `json:"item_id"`
	OperationType   string           `json:"operation_type"`
	OriginalPayload json.RawMessage  `json:"original_payload,omitempty"`
	ErrorMessage    string           `json:"error_message"`
	ErrorClass      ErrorClass       `json:"error_class"`
	ErrorCount      int              `json:"error_count"`
	UserID          *uuid.UUID       `json:"user_id,omitempty"`
	Priority        Priority         `json:"priority"`
	Status          DeadLetterStatus `json:"status"`
	RetryCount      int8             `json:"retry_count"`
	Result          json.RawMessage  `json:"result,omitempty"`
	ResolutionNotes string           `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
}

// DeadLetterFilter restricts dead letter listings.
type DeadLetterFilter struct {
	Status        DeadLetterStatus
	OperationType string
	MinPriority   *Priority
	Limit         int
}

// DeadLetterUpdate describes a partial update to a dead letter entry.
type DeadLetterUpdate struct {
	Status          *DeadLetterStatus
	RetryCount      *int8
	ErrorMessage    *string
	Result          json.RawMessage
	ResolutionNotes *string
	ResolvedAt      *time.Time
}

// DeadLetterStats aggregates the dead letter store for dashboards.
type DeadLetterStats struct {
	Total           int64                      `json:"total"`
	ByStatus        map[DeadLetterStatus]int64 `json:"by_status"`
	ByOperationType map[string]int64           `json:"by_operation_type"`
	ByPriorityBand  map[string]int64           `json:"by_priority_band"`
	ByDay           map[string]int64           `json:"by_day"`
	OldestEntry     *time.Time                 `json:"oldest_entry,omitempty"`
	NewestEntry     *time.Time                 `json:"newest_entry,omitempty"`
}
