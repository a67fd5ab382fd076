package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enqueuer adds work items to the queue.
type Enqueuer struct {
	repo            EnqueuerRepository
	defaultPriority Priority
	maxRetries      int8
}

// NewEnqueuer creates a new Enqueuer.
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrStorageNil
	}

	options := &enqueuerOptions{
		defaultPriority: PriorityDefault,
		maxRetries:      3,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		repo:            repo,
		defaultPriority: options.defaultPriority,
		maxRetries:      options.maxRetries,
	}, nil
}

// Enqueue adds a new item to the queue and returns its id.
func (e *Enqueuer) Enqueue(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (uuid.UUID, error) {
	if jobType == "" {
		return uuid.Nil, ErrJobTypeEmpty
	}
	if payload == nil {
		return uuid.Nil, ErrPayloadNil
	}

	options := &enqueueOptions{
		priority:   e.defaultPriority,
		maxRetries: e.maxRetries,
	}
	for _, opt := range opts {
		opt(options)
	}

	if !options.priority.Valid() {
		return uuid.Nil, ErrInvalidPriority
	}

	item, err := buildItem(jobType, payload, options)
	if err != nil {
		return uuid.Nil, err
	}

	if err := e.repo.CreateItem(ctx, item); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create %q item: %w", jobType, err)
	}
	return item.ID, nil
}

// EnqueueHighPriority enqueues an item at high priority.
func (e *Enqueuer) EnqueueHighPriority(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (uuid.UUID, error) {
	return e.Enqueue(ctx, jobType, payload, append(opts, WithPriority(PriorityHigh))...)
}

// EnqueueLowPriority enqueues an item at low priority.
func (e *Enqueuer) EnqueueLowPriority(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (uuid.UUID, error) {
	return e.Enqueue(ctx, jobType, payload, append(opts, WithPriority(PriorityLow))...)
}

// EnqueueIn enqueues an item that becomes eligible after the given delay.
func (e *Enqueuer) EnqueueIn(ctx context.Context, delay time.Duration, jobType string, payload any, opts ...EnqueueOption) (uuid.UUID, error) {
	return e.Enqueue(ctx, jobType, payload, append(opts, WithDelay(delay))...)
}

func buildItem(jobType string, payload any, options *enqueueOptions) (*Item, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
	}

	now := time.Now()
	scheduledAt := now
	if options.scheduledAt != nil {
		scheduledAt = *options.scheduledAt
	} else if options.delay > 0 {
		scheduledAt = scheduledAt.Add(options.delay)
	}

	return &Item{
		ID:          uuid.New(),
		Type:        jobType,
		Payload:     payloadBytes,
		Status:      StatusPending,
		Priority:    options.priority,
		ScheduledAt: scheduledAt,
		RetryCount:  0,
		MaxRetries:  options.maxRetries,
		UserID:      options.userID,
		CreatedAt:   now,
	}, nil
}
