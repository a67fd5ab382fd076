package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Executor reprocesses a dead letter entry's original payload. It is the
// remediation counterpart of Handler: the dead letter store feeds it the
// preserved payload and stores whatever it returns.
type Executor func(ctx context.Context, entry *DeadLetterEntry) (json.RawMessage, error)

// NewRegistryExecutor adapts a handler registry into an Executor so dead
// letter retries run through the same business logic as live items.
func NewRegistryExecutor(registry *Registry) Executor {
	return func(ctx context.Context, entry *DeadLetterEntry) (json.RawMessage, error) {
		handler, err := registry.Resolve(entry.OperationType)
		if err != nil {
			return nil, err
		}
		return handler.Handle(ctx, entry.OriginalPayload)
	}
}

// DeadLetterStore manages terminally-failed work kept for manual or
// automatic remediation. Its lifecycle is independent from the live queue.
type DeadLetterStore struct {
	repo           DeadLetterRepository
	allowlist      []string
	maxAutoRetries int8
	markers        []string
	logger         *slog.Logger
}

// NewDeadLetterStore creates a dead letter store service.
func NewDeadLetterStore(repo DeadLetterRepository, opts ...DeadLetterOption) (*DeadLetterStore, error) {
	if repo == nil {
		return nil, ErrStorageNil
	}

	options := &deadLetterOptions{
		maxAutoRetries: 3,
		markers:        DefaultRetryableMarkers,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &DeadLetterStore{
		repo:           repo,
		allowlist:      options.allowlist,
		maxAutoRetries: options.maxAutoRetries,
		markers:        options.markers,
		logger:         options.logger,
	}, nil
}

// Add records a terminally-failed item.
func (s *DeadLetterStore) Add(ctx context.Context, entry *DeadLetterEntry) (uuid.UUID, error) {
	if entry == nil {
		return uuid.Nil, ErrEntryNotFound
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Status == "" {
		entry.Status = DeadLetterPendingReview
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if err := s.repo.AddEntry(ctx, entry); err != nil {
		return uuid.Nil, fmt.Errorf("failed to add dead letter entry for item %s: %w", entry.ItemID, err)
	}

	s.logger.Warn("item dead lettered",
		slog.String("entry_id", entry.ID.String()),
		slog.String("item_id", entry.ItemID.String()),
		slog.String("operation_type", entry.OperationType),
		slog.String("error_class", string(entry.ErrorClass)),
		slog.String("error", entry.ErrorMessage))

	return entry.ID, nil
}

// Get returns a single entry.
func (s *DeadLetterStore) Get(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error) {
	return s.repo.GetEntry(ctx, id)
}

// List returns entries matching the filter.
func (s *DeadLetterStore) List(ctx context.Context, filter DeadLetterFilter) ([]*DeadLetterEntry, error) {
	return s.repo.ListEntries(ctx, filter)
}

// Delete removes an entry. Entries are never deleted implicitly; this is an
// explicit operator action.
func (s *DeadLetterStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteEntry(ctx, id)
}

// Update applies a partial update to an entry. Resolved-entry immutability
// is enforced by the repositories.
func (s *DeadLetterStore) Update(ctx context.Context, id uuid.UUID, update DeadLetterUpdate) error {
	return s.repo.UpdateEntry(ctx, id, update)
}

// Stats aggregates the dead letter store.
func (s *DeadLetterStore) Stats(ctx context.Context) (*DeadLetterStats, error) {
	return s.repo.EntryStats(ctx)
}

// Retry reprocesses an entry through the executor. The entry transitions to
// retrying for the duration of the call, then to resolved on success or back
// to failed with an incremented retry count. The executor's error is
// returned to the caller so synchronous operator retries see the failure.
func (s *DeadLetterStore) Retry(ctx context.Context, id uuid.UUID, executor Executor) (json.RawMessage, error) {
	entry, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	switch entry.Status {
	case DeadLetterResolved:
		return nil, ErrEntryResolved
	case DeadLetterRetrying:
		return nil, ErrEntryRetrying
	}

	retrying := DeadLetterRetrying
	if err := s.repo.UpdateEntry(ctx, id, DeadLetterUpdate{Status: &retrying}); err != nil {
		return nil, fmt.Errorf("failed to mark entry %s as retrying: %w", id, err)
	}

	result, execErr := executor(ctx, entry)
	if execErr != nil {
		failed := DeadLetterFailed
		retryCount := entry.RetryCount + 1
		errMsg := execErr.Error()
		if err := s.repo.UpdateEntry(ctx, id, DeadLetterUpdate{
			Status:       &failed,
			RetryCount:   &retryCount,
			ErrorMessage: &errMsg,
		}); err != nil {
			s.logger.Error("failed to record dead letter retry failure",
				slog.String("entry_id", id.String()),
				slog.Any("error", err))
		}
		return nil, fmt.Errorf("dead letter retry for entry %s failed: %w", id, execErr)
	}

	resolved := DeadLetterResolved
	now := time.Now()
	if err := s.repo.UpdateEntry(ctx, id, DeadLetterUpdate{
		Status:     &resolved,
		Result:     result,
		ResolvedAt: &now,
	}); err != nil {
		return nil, fmt.Errorf("failed to resolve entry %s after retry: %w", id, err)
	}

	s.logger.Info("dead letter entry resolved via retry",
		slog.String("entry_id", id.String()),
		slog.String("operation_type", entry.OperationType))

	return result, nil
}

// Resolve closes an entry manually. Resolving an already-resolved entry is
// rejected so an entry can never be double-resolved.
func (s *DeadLetterStore) Resolve(ctx context.Context, id uuid.UUID, notes string) error {
	entry, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status == DeadLetterResolved {
		return ErrEntryResolved
	}

	resolved := DeadLetterResolved
	now := time.Now()
	if err := s.repo.UpdateEntry(ctx, id, DeadLetterUpdate{
		Status:          &resolved,
		ResolutionNotes: &notes,
		ResolvedAt:      &now,
	}); err != nil {
		return fmt.Errorf("failed to resolve entry %s: %w", id, err)
	}

	s.logger.Info("dead letter entry resolved manually",
		slog.String("entry_id", id.String()),
		slog.String("operation_type", entry.OperationType))

	return nil
}

// CanAutoRetry reports whether the automatic sweep may touch an entry:
// the operation type must be allow-listed, the recorded error must match a
// retryable marker, and the auto-retry budget must not be spent. Everything
// else requires manual resolution.
func (s *DeadLetterStore) CanAutoRetry(entry *DeadLetterEntry) bool {
	if entry == nil {
		return false
	}
	if entry.Status == DeadLetterResolved || entry.Status == DeadLetterRetrying {
		return false
	}
	if !slices.Contains(s.allowlist, entry.OperationType) {
		return false
	}
	if entry.RetryCount >= s.maxAutoRetries {
		return false
	}

	if entry.ErrorClass == ErrorClassTransient || entry.ErrorClass == ErrorClassExhausted {
		return true
	}
	msg := strings.ToLower(entry.ErrorMessage)
	for _, marker := range s.markers {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// Sweep runs one automatic remediation pass: every eligible entry is retried
// through the executor. Failures are swallowed and logged; the next sweep
// will pick the entry up again while budget remains. Returns the number of
// entries resolved.
func (s *DeadLetterStore) Sweep(ctx context.Context, executor Executor) (int, error) {
	entries, err := s.repo.ListEntries(ctx, DeadLetterFilter{})
	if err != nil {
		return 0, fmt.Errorf("failed to list dead letter entries for sweep: %w", err)
	}

	resolved := 0
	for _, entry := range entries {
		if !s.CanAutoRetry(entry) {
			continue
		}
		if _, err := s.Retry(ctx, entry.ID, executor); err != nil {
			s.logger.Warn("automatic dead letter retry failed",
				slog.String("entry_id", entry.ID.String()),
				slog.String("operation_type", entry.OperationType),
				slog.Any("error", err))
			continue
		}
		resolved++
	}
	return resolved, nil
}
