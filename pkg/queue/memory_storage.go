package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements every queue repository interface for testing and
// local development. A background goroutine releases expired claims so items
// locked by a crashed worker become eligible again.
type MemoryStorage struct {
	mu      sync.RWMutex
	items   map[uuid.UUID]*Item
	entries map[uuid.UUID]*DeadLetterEntry

	byStatus map[Status][]uuid.UUID

	lockTicker *time.Ticker
	done       chan struct{}
}

// NewMemoryStorage creates a new in-memory storage implementation.
func NewMemoryStorage() *MemoryStorage {
	ms := &MemoryStorage{
		items:    make(map[uuid.UUID]*Item),
		entries:  make(map[uuid.UUID]*DeadLetterEntry),
		byStatus: make(map[Status][]uuid.UUID),
		done:     make(chan struct{}),
	}

	ms.lockTicker = time.NewTicker(time.Second)
	go ms.lockExpirationLoop()

	return ms
}

// Close stops the background lock expiration goroutine.
func (ms *MemoryStorage) Close() error {
	close(ms.done)
	ms.lockTicker.Stop()
	return nil
}

// CreateItem implements EnqueuerRepository and SchedulerRepository.
func (ms *MemoryStorage) CreateItem(ctx context.Context, item *Item) error {
	if item == nil {
		return ErrItemNotFound
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.items[item.ID]; exists {
		return fmt.Errorf("item %s already exists", item.ID)
	}

	itemCopy := *item
	ms.items[item.ID] = &itemCopy
	ms.byStatus[item.Status] = append(ms.byStatus[item.Status], item.ID)
	return nil
}

// FetchBatch implements ProcessorRepository. Items are ordered by priority
// desc then creation time asc and restricted to ScheduledAt <= now. Paused
// items have their own status and are therefore never selected for pending
// fetches.
func (ms *MemoryStorage) FetchBatch(ctx context.Context, filter BatchFilter) ([]*Item, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	status := filter.Status
	if status == "" {
		status = StatusPending
	}

	now := time.Now()
	eligible := make([]*Item, 0, filter.Limit)
	for _, id := range ms.byStatus[status] {
		item := ms.items[id]
		if status == StatusPending && item.ScheduledAt.After(now) {
			continue
		}
		if filter.UserID != nil && (item.UserID == nil || *item.UserID != *filter.UserID) {
			continue
		}
		eligible = append(eligible, item)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	if filter.Limit > 0 && len(eligible) > filter.Limit {
		eligible = eligible[:filter.Limit]
	}

	out := make([]*Item, len(eligible))
	for i, item := range eligible {
		itemCopy := *item
		out[i] = &itemCopy
	}
	return out, nil
}

// ClaimItem implements ProcessorRepository. The pending check and the
// transition happen under one lock, so exactly one concurrent claimer wins.
func (ms *MemoryStorage) ClaimItem(ctx context.Context, itemID, workerID uuid.UUID, lockDuration time.Duration) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	item, exists := ms.items[itemID]
	if !exists {
		return false, ErrItemNotFound
	}
	if item.Status != StatusPending {
		return false, nil
	}

	now := time.Now()
	lockUntil := now.Add(lockDuration)
	ms.moveStatus(itemID, item.Status, StatusProcessing)
	item.Status = StatusProcessing
	item.LockedUntil = &lockUntil
	item.LockedBy = &workerID
	item.ProcessingStartedAt = &now
	return true, nil
}

// UpdateItem implements ProcessorRepository.
func (ms *MemoryStorage) UpdateItem(ctx context.Context, itemID uuid.UUID, update ItemUpdate) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	item, exists := ms.items[itemID]
	if !exists {
		return ErrItemNotFound
	}

	if update.Status != nil && *update.Status != item.Status {
		ms.moveStatus(itemID, item.Status, *update.Status)
		item.Status = *update.Status
	}
	if update.Priority != nil {
		item.Priority = *update.Priority
	}
	if update.ScheduledAt != nil {
		item.ScheduledAt = *update.ScheduledAt
	}
	if update.RetryCount != nil {
		item.RetryCount = *update.RetryCount
	}
	if update.Result != nil {
		item.Result = update.Result
	}
	if update.LastError != nil {
		item.LastError = update.LastError
	}
	if update.ProcessingStartedAt != nil {
		item.ProcessingStartedAt = update.ProcessingStartedAt
	}
	if update.ProcessingCompletedAt != nil {
		item.ProcessingCompletedAt = update.ProcessingCompletedAt
	}
	if update.ClearLock {
		item.LockedUntil = nil
		item.LockedBy = nil
	}
	return nil
}

// GetItem returns a copy of one item.
func (ms *MemoryStorage) GetItem(ctx context.Context, itemID uuid.UUID) (*Item, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	item, exists := ms.items[itemID]
	if !exists {
		return nil, ErrItemNotFound
	}
	itemCopy := *item
	return &itemCopy, nil
}

// GetPendingItemByType implements SchedulerRepository.
func (ms *MemoryStorage) GetPendingItemByType(ctx context.Context, jobType string) (*Item, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, status := range []Status{StatusPending, StatusProcessing} {
		for _, id := range ms.byStatus[status] {
			if item := ms.items[id]; item.Type == jobType {
				itemCopy := *item
				return &itemCopy, nil
			}
		}
	}
	return nil, nil
}

// AggregateStats implements MonitorRepository.
func (ms *MemoryStorage) AggregateStats(ctx context.Context, filter *StatsFilter) (*Stats, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	stats := &Stats{
		ByStatus:       make(map[Status]int64),
		ByPriorityBand: make(map[string]int64),
	}

	now := time.Now()
	var oldestPending *time.Time
	var processingSum time.Duration
	var processingCount int64

	for _, item := range ms.items {
		if filter != nil && filter.UserID != nil && (item.UserID == nil || *item.UserID != *filter.UserID) {
			continue
		}

		stats.Total++
		stats.ByStatus[item.Status]++
		stats.ByPriorityBand[item.Priority.Band()]++

		if item.Status == StatusPending && (oldestPending == nil || item.CreatedAt.Before(*oldestPending)) {
			createdAt := item.CreatedAt
			oldestPending = &createdAt
		}
		if item.ProcessingStartedAt != nil && item.ProcessingCompletedAt != nil {
			processingSum += item.ProcessingCompletedAt.Sub(*item.ProcessingStartedAt)
			processingCount++
		}
	}

	if oldestPending != nil {
		stats.OldestPendingAge = now.Sub(*oldestPending)
	}
	if processingCount > 0 {
		stats.AvgProcessingTime = processingSum / time.Duration(processingCount)
	}
	return stats, nil
}

// DeleteOlderThan implements Storage.
func (ms *MemoryStorage) DeleteOlderThan(ctx context.Context, age time.Duration, statuses []Status) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := time.Now().Add(-age)
	var removed int64
	for id, item := range ms.items {
		if item.CreatedAt.After(cutoff) {
			continue
		}
		for _, status := range statuses {
			if item.Status == status {
				ms.removeFromStatusIndex(id, status)
				delete(ms.items, id)
				removed++
				break
			}
		}
	}
	return removed, nil
}

// AddEntry implements DeadLetterRepository.
func (ms *MemoryStorage) AddEntry(ctx context.Context, entry *DeadLetterEntry) error {
	if entry == nil {
		return ErrEntryNotFound
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.entries[entry.ID]; exists {
		return fmt.Errorf("dead letter entry %s already exists", entry.ID)
	}
	entryCopy := *entry
	ms.entries[entry.ID] = &entryCopy
	return nil
}

// GetEntry implements DeadLetterRepository.
func (ms *MemoryStorage) GetEntry(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	entry, exists := ms.entries[id]
	if !exists {
		return nil, ErrEntryNotFound
	}
	entryCopy := *entry
	return &entryCopy, nil
}

// ListEntries implements DeadLetterRepository. Entries are ordered newest
// first.
func (ms *MemoryStorage) ListEntries(ctx context.Context, filter DeadLetterFilter) ([]*DeadLetterEntry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]*DeadLetterEntry, 0, len(ms.entries))
	for _, entry := range ms.entries {
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		if filter.OperationType != "" && entry.OperationType != filter.OperationType {
			continue
		}
		if filter.MinPriority != nil && entry.Priority < *filter.MinPriority {
			continue
		}
		entryCopy := *entry
		out = append(out, &entryCopy)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateEntry implements DeadLetterRepository. Resolved entries are
// immutable except for resolution notes.
func (ms *MemoryStorage) UpdateEntry(ctx context.Context, id uuid.UUID, update DeadLetterUpdate) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, exists := ms.entries[id]
	if !exists {
		return ErrEntryNotFound
	}
	if entry.Status == DeadLetterResolved {
		if update.ResolutionNotes != nil {
			entry.ResolutionNotes = *update.ResolutionNotes
		}
		return nil
	}

	if update.Status != nil {
		entry.Status = *update.Status
	}
	if update.RetryCount != nil {
		entry.RetryCount = *update.RetryCount
	}
	if update.ErrorMessage != nil {
		entry.ErrorMessage = *update.ErrorMessage
		entry.ErrorCount++
	}
	if update.Result != nil {
		entry.Result = update.Result
	}
	if update.ResolutionNotes != nil {
		entry.ResolutionNotes = *update.ResolutionNotes
	}
	if update.ResolvedAt != nil {
		entry.ResolvedAt = update.ResolvedAt
	}
	return nil
}

// DeleteEntry implements DeadLetterRepository.
func (ms *MemoryStorage) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.entries[id]; !exists {
		return ErrEntryNotFound
	}
	delete(ms.entries, id)
	return nil
}

// EntryStats implements DeadLetterRepository.
func (ms *MemoryStorage) EntryStats(ctx context.Context) (*DeadLetterStats, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	stats := &DeadLetterStats{
		ByStatus:        make(map[DeadLetterStatus]int64),
		ByOperationType: make(map[string]int64),
		ByPriorityBand:  make(map[string]int64),
		ByDay:           make(map[string]int64),
	}

	for _, entry := range ms.entries {
		stats.Total++
		stats.ByStatus[entry.Status]++
		stats.ByOperationType[entry.OperationType]++
		stats.ByPriorityBand[entry.Priority.Band()]++
		stats.ByDay[entry.CreatedAt.Format("2006-01-02")]++

		createdAt := entry.CreatedAt
		if stats.OldestEntry == nil || createdAt.Before(*stats.OldestEntry) {
			stats.OldestEntry = &createdAt
		}
		if stats.NewestEntry == nil || createdAt.After(*stats.NewestEntry) {
			stats.NewestEntry = &createdAt
		}
	}
	return stats, nil
}

func (ms *MemoryStorage) moveStatus(itemID uuid.UUID, from, to Status) {
	ms.removeFromStatusIndex(itemID, from)
	ms.byStatus[to] = append(ms.byStatus[to], itemID)
}

func (ms *MemoryStorage) removeFromStatusIndex(itemID uuid.UUID, status Status) {
	ids := ms.byStatus[status]
	for i, id := range ids {
		if id == itemID {
			ms.byStatus[status] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// lockExpirationLoop recovers items claimed by dead workers: processing
// items whose lock has expired go back to pending with their retry history
// intact.
func (ms *MemoryStorage) lockExpirationLoop() {
	for {
		select {
		case <-ms.lockTicker.C:
			ms.expireLocks()
		case <-ms.done:
			return
		}
	}
}

func (ms *MemoryStorage) expireLocks() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	expired := make([]uuid.UUID, 0)
	for _, id := range ms.byStatus[StatusProcessing] {
		item := ms.items[id]
		if item.LockedUntil != nil && item.LockedUntil.Before(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		item := ms.items[id]
		ms.moveStatus(id, StatusProcessing, StatusPending)
		item.Status = StatusPending
		item.LockedUntil = nil
		item.LockedBy = nil
	}
}
