package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisItemPrefix   = "queue:item:"
	redisStatusPrefix = "queue:status:"
	redisScheduledKey = "queue:scheduled"
)

// claimScript atomically flips a pending item to processing. The JSON
// document, the status sets and the scheduling zset are mutated in one
// server-side step so concurrent claimers cannot both win.
var claimScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return -1
end
local item = cjson.decode(raw)
if item.status ~= 'pending' then
	return 0
end
item.status = 'processing'
item.locked_by = ARGV[1]
item.locked_until = ARGV[2]
item.processing_started_at = ARGV[3]
redis.call('SET', KEYS[1], cjson.encode(item))
redis.call('SREM', KEYS[2], ARGV[4])
redis.call('SADD', KEYS[3], ARGV[4])
redis.call('ZREM', KEYS[4], ARGV[4])
return 1
`)

// RedisStorage implements the live-queue repositories on Redis. Pending
// eligibility is tracked in a zset scored by the scheduled time; item
// documents live as JSON values keyed by id. The dead letter store is not
// served by this implementation; pair it with MemoryStorage or
// PostgresStorage for remediation state.
type RedisStorage struct {
	client *redis.Client
}

// NewRedisStorage creates a Redis-backed storage.
func NewRedisStorage(client *redis.Client) (*RedisStorage, error) {
	if client == nil {
		return nil, ErrStorageNil
	}
	return &RedisStorage{client: client}, nil
}

// CreateItem implements EnqueuerRepository.
func (rs *RedisStorage) CreateItem(ctx context.Context, item *Item) error {
	if item == nil {
		return ErrItemNotFound
	}

	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item %s: %w", item.ID, err)
	}

	key := redisItemPrefix + item.ID.String()
	ok, err := rs.client.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store item %s: %w", item.ID, err)
	}
	if !ok {
		return fmt.Errorf("item %s already exists", item.ID)
	}

	pipe := rs.client.TxPipeline()
	pipe.SAdd(ctx, redisStatusPrefix+string(item.Status), item.ID.String())
	if item.Status == StatusPending {
		pipe.ZAdd(ctx, redisScheduledKey, redis.Z{
			Score:  float64(item.ScheduledAt.UnixMilli()),
			Member: item.ID.String(),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index item %s: %w", item.ID, err)
	}
	return nil
}

// FetchBatch implements ProcessorRepository.
func (rs *RedisStorage) FetchBatch(ctx context.Context, filter BatchFilter) ([]*Item, error) {
	status := filter.Status
	if status == "" {
		status = StatusPending
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	var ids []string
	var err error
	if status == StatusPending {
		// Over-fetch so the in-memory priority sort still has enough
		// candidates after filtering.
		ids, err = rs.client.ZRangeByScore(ctx, redisScheduledKey, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   fmt.Sprintf("%d", time.Now().UnixMilli()),
			Count: int64(limit * 4),
		}).Result()
	} else {
		ids, err = rs.client.SMembers(ctx, redisStatusPrefix+string(status)).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s items: %w", status, err)
	}

	items, err := rs.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	eligible := items[:0]
	for _, item := range items {
		if item.Status != status {
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

	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

// ClaimItem implements ProcessorRepository.
func (rs *RedisStorage) ClaimItem(ctx context.Context, itemID, workerID uuid.UUID, lockDuration time.Duration) (bool, error) {
	now := time.Now()
	res, err := claimScript.Run(ctx, rs.client,
		[]string{
			redisItemPrefix + itemID.String(),
			redisStatusPrefix + string(StatusPending),
			redisStatusPrefix + string(StatusProcessing),
			redisScheduledKey,
		},
		workerID.String(),
		now.Add(lockDuration).Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		itemID.String(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to claim item %s: %w", itemID, err)
	}
	if res == -1 {
		return false, ErrItemNotFound
	}
	return res == 1, nil
}

// UpdateItem implements ProcessorRepository. Post-claim updates are
// single-owner, so a read-modify-write is sufficient here.
func (rs *RedisStorage) UpdateItem(ctx context.Context, itemID uuid.UUID, update ItemUpdate) error {
	item, err := rs.GetItem(ctx, itemID)
	if err != nil {
		return err
	}

	oldStatus := item.Status
	if update.Status != nil {
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

	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item %s: %w", itemID, err)
	}

	pipe := rs.client.TxPipeline()
	pipe.Set(ctx, redisItemPrefix+itemID.String(), raw, 0)
	if item.Status != oldStatus {
		pipe.SRem(ctx, redisStatusPrefix+string(oldStatus), itemID.String())
		pipe.SAdd(ctx, redisStatusPrefix+string(item.Status), itemID.String())
	}
	if item.Status == StatusPending {
		pipe.ZAdd(ctx, redisScheduledKey, redis.Z{
			Score:  float64(item.ScheduledAt.UnixMilli()),
			Member: itemID.String(),
		})
	} else {
		pipe.ZRem(ctx, redisScheduledKey, itemID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update item %s: %w", itemID, err)
	}
	return nil
}

// GetItem returns one item.
func (rs *RedisStorage) GetItem(ctx context.Context, itemID uuid.UUID) (*Item, error) {
	raw, err := rs.client.Get(ctx, redisItemPrefix+itemID.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to load item %s: %w", itemID, err)
	}

	item := &Item{}
	if err := json.Unmarshal(raw, item); err != nil {
		return nil, fmt.Errorf("failed to decode item %s: %w", itemID, err)
	}
	return item, nil
}

// AggregateStats implements MonitorRepository.
func (rs *RedisStorage) AggregateStats(ctx context.Context, filter *StatsFilter) (*Stats, error) {
	stats := &Stats{
		ByStatus:       make(map[Status]int64),
		ByPriorityBand: make(map[string]int64),
	}

	now := time.Now()
	var oldestPending *time.Time
	var processingSum time.Duration
	var processingCount int64

	for _, status := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusPaused} {
		ids, err := rs.client.SMembers(ctx, redisStatusPrefix+string(status)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list %s items: %w", status, err)
		}
		items, err := rs.loadItems(ctx, ids)
		if err != nil {
			return nil, err
		}

		for _, item := range items {
			if filter != nil && filter.UserID != nil && (item.UserID == nil || *item.UserID != *filter.UserID) {
				continue
			}
			stats.Total++
			stats.ByStatus[status]++
			stats.ByPriorityBand[item.Priority.Band()]++

			if status == StatusPending && (oldestPending == nil || item.CreatedAt.Before(*oldestPending)) {
				createdAt := item.CreatedAt
				oldestPending = &createdAt
			}
			if item.ProcessingStartedAt != nil && item.ProcessingCompletedAt != nil {
				processingSum += item.ProcessingCompletedAt.Sub(*item.ProcessingStartedAt)
				processingCount++
			}
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
func (rs *RedisStorage) DeleteOlderThan(ctx context.Context, age time.Duration, statuses []Status) (int64, error) {
	cutoff := time.Now().Add(-age)
	var removed int64

	for _, status := range statuses {
		ids, err := rs.client.SMembers(ctx, redisStatusPrefix+string(status)).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to list %s items: %w", status, err)
		}
		items, err := rs.loadItems(ctx, ids)
		if err != nil {
			return removed, err
		}

		for _, item := range items {
			if item.CreatedAt.After(cutoff) || item.Status != status {
				continue
			}
			pipe := rs.client.TxPipeline()
			pipe.Del(ctx, redisItemPrefix+item.ID.String())
			pipe.SRem(ctx, redisStatusPrefix+string(status), item.ID.String())
			pipe.ZRem(ctx, redisScheduledKey, item.ID.String())
			if _, err := pipe.Exec(ctx); err != nil {
				return removed, fmt.Errorf("failed to delete item %s: %w", item.ID, err)
			}
			removed++
		}
	}
	return removed, nil
}

func (rs *RedisStorage) loadItems(ctx context.Context, ids []string) ([]*Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisItemPrefix + id
	}

	raws, err := rs.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}

	items := make([]*Item, 0, len(raws))
	for _, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			continue // evicted between listing and load
		}
		item := &Item{}
		if err := json.Unmarshal([]byte(s), item); err != nil {
			return nil, fmt.Errorf("failed to decode item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}
