package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS queue_items (
	id                      UUID PRIMARY KEY,
	type                    TEXT NOT NULL,
	payload                 JSONB,
	result                  JSONB,
	status                  TEXT NOT NULL,
	priority                SMALLINT NOT NULL DEFAULT 50,
	scheduled_at            TIMESTAMPTZ NOT NULL,
	retry_count             SMALLINT NOT NULL DEFAULT 0,
	max_retries             SMALLINT NOT NULL DEFAULT 3,
	last_error              TEXT,
	processing_started_at   TIMESTAMPTZ,
	processing_completed_at TIMESTAMPTZ,
	locked_until            TIMESTAMPTZ,
	locked_by               UUID,
	user_id                 UUID,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_queue_items_fetch
	ON queue_items (status, scheduled_at, priority DESC, created_at);

CREATE TABLE IF NOT EXISTS queue_dead_letters (
	id               UUID PRIMARY KEY,
	item_id          UUID NOT NULL,
	operation_type   TEXT NOT NULL,
	original_payload JSONB,
	error_message    TEXT NOT NULL DEFAULT '',
	error_class      TEXT NOT NULL DEFAULT 'permanent',
	error_count      INTEGER NOT NULL DEFAULT 1,
	user_id          UUID,
	priority         SMALLINT NOT NULL DEFAULT 50,
	status           TEXT NOT NULL DEFAULT 'pending_review',
	retry_count      SMALLINT NOT NULL DEFAULT 0,
	result           JSONB,
	resolution_notes TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_queue_dead_letters_status
	ON queue_dead_letters (status, created_at DESC);
`

const itemColumns = `id, type, payload, result, status, priority, scheduled_at,
	retry_count, max_retries, last_error, processing_started_at,
	processing_completed_at, locked_until, locked_by, user_id, created_at`

const entryColumns = `id, item_id, operation_type, original_payload, error_message,
	error_class, error_count, user_id, priority, status, retry_count, result,
	resolution_notes, created_at, resolved_at`

// PostgresStorage implements every queue repository interface on top of a
// pgx connection pool. Claims rely on a conditional UPDATE so concurrent
// processors on a shared database never double-claim one item.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a Postgres-backed storage.
func NewPostgresStorage(pool *pgxpool.Pool) (*PostgresStorage, error) {
	if pool == nil {
		return nil, ErrStorageNil
	}
	return &PostgresStorage{pool: pool}, nil
}

// Migrate creates the queue tables if they do not exist.
func (ps *PostgresStorage) Migrate(ctx context.Context) error {
	if _, err := ps.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply queue schema: %w", err)
	}
	return nil
}

// CreateItem implements EnqueuerRepository and SchedulerRepository.
func (ps *PostgresStorage) CreateItem(ctx context.Context, item *Item) error {
	if item == nil {
		return ErrItemNotFound
	}

	_, err := ps.pool.Exec(ctx, `
		INSERT INTO queue_items (id, type, payload, status, priority,
			scheduled_at, retry_count, max_retries, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		item.ID, item.Type, item.Payload, item.Status, item.Priority,
		item.ScheduledAt, item.RetryCount, item.MaxRetries, item.UserID, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert item %s: %w", item.ID, err)
	}
	return nil
}

// FetchBatch implements ProcessorRepository.
func (ps *PostgresStorage) FetchBatch(ctx context.Context, filter BatchFilter) ([]*Item, error) {
	status := filter.Status
	if status == "" {
		status = StatusPending
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT ` + itemColumns + `
		FROM queue_items
		WHERE status = $1 AND scheduled_at <= now()`
	args := []any{status}
	if filter.UserID != nil {
		query += ` AND user_id = $2`
		args = append(args, *filter.UserID)
	}
	query += fmt.Sprintf(` ORDER BY priority DESC, created_at ASC LIMIT %d`, limit)

	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch batch: %w", err)
	}
	defer rows.Close()

	items := make([]*Item, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ClaimItem implements ProcessorRepository via a conditional update: the
// number of affected rows decides the claim race.
func (ps *PostgresStorage) ClaimItem(ctx context.Context, itemID, workerID uuid.UUID, lockDuration time.Duration) (bool, error) {
	tag, err := ps.pool.Exec(ctx, `
		UPDATE queue_items
		SET status = $2,
			locked_by = $3,
			locked_until = now() + $4,
			processing_started_at = now()
		WHERE id = $1 AND status = $5`,
		itemID, StatusProcessing, workerID, lockDuration, StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim item %s: %w", itemID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateItem implements ProcessorRepository.
func (ps *PostgresStorage) UpdateItem(ctx context.Context, itemID uuid.UUID, update ItemUpdate) error {
	set := make([]string, 0, 8)
	args := []any{itemID}

	add := func(expr string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf(expr, len(args)))
	}

	if update.Status != nil {
		add("status = $%d", *update.Status)
	}
	if update.Priority != nil {
		add("priority = $%d", *update.Priority)
	}
	if update.ScheduledAt != nil {
		add("scheduled_at = $%d", *update.ScheduledAt)
	}
	if update.RetryCount != nil {
		add("retry_count = $%d", *update.RetryCount)
	}
	if update.Result != nil {
		add("result = $%d", update.Result)
	}
	if update.LastError != nil {
		add("last_error = $%d", *update.LastError)
	}
	if update.ProcessingStartedAt != nil {
		add("processing_started_at = $%d", *update.ProcessingStartedAt)
	}
	if update.ProcessingCompletedAt != nil {
		add("processing_completed_at = $%d", *update.ProcessingCompletedAt)
	}
	if update.ClearLock {
		set = append(set, "locked_until = NULL", "locked_by = NULL")
	}
	if len(set) == 0 {
		return nil
	}

	query := "UPDATE queue_items SET "
	for i, s := range set {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += " WHERE id = $1"

	tag, err := ps.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update item %s: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// GetItem returns one item.
func (ps *PostgresStorage) GetItem(ctx context.Context, itemID uuid.UUID) (*Item, error) {
	row := ps.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = $1`, itemID)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// GetPendingItemByType implements SchedulerRepository.
func (ps *PostgresStorage) GetPendingItemByType(ctx context.Context, jobType string) (*Item, error) {
	row := ps.pool.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM queue_items
		WHERE type = $1 AND status IN ($2, $3)
		LIMIT 1`,
		jobType, StatusPending, StatusProcessing)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

// ReleaseExpiredLocks returns processing items with expired claims to
// pending; the counterpart of MemoryStorage's background expiration for
// deployments where a janitor job drives recovery.
func (ps *PostgresStorage) ReleaseExpiredLocks(ctx context.Context) (int64, error) {
	tag, err := ps.pool.Exec(ctx, `
		UPDATE queue_items
		SET status = $1, locked_until = NULL, locked_by = NULL
		WHERE status = $2 AND locked_until < now()`,
		StatusPending, StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to release expired locks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AggregateStats implements MonitorRepository.
func (ps *PostgresStorage) AggregateStats(ctx context.Context, filter *StatsFilter) (*Stats, error) {
	where := ""
	args := []any{}
	if filter != nil && filter.UserID != nil {
		where = " WHERE user_id = $1"
		args = append(args, *filter.UserID)
	}

	stats := &Stats{
		ByStatus:       make(map[Status]int64),
		ByPriorityBand: make(map[string]int64),
	}

	rows, err := ps.pool.Query(ctx, `
		SELECT status,
			CASE WHEN priority < 34 THEN 'low'
			     WHEN priority < 67 THEN 'medium'
			     ELSE 'high' END AS band,
			count(*)
		FROM queue_items`+where+`
		GROUP BY 1, 2`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status Status
		var band string
		var count int64
		if err := rows.Scan(&status, &band, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] += count
		stats.ByPriorityBand[band] += count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldestPending, avgProcessing *float64
	err = ps.pool.QueryRow(ctx, `
		SELECT
			extract(epoch FROM now() - min(created_at)) FILTER (WHERE status = 'pending'),
			extract(epoch FROM avg(processing_completed_at - processing_started_at))
		FROM queue_items`+where, args...).Scan(&oldestPending, &avgProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate queue timings: %w", err)
	}
	if oldestPending != nil {
		stats.OldestPendingAge = time.Duration(*oldestPending * float64(time.Second))
	}
	if avgProcessing != nil {
		stats.AvgProcessingTime = time.Duration(*avgProcessing * float64(time.Second))
	}
	return stats, nil
}

// DeleteOlderThan implements Storage.
func (ps *PostgresStorage) DeleteOlderThan(ctx context.Context, age time.Duration, statuses []Status) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	tag, err := ps.pool.Exec(ctx, `
		DELETE FROM queue_items
		WHERE created_at < now() - $1 AND status = ANY($2)`,
		age, names)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AddEntry implements DeadLetterRepository.
func (ps *PostgresStorage) AddEntry(ctx context.Context, entry *DeadLetterEntry) error {
	if entry == nil {
		return ErrEntryNotFound
	}

	_, err := ps.pool.Exec(ctx, `
		INSERT INTO queue_dead_letters (id, item_id, operation_type,
			original_payload, error_message, error_class, error_count,
			user_id, priority, status, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.ItemID, entry.OperationType, entry.OriginalPayload,
		entry.ErrorMessage, entry.ErrorClass, entry.ErrorCount, entry.UserID,
		entry.Priority, entry.Status, entry.RetryCount, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter entry %s: %w", entry.ID, err)
	}
	return nil
}

// GetEntry implements DeadLetterRepository.
func (ps *PostgresStorage) GetEntry(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error) {
	row := ps.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM queue_dead_letters WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

// ListEntries implements DeadLetterRepository.
func (ps *PostgresStorage) ListEntries(ctx context.Context, filter DeadLetterFilter) ([]*DeadLetterEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_dead_letters WHERE true`
	args := []any{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.OperationType != "" {
		args = append(args, filter.OperationType)
		query += fmt.Sprintf(" AND operation_type = $%d", len(args))
	}
	if filter.MinPriority != nil {
		args = append(args, *filter.MinPriority)
		query += fmt.Sprintf(" AND priority >= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*DeadLetterEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UpdateEntry implements DeadLetterRepository. Resolved entries only accept
// resolution note updates.
func (ps *PostgresStorage) UpdateEntry(ctx context.Context, id uuid.UUID, update DeadLetterUpdate) error {
	current, err := ps.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == DeadLetterResolved {
		if update.ResolutionNotes == nil {
			return nil
		}
		_, err := ps.pool.Exec(ctx,
			`UPDATE queue_dead_letters SET resolution_notes = $2 WHERE id = $1`,
			id, *update.ResolutionNotes)
		return err
	}

	set := make([]string, 0, 6)
	args := []any{id}
	add := func(expr string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf(expr, len(args)))
	}

	if update.Status != nil {
		add("status = $%d", *update.Status)
	}
	if update.RetryCount != nil {
		add("retry_count = $%d", *update.RetryCount)
	}
	if update.ErrorMessage != nil {
		add("error_message = $%d", *update.ErrorMessage)
		set = append(set, "error_count = error_count + 1")
	}
	if update.Result != nil {
		add("result = $%d", update.Result)
	}
	if update.ResolutionNotes != nil {
		add("resolution_notes = $%d", *update.ResolutionNotes)
	}
	if update.ResolvedAt != nil {
		add("resolved_at = $%d", *update.ResolvedAt)
	}
	if len(set) == 0 {
		return nil
	}

	query := "UPDATE queue_dead_letters SET "
	for i, s := range set {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += " WHERE id = $1"

	if _, err := ps.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update dead letter entry %s: %w", id, err)
	}
	return nil
}

// DeleteEntry implements DeadLetterRepository.
func (ps *PostgresStorage) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM queue_dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dead letter entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// EntryStats implements DeadLetterRepository.
func (ps *PostgresStorage) EntryStats(ctx context.Context) (*DeadLetterStats, error) {
	stats := &DeadLetterStats{
		ByStatus:        make(map[DeadLetterStatus]int64),
		ByOperationType: make(map[string]int64),
		ByPriorityBand:  make(map[string]int64),
		ByDay:           make(map[string]int64),
	}

	rows, err := ps.pool.Query(ctx, `
		SELECT status, operation_type,
			CASE WHEN priority < 34 THEN 'low'
			     WHEN priority < 67 THEN 'medium'
			     ELSE 'high' END AS band,
			to_char(created_at, 'YYYY-MM-DD') AS day,
			count(*)
		FROM queue_dead_letters
		GROUP BY 1, 2, 3, 4`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate dead letter stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status DeadLetterStatus
		var opType, band, day string
		var count int64
		if err := rows.Scan(&status, &opType, &band, &day, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] += count
		stats.ByOperationType[opType] += count
		stats.ByPriorityBand[band] += count
		stats.ByDay[day] += count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := ps.pool.QueryRow(ctx,
		`SELECT min(created_at), max(created_at) FROM queue_dead_letters`).
		Scan(&stats.OldestEntry, &stats.NewestEntry); err != nil {
		return nil, fmt.Errorf("failed to read dead letter entry range: %w", err)
	}
	return stats, nil
}

func scanItem(row pgx.Row) (*Item, error) {
	item := &Item{}
	err := row.Scan(&item.ID, &item.Type, &item.Payload, &item.Result,
		&item.Status, &item.Priority, &item.ScheduledAt, &item.RetryCount,
		&item.MaxRetries, &item.LastError, &item.ProcessingStartedAt,
		&item.ProcessingCompletedAt, &item.LockedUntil, &item.LockedBy,
		&item.UserID, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}
	return item, nil
}

func scanEntry(row pgx.Row) (*DeadLetterEntry, error) {
	entry := &DeadLetterEntry{}
	err := row.Scan(&entry.ID, &entry.ItemID, &entry.OperationType,
		&entry.OriginalPayload, &entry.ErrorMessage, &entry.ErrorClass,
		&entry.ErrorCount, &entry.UserID, &entry.Priority, &entry.Status,
		&entry.RetryCount, &entry.Result, &entry.ResolutionNotes,
		&entry.CreatedAt, &entry.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan dead letter entry: %w", err)
	}
	return entry, nil
}
