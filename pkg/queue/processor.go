package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ProcessorStats is a point-in-time snapshot of the execution engine.
type ProcessorStats struct {
	Processed     int64         `json:"processed"`
	Failed        int64         `json:"failed"`
	DeadLettered  int64         `json:"dead_lettered"`
	ActiveWorkers int32         `json:"active_workers"`
	Running       bool          `json:"running"`
	Uptime        time.Duration `json:"uptime"`
}

// Processor is the queue execution engine: it fetches eligible batches on a
// fixed interval, claims items, dispatches them to registered handlers under
// bounded concurrency, and routes failures to a retry or the dead letter
// store. Handler errors never propagate out of the loop.
type Processor struct {
	storage  ProcessorRepository
	registry *Registry
	policy   *RetryPolicy
	dlq      *DeadLetterStore
	workerID uuid.UUID

	batchSize       int
	maxWorkers      int
	interval        time.Duration
	lockTimeout     time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	stopMu sync.Mutex
	cancel context.CancelFunc
	ctx    context.Context
	drain  chan struct{}

	stopping  atomic.Bool
	running   atomic.Bool
	startedAt time.Time

	processed    atomic.Int64
	failed       atomic.Int64
	deadLettered atomic.Int64
	active       atomic.Int32
}

// NewProcessor creates a queue processor.
func NewProcessor(storage ProcessorRepository, registry *Registry, dlq *DeadLetterStore, opts ...ProcessorOption) (*Processor, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	if registry == nil {
		return nil, ErrRegistryNil
	}
	if dlq == nil {
		return nil, ErrStorageNil
	}

	options := &processorOptions{
		batchSize:       10,
		maxWorkers:      5,
		interval:        5 * time.Second,
		lockTimeout:     5 * time.Minute,
		shutdownTimeout: 30 * time.Second,
		policy:          NewRetryPolicy(0, 0, 0),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Processor{
		storage:         storage,
		registry:        registry,
		policy:          options.policy,
		dlq:             dlq,
		workerID:        uuid.New(),
		batchSize:       options.batchSize,
		maxWorkers:      options.maxWorkers,
		interval:        options.interval,
		lockTimeout:     options.lockTimeout,
		shutdownTimeout: options.shutdownTimeout,
		logger:          options.logger,
		sem:             make(chan struct{}, options.maxWorkers),
	}, nil
}

// Start begins the processing loop in the background. The first batch is
// fetched immediately; subsequent passes run on the configured interval.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return fmt.Errorf("processor: %w", ErrAlreadyRunning)
	}
	if p.registry.Len() == 0 {
		return ErrNoHandlers
	}

	// A previous stop may have hit its shutdown timeout with workers still
	// in flight; the WaitGroup cannot take new workers until they are done.
	if p.drain != nil {
		<-p.drain
		p.drain = nil
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.stopping.Store(false)
	p.running.Store(true)
	p.startedAt = time.Now()

	go p.run()

	p.logger.Info("queue processor started",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("batch_size", p.batchSize),
		slog.Int("max_workers", p.maxWorkers),
		slog.Duration("interval", p.interval))

	return nil
}

// Stop stops scheduling new batches and waits, bounded by the shutdown
// timeout, for in-flight workers to finish. Items still in flight past the
// timeout are logged, not forcibly cancelled.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return fmt.Errorf("processor: %w", ErrNotRunning)
	}

	p.stopMu.Lock()
	p.stopping.Store(true)
	p.stopMu.Unlock()

	cancel := p.cancel
	p.cancel = nil
	done := make(chan struct{})
	p.drain = done
	p.mu.Unlock()

	cancel()

	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("queue processor stopped",
			slog.String("worker_id", p.workerID.String()))
	case <-time.After(p.shutdownTimeout):
		p.logger.Warn("queue processor stopped with workers still in flight",
			slog.String("worker_id", p.workerID.String()),
			slog.Int("in_flight", int(p.active.Load())))
	}

	p.running.Store(false)
	return nil
}

// Restart stops the processor if running and starts it again. Used by the
// monitor when it detects a stalled processor with pending work.
func (p *Processor) Restart(ctx context.Context) error {
	if err := p.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return p.Start(ctx)
}

// Running reports whether the processing loop is active.
func (p *Processor) Running() bool {
	return p.running.Load()
}

// Stats returns a snapshot of the processor's counters.
func (p *Processor) Stats() ProcessorStats {
	stats := ProcessorStats{
		Processed:     p.processed.Load(),
		Failed:        p.failed.Load(),
		DeadLettered:  p.deadLettered.Load(),
		ActiveWorkers: p.active.Load(),
		Running:       p.running.Load(),
	}
	if stats.Running {
		stats.Uptime = time.Since(p.startedAt)
	}
	return stats
}

// Run starts the processor and returns a function suitable for errgroup.
func (p *Processor) Run(ctx context.Context) func() error {
	return func() error {
		if err := p.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return p.Stop()
	}
}

// run is the main processing loop.
func (p *Processor) run() {
	// Immediate first pass so fresh deployments drain backlog without
	// waiting a full interval.
	p.processBatch()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.processBatch()
		}
	}
}

// processBatch fetches one batch of eligible items and dispatches them.
// Claim order follows fetch order; items beyond maxWorkers wait for a free
// slot so a batch never exceeds the worker pool size.
func (p *Processor) processBatch() {
	items, err := p.storage.FetchBatch(p.ctx, BatchFilter{
		Status: StatusPending,
		Limit:  p.batchSize,
	})
	if err != nil {
		if p.ctx.Err() == nil {
			p.logger.Error("failed to fetch batch",
				slog.String("worker_id", p.workerID.String()),
				slog.Any("error", err))
		}
		return
	}

	for _, item := range items {
		select {
		case p.sem <- struct{}{}:
		case <-p.ctx.Done():
			return
		}

		p.stopMu.Lock()
		if p.stopping.Load() {
			p.stopMu.Unlock()
			<-p.sem
			return
		}
		p.wg.Add(1)
		p.stopMu.Unlock()

		go func(item *Item) {
			defer p.wg.Done()
			defer func() { <-p.sem }()

			p.claimAndExecute(item)
		}(item)
	}
}

// claimAndExecute claims one item and runs it through its handler. Losing
// the claim race is normal under at-least-once semantics and is skipped
// silently.
func (p *Processor) claimAndExecute(item *Item) {
	claimed, err := p.storage.ClaimItem(p.ctx, item.ID, p.workerID, p.lockTimeout)
	if err != nil {
		if p.ctx.Err() == nil {
			p.logger.Error("failed to claim item",
				slog.String("item_id", item.ID.String()),
				slog.Any("error", err))
		}
		return
	}
	if !claimed {
		return
	}

	p.active.Add(1)
	defer p.active.Add(-1)

	p.execute(item)
}

// execute dispatches the item to its handler and records the outcome.
// Panics and handler errors are always caught and classified; a single
// item's failure never blocks or fails sibling items.
func (p *Processor) execute(item *Item) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panicked",
				slog.String("item_id", item.ID.String()),
				slog.String("job_type", item.Type),
				slog.Any("panic", r))
			p.handleFailure(item, fmt.Errorf("panic in handler: %v", r))
		}
	}()

	handler, err := p.registry.Resolve(item.Type)
	if err != nil {
		p.handleFailure(item, NewPermanentError(err))
		return
	}

	// Detached from the loop context so graceful shutdown lets in-flight
	// items finish; bounded by the lock timeout instead.
	ctx, cancel := context.WithTimeout(context.Background(), p.lockTimeout)
	defer cancel()

	result, err := handler.Handle(ctx, item.Payload)
	duration := time.Since(start)

	if err != nil {
		p.logger.Error("item failed",
			slog.String("item_id", item.ID.String()),
			slog.String("job_type", item.Type),
			slog.Int("retry_count", int(item.RetryCount)),
			slog.Int("max_retries", int(item.MaxRetries)),
			slog.Duration("duration", duration),
			slog.Any("error", err))
		p.handleFailure(item, err)
		return
	}

	p.handleSuccess(item, result, duration)
}

func (p *Processor) handleSuccess(item *Item, result []byte, duration time.Duration) {
	completed := StatusCompleted
	now := time.Now()
	// The loop context is already cancelled while in-flight workers drain
	// during graceful stop, so outcome writes must not inherit its cancel.
	ctx := context.WithoutCancel(p.ctx)
	if err := p.storage.UpdateItem(ctx, item.ID, ItemUpdate{
		Status:                &completed,
		Result:                result,
		ProcessingCompletedAt: &now,
		ClearLock:             true,
	}); err != nil {
		p.logger.Error("failed to mark item completed",
			slog.String("item_id", item.ID.String()),
			slog.Any("error", err))
		return
	}

	p.processed.Add(1)
	p.logger.Info("item completed",
		slog.String("item_id", item.ID.String()),
		slog.String("job_type", item.Type),
		slog.Duration("duration", duration))
}

// handleFailure classifies the error through the retry policy and either
// requeues the item with backoff or terminates it into the dead letter
// store. An item is never left both pending and over its retry budget.
func (p *Processor) handleFailure(item *Item, execErr error) {
	p.failed.Add(1)

	attempt := int(item.RetryCount) + 1
	decision := p.policy.Decide(attempt, execErr)

	if decision.Action == ActionRetry && item.RetryCount < item.MaxRetries {
		p.requeue(item, execErr, decision.Delay)
		return
	}

	class := p.policy.Classify(execErr)
	if class == ErrorClassTransient {
		class = ErrorClassExhausted
	}
	p.deadLetter(item, execErr, class)
}

func (p *Processor) requeue(item *Item, execErr error, delay time.Duration) {
	pending := StatusPending
	retryCount := item.RetryCount + 1
	scheduledAt := time.Now().Add(delay)
	errMsg := execErr.Error()

	ctx := context.WithoutCancel(p.ctx)
	if err := p.storage.UpdateItem(ctx, item.ID, ItemUpdate{
		Status:      &pending,
		RetryCount:  &retryCount,
		ScheduledAt: &scheduledAt,
		LastError:   &errMsg,
		ClearLock:   true,
	}); err != nil {
		p.logger.Error("failed to requeue item",
			slog.String("item_id", item.ID.String()),
			slog.Any("error", err))
		return
	}

	p.logger.Warn("item requeued with backoff",
		slog.String("item_id", item.ID.String()),
		slog.String("job_type", item.Type),
		slog.Int("retry_count", int(retryCount)),
		slog.Duration("delay", delay))
}

func (p *Processor) deadLetter(item *Item, execErr error, class ErrorClass) {
	failed := StatusFailed
	now := time.Now()
	errMsg := execErr.Error()

	ctx := context.WithoutCancel(p.ctx)
	if err := p.storage.UpdateItem(ctx, item.ID, ItemUpdate{
		Status:                &failed,
		LastError:             &errMsg,
		ProcessingCompletedAt: &now,
		ClearLock:             true,
	}); err != nil {
		p.logger.Error("failed to mark item failed",
			slog.String("item_id", item.ID.String()),
			slog.Any("error", err))
		return
	}

	entry := &DeadLetterEntry{
		ItemID:          item.ID,
		OperationType:   item.Type,
		OriginalPayload: item.Payload,
		ErrorMessage:    errMsg,
		ErrorClass:      class,
		ErrorCount:      int(item.RetryCount) + 1,
		UserID:          item.UserID,
		Priority:        item.Priority,
		Status:          DeadLetterPendingReview,
		RetryCount:      0,
		CreatedAt:       now,
	}
	if _, err := p.dlq.Add(ctx, entry); err != nil {
		p.logger.Error("failed to create dead letter entry",
			slog.String("item_id", item.ID.String()),
			slog.Any("error", err))
		return
	}

	p.deadLettered.Add(1)
}
