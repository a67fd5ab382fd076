// Package queue provides a storage-agnostic durable work queue with
// priority scheduling, bounded-concurrency processing, retry backoff,
// dead lettering and continuous health monitoring.
//
// The package is organised around five components:
//
//   - Enqueuer        — adds work items with priority and delay
//   - Processor       — claims eligible items in batches and dispatches
//     them to registered handlers under a bounded worker pool
//   - RetryPolicy     — pure decision function mapping failures to a
//     delayed retry or a dead letter hand-off
//   - DeadLetterStore — holds permanently failed work for manual or
//     automatic remediation
//   - Monitor         — samples queue health, raises deduplicated alerts
//     and derives a 0-100 health score
//
// Components interact only through small repository interfaces, keeping the
// business logic decoupled from persistence. MemoryStorage backs tests and
// local development; PostgresStorage and RedisStorage back production
// deployments.
//
// # Usage
//
//	storage := queue.NewMemoryStorage()
//	defer storage.Close()
//
//	registry := queue.NewRegistry()
//	registry.MustRegister(queue.NewHandler("email_send",
//		func(ctx context.Context, p EmailPayload) (any, error) {
//			return nil, mailer.Send(ctx, p)
//		}))
//
//	dlq, _ := queue.NewDeadLetterStore(storage,
//		queue.WithAutoRetryAllowlist("email_send"))
//	processor, _ := queue.NewProcessor(storage, registry, dlq,
//		queue.WithMaxWorkers(5))
//
//	enqueuer, _ := queue.NewEnqueuer(storage)
//	_, _ = enqueuer.Enqueue(ctx, "email_send", EmailPayload{To: "a@b.c"})
//
//	_ = processor.Start(ctx)
//
// Failed items are retried with exponential backoff while their budget
// lasts, then preserved as dead letter entries. The Monitor runs its own
// loop, watches queue size, failure rate and processing time against
// configurable thresholds, and restarts a stalled processor automatically.
//
// # At-least-once semantics
//
// Claims are atomic (conditional update), but execution is at-least-once:
// a worker that dies after claiming leaves its item to lock expiry, and the
// item runs again. Handlers must therefore be idempotent-safe.
//
// # Error Handling
//
// Handlers signal failure by returning an error; wrap with
// NewTransientError or NewPermanentError to steer the retry decision.
// Package-level sentinel errors (ErrEntryResolved, ErrHandlerNotFound, ...)
// can be checked with errors.Is.
package queue
