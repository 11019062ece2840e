// Package sync schedules the sweeps that move wage records onto the ledger.
// Every submission, whether fired by a timer or an operator, goes through the
// same claim/submit/resolve path, so duplicate-submission protection lives in
// exactly one place.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tracient/internal/ledger"
	"tracient/internal/platform/config"
	"tracient/internal/sync/events"
	"tracient/internal/sync/lock"
	"tracient/internal/sync/metrics"
	"tracient/internal/wage/models"
	"tracient/internal/wage/store"
	"tracient/pkg/platform/sentinel"
)

// Chaincode functions invoked on the wage ledger.
const (
	fnRecordWage = "RecordWage"
	fnWageExists = "WageExists"
)

// Sweep type names, used for locks, logs and metrics labels.
const (
	SweepPending = "pending"
	SweepRetry   = "retry"
	SweepStats   = "stats"
)

// LedgerClient is the slice of the gateway the orchestrator needs.
type LedgerClient interface {
	Submit(ctx context.Context, fn string, args ...string) (*ledger.Response, error)
	Evaluate(ctx context.Context, fn string, args ...string) (*ledger.Response, error)
	EnsureConnected(ctx context.Context) bool
	Mock() bool
}

// Result summarizes one sweep invocation.
type Result struct {
	Sweep     string `json:"sweep"`
	Skipped   bool   `json:"skipped"`
	Processed int    `json:"processed"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
}

// Orchestrator runs the pending, retry and statistics sweeps on independent
// timers. Each sweep type has its own overlap guard; a firing that lands
// while the previous invocation of the same sweep is still running is skipped,
// never queued.
type Orchestrator struct {
	store   store.Store
	client  LedgerClient
	cfg     config.Sync
	logger  *slog.Logger
	metrics *metrics.Metrics
	events  events.Publisher
	locks   lock.SweepLock

	done chan struct{}
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithEvents sets the sync event publisher.
func WithEvents(p events.Publisher) Option {
	return func(o *Orchestrator) {
		o.events = p
	}
}

// WithSweepLock replaces the in-process overlap guard, e.g. with the Redis
// lease when running more than one replica.
func WithSweepLock(l lock.SweepLock) Option {
	return func(o *Orchestrator) {
		o.locks = l
	}
}

// New constructs an orchestrator. Run starts the timers.
func New(st store.Store, client LedgerClient, cfg config.Sync, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if st == nil {
		return nil, fmt.Errorf("wage store is required")
	}
	if client == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	for name, interval := range map[string]time.Duration{
		SweepPending: cfg.PendingInterval,
		SweepRetry:   cfg.RetryInterval,
		SweepStats:   cfg.StatsInterval,
	} {
		if interval <= 0 {
			return nil, fmt.Errorf("%s sweep interval must be positive, got %s", name, interval)
		}
	}
	o := &Orchestrator{
		store:  st,
		client: client,
		cfg:    cfg,
		logger: logger,
		events: events.Noop{},
		locks:  lock.NewInProcess(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run blocks until ctx is cancelled, firing each sweep on its own interval.
// Sweep I/O happens in the per-sweep goroutines, so a slow ledger call in one
// sweep never delays another sweep's timer.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.done)

	type sweep struct {
		name     string
		interval time.Duration
		run      func(context.Context) (Result, error)
	}
	sweeps := []sweep{
		{SweepPending, o.cfg.PendingInterval, o.RunPendingSweep},
		{SweepRetry, o.cfg.RetryInterval, o.RunRetrySweep},
		{SweepStats, o.cfg.StatsInterval, o.runStatsResult},
	}

	finished := make(chan struct{}, len(sweeps))
	for _, s := range sweeps {
		go func(s sweep) {
			defer func() { finished <- struct{}{} }()
			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := s.run(ctx); err != nil && ctx.Err() == nil {
						o.logger.ErrorContext(ctx, "sweep aborted", "sweep", s.name, "error", err)
					}
				}
			}
		}(s)
	}
	for range sweeps {
		<-finished
	}
}

// Wait blocks until Run has returned, so shutdown can drain in-flight sweeps
// before closing the gateway.
func (o *Orchestrator) Wait() {
	<-o.done
}

// RunPendingSweep submits pending records, oldest first, up to the batch size.
func (o *Orchestrator) RunPendingSweep(ctx context.Context) (Result, error) {
	return o.runGuarded(ctx, SweepPending, func(ctx context.Context) (Result, error) {
		records, err := o.store.ListPending(ctx, o.cfg.BatchSize)
		if err != nil {
			return Result{Sweep: SweepPending}, fmt.Errorf("list pending records: %w", err)
		}
		return o.processBatch(ctx, SweepPending, records), nil
	})
}

// RunRetrySweep re-submits failed records still under the attempt ceiling.
// Terminal-failed records are excluded at the store level and only return via
// an operator resync.
func (o *Orchestrator) RunRetrySweep(ctx context.Context) (Result, error) {
	return o.runGuarded(ctx, SweepRetry, func(ctx context.Context) (Result, error) {
		records, err := o.store.ListRetryable(ctx, o.cfg.BatchSize, o.cfg.MaxAttempts)
		if err != nil {
			return Result{Sweep: SweepRetry}, fmt.Errorf("list retryable records: %w", err)
		}
		return o.processBatch(ctx, SweepRetry, records), nil
	})
}

// RunStatsSweep aggregates sync statistics. Read-only; its only side effects
// are the log line and the gauges. When the overlap guard skips the firing,
// no statistics exist to return and the caller gets sentinel.ErrUnavailable
// instead of a zero-valued aggregate that looks like an empty store.
func (o *Orchestrator) RunStatsSweep(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	res, err := o.runGuarded(ctx, SweepStats, func(ctx context.Context) (Result, error) {
		var statsErr error
		stats, statsErr = o.store.Stats(ctx)
		if statsErr != nil {
			return Result{Sweep: SweepStats}, fmt.Errorf("aggregate stats: %w", statsErr)
		}
		if o.metrics != nil {
			o.metrics.PendingRecords.Set(float64(stats.Pending))
			o.metrics.FailedRecords.Set(float64(stats.Failed))
			o.metrics.SyncedRecords.Set(float64(stats.Synced))
		}
		o.logger.InfoContext(ctx, "sync statistics",
			"total", stats.Total,
			"synced", stats.Synced,
			"pending", stats.Pending,
			"failed", stats.Failed,
			"sync_rate_percent", stats.SyncRatePercent(),
		)
		return Result{Sweep: SweepStats}, nil
	})
	if err == nil && res.Skipped {
		return models.Stats{}, fmt.Errorf("stats sweep already running: %w", sentinel.ErrUnavailable)
	}
	return stats, err
}

// ForceResync requeues a non-synced record and submits it immediately through
// the normal claim path. Synced records are immutable and refused.
func (o *Orchestrator) ForceResync(ctx context.Context, id string) (*models.Record, error) {
	if err := o.store.Requeue(ctx, id); err != nil {
		return nil, err
	}
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.client.EnsureConnected(ctx) {
		o.logger.WarnContext(ctx, "ledger unreachable, record requeued but not submitted", "record_id", id)
		return rec, nil
	}
	o.syncRecord(ctx, rec)
	return o.store.Get(ctx, id)
}

func (o *Orchestrator) runStatsResult(ctx context.Context) (Result, error) {
	_, err := o.RunStatsSweep(ctx)
	if errors.Is(err, sentinel.ErrUnavailable) {
		return Result{Sweep: SweepStats, Skipped: true}, nil
	}
	return Result{Sweep: SweepStats}, err
}

// runGuarded enforces the per-sweep overlap guard around fn.
func (o *Orchestrator) runGuarded(ctx context.Context, name string, fn func(context.Context) (Result, error)) (Result, error) {
	acquired, err := o.locks.TryAcquire(ctx, name)
	if err != nil {
		return Result{Sweep: name}, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !acquired {
		o.logger.WarnContext(ctx, "sweep still running, skipping this firing", "sweep", name)
		if o.metrics != nil {
			o.metrics.SweepsSkipped.WithLabelValues(name).Inc()
		}
		return Result{Sweep: name, Skipped: true}, nil
	}
	defer o.locks.Release(ctx, name)

	if o.metrics != nil {
		o.metrics.SweepsRun.WithLabelValues(name).Inc()
	}
	return fn(ctx)
}

// processBatch submits each record in order. Outcomes are isolated: one bad
// record never stops the rest of the batch. Context cancellation stops the
// batch between records.
func (o *Orchestrator) processBatch(ctx context.Context, sweep string, records []*models.Record) Result {
	result := Result{Sweep: sweep}
	if len(records) > 0 && !o.client.EnsureConnected(ctx) {
		// No live connection and the reconnect attempt failed. Submitting now
		// would burn attempts on records the ledger cannot receive; leave them
		// where they are and let the next firing try again.
		o.logger.WarnContext(ctx, "ledger unreachable, leaving records for a later sweep",
			"sweep", sweep,
			"records", len(records),
		)
		return result
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		result.Processed++
		switch o.syncRecord(ctx, rec) {
		case outcomeSynced:
			result.Synced++
		case outcomeFailed:
			result.Failed++
		}
	}
	if result.Processed > 0 {
		o.logger.InfoContext(ctx, "sweep finished",
			"sweep", sweep,
			"processed", result.Processed,
			"synced", result.Synced,
			"failed", result.Failed,
		)
	}
	return result
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSynced
	outcomeFailed
)

// syncRecord is the single submission path: claim, submit, resolve. A claim
// conflict means another invocation holds the record and is not an error.
func (o *Orchestrator) syncRecord(ctx context.Context, rec *models.Record) outcome {
	if err := o.store.Claim(ctx, rec.ID); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			o.logger.DebugContext(ctx, "record claimed elsewhere, skipping", "record_id", rec.ID)
		} else {
			o.logger.ErrorContext(ctx, "claim failed", "record_id", rec.ID, "error", err)
		}
		return outcomeSkipped
	}

	attempt := rec.AttemptCount + 1
	resp, err := o.client.Submit(ctx, fnRecordWage,
		rec.ID,
		rec.WorkerIDHash,
		rec.EmployerIDHash,
		rec.Amount.String(),
		rec.Currency,
		rec.JobType,
		rec.RecordedAt.UTC().Format(time.RFC3339),
		rec.PolicyVersion,
	)
	if err != nil {
		if ledger.AlreadyRecorded(err) && o.confirmRecorded(ctx, rec.ID) {
			// Committed by an earlier attempt whose acknowledgement was
			// lost. The original tx reference is unrecoverable from the
			// chaincode, so the record is resolved without one.
			o.logger.InfoContext(ctx, "record already on ledger, resolving as synced", "record_id", rec.ID)
			return o.resolveSynced(ctx, rec, &ledger.Response{Success: true}, attempt)
		}
		return o.resolveFailure(ctx, rec, err)
	}
	return o.resolveSynced(ctx, rec, resp, attempt)
}

func (o *Orchestrator) resolveSynced(ctx context.Context, rec *models.Record, resp *ledger.Response, attempt int) outcome {
	if err := o.store.MarkSynced(ctx, rec.ID, resp.TxID, resp.Block); err != nil {
		o.logger.ErrorContext(ctx, "mark synced failed", "record_id", rec.ID, "error", err)
		return outcomeSkipped
	}
	if o.metrics != nil {
		o.metrics.RecordsSynced.Inc()
	}
	o.events.Publish(ctx, events.Event{
		Type:       events.TypeRecordSynced,
		RecordID:   rec.ID,
		LedgerTxID: resp.TxID,
		Mock:       resp.Mock,
		Attempt:    attempt,
	})
	o.logger.InfoContext(ctx, "record synced",
		"record_id", rec.ID,
		"ledger_tx_id", resp.TxID,
		"ledger_block", resp.Block,
		"mock", resp.Mock,
		"attempt", attempt,
	)
	return outcomeSynced
}

func (o *Orchestrator) resolveFailure(ctx context.Context, rec *models.Record, submitErr error) outcome {
	released, err := o.store.ReleaseFailure(ctx, rec.ID, submitErr.Error(), o.cfg.MaxAttempts)
	if err != nil {
		o.logger.ErrorContext(ctx, "release after failure failed", "record_id", rec.ID, "error", err)
		return outcomeSkipped
	}
	if o.metrics != nil {
		o.metrics.RecordsFailed.Inc()
	}
	o.events.Publish(ctx, events.Event{
		Type:     events.TypeRecordSyncFailed,
		RecordID: rec.ID,
		Attempt:  released.AttemptCount,
		Error:    submitErr.Error(),
	})
	o.logger.WarnContext(ctx, "record submission failed",
		"record_id", rec.ID,
		"attempt", released.AttemptCount,
		"max_attempts", o.cfg.MaxAttempts,
		"terminal", released.SyncStatus == models.SyncFailed,
		"kind", ledger.KindOf(submitErr),
		"error", submitErr,
	)
	return outcomeFailed
}

// confirmRecorded asks the chaincode whether the record already exists. Only
// a live (non-mock) positive answer resolves a lost acknowledgement.
func (o *Orchestrator) confirmRecorded(ctx context.Context, id string) bool {
	resp, err := o.client.Evaluate(ctx, fnWageExists, id)
	if err != nil || resp.Mock {
		return false
	}
	raw, ok := resp.Payload.Structured()
	if !ok {
		return false
	}
	var exists bool
	if err := json.Unmarshal(raw, &exists); err != nil {
		return false
	}
	return exists
}
