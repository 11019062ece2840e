// Package store persists wage records and their sync state. Claim transitions
// are conditional on the current status so concurrent sweeps cannot hold the
// same record: the store, not the orchestrator, is the serialization point.
package store

import (
	"context"

	"tracient/internal/wage/models"
)

// Store is the sync-state view of the primary wage store.
//
// Claim, MarkSynced, ReleaseFailure and Requeue are conditional updates: they
// succeed only from the documented source states and return
// sentinel.ErrConflict (Claim) or sentinel.ErrInvalidState otherwise. That is
// the optimistic-concurrency mechanism the sweeps rely on.
type Store interface {
	Create(ctx context.Context, rec *models.Record) error
	Get(ctx context.Context, id string) (*models.Record, error)

	// ListPending returns up to limit records in pending state, oldest first.
	ListPending(ctx context.Context, limit int) ([]*models.Record, error)

	// ListRetryable returns up to limit failed records still under the
	// attempt ceiling, oldest first. Terminal-failed records are excluded.
	ListRetryable(ctx context.Context, limit, maxAttempts int) ([]*models.Record, error)

	// Claim transitions pending|failed -> syncing and stamps LastAttemptAt.
	// Returns sentinel.ErrConflict if the record is not claimable (already
	// syncing, already synced, or claimed by a concurrent sweep).
	Claim(ctx context.Context, id string) error

	// MarkSynced transitions syncing -> synced, records the ledger reference
	// and clears the last error. The transition is terminal.
	MarkSynced(ctx context.Context, id, txID string, block uint64) error

	// ReleaseFailure increments AttemptCount, records errMsg and transitions
	// syncing -> failed once the stored count reaches maxAttempts, otherwise
	// syncing -> pending. Terminality is decided on the stored count, not a
	// caller-side snapshot, so concurrent replicas cannot disagree about it.
	// Returns the updated record.
	ReleaseFailure(ctx context.Context, id, errMsg string, maxAttempts int) (*models.Record, error)

	// Requeue forces a non-synced record back to pending for an operator
	// resync. Returns sentinel.ErrInvalidState for synced records.
	Requeue(ctx context.Context, id string) error

	Stats(ctx context.Context) (models.Stats, error)
}
