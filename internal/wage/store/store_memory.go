package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tracient/internal/wage/models"
	"tracient/pkg/platform/sentinel"
)

// Memory implements Store with an in-process map. Used in tests and when no
// DATABASE_URL is configured. All transitions happen under one mutex, which
// gives the same claim atomicity the Postgres store gets from conditional
// updates.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*models.Record
	now     func() time.Time
}

// NewMemory creates an empty in-memory wage store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*models.Record),
		now:     time.Now,
	}
}

func (s *Memory) Create(_ context.Context, rec *models.Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record with id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("create %s: %w", rec.ID, sentinel.ErrConflict)
	}
	clone := *rec
	if clone.SyncStatus == "" {
		clone.SyncStatus = models.SyncPending
	}
	if clone.RecordedAt.IsZero() {
		clone.RecordedAt = s.now()
	}
	s.records[rec.ID] = &clone
	return nil
}

func (s *Memory) Get(_ context.Context, id string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, fmt.Errorf("wage %s: %w", id, sentinel.ErrNotFound)
	}
	clone := *rec
	return &clone, nil
}

func (s *Memory) ListPending(_ context.Context, limit int) ([]*models.Record, error) {
	return s.list(limit, func(r *models.Record) bool {
		return r.SyncStatus == models.SyncPending
	})
}

func (s *Memory) ListRetryable(_ context.Context, limit, maxAttempts int) ([]*models.Record, error) {
	return s.list(limit, func(r *models.Record) bool {
		return r.SyncStatus == models.SyncFailed && r.AttemptCount < maxAttempts
	})
}

func (s *Memory) Claim(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return fmt.Errorf("claim %s: %w", id, sentinel.ErrNotFound)
	}
	if rec.SyncStatus != models.SyncPending && rec.SyncStatus != models.SyncFailed {
		return fmt.Errorf("claim %s in state %s: %w", id, rec.SyncStatus, sentinel.ErrConflict)
	}
	now := s.now()
	rec.SyncStatus = models.SyncSyncing
	rec.LastAttemptAt = &now
	return nil
}

func (s *Memory) MarkSynced(_ context.Context, id, txID string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return fmt.Errorf("mark synced %s: %w", id, sentinel.ErrNotFound)
	}
	if rec.SyncStatus != models.SyncSyncing {
		return fmt.Errorf("mark synced %s in state %s: %w", id, rec.SyncStatus, sentinel.ErrInvalidState)
	}
	now := s.now()
	rec.SyncStatus = models.SyncSynced
	rec.LedgerTxID = txID
	rec.LedgerBlock = block
	rec.LastSyncError = ""
	rec.SyncedAt = &now
	return nil
}

func (s *Memory) ReleaseFailure(_ context.Context, id, errMsg string, maxAttempts int) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, fmt.Errorf("release %s: %w", id, sentinel.ErrNotFound)
	}
	if rec.SyncStatus != models.SyncSyncing {
		return nil, fmt.Errorf("release %s in state %s: %w", id, rec.SyncStatus, sentinel.ErrInvalidState)
	}
	rec.AttemptCount++
	rec.LastSyncError = errMsg
	if rec.AttemptCount >= maxAttempts {
		rec.SyncStatus = models.SyncFailed
	} else {
		rec.SyncStatus = models.SyncPending
	}
	clone := *rec
	return &clone, nil
}

func (s *Memory) Requeue(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return fmt.Errorf("requeue %s: %w", id, sentinel.ErrNotFound)
	}
	if rec.SyncStatus == models.SyncSynced {
		return fmt.Errorf("requeue %s already synced: %w", id, sentinel.ErrInvalidState)
	}
	rec.SyncStatus = models.SyncPending
	rec.LastSyncError = ""
	return nil
}

func (s *Memory) Stats(_ context.Context) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.Stats{
		SyncedAmount: decimal.Zero,
		TotalAmount:  decimal.Zero,
	}
	for _, rec := range s.records {
		stats.Total++
		stats.TotalAmount = stats.TotalAmount.Add(rec.Amount)
		switch rec.SyncStatus {
		case models.SyncSynced:
			stats.Synced++
			stats.SyncedAmount = stats.SyncedAmount.Add(rec.Amount)
		case models.SyncFailed:
			stats.Failed++
		default:
			// pending and in-flight syncing both count as pending
			stats.Pending++
		}
	}
	return stats, nil
}

// list snapshots matching records ordered oldest-first by RecordedAt, ID as a
// tiebreaker so sweep order is deterministic.
func (s *Memory) list(limit int, match func(*models.Record) bool) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Record
	for _, rec := range s.records {
		if match(rec) {
			clone := *rec
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
