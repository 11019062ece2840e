//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"tracient/internal/wage/models"
	"tracient/internal/wage/store"
	"tracient/pkg/platform/sentinel"
	"tracient/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "wage_records"))
}

func (s *PostgresStoreSuite) releaseFailure(id, errMsg string, maxAttempts int) *models.Record {
	rec, err := s.store.ReleaseFailure(s.ctx, id, errMsg, maxAttempts)
	s.Require().NoError(err)
	return rec
}

func (s *PostgresStoreSuite) addRecord(id string, recordedAt time.Time) {
	s.Require().NoError(s.store.Create(s.ctx, &models.Record{
		ID:             id,
		WorkerIDHash:   "worker-hash-" + id,
		EmployerIDHash: "employer-hash-" + id,
		Amount:         decimal.RequireFromString("1250.50"),
		Currency:       "USD",
		JobType:        "agriculture",
		PolicyVersion:  "2025-01",
		RecordedAt:     recordedAt,
	}))
}

func (s *PostgresStoreSuite) TestCreateAndGet() {
	s.addRecord("wage-pg-1", time.Now().UTC())

	rec, err := s.store.Get(s.ctx, "wage-pg-1")
	s.Require().NoError(err)
	s.Equal(models.SyncPending, rec.SyncStatus)
	s.True(rec.Amount.Equal(decimal.RequireFromString("1250.50")))
	s.Empty(rec.LedgerTxID)
	s.Nil(rec.SyncedAt)

	err = s.store.Create(s.ctx, &models.Record{ID: "wage-pg-1", Amount: decimal.Zero})
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	_, err = s.store.Get(s.ctx, "no-such-wage")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestLifecycleTransitions() {
	s.addRecord("wage-pg-life", time.Now().UTC())

	s.Require().NoError(s.store.Claim(s.ctx, "wage-pg-life"))
	s.Require().ErrorIs(s.store.Claim(s.ctx, "wage-pg-life"), sentinel.ErrConflict)

	released := s.releaseFailure("wage-pg-life", "endorse failed", 3)
	s.Equal(models.SyncPending, released.SyncStatus)
	s.Equal(1, released.AttemptCount)
	rec, err := s.store.Get(s.ctx, "wage-pg-life")
	s.Require().NoError(err)
	s.Equal(models.SyncPending, rec.SyncStatus)
	s.Equal(1, rec.AttemptCount)
	s.Equal("endorse failed", rec.LastSyncError)
	s.Require().NotNil(rec.LastAttemptAt)

	s.Require().NoError(s.store.Claim(s.ctx, "wage-pg-life"))
	s.Require().NoError(s.store.MarkSynced(s.ctx, "wage-pg-life", "tx-abc", 42))
	rec, err = s.store.Get(s.ctx, "wage-pg-life")
	s.Require().NoError(err)
	s.Equal(models.SyncSynced, rec.SyncStatus)
	s.Equal("tx-abc", rec.LedgerTxID)
	s.Equal(uint64(42), rec.LedgerBlock)
	s.Empty(rec.LastSyncError)
	s.Require().NotNil(rec.SyncedAt)

	s.Require().ErrorIs(s.store.Claim(s.ctx, "wage-pg-life"), sentinel.ErrConflict)
	s.Require().ErrorIs(s.store.Requeue(s.ctx, "wage-pg-life"), sentinel.ErrInvalidState)
}

func (s *PostgresStoreSuite) TestConcurrentClaim() {
	s.addRecord("wage-pg-race", time.Now().UTC())

	const goroutines = 20
	var wg sync.WaitGroup
	var claimed atomic.Int32
	for range goroutines {
		wg.Go(func() {
			if err := s.store.Claim(s.ctx, "wage-pg-race"); err == nil {
				claimed.Add(1)
			}
		})
	}
	wg.Wait()

	s.Equal(int32(1), claimed.Load(), "conditional update must admit one claimant")
}

func (s *PostgresStoreSuite) TestListOrderingAndCeiling() {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.addRecord("wage-pg-b", base.Add(time.Hour))
	s.addRecord("wage-pg-a", base)
	s.addRecord("wage-pg-c", base.Add(2*time.Hour))

	// exhaust wage-pg-c
	for range 3 {
		s.Require().NoError(s.store.Claim(s.ctx, "wage-pg-c"))
		s.releaseFailure("wage-pg-c", "down", 1)
		s.Require().NoError(s.store.Requeue(s.ctx, "wage-pg-c"))
	}
	s.Require().NoError(s.store.Claim(s.ctx, "wage-pg-c"))
	s.releaseFailure("wage-pg-c", "down", 1)

	pending, err := s.store.ListPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal("wage-pg-a", pending[0].ID)
	s.Equal("wage-pg-b", pending[1].ID)

	retryable, err := s.store.ListRetryable(s.ctx, 10, 4)
	s.Require().NoError(err)
	s.Empty(retryable, "attempt ceiling excludes exhausted records")

	retryable, err = s.store.ListRetryable(s.ctx, 10, 10)
	s.Require().NoError(err)
	s.Require().Len(retryable, 1)
	s.Equal("wage-pg-c", retryable[0].ID)
}

func (s *PostgresStoreSuite) TestReleaseFailureCeiling() {
	s.addRecord("wage-pg-ceil", time.Now().UTC())

	s.Require().NoError(s.store.Claim(s.ctx, "wage-pg-ceil"))
	released := s.releaseFailure("wage-pg-ceil", "timeout", 2)
	s.Equal(models.SyncPending, released.SyncStatus)
	s.Equal(1, released.AttemptCount)

	// The stored count decides terminality: the second release parks the
	// record regardless of what the caller last saw.
	s.Require().NoError(s.store.Claim(s.ctx, "wage-pg-ceil"))
	released = s.releaseFailure("wage-pg-ceil", "timeout", 2)
	s.Equal(models.SyncFailed, released.SyncStatus)
	s.Equal(2, released.AttemptCount)

	_, err := s.store.ReleaseFailure(s.ctx, "wage-pg-ceil", "timeout", 2)
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *PostgresStoreSuite) TestStats() {
	base := time.Now().UTC()
	s.addRecord("wage-pg-s1", base)
	s.addRecord("wage-pg-s2", base)
	s.addRecord("wage-pg-s3", base)

	s.Require().NoError(s.store.Claim(s.ctx, "wage-pg-s1"))
	s.Require().NoError(s.store.MarkSynced(s.ctx, "wage-pg-s1", "tx-1", 1))
	s.Require().NoError(s.store.Claim(s.ctx, "wage-pg-s2"))
	s.releaseFailure("wage-pg-s2", "down", 1)

	stats, err := s.store.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, stats.Total)
	s.Equal(1, stats.Synced)
	s.Equal(1, stats.Pending)
	s.Equal(1, stats.Failed)
	s.True(stats.SyncedAmount.Equal(decimal.RequireFromString("1250.50")))
	s.True(stats.TotalAmount.Equal(decimal.RequireFromString("3751.50")))
}
