package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tracient/internal/wage/models"
	"tracient/pkg/platform/sentinel"
)

// Postgres persists wage sync state in PostgreSQL. Claim and the release
// transitions are conditional UPDATEs keyed on the current sync_status, so a
// lost race surfaces as zero affected rows rather than a double submission.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed wage store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const recordColumns = `
	id, worker_id_hash, employer_id_hash, amount, currency, job_type,
	policy_version, recorded_at, sync_status, attempt_count, last_sync_error,
	ledger_tx_id, ledger_block, last_attempt_at, synced_at`

func (s *Postgres) Create(ctx context.Context, rec *models.Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record with id is required")
	}
	status := rec.SyncStatus
	if status == "" {
		status = models.SyncPending
	}
	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	query := `
		INSERT INTO wage_records (
			id, worker_id_hash, employer_id_hash, amount, currency, job_type,
			policy_version, recorded_at, sync_status, attempt_count
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.WorkerIDHash, rec.EmployerIDHash, rec.Amount.String(),
		rec.Currency, rec.JobType, rec.PolicyVersion, recordedAt,
		status, rec.AttemptCount,
	)
	if err != nil {
		return fmt.Errorf("insert wage record: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("create %s: %w", rec.ID, sentinel.ErrConflict)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM wage_records WHERE id = $1`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wage %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get wage record: %w", err)
	}
	return rec, nil
}

func (s *Postgres) ListPending(ctx context.Context, limit int) ([]*models.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM wage_records
		WHERE sync_status = 'pending'
		ORDER BY recorded_at, id
		LIMIT $1
	`
	return s.listRecords(ctx, query, limit)
}

func (s *Postgres) ListRetryable(ctx context.Context, limit, maxAttempts int) ([]*models.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM wage_records
		WHERE sync_status = 'failed' AND attempt_count < $2
		ORDER BY recorded_at, id
		LIMIT $1
	`
	return s.listRecords(ctx, query, limit, maxAttempts)
}

func (s *Postgres) Claim(ctx context.Context, id string) error {
	query := `
		UPDATE wage_records
		SET sync_status = 'syncing', last_attempt_at = NOW()
		WHERE id = $1 AND sync_status IN ('pending', 'failed')
	`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("claim wage record: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("claim %s: %w", id, sentinel.ErrConflict)
	}
	return nil
}

func (s *Postgres) MarkSynced(ctx context.Context, id, txID string, block uint64) error {
	query := `
		UPDATE wage_records
		SET sync_status = 'synced', ledger_tx_id = $2, ledger_block = $3,
		    last_sync_error = '', synced_at = NOW()
		WHERE id = $1 AND sync_status = 'syncing'
	`
	res, err := s.db.ExecContext(ctx, query, id, txID, block)
	if err != nil {
		return fmt.Errorf("mark wage record synced: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("mark synced %s: %w", id, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *Postgres) ReleaseFailure(ctx context.Context, id, errMsg string, maxAttempts int) (*models.Record, error) {
	// The stored attempt_count decides terminality inside the same UPDATE, so
	// a replica working from a stale snapshot cannot park or requeue a record
	// incorrectly.
	query := `
		UPDATE wage_records
		SET attempt_count = attempt_count + 1,
		    last_sync_error = $2,
		    sync_status = CASE WHEN attempt_count + 1 >= $3 THEN 'failed' ELSE 'pending' END
		WHERE id = $1 AND sync_status = 'syncing'
		RETURNING ` + recordColumns
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id, errMsg, maxAttempts))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("release %s: %w", id, sentinel.ErrInvalidState)
		}
		return nil, fmt.Errorf("release wage record: %w", err)
	}
	return rec, nil
}

func (s *Postgres) Requeue(ctx context.Context, id string) error {
	query := `
		UPDATE wage_records
		SET sync_status = 'pending', last_sync_error = ''
		WHERE id = $1 AND sync_status <> 'synced'
	`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("requeue wage record: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("requeue %s already synced: %w", id, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *Postgres) Stats(ctx context.Context) (models.Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE sync_status = 'synced'),
			COUNT(*) FILTER (WHERE sync_status IN ('pending', 'syncing')),
			COUNT(*) FILTER (WHERE sync_status = 'failed'),
			COALESCE(SUM(amount) FILTER (WHERE sync_status = 'synced'), 0),
			COALESCE(SUM(amount), 0)
		FROM wage_records
	`
	var stats models.Stats
	var syncedAmount, totalAmount string
	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.Total, &stats.Synced, &stats.Pending, &stats.Failed,
		&syncedAmount, &totalAmount,
	)
	if err != nil {
		return models.Stats{}, fmt.Errorf("aggregate sync stats: %w", err)
	}
	if stats.SyncedAmount, err = decimal.NewFromString(syncedAmount); err != nil {
		return models.Stats{}, fmt.Errorf("parse synced amount: %w", err)
	}
	if stats.TotalAmount, err = decimal.NewFromString(totalAmount); err != nil {
		return models.Stats{}, fmt.Errorf("parse total amount: %w", err)
	}
	return stats, nil
}

func (s *Postgres) listRecords(ctx context.Context, query string, args ...any) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list wage records: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wage record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wage records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		rec           models.Record
		amount        string
		jobType       sql.NullString
		lastSyncError sql.NullString
		ledgerTxID    sql.NullString
		ledgerBlock   sql.NullInt64
		lastAttemptAt sql.NullTime
		syncedAt      sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.WorkerIDHash, &rec.EmployerIDHash, &amount,
		&rec.Currency, &jobType, &rec.PolicyVersion, &rec.RecordedAt,
		&rec.SyncStatus, &rec.AttemptCount, &lastSyncError,
		&ledgerTxID, &ledgerBlock, &lastAttemptAt, &syncedAt,
	)
	if err != nil {
		return nil, err
	}
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	rec.JobType = jobType.String
	rec.LastSyncError = lastSyncError.String
	rec.LedgerTxID = ledgerTxID.String
	if ledgerBlock.Valid {
		rec.LedgerBlock = uint64(ledgerBlock.Int64)
	}
	if lastAttemptAt.Valid {
		t := lastAttemptAt.Time
		rec.LastAttemptAt = &t
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		rec.SyncedAt = &t
	}
	return &rec, nil
}
