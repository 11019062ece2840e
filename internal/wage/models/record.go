package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SyncStatus tracks where a wage record sits in the ledger sync lifecycle.
type SyncStatus string

const (
	// SyncPending: created locally, not yet on the ledger. Initial state.
	SyncPending SyncStatus = "pending"

	// SyncSyncing: claimed by a sweep; submission in flight. Transient state
	// that prevents a second sweep from submitting the same record.
	SyncSyncing SyncStatus = "syncing"

	// SyncSynced: committed on the ledger. Terminal; ledger reference fields
	// are immutable from here on.
	SyncSynced SyncStatus = "synced"

	// SyncFailed: last submission failed. Retried until AttemptCount reaches
	// the configured ceiling, after which only an operator resync can requeue.
	SyncFailed SyncStatus = "failed"
)

// Record is a wage transaction owned by the primary store, augmented with the
// sync bookkeeping this service maintains. Payload fields are append-only:
// the ledger expects them never to change after creation.
type Record struct {
	ID             string
	WorkerIDHash   string
	EmployerIDHash string
	Amount         decimal.Decimal
	Currency       string
	JobType        string
	PolicyVersion  string
	RecordedAt     time.Time

	SyncStatus    SyncStatus
	AttemptCount  int
	LastSyncError string
	LedgerTxID    string
	LedgerBlock   uint64
	LastAttemptAt *time.Time
	SyncedAt      *time.Time
}

// TerminalFailed reports whether the record has exhausted automatic retries.
func (r *Record) TerminalFailed(maxAttempts int) bool {
	return r.SyncStatus == SyncFailed && r.AttemptCount >= maxAttempts
}

// Stats is the derived sync health snapshot consumed by dashboards.
// Synced + Pending + Failed always equals Total; records in the transient
// syncing state are counted with pending.
type Stats struct {
	Total        int             `json:"total"`
	Synced       int             `json:"synced"`
	Pending      int             `json:"pending"`
	Failed       int             `json:"failed"`
	SyncedAmount decimal.Decimal `json:"syncedAmount"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
}

// SyncRatePercent returns synced/total as a percentage, 0 for an empty store.
func (s Stats) SyncRatePercent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Synced) / float64(s.Total) * 100
}
