// Package events publishes sync lifecycle events for downstream consumers
// (compliance pipeline, dashboards). Publishing is best-effort: a dead broker
// never blocks or fails a sweep.
package events

import (
	"context"
	"time"
)

// Type enumerates the published sync events.
type Type string

const (
	TypeRecordSynced       Type = "record_synced"
	TypeRecordSyncFailed   Type = "record_sync_failed"
	TypeGatewayReconnected Type = "gateway_reconnected"
)

// Event is the wire shape for one sync outcome. ID is assigned at publish
// time so consumers can deduplicate redeliveries.
type Event struct {
	ID         string    `json:"id,omitempty"`
	Type       Type      `json:"type"`
	RecordID   string    `json:"recordId,omitempty"`
	LedgerTxID string    `json:"ledgerTxId,omitempty"`
	Mock       bool      `json:"mock,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher emits sync events. Implementations must not block beyond their
// own internal buffering; callers treat every publish as fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, event Event)
	Close() error
}

// Noop discards all events. Used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) {}

func (Noop) Close() error { return nil }
