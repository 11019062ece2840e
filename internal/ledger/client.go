// Package ledger mediates every call to the Fabric wage ledger. Callers see a
// single Client contract whether a live connection exists or the process is
// running against the mock responder.
package ledger

import (
	"context"
	"encoding/json"
	"time"
)

// Client is the capability surface the orchestrator is written against. Both
// the Fabric-backed client and the mock responder implement it; the
// orchestrator never learns which variant is active.
type Client interface {
	// Submit invokes a chaincode transaction and waits for commit.
	Submit(ctx context.Context, fn string, args ...string) (*Response, error)

	// Evaluate invokes a read-only chaincode query.
	Evaluate(ctx context.Context, fn string, args ...string) (*Response, error)

	// Health probes the remote endpoint with a short deadline. Never fails:
	// an unreachable ledger is reported, not raised.
	Health(ctx context.Context) HealthStatus

	// Close releases transport handles. Safe to call more than once.
	Close() error

	// Mock reports whether responses are synthesized locally.
	Mock() bool
}

// Response is the envelope for every ledger call. Mock responses carry the
// same field set with Mock set and a synthetic tx id, so consumers can record
// provenance without branching.
type Response struct {
	Success      bool      `json:"success"`
	Mock         bool      `json:"mock,omitempty"`
	FunctionName string    `json:"functionName"`
	Args         []string  `json:"args"`
	Timestamp    time.Time `json:"timestamp"`
	TxID         string    `json:"txId"`
	Block        uint64    `json:"block"`
	Payload      Payload   `json:"payload"`
}

// HealthStatus is the result of a ledger health probe.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Payload holds a chaincode return value. Chaincode normally returns JSON, but
// a malformed-yet-present payload still means the write went through, so it is
// kept verbatim as an opaque string instead of being treated as a failure.
type Payload struct {
	structured json.RawMessage
	opaque     string
}

// DecodePayload classifies raw chaincode output as structured JSON or an
// opaque UTF-8 string.
func DecodePayload(raw []byte) Payload {
	if len(raw) == 0 {
		return Payload{}
	}
	if json.Valid(raw) {
		return Payload{structured: json.RawMessage(raw)}
	}
	return Payload{opaque: string(raw)}
}

// Structured returns the decoded JSON value if the payload parsed cleanly.
func (p Payload) Structured() (json.RawMessage, bool) {
	return p.structured, p.structured != nil
}

// Opaque returns the raw string form of a payload that failed JSON decoding.
func (p Payload) Opaque() (string, bool) {
	return p.opaque, p.opaque != ""
}

// IsZero reports an empty payload.
func (p Payload) IsZero() bool {
	return p.structured == nil && p.opaque == ""
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if p.structured != nil {
		return p.structured, nil
	}
	return json.Marshal(p.opaque)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = Payload{opaque: s}
		return nil
	}
	*p = Payload{structured: append(json.RawMessage(nil), data...)}
	return nil
}
