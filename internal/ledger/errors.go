package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies ledger failures for retry policy. Timeout and Connection are
// indistinguishable to callers in effect (both retryable); Submission means
// the ledger explicitly rejected the transaction; Credential means no usable
// identity material exists for this process lifetime.
type Kind string

const (
	KindConnection Kind = "connection"
	KindCredential Kind = "credential"
	KindSubmission Kind = "submission"
	KindTimeout    Kind = "timeout"
)

// Error wraps a ledger failure with its classification and operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ledger %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification from an error chain, defaulting to
// connection for anything unrecognized.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindConnection
}

// classify maps fabric-gateway and context errors onto the taxonomy.
func classify(op string, err error) *Error {
	kind := KindConnection
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case isEndorseRejection(err):
		kind = KindSubmission
	case isCommitRejection(err):
		kind = KindSubmission
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// isEndorseRejection distinguishes a peer refusing to endorse (chaincode
// validation, policy) from transport trouble reaching the peer.
func isEndorseRejection(err error) bool {
	var endorseErr *client.EndorseError
	if !errors.As(err, &endorseErr) {
		return false
	}
	switch status.Code(endorseErr) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return false
	}
	return true
}

func isCommitRejection(err error) bool {
	var commitErr *client.CommitError
	return errors.As(err, &commitErr)
}

// AlreadyRecorded detects the chaincode's duplicate-id rejection. A record
// rejected this way was committed by an earlier attempt whose acknowledgement
// was lost, so the caller should verify and resolve it as synced.
func AlreadyRecorded(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}
