package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// MockClient synthesizes ledger responses when no live connection exists.
// Responses carry the same envelope as real ones plus the mock flag, so the
// sync pipeline keeps moving through local development and ledger outages.
type MockClient struct {
	counter atomic.Uint64
	now     func() time.Time
}

// NewMockClient creates the mock responder.
func NewMockClient() *MockClient {
	return &MockClient{now: time.Now}
}

func (c *MockClient) Submit(_ context.Context, fn string, args ...string) (*Response, error) {
	return c.respond(fn, args), nil
}

func (c *MockClient) Evaluate(_ context.Context, fn string, args ...string) (*Response, error) {
	return c.respond(fn, args), nil
}

func (c *MockClient) Health(context.Context) HealthStatus {
	return HealthStatus{Healthy: true, Detail: "mock mode active"}
}

func (c *MockClient) Close() error {
	return nil
}

func (c *MockClient) Mock() bool {
	return true
}

func (c *MockClient) respond(fn string, args []string) *Response {
	if args == nil {
		args = []string{}
	}
	return &Response{
		Success:      true,
		Mock:         true,
		FunctionName: fn,
		Args:         args,
		Timestamp:    c.now().UTC(),
		TxID:         fmt.Sprintf("mock-%d", c.counter.Add(1)),
	}
}
