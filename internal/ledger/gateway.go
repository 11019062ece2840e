package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tracient/internal/ledger/metrics"
	"tracient/internal/platform/config"
	"tracient/pkg/platform/retry"
)

// Status is the operator-visible view of the gateway connection. Degraded
// distinguishes "mock because the ledger is unreachable" from intentional mock
// mode: a degraded gateway refuses submissions and keeps trying to come back,
// an intentional mock serves synthetic responses indefinitely.
type Status struct {
	Connected      bool   `json:"connected"`
	Degraded       bool   `json:"degraded,omitempty"`
	IdentitySource string `json:"identitySource"`
	Attempts       int    `json:"attempts"`
	LastError      string `json:"lastError,omitempty"`
}

// Gateway owns the ledger connection lifecycle: credential resolution, bounded
// connect retry, the mock fallback, and explicit reconnect. It is an injected
// instance, not process-global state, so tests can run isolated gateways with
// different configurations.
type Gateway struct {
	cfg     config.Ledger
	logger  *slog.Logger
	metrics *metrics.Metrics
	dial    dialFunc

	mu     sync.RWMutex
	client Client
	status Status

	// connectMu serializes reconnect attempts from EnsureConnected so that
	// concurrent sweeps do not dial the peer in parallel.
	connectMu sync.Mutex
}

type dialFunc func(ctx context.Context, cfg config.Ledger, material *identityMaterial) (Client, error)

// Option configures the Gateway.
type Option func(*Gateway)

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// withDialer overrides the Fabric dialer. Test seam.
func withDialer(dial dialFunc) Option {
	return func(g *Gateway) {
		g.dial = dial
	}
}

// New constructs a disconnected gateway. Initialize establishes (or mocks)
// the connection.
func New(cfg config.Ledger, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:    cfg,
		logger: logger,
		client: NewMockClient(),
		dial: func(ctx context.Context, cfg config.Ledger, material *identityMaterial) (Client, error) {
			return dialFabric(ctx, cfg, material)
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Initialize resolves credentials and attempts the connection under the
// configured retry policy. Every failure path degrades to the mock responder;
// the only error returned is a cancelled context. Callers therefore never
// branch on "is the ledger up" at startup.
func (g *Gateway) Initialize(ctx context.Context) error {
	if !g.cfg.Enabled || g.cfg.MockMode {
		g.logger.InfoContext(ctx, "ledger sync in mock mode",
			"enabled", g.cfg.Enabled,
			"mock_mode", g.cfg.MockMode,
		)
		g.install(NewMockClient(), Status{IdentitySource: "none"})
		return nil
	}

	material, err := resolveIdentity(g.cfg)
	if err != nil {
		g.logger.ErrorContext(ctx, "no usable ledger identity, falling back to mock mode", "error", err)
		g.install(NewMockClient(), Status{IdentitySource: "none", LastError: err.Error()})
		return nil
	}
	if material.Source == SourceEphemeral {
		g.logger.WarnContext(ctx, "using ephemeral last-resort identity: it carries no MSP attributes and a production peer will reject it",
			"msp_id", g.cfg.MSPID,
		)
	}
	g.logger.InfoContext(ctx, "ledger identity resolved", "source", material.Source)

	var (
		client   Client
		attempts int
	)
	policy := retry.Linear(g.cfg.ConnectAttempts, g.cfg.ConnectBaseDelay)
	err = policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		if g.metrics != nil {
			g.metrics.ConnectAttempts.Inc()
		}
		c, dialErr := g.dial(ctx, g.cfg, material)
		if dialErr != nil {
			g.logger.WarnContext(ctx, "ledger connection attempt failed",
				"attempt", attempt,
				"max_attempts", g.cfg.ConnectAttempts,
				"error", dialErr,
			)
			return dialErr
		}
		client = c
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		g.logger.ErrorContext(ctx, "ledger unreachable after all attempts, falling back to mock mode",
			"attempts", attempts,
			"error", err,
		)
		g.install(NewMockClient(), Status{
			Degraded:       true,
			IdentitySource: string(material.Source),
			Attempts:       attempts,
			LastError:      err.Error(),
		})
		return nil
	}

	g.logger.InfoContext(ctx, "ledger connected",
		"endpoint", g.cfg.Endpoint,
		"channel", g.cfg.Channel,
		"chaincode", g.cfg.Chaincode,
		"attempts", attempts,
	)
	g.install(client, Status{
		Connected:      true,
		IdentitySource: string(material.Source),
		Attempts:       attempts,
	})
	return nil
}

// Submit forwards to the active client and records metrics.
func (g *Gateway) Submit(ctx context.Context, fn string, args ...string) (*Response, error) {
	return g.call(ctx, "submit", fn, args, Client.Submit)
}

// Evaluate forwards a read-only query to the active client.
func (g *Gateway) Evaluate(ctx context.Context, fn string, args ...string) (*Response, error) {
	return g.call(ctx, "evaluate", fn, args, Client.Evaluate)
}

// Health probes the active client. Never returns an error. A degraded gateway
// reports unhealthy directly: the fallback mock would claim health it does not
// have.
func (g *Gateway) Health(ctx context.Context) HealthStatus {
	client, status := g.snapshot()
	if status.Degraded {
		detail := "no live ledger connection"
		if status.LastError != "" {
			detail += ": " + status.LastError
		}
		return HealthStatus{Healthy: false, Detail: detail}
	}
	return client.Health(ctx)
}

// EnsureConnected reports whether the gateway can accept submissions,
// attempting one reconnect when the previous connection was lost. Intentional
// mock mode counts as available. Safe for concurrent callers: only one
// reconnect runs at a time, the rest wait and reuse its outcome.
func (g *Gateway) EnsureConnected(ctx context.Context) bool {
	if !g.Status().Degraded {
		return true
	}

	g.connectMu.Lock()
	defer g.connectMu.Unlock()
	if !g.Status().Degraded {
		return true
	}
	if err := g.Reconnect(ctx); err != nil {
		return false
	}
	return !g.Status().Degraded
}

// Mock reports whether the active client synthesizes responses.
func (g *Gateway) Mock() bool {
	return g.active().Mock()
}

// Status returns a snapshot of the connection state.
func (g *Gateway) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// Reconnect tears down the current client and re-runs initialization.
func (g *Gateway) Reconnect(ctx context.Context) error {
	g.logger.InfoContext(ctx, "ledger reconnect requested")
	if err := g.Close(); err != nil {
		g.logger.WarnContext(ctx, "error closing ledger connection before reconnect", "error", err)
	}
	return g.Initialize(ctx)
}

// Close releases the active client and marks the gateway disconnected.
// Idempotent: closing an already-closed gateway is a no-op.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := g.client.Close()
	g.client = NewMockClient()
	g.status.Connected = false
	g.status.Degraded = g.cfg.Enabled && !g.cfg.MockMode
	if g.metrics != nil {
		g.metrics.SetConnected(false)
	}
	return err
}

func (g *Gateway) call(ctx context.Context, op, fn string, args []string, invoke func(Client, context.Context, string, ...string) (*Response, error)) (*Response, error) {
	client, status := g.snapshot()
	if status.Degraded {
		// Letting the fallback mock answer here would fabricate synthetic
		// transaction ids for records that never reached the ledger.
		return nil, &Error{Kind: KindConnection, Op: op, Err: errors.New("ledger unreachable")}
	}
	start := time.Now()
	resp, err := invoke(client, ctx, fn, args...)
	if g.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = string(KindOf(err))
		}
		g.metrics.ObserveCall(op, outcome, time.Since(start).Seconds())
	}
	return resp, err
}

func (g *Gateway) active() Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.client
}

func (g *Gateway) snapshot() (Client, Status) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.client, g.status
}

func (g *Gateway) install(client Client, status Status) {
	g.mu.Lock()
	old := g.client
	g.client = client
	g.status = status
	g.mu.Unlock()

	if old != nil && old != client {
		_ = old.Close()
	}
	if g.metrics != nil {
		g.metrics.SetConnected(status.Connected)
	}
}
