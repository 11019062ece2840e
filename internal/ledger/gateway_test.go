package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tracient/internal/platform/config"
)

// stubClient is what the fake dialer hands back in place of a live connection.
type stubClient struct {
	submits int
	closes  int
}

func (c *stubClient) Submit(_ context.Context, fn string, args ...string) (*Response, error) {
	c.submits++
	return &Response{Success: true, FunctionName: fn, Args: args, TxID: "live-tx"}, nil
}

func (c *stubClient) Evaluate(_ context.Context, fn string, args ...string) (*Response, error) {
	return &Response{Success: true, FunctionName: fn, Args: args}, nil
}

func (c *stubClient) Health(context.Context) HealthStatus {
	return HealthStatus{Healthy: true}
}

func (c *stubClient) Close() error {
	c.closes++
	return nil
}

func (c *stubClient) Mock() bool { return false }

type GatewaySuite struct {
	suite.Suite
	ctx context.Context
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *GatewaySuite) ledgerConfig() config.Ledger {
	return config.Ledger{
		Enabled:          true,
		Endpoint:         "peer0.org1.tracient.net:7051",
		MSPID:            "Org1MSP",
		Channel:          "tracientchannel",
		Chaincode:        "tracient",
		IdentityDir:      writeIdentityDir(s.T()),
		ConnectAttempts:  3,
		ConnectBaseDelay: time.Millisecond,
	}
}

func (s *GatewaySuite) newGateway(cfg config.Ledger, dial dialFunc) *Gateway {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, logger, withDialer(dial))
}

func (s *GatewaySuite) TestMockModeWhenDisabled() {
	cfg := s.ledgerConfig()
	cfg.Enabled = false
	dialed := 0
	g := s.newGateway(cfg, func(context.Context, config.Ledger, *identityMaterial) (Client, error) {
		dialed++
		return &stubClient{}, nil
	})

	s.Require().NoError(g.Initialize(s.ctx))
	s.Zero(dialed)
	s.True(g.Mock())

	status := g.Status()
	s.False(status.Connected)
	s.Equal("none", status.IdentitySource)
}

func (s *GatewaySuite) TestMockModeWhenForced() {
	cfg := s.ledgerConfig()
	cfg.MockMode = true
	g := s.newGateway(cfg, func(context.Context, config.Ledger, *identityMaterial) (Client, error) {
		s.FailNow("dialer must not run in mock mode")
		return nil, nil
	})

	s.Require().NoError(g.Initialize(s.ctx))
	s.True(g.Mock())

	resp, err := g.Submit(s.ctx, "RecordWage", "wage-1")
	s.Require().NoError(err)
	s.True(resp.Mock)
}

func (s *GatewaySuite) TestConnectsOnFirstAttempt() {
	stub := &stubClient{}
	g := s.newGateway(s.ledgerConfig(), func(_ context.Context, _ config.Ledger, material *identityMaterial) (Client, error) {
		s.Equal(SourceIdentityDir, material.Source)
		return stub, nil
	})

	s.Require().NoError(g.Initialize(s.ctx))
	s.False(g.Mock())

	status := g.Status()
	s.True(status.Connected)
	s.Equal(string(SourceIdentityDir), status.IdentitySource)
	s.Equal(1, status.Attempts)
	s.Empty(status.LastError)

	resp, err := g.Submit(s.ctx, "RecordWage", "wage-1")
	s.Require().NoError(err)
	s.Equal("live-tx", resp.TxID)
	s.Equal(1, stub.submits)
}

func (s *GatewaySuite) TestRetriesThenConnects() {
	attempts := 0
	g := s.newGateway(s.ledgerConfig(), func(context.Context, config.Ledger, *identityMaterial) (Client, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("connection refused")
		}
		return &stubClient{}, nil
	})

	s.Require().NoError(g.Initialize(s.ctx))
	s.False(g.Mock())
	s.Equal(2, g.Status().Attempts)
}

func (s *GatewaySuite) TestDegradesWhenUnreachable() {
	attempts := 0
	g := s.newGateway(s.ledgerConfig(), func(context.Context, config.Ledger, *identityMaterial) (Client, error) {
		attempts++
		return nil, errors.New("connection refused")
	})

	s.Require().NoError(g.Initialize(s.ctx), "an unreachable ledger must not fail startup")
	s.Equal(3, attempts)
	s.True(g.Mock())

	status := g.Status()
	s.False(status.Connected)
	s.True(status.Degraded)
	s.Equal(3, status.Attempts)
	s.Contains(status.LastError, "connection refused")

	// a degraded gateway refuses submissions instead of minting synthetic
	// transaction ids
	_, err := g.Submit(s.ctx, "RecordWage", "wage-1")
	s.Require().Error(err)
	s.Equal(KindConnection, KindOf(err))

	// and reports the lost connection instead of the mock's health
	health := g.Health(s.ctx)
	s.False(health.Healthy)
	s.Contains(health.Detail, "no live ledger connection")
	s.Contains(health.Detail, "connection refused")
}

func (s *GatewaySuite) TestIntentionalMockIsNotDegraded() {
	cfg := s.ledgerConfig()
	cfg.MockMode = true
	g := s.newGateway(cfg, func(context.Context, config.Ledger, *identityMaterial) (Client, error) {
		s.FailNow("dialer must not run in mock mode")
		return nil, nil
	})

	s.Require().NoError(g.Initialize(s.ctx))
	s.False(g.Status().Degraded)
	s.True(g.Health(s.ctx).Healthy)
	s.True(g.EnsureConnected(s.ctx))
}

func (s *GatewaySuite) TestEnsureConnectedRecovers() {
	reachable := false
	dials := 0
	g := s.newGateway(s.ledgerConfig(), func(context.Context, config.Ledger, *identityMaterial) (Client, error) {
		dials++
		if !reachable {
			return nil, errors.New("connection refused")
		}
		return &stubClient{}, nil
	})
	s.Require().NoError(g.Initialize(s.ctx))
	s.True(g.Status().Degraded)

	// still down: the reconnect attempt fails and the gateway stays degraded
	s.False(g.EnsureConnected(s.ctx))
	s.True(g.Status().Degraded)

	// the ledger comes back: the next check reconnects and clears the flag
	reachable = true
	s.True(g.EnsureConnected(s.ctx))

	status := g.Status()
	s.True(status.Connected)
	s.False(status.Degraded)

	resp, err := g.Submit(s.ctx, "RecordWage", "wage-1")
	s.Require().NoError(err)
	s.Equal("live-tx", resp.TxID)

	// a live gateway answers without dialing again
	dials = 0
	s.True(g.EnsureConnected(s.ctx))
	s.Zero(dials)
}

func (s *GatewaySuite) TestInitializeReturnsContextError() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	g := s.newGateway(s.ledgerConfig(), func(context.Context, config.Ledger, *identityMaterial) (Client, error) {
		return nil, errors.New("connection refused")
	})

	err := g.Initialize(ctx)
	s.Require().ErrorIs(err, context.Canceled)
}

func (s *GatewaySuite) TestReconnect() {
	stubs := []*stubClient{{}, {}}
	dialed := 0
	g := s.newGateway(s.ledgerConfig(), func(context.Context, config.Ledger, *identityMaterial) (Client, error) {
		c := stubs[dialed]
		dialed++
		return c, nil
	})

	s.Require().NoError(g.Initialize(s.ctx))
	s.Require().NoError(g.Reconnect(s.ctx))

	s.Equal(2, dialed)
	s.Equal(1, stubs[0].closes, "reconnect must release the previous connection")
	s.True(g.Status().Connected)
}

func (s *GatewaySuite) TestCloseIsIdempotent() {
	stub := &stubClient{}
	g := s.newGateway(s.ledgerConfig(), func(context.Context, config.Ledger, *identityMaterial) (Client, error) {
		return stub, nil
	})

	s.Require().NoError(g.Initialize(s.ctx))
	s.Require().NoError(g.Close())
	s.Require().NoError(g.Close())
	s.Equal(1, stub.closes)
	s.True(g.Mock(), "a closed gateway degrades to the mock responder")
	s.False(g.Status().Connected)
}
