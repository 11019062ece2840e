package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"tracient/internal/platform/config"
)

// FabricClient talks to the wage chaincode over a Fabric gateway peer. Each
// call is deadline-bounded by operation class; transient failures are returned
// to the caller, never retried here, so the orchestrator owns retry policy.
type FabricClient struct {
	conn     *grpc.ClientConn
	gateway  *client.Gateway
	contract *client.Contract

	short  time.Duration
	medium time.Duration
	long   time.Duration
	now    func() time.Time
}

// dialFabric establishes the gRPC connection, binds the channel and chaincode,
// and verifies the peer is reachable. one connection attempt; the gateway's
// retry policy decides how often to call this.
func dialFabric(ctx context.Context, cfg config.Ledger, material *identityMaterial) (*FabricClient, error) {
	cert, err := identity.CertificateFromPEM(material.CertPEM)
	if err != nil {
		return nil, &Error{Kind: KindCredential, Op: "parse certificate", Err: err}
	}
	x509ID, err := identity.NewX509Identity(cfg.MSPID, cert)
	if err != nil {
		return nil, &Error{Kind: KindCredential, Op: "build identity", Err: err}
	}
	key, err := identity.PrivateKeyFromPEM(material.KeyPEM)
	if err != nil {
		return nil, &Error{Kind: KindCredential, Op: "parse private key", Err: err}
	}
	sign, err := identity.NewPrivateKeySign(key)
	if err != nil {
		return nil, &Error{Kind: KindCredential, Op: "build signer", Err: err}
	}

	creds, err := transportCredentials(cfg)
	if err != nil {
		return nil, &Error{Kind: KindCredential, Op: "load tls material", Err: err}
	}
	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, &Error{Kind: KindConnection, Op: "dial peer", Err: err}
	}

	gw, err := client.Connect(
		x509ID,
		client.WithSign(sign),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(cfg.ShortTimeout),
		client.WithEndorseTimeout(cfg.MediumTimeout),
		client.WithSubmitTimeout(cfg.MediumTimeout),
		client.WithCommitStatusTimeout(cfg.LongTimeout),
	)
	if err != nil {
		conn.Close()
		return nil, &Error{Kind: KindConnection, Op: "connect gateway", Err: err}
	}

	fc := &FabricClient{
		conn:     conn,
		gateway:  gw,
		contract: gw.GetNetwork(cfg.Channel).GetContract(cfg.Chaincode),
		short:    cfg.ShortTimeout,
		medium:   cfg.MediumTimeout,
		long:     cfg.LongTimeout,
		now:      time.Now,
	}

	// Probe before declaring the connection live: Connect itself is lazy and
	// succeeds even against a dead endpoint.
	if health := fc.Health(ctx); !health.Healthy {
		fc.Close()
		return nil, &Error{Kind: KindConnection, Op: "probe peer", Err: fmt.Errorf("%s", health.Detail)}
	}
	return fc, nil
}

func transportCredentials(cfg config.Ledger) (credentials.TransportCredentials, error) {
	if cfg.TLSCertPath == "" {
		return insecure.NewCredentials(), nil
	}
	return credentials.NewClientTLSFromFile(cfg.TLSCertPath, cfg.GatewayPeer)
}

// Submit runs the full proposal/endorse/submit/commit flow. The commit status
// carries the transaction id and block number recorded on the wage record.
func (c *FabricClient) Submit(ctx context.Context, fn string, args ...string) (*Response, error) {
	proposal, err := c.contract.NewProposal(fn, client.WithArguments(args...))
	if err != nil {
		return nil, classify("build proposal", err)
	}

	endorseCtx, cancelEndorse := context.WithTimeout(ctx, c.medium)
	defer cancelEndorse()
	txn, err := proposal.EndorseWithContext(endorseCtx)
	if err != nil {
		return nil, classify("endorse", err)
	}

	submitCtx, cancelSubmit := context.WithTimeout(ctx, c.medium)
	defer cancelSubmit()
	commit, err := txn.SubmitWithContext(submitCtx)
	if err != nil {
		return nil, classify("submit", err)
	}

	statusCtx, cancelStatus := context.WithTimeout(ctx, c.long)
	defer cancelStatus()
	status, err := commit.StatusWithContext(statusCtx)
	if err != nil {
		return nil, classify("commit status", err)
	}
	if !status.Successful {
		return nil, &Error{
			Kind: KindSubmission,
			Op:   "commit",
			Err:  fmt.Errorf("transaction %s invalidated with code %v", status.TransactionID, status.Code),
		}
	}

	return &Response{
		Success:      true,
		FunctionName: fn,
		Args:         argsOrEmpty(args),
		Timestamp:    c.now().UTC(),
		TxID:         status.TransactionID,
		Block:        status.BlockNumber,
		Payload:      DecodePayload(txn.Result()),
	}, nil
}

// Evaluate runs a read-only query against a single peer with the short
// deadline class.
func (c *FabricClient) Evaluate(ctx context.Context, fn string, args ...string) (*Response, error) {
	proposal, err := c.contract.NewProposal(fn, client.WithArguments(args...))
	if err != nil {
		return nil, classify("build proposal", err)
	}

	evalCtx, cancel := context.WithTimeout(ctx, c.short)
	defer cancel()
	result, err := proposal.EvaluateWithContext(evalCtx)
	if err != nil {
		return nil, classify("evaluate", err)
	}

	return &Response{
		Success:      true,
		FunctionName: fn,
		Args:         argsOrEmpty(args),
		Timestamp:    c.now().UTC(),
		TxID:         proposal.TransactionID(),
		Payload:      DecodePayload(result),
	}, nil
}

// Health evaluates a cheap existence query under the short deadline. The
// probe id never exists; any well-formed reply, positive or negative, proves
// the peer and chaincode are reachable.
func (c *FabricClient) Health(ctx context.Context) HealthStatus {
	probeCtx, cancel := context.WithTimeout(ctx, c.short)
	defer cancel()

	proposal, err := c.contract.NewProposal("WageExists", client.WithArguments("tracient-health-probe"))
	if err != nil {
		return HealthStatus{Healthy: false, Detail: err.Error()}
	}
	if _, err := proposal.EvaluateWithContext(probeCtx); err != nil {
		return HealthStatus{Healthy: false, Detail: err.Error()}
	}
	return HealthStatus{Healthy: true}
}

// Close releases the gateway session and the gRPC connection. Idempotent.
func (c *FabricClient) Close() error {
	if c.gateway != nil {
		c.gateway.Close()
		c.gateway = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *FabricClient) Mock() bool {
	return false
}

func argsOrEmpty(args []string) []string {
	if args == nil {
		return []string{}
	}
	return args
}
