package ledger

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tracient/internal/platform/config"
)

// IdentitySource records which credential resolution path produced the
// identity in use. Audit-relevant only; no business logic branches on it.
type IdentitySource string

const (
	// SourceIdentityDir: operator-provisioned cert.pem/key.pem directory.
	SourceIdentityDir IdentitySource = "identity-dir"

	// SourceMSPDir: standard organizational MSP layout (signcerts/keystore).
	SourceMSPDir IdentitySource = "msp-dir"

	// SourceEphemeral: self-signed identity generated at startup. Keeps the
	// process alive for local development, but carries none of the MSP
	// attributes a real peer requires.
	SourceEphemeral IdentitySource = "ephemeral"
)

// identityMaterial is resolved credential material plus its provenance.
type identityMaterial struct {
	Source  IdentitySource
	CertPEM []byte
	KeyPEM  []byte
}

// resolveIdentity walks the ordered credential sources: the custom identity
// directory, then the organizational MSP directory, then a generated
// last-resort identity. Returns a credential-kind Error only when even the
// last resort cannot be produced.
func resolveIdentity(cfg config.Ledger) (*identityMaterial, error) {
	if cfg.IdentityDir != "" {
		if material, err := loadIdentityDir(cfg.IdentityDir); err == nil {
			return material, nil
		}
	}

	if material, err := loadMSPDir(cfg.MSPDir); err == nil {
		return material, nil
	}

	material, err := generateEphemeralIdentity()
	if err != nil {
		return nil, &Error{Kind: KindCredential, Op: "resolve identity", Err: err}
	}
	return material, nil
}

// loadIdentityDir reads cert.pem and key.pem from a flat directory.
func loadIdentityDir(dir string) (*identityMaterial, error) {
	certPEM, err := os.ReadFile(filepath.Join(dir, "cert.pem"))
	if err != nil {
		return nil, fmt.Errorf("read identity cert: %w", err)
	}
	keyPEM, err := os.ReadFile(filepath.Join(dir, "key.pem"))
	if err != nil {
		return nil, fmt.Errorf("read identity key: %w", err)
	}
	return &identityMaterial{Source: SourceIdentityDir, CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

// loadMSPDir reads the first PEM under signcerts/ and keystore/ in a standard
// Fabric MSP directory.
func loadMSPDir(dir string) (*identityMaterial, error) {
	if dir == "" {
		return nil, fmt.Errorf("msp dir not configured")
	}
	certPEM, err := firstPEM(filepath.Join(dir, "signcerts"))
	if err != nil {
		return nil, fmt.Errorf("read msp signcert: %w", err)
	}
	keyPEM, err := firstPEM(filepath.Join(dir, "keystore"))
	if err != nil {
		return nil, fmt.Errorf("read msp key: %w", err)
	}
	return &identityMaterial{Source: SourceMSPDir, CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

func firstPEM(dir string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".pem") || strings.HasSuffix(name, "_sk") {
			return os.ReadFile(filepath.Join(dir, name))
		}
	}
	return nil, fmt.Errorf("no PEM material in %s", dir)
}

// generateEphemeralIdentity mints a self-signed P-256 identity. The resulting
// certificate has no MSP organizational units, so a correctly configured peer
// will reject it; its purpose is to keep the gateway constructible so the
// process can run in mock mode rather than crash.
func generateEphemeralIdentity() (*identityMaterial, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "tracient-ephemeral", Organization: []string{"tracient-dev"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("self-sign ephemeral cert: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal ephemeral key: %w", err)
	}

	return &identityMaterial{
		Source:  SourceEphemeral,
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}, nil
}
