package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures the full environment surface of the sync service. Every key
// is optional with a default so a bare process comes up in mock mode against
// the in-memory store.
type Config struct {
	Server Server
	DB     DB
	Redis  Redis
	Kafka  Kafka
	Ledger Ledger
	Sync   Sync
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr string
}

// DB configures the primary wage store. An empty URL selects the in-memory store.
type DB struct {
	URL string
}

// Redis configures the optional distributed sweep lease. Empty URL disables it.
type Redis struct {
	URL string
}

// Kafka configures the optional sync event publisher. No brokers disables it.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Ledger configures the Fabric gateway connection and its fallback behaviour.
type Ledger struct {
	Enabled     bool
	MockMode    bool
	Endpoint    string
	GatewayPeer string
	MSPID       string
	Channel     string
	Chaincode   string
	IdentityDir string
	MSPDir      string
	TLSCertPath string

	// Deadline classes per operation kind.
	ShortTimeout  time.Duration // queries, health probes
	MediumTimeout time.Duration // endorsement
	LongTimeout   time.Duration // commit confirmation

	ConnectAttempts  int
	ConnectBaseDelay time.Duration
}

// Sync configures the orchestrator sweeps.
type Sync struct {
	PendingInterval time.Duration
	RetryInterval   time.Duration
	StatsInterval   time.Duration
	MaxAttempts     int
	BatchSize       int
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr: envString("TRACIENT_ADDR", ":8080"),
		},
		DB: DB{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: Redis{
			URL: os.Getenv("REDIS_URL"),
		},
		Kafka: Kafka{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envString("KAFKA_SYNC_TOPIC", "tracient.sync.events"),
		},
		Ledger: Ledger{
			Enabled:          envBool("LEDGER_ENABLED", true),
			MockMode:         envBool("LEDGER_MOCK_MODE", false),
			Endpoint:         envString("LEDGER_ENDPOINT", "localhost:7051"),
			GatewayPeer:      envString("LEDGER_GATEWAY_PEER", "peer0.org1.tracient.net"),
			MSPID:            envString("LEDGER_MSP_ID", "Org1MSP"),
			Channel:          envString("LEDGER_CHANNEL", "tracientchannel"),
			Chaincode:        envString("LEDGER_CHAINCODE", "tracient"),
			IdentityDir:      os.Getenv("LEDGER_IDENTITY_DIR"),
			MSPDir:           envString("LEDGER_MSP_DIR", "crypto-config/peerOrganizations/org1.tracient.net/users/Admin@org1.tracient.net/msp"),
			TLSCertPath:      os.Getenv("LEDGER_TLS_CERT"),
			ShortTimeout:     envMillis("LEDGER_TIMEOUT_SHORT_MS", 5*time.Second),
			MediumTimeout:    envMillis("LEDGER_TIMEOUT_MEDIUM_MS", 15*time.Second),
			LongTimeout:      envMillis("LEDGER_TIMEOUT_LONG_MS", time.Minute),
			ConnectAttempts:  envInt("LEDGER_CONNECT_ATTEMPTS", 3),
			ConnectBaseDelay: envMillis("LEDGER_CONNECT_BASE_DELAY_MS", 2*time.Second),
		},
		Sync: Sync{
			PendingInterval: envMillis("SYNC_PENDING_INTERVAL_MS", 5*time.Minute),
			RetryInterval:   envMillis("SYNC_RETRY_INTERVAL_MS", 30*time.Minute),
			StatsInterval:   envMillis("SYNC_STATS_INTERVAL_MS", 15*time.Minute),
			MaxAttempts:     envInt("SYNC_MAX_ATTEMPTS", 5),
			BatchSize:       envInt("SYNC_BATCH_SIZE", 50),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMillis(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
