package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"tracient/internal/platform/config"
)

// Kafka publishes sync events to a Kafka topic via franz-go. Produce is
// asynchronous; delivery failures are logged and dropped rather than
// propagated, keeping the sweep path free of broker backpressure.
type Kafka struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewKafka builds a Kafka publisher, or a Noop publisher when no brokers are
// configured.
func NewKafka(cfg config.Kafka, logger *slog.Logger) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return Noop{}, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Kafka{client: client, logger: logger}, nil
}

func (k *Kafka) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		k.logger.ErrorContext(ctx, "marshal sync event", "type", event.Type, "error", err)
		return
	}

	record := &kgo.Record{
		Key:   []byte(event.RecordID),
		Value: payload,
	}
	k.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			k.logger.Error("publish sync event failed", "type", event.Type, "record_id", event.RecordID, "error", err)
		}
	})
}

func (k *Kafka) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := k.client.Flush(ctx); err != nil {
		k.logger.Warn("flush sync events on close", "error", err)
	}
	k.client.Close()
	return nil
}
