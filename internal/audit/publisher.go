package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher emits audit events. Emit must never block identify latency on
// broker health, so implementations are asynchronous and lossy on failure.
type Publisher interface {
	Emit(ctx context.Context, event Event)
}

// Nop discards events. Used when no brokers are configured.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Kafka publishes events to a topic, keyed by the surviving primary id so one
// cluster's history stays in one partition.
type Kafka struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafka builds a Kafka publisher. Returns an error when the client cannot
// be constructed; broker reachability is checked lazily by franz-go.
func NewKafka(brokers []string, topic string, logger *slog.Logger) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Kafka{client: client, topic: topic, logger: logger}, nil
}

// Emit serializes and produces the event asynchronously. Failures are logged
// and dropped.
func (k *Kafka) Emit(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		k.logger.ErrorContext(ctx, "marshal audit event", "action", event.Action, "error", err.Error())
		return
	}
	record := &kgo.Record{
		Key:   []byte(strconv.FormatInt(event.PrimaryID, 10)),
		Value: payload,
	}
	k.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			k.logger.Error("produce audit event",
				"action", event.Action,
				"primary_id", event.PrimaryID,
				"error", err.Error(),
			)
		}
	})
}

// Close flushes pending records and releases the client.
func (k *Kafka) Close(ctx context.Context) error {
	if err := k.client.Flush(ctx); err != nil {
		k.client.Close()
		return fmt.Errorf("flush audit events: %w", err)
	}
	k.client.Close()
	return nil
}
