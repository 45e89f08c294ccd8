// Package events publishes run summaries to Kafka so downstream
// consumers (alerting, dashboards) can react to pipeline runs.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	"github.com/parkpulse/parkpulse/pkg/logger"
	"github.com/parkpulse/parkpulse/pkg/model"
)

// Publisher emits a RunSummary after an orchestrated run completes.
type Publisher interface {
	Publish(ctx context.Context, summary model.RunSummary) error
	Close() error
}

// NopPublisher drops every summary. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.RunSummary) error { return nil }
func (NopPublisher) Close() error                                    { return nil }

// Multi fans a summary out to several publishers. The first error is
// returned but every publisher still gets the summary.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, summary model.RunSummary) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, summary); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, p := range m {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// KafkaPublisher sends each summary as a JSON message keyed by run id.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      logger.Logger
}

// NewKafkaPublisher connects a synchronous producer to the given brokers.
func NewKafkaPublisher(brokers []string, topic string, log logger.Logger) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Timeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{producer: producer, topic: topic, log: log}, nil
}

func (k *KafkaPublisher) Publish(ctx context.Context, summary model.RunSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(summary.RunID),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		k.log.Errorf("publish run summary %s: %v", summary.RunID, err)
		return err
	}
	k.log.WithFields(map[string]interface{}{
		"run_id":    summary.RunID,
		"partition": partition,
		"offset":    offset,
	}).Debug("run summary published")
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}
