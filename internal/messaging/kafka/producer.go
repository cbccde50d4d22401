package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// Producer публикует события синхронизации в Kafka.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *log.Entry
}

var _ domain.SyncEventPublisher = (*Producer)(nil)

// NewProducer создаёт идемпотентный синхронный producer.
func NewProducer(brokers []string, topic string, logger *log.Entry) (*Producer, error) {
	config := sarama.NewConfig()
	config.ClientID = "ordersync"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducerFromSync(producer, topic, logger), nil
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer.
func NewProducerFromSync(producer sarama.SyncProducer, topic string, logger *log.Entry) *Producer {
	if strings.TrimSpace(topic) == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{producer: producer, topic: topic, logger: logger}
}

// Publish отправляет событие. ctx проверяется до отправки: SyncProducer не принимает контекст.
func (p *Producer) Publish(ctx context.Context, event domain.SyncEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload := NewSyncEventMessage(event)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(payload.PartitionKey()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderEventType), Value: []byte(payload.EventType)},
			{Key: []byte(HeaderCycleID), Value: []byte(payload.CycleID)},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic":      p.topic,
			"event_type": payload.EventType,
		}).Error("failed to send sync event to kafka")
		return fmt.Errorf("send sync event: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":      p.topic,
		"event_type": payload.EventType,
		"partition":  partition,
		"offset":     offset,
	}).Debug("sync event sent to kafka")
	return nil
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
