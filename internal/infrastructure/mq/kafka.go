package mq

import (
	"fmt"

	"exchange/internal/config"

	"github.com/IBM/sarama"
)

// Publisher delivers one keyed message. The outbox sender depends on this
// rather than on sarama directly.
type Publisher interface {
	Publish(topic, key, value string) error
	Close() error
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
}

func NewKafkaPublisher(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	// Events of one user land on one partition, in commit order.
	kafkaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewPublisher(producer), nil
}

// NewPublisher wraps an existing producer, e.g. sarama/mocks in tests.
func NewPublisher(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// NopPublisher drops every message. Used when Kafka is disabled so outbox
// rows are still drained.
type NopPublisher struct{}

func (NopPublisher) Publish(string, string, string) error { return nil }
func (NopPublisher) Close() error                         { return nil }
