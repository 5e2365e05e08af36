package dispatch

import (
	"encoding/json"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/pkg/errors"

	"releasebot/models"
)

// Producer sends dispatch messages to the build-request topic consumed by
// wf-release-builder.
type Producer struct {
	producer *kafka.Producer
	topic    string
}

func NewProducer(bootstrapServers, topic string) (*Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": bootstrapServers})
	if err != nil {
		return nil, errors.Wrap(err, "create kafka producer")
	}
	return &Producer{producer: p, topic: topic}, nil
}

// Send produces one DispatchMessage and waits for delivery.
func (p *Producer) Send(msg models.DispatchMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal dispatch message")
	}
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(msg.VersionRef),
		Value:          payload,
	}, nil)
	if err != nil {
		return &models.TransientError{Op: "produce dispatch message", Err: err}
	}
	p.producer.Flush(15 * 1000)
	return nil
}

func (p *Producer) Close() {
	p.producer.Close()
}
