package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/bilal/lattice-bridge/internal/entity"
)

// DefaultKafkaTopic receives entity updates when no topic is configured.
const DefaultKafkaTopic = "lattice.entities"

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes each update as one JSON message keyed by entity id, so
// every update for a vehicle lands on the same partition.
type Kafka struct {
	writer messageWriter
	topic  string
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultKafkaTopic
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	log.Info().Strs("brokers", cfg.Brokers).Str("topic", topic).Msg("kafka sink initialized")
	return &Kafka{writer: w, topic: topic}, nil
}

func (k *Kafka) Publish(ctx context.Context, u entity.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(u.EntityID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "correlation_id", Value: []byte(uuid.New().String())},
			{Key: "content_type", Value: []byte("application/json")},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	log.Info().Msg("closing kafka sink")
	return k.writer.Close()
}
