package hub

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the mirror needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSubscriber mirrors every frame to a Kafka topic, keyed by the zone or
// device the message is about. It is removed like any other subscriber when
// a write fails.
type KafkaSubscriber struct {
	id      string
	w       MessageWriter
	timeout time.Duration
}

// NewKafkaWriter returns a hash-balanced writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
}

// NewKafkaSubscriber wraps w. A zero timeout means five seconds per write.
func NewKafkaSubscriber(id string, w MessageWriter, timeout time.Duration) *KafkaSubscriber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaSubscriber{id: id, w: w, timeout: timeout}
}

func (k *KafkaSubscriber) ID() string { return k.id }

func (k *KafkaSubscriber) Send(ctx context.Context, f Frame) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	msg := kafka.Message{
		Value:   f.Data,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "type", Value: []byte(f.Message.Kind())}},
	}
	if key := f.Message.Key(); key != "" {
		msg.Key = []byte(key)
	}
	return k.w.WriteMessages(ctx, msg)
}

func (k *KafkaSubscriber) Close() error { return k.w.Close() }
