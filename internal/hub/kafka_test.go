package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hvac-simulator/internal/model"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	w.msgs = append(w.msgs, msgs...)
	w.mu.Unlock()
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSubscriberMirrorsFrames(t *testing.T) {
	w := &fakeWriter{}
	h := New(nil, nil)
	h.Join(NewKafkaSubscriber("kafka", w, time.Second))

	n := h.Broadcast(context.Background(), NewReading("server-room", "sensor-sr-01", model.Reading{Temperature: 18.1}, ts))
	require.Equal(t, 1, n)
	n = h.Broadcast(context.Background(), NewKeepalive())
	require.Equal(t, 1, n)

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "server-room", string(w.msgs[0].Key))
	assert.Equal(t, []kafka.Header{{Key: "type", Value: []byte("reading")}}, w.msgs[0].Headers)
	assert.Contains(t, string(w.msgs[0].Value), `"zone_id":"server-room"`)
	assert.Nil(t, w.msgs[1].Key)
}

func TestKafkaSubscriberRemovedOnFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("no brokers")}
	h := New(nil, nil)
	h.Join(NewKafkaSubscriber("kafka", w, 0))

	assert.Zero(t, h.Broadcast(context.Background(), NewKeepalive()))
	assert.Zero(t, h.Len())
	assert.True(t, w.closed)
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "hvac.telemetry")
	assert.Equal(t, "hvac.telemetry", w.Topic)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}
