// Package hub fans simulator messages out to live subscribers.
//
// A subscriber whose delivery fails is dropped from the registry and closed;
// the failure never reaches the producer and never stops delivery to the
// remaining subscribers.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"hvac-simulator/internal/metrics"
)

// ErrUnknownSubscriber is returned by Send for ids not in the registry.
var ErrUnknownSubscriber = errors.New("unknown subscriber")

// Subscriber is a message sink registered with the hub.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, f Frame) error
	Close() error
}

// Hub is a concurrency-safe subscriber registry.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Hub

	mu   sync.RWMutex
	subs map[string]Subscriber
}

// New creates an empty hub. m may be nil.
func New(log *slog.Logger, m *metrics.Hub) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log.With("component", "hub"),
		metrics: m,
		subs:    make(map[string]Subscriber),
	}
}

// Join registers s. A subscriber with the same id replaces the old one.
func (h *Hub) Join(s Subscriber) {
	h.mu.Lock()
	h.subs[s.ID()] = s
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.Joined()
	h.metrics.SetSubscribers(n)
	h.log.Debug("subscriber joined", "id", s.ID(), "subscribers", n)
}

// Leave removes the subscriber with the given id. Unknown ids are ignored.
// The subscriber is not closed; its owner does that.
func (h *Hub) Leave(id string) {
	h.mu.Lock()
	_, ok := h.subs[id]
	delete(h.subs, id)
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.metrics.SetSubscribers(n)
		h.log.Debug("subscriber left", "id", id, "subscribers", n)
	}
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast delivers msg to every registered subscriber and returns how many
// deliveries succeeded. Subscribers that fail are removed.
func (h *Hub) Broadcast(ctx context.Context, msg Message) int {
	f, err := Encode(msg)
	if err != nil {
		h.log.Error("dropping message", "err", err)
		return 0
	}

	targets := h.snapshot()
	if len(targets) == 0 {
		return 0
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []Subscriber
	)
	for _, s := range targets {
		wg.Add(1)
		go func(s Subscriber) {
			defer wg.Done()
			if err := s.Send(ctx, f); err != nil {
				h.log.Debug("delivery failed", "id", s.ID(), "type", msg.Kind(), "err", err)
				mu.Lock()
				failed = append(failed, s)
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	for _, s := range failed {
		h.metrics.Failed(string(msg.Kind()))
		h.drop(s)
	}
	delivered := len(targets) - len(failed)
	for i := 0; i < delivered; i++ {
		h.metrics.Sent(string(msg.Kind()))
	}
	return delivered
}

// Send delivers msg to a single subscriber, removing it on failure.
func (h *Hub) Send(ctx context.Context, id string, msg Message) error {
	f, err := Encode(msg)
	if err != nil {
		return err
	}
	h.mu.RLock()
	s, ok := h.subs[id]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscriber, id)
	}
	if err := s.Send(ctx, f); err != nil {
		h.metrics.Failed(string(msg.Kind()))
		h.drop(s)
		return fmt.Errorf("send to %s: %w", id, err)
	}
	h.metrics.Sent(string(msg.Kind()))
	return nil
}

// Close closes and removes every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]Subscriber)
	h.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	h.metrics.SetSubscribers(0)
}

func (h *Hub) snapshot() []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s)
	}
	return out
}

// drop removes s if it is still the registered instance for its id.
func (h *Hub) drop(s Subscriber) {
	h.mu.Lock()
	cur, ok := h.subs[s.ID()]
	if ok && cur == s {
		delete(h.subs, s.ID())
	}
	n := len(h.subs)
	h.mu.Unlock()

	if ok && cur == s {
		h.metrics.SetSubscribers(n)
		h.log.Info("subscriber removed after failed delivery", "id", s.ID(), "subscribers", n)
	}
	_ = s.Close()
}
