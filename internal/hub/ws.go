package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client protocol constants.
const (
	PingText = "ping"
	PongText = "pong"

	DefaultIdleTimeout  = 60 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// WSSubscriber delivers frames over a websocket connection.
type WSSubscriber struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	lastSent  atomic.Int64
	closeOnce sync.Once
}

// NewWSSubscriber wraps an upgraded connection.
func NewWSSubscriber(conn *websocket.Conn, writeTimeout time.Duration) *WSSubscriber {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	s := &WSSubscriber{id: uuid.NewString(), conn: conn, writeTimeout: writeTimeout}
	s.lastSent.Store(time.Now().UnixNano())
	return s
}

func (s *WSSubscriber) ID() string { return s.id }

func (s *WSSubscriber) Send(_ context.Context, f Frame) error {
	return s.WriteText(f.Data)
}

// WriteText writes one text frame. gorilla/websocket allows a single
// concurrent writer, so writes are serialized.
func (s *WSSubscriber) WriteText(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return err
	}
	s.lastSent.Store(time.Now().UnixNano())
	return nil
}

// LastSent returns the time of the last successful server write.
func (s *WSSubscriber) LastSent() time.Time {
	return time.Unix(0, s.lastSent.Load())
}

func (s *WSSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

// WSHandler upgrades /ws/sensors requests and serves one subscriber per connection.
type WSHandler struct {
	hub          *Hub
	log          *slog.Logger
	upgrader     websocket.Upgrader
	idle         time.Duration
	writeTimeout time.Duration
}

// NewWSHandler creates a handler; zero durations use the protocol defaults.
func NewWSHandler(h *Hub, log *slog.Logger, idle, writeTimeout time.Duration) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &WSHandler{
		hub: h,
		log: log.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		idle:         idle,
		writeTimeout: writeTimeout,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	sub := NewWSSubscriber(conn, h.writeTimeout)
	h.hub.Join(sub)
	h.log.Info("client connected", "id", sub.ID(), "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	go h.keepalive(ctx, sub)

	defer func() {
		cancel()
		h.hub.Leave(sub.ID())
		_ = sub.Close()
		h.log.Info("client disconnected", "id", sub.ID())
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.TextMessage && string(data) == PingText {
			if err := sub.WriteText([]byte(PongText)); err != nil {
				return
			}
		}
	}
}

// keepalive sends a keepalive message whenever the subscriber has gone
// h.idle without any server traffic.
func (h *WSHandler) keepalive(ctx context.Context, sub *WSSubscriber) {
	for {
		wait := h.idle - time.Since(sub.LastSent())
		if wait <= 0 {
			if err := h.hub.Send(ctx, sub.ID(), NewKeepalive()); err != nil {
				return
			}
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
