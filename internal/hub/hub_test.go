package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hvac-simulator/internal/metrics"
	"hvac-simulator/internal/model"
)

type fakeSub struct {
	id     string
	fail   bool
	mu     sync.Mutex
	got    [][]byte
	closed atomic.Bool
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Send(_ context.Context, fr Frame) error {
	if f.fail {
		return errors.New("broken pipe")
	}
	f.mu.Lock()
	f.got = append(f.got, fr.Data)
	f.mu.Unlock()
	return nil
}

func (f *fakeSub) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeSub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

var ts = time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)

func TestBroadcastIsolatesFailures(t *testing.T) {
	h := New(nil, metrics.NewHub(metrics.NewRegistry()))
	var subs []*fakeSub
	for i := 0; i < 5; i++ {
		s := &fakeSub{id: fmt.Sprintf("s%d", i), fail: i == 2}
		subs = append(subs, s)
		h.Join(s)
	}

	n := h.Broadcast(context.Background(), NewDeviceStatus("fcu-sr-01", model.StatusOnline, ts))
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, h.Len())
	for i, s := range subs {
		if i == 2 {
			assert.Zero(t, s.count())
			assert.True(t, s.closed.Load())
			continue
		}
		assert.Equal(t, 1, s.count())
		assert.False(t, s.closed.Load())
	}

	// the failed subscriber is gone for good
	n = h.Broadcast(context.Background(), NewKeepalive())
	assert.Equal(t, 4, n)
}

func TestBroadcastInvalidMessageDropped(t *testing.T) {
	h := New(nil, nil)
	s := &fakeSub{id: "a"}
	h.Join(s)
	n := h.Broadcast(context.Background(), NewDeviceStatus("", model.StatusOnline, ts))
	assert.Zero(t, n)
	assert.Zero(t, s.count())
	assert.Equal(t, 1, h.Len())
}

func TestSend(t *testing.T) {
	h := New(nil, nil)
	ok := &fakeSub{id: "ok"}
	bad := &fakeSub{id: "bad", fail: true}
	h.Join(ok)
	h.Join(bad)

	require.NoError(t, h.Send(context.Background(), "ok", NewKeepalive()))
	assert.Equal(t, 1, ok.count())

	err := h.Send(context.Background(), "bad", NewKeepalive())
	require.Error(t, err)
	assert.Equal(t, 1, h.Len())
	assert.True(t, bad.closed.Load())

	err = h.Send(context.Background(), "missing", NewKeepalive())
	assert.ErrorIs(t, err, ErrUnknownSubscriber)
}

func TestLeaveAndRejoin(t *testing.T) {
	h := New(nil, nil)
	a := &fakeSub{id: "a"}
	h.Join(a)
	h.Leave("a")
	h.Leave("a")
	assert.Zero(t, h.Len())
	assert.False(t, a.closed.Load())

	// a stale failing instance must not evict its replacement
	old := &fakeSub{id: "x", fail: true}
	h.Join(old)
	fresh := &fakeSub{id: "x"}
	h.drop(old)
	h.Join(fresh)
	h.drop(old)
	assert.Equal(t, 1, h.Len())
}

func TestConcurrentMembership(t *testing.T) {
	h := New(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("c%d-%d", i, j)
				h.Join(&fakeSub{id: id, fail: j%7 == 0})
				if j%3 == 0 {
					h.Leave(id)
				}
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Broadcast(context.Background(), NewKeepalive())
			}
		}()
	}
	wg.Wait()
	h.Broadcast(context.Background(), NewKeepalive())
	for _, s := range h.snapshot() {
		assert.False(t, s.(*fakeSub).fail)
	}
	h.Close()
	assert.Zero(t, h.Len())
}

func TestMessageEncoding(t *testing.T) {
	co2 := 612.0
	occ := 12
	r := model.Reading{Temperature: 22.5, Humidity: 51.2, CO2: &co2, PowerKW: 1.61, Occupancy: &occ}

	tests := []struct {
		name string
		msg  Message
		want map[string]any
	}{
		{
			name: "reading",
			msg:  NewReading("open-office", "sensor-of-01", r, ts),
			want: map[string]any{
				"type": "reading", "zone_id": "open-office", "device_id": "sensor-of-01",
				"timestamp": "2024-03-13T12:00:00Z",
				"data": map[string]any{
					"temperature": 22.5, "humidity": 51.2, "co2_level": 612.0, "power_kw": 1.61, "occupancy": 12.0,
				},
			},
		},
		{
			name: "prediction",
			msg: NewPrediction("server-room", model.Prediction{
				CurrentTemp: 18.2, PredictedTemp: 18.9, Confidence: 0.81, Trend: model.TrendRising,
			}, ts),
			want: map[string]any{
				"type": "prediction", "zone_id": "server-room", "current_temp": 18.2,
				"predicted_temp": 18.9, "confidence": 0.81, "trend": "rising",
				"timestamp": "2024-03-13T12:00:00Z",
			},
		},
		{
			name: "device status",
			msg:  NewDeviceStatus("fcu-sr-02", model.StatusOffline, ts),
			want: map[string]any{
				"type": "device_status", "device_id": "fcu-sr-02", "status": "offline",
				"timestamp": "2024-03-13T12:00:00Z",
			},
		},
		{
			name: "keepalive",
			msg:  NewKeepalive(),
			want: map[string]any{"type": "keepalive"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Encode(tt.msg)
			require.NoError(t, err)
			var got map[string]any
			require.NoError(t, json.Unmarshal(f.Data, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadingWithoutOptionalFields(t *testing.T) {
	f, err := Encode(NewReading("server-room", "sensor-sr-01", model.Reading{Temperature: 18, Humidity: 45, PowerKW: 2}, ts))
	require.NoError(t, err)
	var got struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &got))
	assert.NotContains(t, got.Data, "co2_level")
	assert.NotContains(t, got.Data, "occupancy")
}

func TestDeviceDiscoveredPayload(t *testing.T) {
	d := model.Device{ID: "sensor-sr-03", Name: "Multi Sensor 3", Type: model.DeviceSensor, ZoneID: "server-room", Status: model.StatusSyncing}
	f, err := Encode(NewDeviceDiscovered(d, ts))
	require.NoError(t, err)
	var got struct {
		Type   string         `json:"type"`
		Device map[string]any `json:"device"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &got))
	assert.Equal(t, "device_discovered", got.Type)
	assert.Equal(t, "sensor-sr-03", got.Device["id"])
	assert.Equal(t, "syncing", got.Device["status"])
	assert.Equal(t, "sensor", got.Device["type"])
	assert.Equal(t, "server-room", got.Device["zone_id"])
}

func TestValidation(t *testing.T) {
	bad := []Message{
		NewReading("", "d", model.Reading{}, ts),
		NewPrediction("z", model.Prediction{Trend: "sideways"}, ts),
		NewPrediction("z", model.Prediction{Trend: model.TrendStable, Confidence: 1.5}, ts),
		NewDeviceDiscovered(model.Device{ID: "x", Status: "lost"}, ts),
		NewDeviceStatus("x", "rebooting", ts),
	}
	for _, m := range bad {
		_, err := Encode(m)
		assert.ErrorIs(t, err, ErrInvalidMessage, "%T", m)
	}
	_, err := Encode(nil)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
