package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hvac-simulator/internal/model"
	"hvac-simulator/internal/rng"
)

// scriptedSource replays Float64 values and always returns 0 from IntN.
type scriptedSource struct {
	floats []float64
	i      int
}

func (s *scriptedSource) Float64() float64 {
	v := s.floats[s.i%len(s.floats)]
	s.i++
	return v
}
func (s *scriptedSource) NormFloat64() float64 { return 0 }
func (s *scriptedSource) IntN(int) int         { return 0 }

func TestDeviceIDFormat(t *testing.T) {
	e := NewEngine(&scriptedSource{floats: []float64{0.2}}, []string{"server-room"})
	sensor := DefaultTemplates()[0]

	d1 := e.NewDevice(sensor, "server-room")
	d2 := e.NewDevice(sensor, "server-room")
	assert.Equal(t, "sensor-sr-01", d1.ID)
	assert.Equal(t, "sensor-sr-02", d2.ID)
	assert.Equal(t, "Temperature Sensor 1", d1.Name)
	assert.Equal(t, model.StatusSyncing, d1.Status)
	assert.Equal(t, model.DeviceSensor, d1.Type)
	assert.Equal(t, "server-room", d1.ZoneID)
}

func TestProposeOutcomes(t *testing.T) {
	zones := []string{"server-room", "open-office"}
	tests := []struct {
		roll float64
		ok   bool
		kind Kind
	}{
		{0.95, false, 0},
		{0.3, false, 0},
		{0.29, true, KindDiscovered},
		{0.1, true, KindDiscovered},
		{0.09, true, KindStatusChanged},
		{0.0, true, KindStatusChanged},
	}
	for _, tt := range tests {
		e := NewEngine(&scriptedSource{floats: []float64{tt.roll}}, zones)
		ev, ok := e.Propose()
		assert.Equal(t, tt.ok, ok, "roll %v", tt.roll)
		assert.Equal(t, tt.kind, ev.Kind, "roll %v", tt.roll)
	}
}

func TestStatusChangeCarriesNoDevice(t *testing.T) {
	e := NewEngine(&scriptedSource{floats: []float64{0.05}}, []string{"server-room"})
	ev, ok := e.Propose()
	require.True(t, ok)
	assert.Equal(t, KindStatusChanged, ev.Kind)
	assert.Equal(t, model.StatusOffline, ev.Status)
	assert.Empty(t, ev.Device.ID)
	assert.Zero(t, e.Counter())
}

func TestIDsUniqueAndCounterIncreasing(t *testing.T) {
	e := NewEngine(rng.New(99), []string{"server-room", "open-office", "lab-north"})
	seen := map[string]bool{}
	var last int64
	for i := 0; i < 5000; i++ {
		ev, ok := e.Propose()
		if !ok || ev.Kind != KindDiscovered {
			continue
		}
		require.False(t, seen[ev.Device.ID], "duplicate id %s", ev.Device.ID)
		seen[ev.Device.ID] = true

		idx := strings.LastIndex(ev.Device.ID, "-")
		n, err := strconv.ParseInt(ev.Device.ID[idx+1:], 10, 64)
		require.NoError(t, err)
		assert.Greater(t, n, last)
		last = n
	}
	assert.NotEmpty(t, seen)
}

func TestProposeDistribution(t *testing.T) {
	e := NewEngine(rng.New(2024), []string{"server-room", "open-office"})
	const trials = 100000
	counts := map[Kind]int{}
	for i := 0; i < trials; i++ {
		ev, ok := e.Propose()
		if !ok {
			counts[0]++
			continue
		}
		counts[ev.Kind]++
	}
	assert.InDelta(t, 0.70, float64(counts[0])/trials, 0.01)
	assert.InDelta(t, 0.20, float64(counts[KindDiscovered])/trials, 0.01)
	assert.InDelta(t, 0.10, float64(counts[KindStatusChanged])/trials, 0.01)
}

func TestSetCounterOnlyMovesForward(t *testing.T) {
	e := NewEngine(rng.New(1), []string{"server-room"})
	e.SetCounter(7)
	e.SetCounter(3)
	assert.Equal(t, int64(7), e.Counter())
	d := e.NewDevice(DefaultTemplates()[1], "server-room")
	assert.Equal(t, "fcu-sr-08", d.ID)
}

func TestZoneAbbrev(t *testing.T) {
	tests := map[string]string{
		"server-room":  "sr",
		"open-office":  "of",
		"lab-north":    "ln",
		"Meeting_Room": "mr",
		"lobby":        "lo",
		"x":            "x",
		"":             "zz",
	}
	for in, want := range tests {
		assert.Equal(t, want, ZoneAbbrev(in), fmt.Sprintf("zone %q", in))
	}
}

func TestScheduleNext(t *testing.T) {
	src := rng.New(4)
	s := DefaultSchedule()
	for i := 0; i < 1000; i++ {
		d := s.Next(src)
		assert.GreaterOrEqual(t, d, 25*time.Second)
		assert.Less(t, d, 40*time.Second)
	}

	tight := Schedule{Interval: time.Second, JitterLow: -5 * time.Second, JitterHigh: -4 * time.Second}
	assert.Equal(t, time.Second, tight.Next(src))
}

func TestUniformSelector(t *testing.T) {
	sel := UniformSelector{Src: rng.New(8)}

	_, ok := sel.Select(nil)
	assert.False(t, ok)

	_, ok = sel.Select([]model.Device{{ID: "a", Status: model.StatusOffline}})
	assert.False(t, ok)

	candidates := []model.Device{
		{ID: "a", Status: model.StatusOnline},
		{ID: "b", Status: model.StatusSyncing},
		{ID: "c", Status: model.StatusOnline},
	}
	hits := map[string]int{}
	for i := 0; i < 1000; i++ {
		d, ok := sel.Select(candidates)
		require.True(t, ok)
		hits[d.ID]++
	}
	assert.Zero(t, hits["b"])
	assert.Greater(t, hits["a"], 400)
	assert.Greater(t, hits["c"], 400)
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	e := NewEngine(&scriptedSource{floats: []float64{0.2}}, []string{"server-room"})
	ctx, cancel := context.WithCancel(context.Background())
	var handled atomic.Int32
	done := make(chan struct{})
	go func() {
		e.RunLoop(ctx, Schedule{Interval: time.Second}, func(ev Event) {
			handled.Add(1)
			cancel()
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, int32(1), handled.Load())
}

func TestSleepInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Sleep(ctx, time.Hour))
	assert.True(t, Sleep(context.Background(), time.Millisecond))
}
