package discovery

import (
	"context"
	"time"

	"hvac-simulator/internal/model"
	"hvac-simulator/internal/rng"
)

const minSleep = time.Second

// Schedule is the jittered cadence of the discovery loop.
type Schedule struct {
	Interval   time.Duration
	JitterLow  time.Duration
	JitterHigh time.Duration
}

// DefaultSchedule sleeps 30s plus a jitter in [-5s, +10s).
func DefaultSchedule() Schedule {
	return Schedule{Interval: 30 * time.Second, JitterLow: -5 * time.Second, JitterHigh: 10 * time.Second}
}

// Next returns the next sleep duration, never shorter than one second.
func (s Schedule) Next(src rng.Source) time.Duration {
	d := s.Interval
	if s.JitterHigh > s.JitterLow {
		d += time.Duration(rng.Uniform(src, float64(s.JitterLow), float64(s.JitterHigh)))
	} else {
		d += s.JitterLow
	}
	if d < minSleep {
		d = minSleep
	}
	return d
}

// RunLoop sleeps, proposes an event and hands it to handle, until ctx is
// done. A canceled context ends the current sleep; an event already being
// handled is allowed to finish.
func (e *Engine) RunLoop(ctx context.Context, s Schedule, handle func(Event)) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !Sleep(ctx, s.Next(e.src)) {
			return
		}
		if ev, ok := e.Propose(); ok {
			handle(ev)
		}
	}
}

// Sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Selector chooses which device a status change applies to.
type Selector interface {
	Select(candidates []model.Device) (model.Device, bool)
}

// UniformSelector picks uniformly among online candidates.
type UniformSelector struct {
	Src rng.Source
}

func (u UniformSelector) Select(candidates []model.Device) (model.Device, bool) {
	online := make([]model.Device, 0, len(candidates))
	for _, d := range candidates {
		if d.Status == model.StatusOnline {
			online = append(online, d)
		}
	}
	if len(online) == 0 {
		return model.Device{}, false
	}
	return online[u.Src.IntN(len(online))], true
}
