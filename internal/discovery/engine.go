// Package discovery proposes simulated plug-and-play device events.
//
// The engine only proposes; applying an event (persisting a device, picking
// which device changes status) is left to the caller.
package discovery

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"hvac-simulator/internal/model"
	"hvac-simulator/internal/rng"
)

// Outcome thresholds on a single uniform roll.
const (
	statusChangeBelow = 0.1
	discoveredBelow   = 0.3
)

// Kind tells which variant an Event carries.
type Kind int

const (
	KindDiscovered Kind = iota + 1
	KindStatusChanged
)

func (k Kind) String() string {
	switch k {
	case KindDiscovered:
		return "device_discovered"
	case KindStatusChanged:
		return "device_status_change"
	default:
		return "unknown"
	}
}

// Event is a proposed change to the device population. Exactly one of
// Device (KindDiscovered) or Status (KindStatusChanged) is meaningful.
type Event struct {
	Kind   Kind
	Device model.Device
	Status model.DeviceStatus
	At     time.Time
}

// Template is a device family with its display-name pool.
type Template struct {
	Prefix string
	Type   model.DeviceType
	Names  []string
}

// DefaultTemplates returns the sensor and fan-coil families.
func DefaultTemplates() []Template {
	return []Template{
		{
			Prefix: "sensor",
			Type:   model.DeviceSensor,
			Names:  []string{"Temperature Sensor", "Humidity Sensor", "Multi Sensor", "Air Quality Sensor"},
		},
		{
			Prefix: "fcu",
			Type:   model.DeviceFCU,
			Names:  []string{"Fan Coil Unit", "Mini FCU", "Ceiling FCU"},
		},
	}
}

var changeStatuses = []model.DeviceStatus{model.StatusOffline, model.StatusSyncing}

// Engine generates discovery events. The counter is the only state that
// survives between proposals.
type Engine struct {
	src       rng.Source
	zones     []string
	templates []Template
	now       func() time.Time
	counter   atomic.Int64
}

// NewEngine creates an engine for the given zone ids.
func NewEngine(src rng.Source, zones []string) *Engine {
	return &Engine{
		src:       src,
		zones:     append([]string(nil), zones...),
		templates: DefaultTemplates(),
		now:       time.Now,
	}
}

// WithTemplates replaces the device families.
func (e *Engine) WithTemplates(ts []Template) *Engine {
	e.templates = append([]Template(nil), ts...)
	return e
}

// Counter returns the last counter value handed out.
func (e *Engine) Counter() int64 { return e.counter.Load() }

// SetCounter moves the counter forward, for example past ids already in storage.
// It never moves the counter backwards.
func (e *Engine) SetCounter(n int64) {
	for {
		cur := e.counter.Load()
		if n <= cur || e.counter.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Propose rolls for one event: 70% nothing, 20% a new device, 10% a status change.
func (e *Engine) Propose() (Event, bool) {
	roll := e.src.Float64()
	switch {
	case roll >= discoveredBelow:
		return Event{}, false
	case roll >= statusChangeBelow:
		if len(e.zones) == 0 || len(e.templates) == 0 {
			return Event{}, false
		}
		return Event{Kind: KindDiscovered, Device: e.newDevice(), At: e.now()}, true
	default:
		status := changeStatuses[e.src.IntN(len(changeStatuses))]
		return Event{Kind: KindStatusChanged, Status: status, At: e.now()}, true
	}
}

// NewDevice builds a device from the given template and zone.
func (e *Engine) NewDevice(t Template, zoneID string) model.Device {
	n := e.counter.Add(1)
	name := t.Prefix
	if len(t.Names) > 0 {
		name = t.Names[e.src.IntN(len(t.Names))]
	}
	return model.Device{
		ID:           fmt.Sprintf("%s-%s-%02d", t.Prefix, ZoneAbbrev(zoneID), n),
		Name:         fmt.Sprintf("%s %d", name, n),
		Type:         t.Type,
		ZoneID:       zoneID,
		Status:       model.StatusSyncing,
		DiscoveredAt: e.now(),
	}
}

func (e *Engine) newDevice() model.Device {
	t := e.templates[e.src.IntN(len(e.templates))]
	zone := e.zones[e.src.IntN(len(e.zones))]
	return e.NewDevice(t, zone)
}

var knownAbbrevs = map[string]string{
	"server-room": "sr",
	"open-office": "of",
}

// ZoneAbbrev returns the short zone code used in device ids.
func ZoneAbbrev(zoneID string) string {
	if a, ok := knownAbbrevs[zoneID]; ok {
		return a
	}
	parts := strings.FieldsFunc(strings.ToLower(zoneID), func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
	if len(parts) > 1 {
		var b strings.Builder
		for _, p := range parts {
			b.WriteByte(p[0])
		}
		return b.String()
	}
	if len(parts) == 1 && len(parts[0]) >= 2 {
		return parts[0][:2]
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "zz"
}
