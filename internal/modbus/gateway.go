// Package modbus exposes the latest zone telemetry over Modbus TCP.
//
// Each zone owns a block of model.ZoneBlockSize input registers starting at
// index*ZoneBlockSize, in the order the zones were configured. The holding
// register at the block base carries the setpoint, and the discrete inputs
// at base, base+1 and base+2 flag a rising trend, a falling trend and the
// presence of data.
package modbus

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"hvac-simulator/internal/model"
)

// Discrete input offsets inside a zone block.
const (
	BitRising uint16 = iota
	BitFalling
	BitHasData
)

// Gateway mirrors readings and predictions into a Server.
type Gateway struct {
	srv *Server
	log *slog.Logger

	mu     sync.RWMutex
	base   map[string]uint16
	stamps map[string]time.Time
}

// NewGateway lays out one register block per zone.
func NewGateway(zones []model.ZoneRef, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	size := len(zones) * model.ZoneBlockSize
	if size == 0 {
		size = model.ZoneBlockSize
	}
	g := &Gateway{
		srv:    NewServer(size, log),
		log:    log.With("component", "modbus-gateway"),
		base:   make(map[string]uint16, len(zones)),
		stamps: make(map[string]time.Time, len(zones)),
	}
	for i, z := range zones {
		addr := BaseAddress(i)
		g.base[z.ID] = addr
		sp := toWord(z.Setpoint, model.RegisterScales[model.RegSetpoint])
		_ = g.srv.setHolding(addr, sp)
		_ = g.srv.writeInput(addr+model.RegSetpoint, []uint16{sp})
	}
	return g
}

// BaseAddress returns the first register of the i-th zone block.
func BaseAddress(i int) uint16 { return uint16(i * model.ZoneBlockSize) }

// Listen starts the Modbus TCP listener.
func (g *Gateway) Listen(address string) error { return g.srv.Listen(address) }

// Addr returns the bound listener address.
func (g *Gateway) Addr() string {
	if a := g.srv.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// Close stops the listener.
func (g *Gateway) Close() { g.srv.Close() }

func (g *Gateway) ObserveReading(zoneID string, r model.Reading, at time.Time) {
	addr, ok := g.lookup(zoneID)
	if !ok {
		return
	}
	words := []uint16{
		toWord(r.Temperature, model.RegisterScales[model.RegTemperature]),
		toWord(r.Humidity, model.RegisterScales[model.RegHumidity]),
		0,
		toWord(r.PowerKW, model.RegisterScales[model.RegPower]),
		0,
	}
	if r.CO2 != nil {
		words[model.RegCO2] = toWord(*r.CO2, model.RegisterScales[model.RegCO2])
	}
	if r.Occupancy != nil {
		words[model.RegOccupancy] = toWord(float64(*r.Occupancy), model.RegisterScales[model.RegOccupancy])
	}
	if err := g.srv.writeInput(addr, words); err != nil {
		g.log.Warn("write reading", "zone", zoneID, "err", err)
		return
	}
	_ = g.srv.setBit(addr+BitHasData, true)
	g.touch(zoneID, at)
}

func (g *Gateway) ObservePrediction(zoneID string, p model.Prediction, at time.Time) {
	addr, ok := g.lookup(zoneID)
	if !ok {
		return
	}
	words := []uint16{
		toWord(p.PredictedTemp, model.RegisterScales[model.RegPredicted]),
		toWord(p.Confidence, model.RegisterScales[model.RegConfidence]),
	}
	if err := g.srv.writeInput(addr+model.RegPredicted, words); err != nil {
		g.log.Warn("write prediction", "zone", zoneID, "err", err)
		return
	}
	_ = g.srv.setBit(addr+BitRising, p.Trend == model.TrendRising)
	_ = g.srv.setBit(addr+BitFalling, p.Trend == model.TrendFalling)
	g.touch(zoneID, at)
}

// Registers returns the current block of one zone.
func (g *Gateway) Registers(zoneID string) (model.ZoneRegisters, bool) {
	g.mu.RLock()
	addr, ok := g.base[zoneID]
	ts := g.stamps[zoneID]
	g.mu.RUnlock()
	if !ok {
		return model.ZoneRegisters{}, false
	}
	return model.ZoneRegisters{
		ZoneID:      zoneID,
		BaseAddress: addr,
		Words:       g.srv.inputBlock(addr, model.ZoneBlockSize),
		Timestamp:   ts,
	}, true
}

// Snapshot returns every zone block ordered by address.
func (g *Gateway) Snapshot() []model.ZoneRegisters {
	g.mu.RLock()
	ids := make([]string, 0, len(g.base))
	for id := range g.base {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	out := make([]model.ZoneRegisters, 0, len(ids))
	for _, id := range ids {
		if z, ok := g.Registers(id); ok {
			out = append(out, z)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BaseAddress < out[j].BaseAddress })
	return out
}

func (g *Gateway) lookup(zoneID string) (uint16, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	addr, ok := g.base[zoneID]
	if !ok {
		g.log.Debug("zone has no register block", "zone", zoneID)
	}
	return addr, ok
}

func (g *Gateway) touch(zoneID string, at time.Time) {
	g.mu.Lock()
	g.stamps[zoneID] = at
	g.mu.Unlock()
}

// toWord converts v to an unsigned fixed-point word, saturating at the
// uint16 bounds.
func toWord(v, scale float64) uint16 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	r := math.Round(v * scale)
	switch {
	case r < 0:
		return 0
	case r > math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(r)
}
