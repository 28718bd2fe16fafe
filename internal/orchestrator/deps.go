package orchestrator

import (
	"context"
	"time"

	"hvac-simulator/internal/discovery"
	"hvac-simulator/internal/hub"
	"hvac-simulator/internal/model"
)

// ZoneRegistry lists the zones to simulate.
type ZoneRegistry interface {
	ListZones(ctx context.Context) ([]model.ZoneRef, error)
	GetZone(ctx context.Context, id string) (*model.ZoneRef, error)
}

// DeviceRegistry stores the device population.
type DeviceRegistry interface {
	CreateDevice(ctx context.Context, d model.Device) error
	SetStatus(ctx context.Context, id string, status model.DeviceStatus) error
	TouchLastSeen(ctx context.Context, id string, t time.Time) error
	ListOnline(ctx context.Context) ([]model.Device, error)
	// SensorForZone returns nil, nil when the zone has no sensor.
	SensorForZone(ctx context.Context, zoneID string) (*model.Device, error)
}

// ReadingSink stores readings and predictions and serves trailing windows.
type ReadingSink interface {
	AppendReading(ctx context.Context, zoneID, deviceID string, r model.Reading) error
	AppendPrediction(ctx context.Context, zoneID string, p model.Prediction, t time.Time) error
	RecentTemperatures(ctx context.Context, zoneID string, window time.Duration) ([]model.TempSample, error)
}

// Simulator produces the next reading of a zone.
type Simulator interface {
	GenerateReading(zoneID string, setpoint float64) model.Reading
}

// Predictor forecasts a temperature window.
type Predictor interface {
	Predict(temps []float64, intervalSeconds float64) model.Prediction
}

// Discoverer drives the discovery cadence and hands proposed events back.
type Discoverer interface {
	RunLoop(ctx context.Context, s discovery.Schedule, handle func(discovery.Event))
}

// Broadcaster fans messages out to subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg hub.Message) int
}

// Observer receives every published reading and prediction, for example to
// mirror them into Modbus registers.
type Observer interface {
	ObserveReading(zoneID string, r model.Reading, at time.Time)
	ObservePrediction(zoneID string, p model.Prediction, at time.Time)
}

// Pruner deletes stored history older than a cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
}
