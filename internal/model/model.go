package model

import "time"

// DeviceType is the hardware family of a device.
type DeviceType string

const (
	DeviceSensor DeviceType = "sensor"
	DeviceFCU    DeviceType = "fcu"
)

// DeviceStatus is the connectivity state of a device.
type DeviceStatus string

const (
	StatusOffline DeviceStatus = "offline"
	StatusSyncing DeviceStatus = "syncing"
	StatusOnline  DeviceStatus = "online"
)

// Valid reports whether s is one of the known statuses.
func (s DeviceStatus) Valid() bool {
	switch s {
	case StatusOffline, StatusSyncing, StatusOnline:
		return true
	}
	return false
}

// Trend is the qualitative direction of a temperature forecast.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// Valid reports whether t is one of the known trend labels.
func (t Trend) Valid() bool {
	switch t {
	case TrendRising, TrendFalling, TrendStable:
		return true
	}
	return false
}

// ZoneRef is a zone as seen by the simulation loop.
type ZoneRef struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Setpoint float64 `json:"setpoint"`
}

// Device represents a field device attached to a zone.
type Device struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         DeviceType   `json:"type"`
	ZoneID       string       `json:"zone_id"`
	Status       DeviceStatus `json:"status"`
	DiscoveredAt time.Time    `json:"discovered_at"`
	LastSeen     *time.Time   `json:"last_seen,omitempty"`
}

// Reading is a single telemetry sample for a zone.
// CO2 and Occupancy are nil when the zone lacks the capability.
type Reading struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	CO2         *float64  `json:"co2_level,omitempty"`
	PowerKW     float64   `json:"power_kw"`
	Occupancy   *int      `json:"occupancy,omitempty"`
	Timestamp   time.Time `json:"-"`
}

// Prediction is the outcome of one forecast call.
type Prediction struct {
	CurrentTemp    float64 `json:"current_temp"`
	PredictedTemp  float64 `json:"predicted_temp"`
	Confidence     float64 `json:"confidence"`
	Trend          Trend   `json:"trend"`
	HorizonMinutes int     `json:"prediction_horizon_minutes"`
}

// TempSample is one element of a trailing temperature window.
type TempSample struct {
	Timestamp   time.Time
	Temperature float64
}
