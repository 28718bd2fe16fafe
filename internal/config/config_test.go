package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hvac-simulator/internal/model"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8000", cfg.Server.ListenAddress)
	assert.Equal(t, "/ws/sensors", cfg.Server.WSPath)
	assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, 5*time.Second, cfg.Simulation.SensorInterval)
	assert.Equal(t, 30*time.Second, cfg.Simulation.DiscoveryInterval)
	assert.Equal(t, -5*time.Second, cfg.Simulation.DiscoveryJitterLow)
	assert.Equal(t, 10*time.Second, cfg.Simulation.DiscoveryJitterHigh)
	assert.Equal(t, 3*time.Second, cfg.Simulation.SyncDelay)
	assert.Equal(t, 5*time.Minute, cfg.Simulation.Window)
	assert.Equal(t, 15, cfg.Simulation.HorizonMinutes)
	assert.False(t, cfg.Simulation.CancelPendingOnStop)

	assert.Equal(t, []model.ZoneRef{
		{ID: "server-room", Name: "Server Room", Setpoint: 18},
		{ID: "open-office", Name: "Open Office", Setpoint: 23},
	}, cfg.ZoneRefs())
	require.Len(t, cfg.Devices, 4)
	for _, d := range cfg.Devices {
		assert.Equal(t, model.StatusOnline, d.Status)
	}
}

func TestLoadYAML(t *testing.T) {
	doc := `
server:
  listen_address: "127.0.0.1:9000"
simulation:
  sensor_interval: 1s
  horizon_minutes: 30
  cancel_pending_on_stop: true
  seed: 42
kafka:
  enabled: true
  brokers: ["kafka:9092"]
log:
  level: debug
zones:
  - id: lab
    setpoint: 21.5
    profile: server-room
  - id: lobby
    name: Lobby
    setpoint: 22
    custom:
      base_temp: 22
      temp_variance: 1.0
      base_humidity: 50
      humidity_variance: 4
      power_base: 1.0
      power_variance: 0.2
      has_occupancy: true
      max_occupancy: 40
devices:
  - id: sensor-la-01
    name: Lab Sensor
    type: sensor
    zone_id: lab
`
	path := filepath.Join(t.TempDir(), "hvac.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadYAML(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddress)
	assert.Equal(t, time.Second, cfg.Simulation.SensorInterval)
	assert.Equal(t, 30*time.Second, cfg.Simulation.DiscoveryInterval)
	assert.Equal(t, 30, cfg.Simulation.HorizonMinutes)
	assert.True(t, cfg.Simulation.CancelPendingOnStop)
	assert.Equal(t, uint64(42), cfg.Simulation.Seed)
	assert.Equal(t, "hvac.telemetry", cfg.Kafka.Topic)

	assert.Equal(t, []string{"lab", "lobby"}, cfg.ZoneIDs())
	assert.Equal(t, "lab", cfg.Zones[0].Name)
	require.Len(t, cfg.Devices, 1)
	assert.Equal(t, model.StatusOnline, cfg.Devices[0].Status)

	profiles := cfg.Profiles()
	assert.Equal(t, 18.0, profiles["lab"].BaseTemp)
	assert.Equal(t, 40, profiles["lobby"].MaxOccupancy)
	assert.True(t, profiles["lobby"].HasOccupancy)
	assert.False(t, profiles["lobby"].HasCO2)
}

func TestParseWithoutZonesUsesStockSet(t *testing.T) {
	cfg, err := Parse([]byte("storage:\n  db_path: /tmp/x.sqlite\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.sqlite", cfg.Storage.DBPath)
	assert.Equal(t, []string{"server-room", "open-office"}, cfg.ZoneIDs())
	assert.Len(t, cfg.Devices, 4)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "zones: [\n"},
		{"jitter inverted", "simulation:\n  discovery_jitter_low: 5s\n  discovery_jitter_high: 1s\n"},
		{"log level", "log:\n  level: loud\n"},
		{"kafka without brokers", "kafka:\n  enabled: true\n"},
		{"ws path", "server:\n  ws_path: ws\n"},
		{"duplicate zone", "zones:\n  - {id: a, setpoint: 20}\n  - {id: a, setpoint: 20}\n"},
		{"setpoint range", "zones:\n  - {id: a, setpoint: 40}\n"},
		{"unknown profile", "zones:\n  - {id: a, setpoint: 20, profile: greenhouse}\n"},
		{"device zone", "zones:\n  - {id: a, setpoint: 20}\ndevices:\n  - {id: d, type: fcu, zone_id: b}\n"},
		{"device type", "zones:\n  - {id: a, setpoint: 20}\ndevices:\n  - {id: d, type: boiler, zone_id: a}\n"},
		{"device status", "zones:\n  - {id: a, setpoint: 20}\ndevices:\n  - {id: d, type: fcu, zone_id: a, status: lost}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadYAMLMissingFile(t *testing.T) {
	_, err := LoadYAML(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSeedDevices(t *testing.T) {
	now := time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)
	devs := Default().SeedDevices(now)
	require.Len(t, devs, 4)
	assert.Equal(t, "fcu-sr-01", devs[0].ID)
	assert.Equal(t, now, devs[0].DiscoveredAt)
	require.NotNil(t, devs[0].LastSeen)
}

func TestSampleConfig(t *testing.T) {
	cfg, err := LoadYAML(filepath.Join("..", "..", "config", "hvac.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"server-room", "open-office", "lab"}, cfg.ZoneIDs())
	assert.Equal(t, 24*time.Hour, cfg.Storage.Retention)
	assert.True(t, cfg.Modbus.Enabled)

	p := cfg.Profiles()["lab"]
	assert.InDelta(t, 21.0, p.BaseTemp, 1e-9)
	assert.True(t, p.HasOccupancy)
	assert.Equal(t, 6, p.MaxOccupancy)
}
