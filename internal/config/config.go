// Package config loads the simulator's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hvac-simulator/internal/model"
	"hvac-simulator/internal/sim"
)

// Config mirrors config/hvac.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Simulation SimulationConfig `yaml:"simulation"`
	Storage    StorageConfig    `yaml:"storage"`
	Modbus     ModbusConfig     `yaml:"modbus"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Log        LogConfig        `yaml:"log"`
	Zones      []ZoneConfig     `yaml:"zones"`
	Devices    []DeviceConfig   `yaml:"devices"`
}

type ServerConfig struct {
	ListenAddress string        `yaml:"listen_address"`
	WSPath        string        `yaml:"ws_path"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

type SimulationConfig struct {
	SensorInterval      time.Duration `yaml:"sensor_interval"`
	DiscoveryInterval   time.Duration `yaml:"discovery_interval"`
	DiscoveryJitterLow  time.Duration `yaml:"discovery_jitter_low"`
	DiscoveryJitterHigh time.Duration `yaml:"discovery_jitter_high"`
	SyncDelay           time.Duration `yaml:"sync_delay"`
	Window              time.Duration `yaml:"window"`
	HorizonMinutes      int           `yaml:"horizon_minutes"`
	CancelPendingOnStop bool          `yaml:"cancel_pending_on_stop"`
	Seed                uint64        `yaml:"seed"`
}

type StorageConfig struct {
	DBPath    string        `yaml:"db_path"`
	Retention time.Duration `yaml:"retention"`
}

type ModbusConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
	File  string `yaml:"file"`
}

type ZoneConfig struct {
	ID       string  `yaml:"id"`
	Name     string  `yaml:"name"`
	Setpoint float64 `yaml:"setpoint"`
	// Profile names a built-in profile; Custom replaces it entirely.
	Profile string       `yaml:"profile"`
	Custom  *sim.Profile `yaml:"custom"`
}

type DeviceConfig struct {
	ID     string             `yaml:"id"`
	Name   string             `yaml:"name"`
	Type   model.DeviceType   `yaml:"type"`
	ZoneID string             `yaml:"zone_id"`
	Status model.DeviceStatus `yaml:"status"`
}

// Default returns the configuration used when no file is given: the two
// stock zones with one fan coil unit and one sensor each.
func Default() Config {
	cfg := Config{
		Zones: []ZoneConfig{
			{ID: "server-room", Name: "Server Room", Setpoint: 18.0, Profile: "server-room"},
			{ID: "open-office", Name: "Open Office", Setpoint: 23.0, Profile: "open-office"},
		},
		Devices: []DeviceConfig{
			{ID: "fcu-sr-01", Name: "FCU Server Room 1", Type: model.DeviceFCU, ZoneID: "server-room"},
			{ID: "sensor-sr-01", Name: "Temp/Humidity Sensor SR", Type: model.DeviceSensor, ZoneID: "server-room"},
			{ID: "fcu-of-01", Name: "FCU Open Office 1", Type: model.DeviceFCU, ZoneID: "open-office"},
			{ID: "sensor-of-01", Name: "Multi Sensor Office", Type: model.DeviceSensor, ZoneID: "open-office"},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadYAML reads, defaults and validates the configuration at path.
func LoadYAML(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes a YAML document. Zones and devices fall back to the stock
// set when the document lists no zones.
func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.Zones) == 0 {
		d := Default()
		cfg.Zones, cfg.Devices = d.Zones, d.Devices
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8000"
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = "/ws/sensors"
	}
	if c.Server.IdleTimeout <= 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}

	s := &c.Simulation
	if s.SensorInterval <= 0 {
		s.SensorInterval = 5 * time.Second
	}
	if s.DiscoveryInterval <= 0 {
		s.DiscoveryInterval = 30 * time.Second
	}
	if s.DiscoveryJitterLow == 0 && s.DiscoveryJitterHigh == 0 {
		s.DiscoveryJitterLow = -5 * time.Second
		s.DiscoveryJitterHigh = 10 * time.Second
	}
	if s.SyncDelay <= 0 {
		s.SyncDelay = 3 * time.Second
	}
	if s.Window <= 0 {
		s.Window = 5 * time.Minute
	}
	if s.HorizonMinutes <= 0 {
		s.HorizonMinutes = 15
	}

	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "hvac.sqlite"
	}
	if c.Modbus.ListenAddress == "" {
		c.Modbus.ListenAddress = ":1502"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "hvac.telemetry"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	for i := range c.Zones {
		if c.Zones[i].Name == "" {
			c.Zones[i].Name = c.Zones[i].ID
		}
	}
	for i := range c.Devices {
		if c.Devices[i].Status == "" {
			c.Devices[i].Status = model.StatusOnline
		}
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.Simulation.DiscoveryJitterLow > c.Simulation.DiscoveryJitterHigh {
		return errors.New("discovery_jitter_low must not exceed discovery_jitter_high")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka enabled but no brokers configured")
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("ws_path %q must start with /", c.Server.WSPath)
	}

	builtin := sim.BuiltinProfiles()
	zones := make(map[string]bool, len(c.Zones))
	for _, z := range c.Zones {
		if z.ID == "" {
			return errors.New("zone without id")
		}
		if zones[z.ID] {
			return fmt.Errorf("duplicate zone %s", z.ID)
		}
		zones[z.ID] = true
		if z.Setpoint < sim.MinTemp || z.Setpoint > sim.MaxTemp {
			return fmt.Errorf("zone %s: setpoint %.1f outside [%.0f, %.0f]", z.ID, z.Setpoint, sim.MinTemp, sim.MaxTemp)
		}
		if z.Profile != "" && z.Custom == nil {
			if _, ok := builtin[z.Profile]; !ok {
				return fmt.Errorf("zone %s: unknown profile %q", z.ID, z.Profile)
			}
		}
	}

	devices := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.ID == "" {
			return errors.New("device without id")
		}
		if devices[d.ID] {
			return fmt.Errorf("duplicate device %s", d.ID)
		}
		devices[d.ID] = true
		if d.Type != model.DeviceSensor && d.Type != model.DeviceFCU {
			return fmt.Errorf("device %s: unknown type %q", d.ID, d.Type)
		}
		if !d.Status.Valid() {
			return fmt.Errorf("device %s: unknown status %q", d.ID, d.Status)
		}
		if !zones[d.ZoneID] {
			return fmt.Errorf("device %s: unknown zone %q", d.ID, d.ZoneID)
		}
	}
	return nil
}

// ZoneRefs returns the configured zones in declaration order.
func (c Config) ZoneRefs() []model.ZoneRef {
	out := make([]model.ZoneRef, 0, len(c.Zones))
	for _, z := range c.Zones {
		out = append(out, model.ZoneRef{ID: z.ID, Name: z.Name, Setpoint: z.Setpoint})
	}
	return out
}

// SeedDevices converts the configured devices, stamped with now.
func (c Config) SeedDevices(now time.Time) []model.Device {
	out := make([]model.Device, 0, len(c.Devices))
	for _, d := range c.Devices {
		seen := now
		out = append(out, model.Device{
			ID:           d.ID,
			Name:         d.Name,
			Type:         d.Type,
			ZoneID:       d.ZoneID,
			Status:       d.Status,
			DiscoveredAt: now,
			LastSeen:     &seen,
		})
	}
	return out
}

// Profiles maps zone ids to their simulation profile. Zones without a
// profile setting are absent and get the simulator's default.
func (c Config) Profiles() map[string]sim.Profile {
	builtin := sim.BuiltinProfiles()
	out := make(map[string]sim.Profile)
	for _, z := range c.Zones {
		switch {
		case z.Custom != nil:
			out[z.ID] = *z.Custom
		case z.Profile != "":
			out[z.ID] = builtin[z.Profile]
		}
	}
	return out
}

// ZoneIDs returns the configured zone ids in declaration order.
func (c Config) ZoneIDs() []string {
	out := make([]string, 0, len(c.Zones))
	for _, z := range c.Zones {
		out = append(out, z.ID)
	}
	return out
}
