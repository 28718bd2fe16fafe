package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hvac-simulator/internal/model"
)

// Kind is the "type" discriminator of a server-to-client message.
type Kind string

const (
	KindReading          Kind = "reading"
	KindPrediction       Kind = "prediction"
	KindDeviceDiscovered Kind = "device_discovered"
	KindDeviceStatus     Kind = "device_status"
	KindKeepalive        Kind = "keepalive"
)

// ErrInvalidMessage is returned when a message fails validation.
var ErrInvalidMessage = errors.New("invalid message")

// Message is one of the tagged payloads pushed to subscribers.
type Message interface {
	Kind() Kind
	// Key identifies the entity the message is about, used for partitioning.
	Key() string
	Validate() error
}

type ReadingMessage struct {
	Type      Kind          `json:"type"`
	ZoneID    string        `json:"zone_id"`
	DeviceID  string        `json:"device_id"`
	Data      model.Reading `json:"data"`
	Timestamp time.Time     `json:"timestamp"`
}

func NewReading(zoneID, deviceID string, r model.Reading, at time.Time) *ReadingMessage {
	return &ReadingMessage{Type: KindReading, ZoneID: zoneID, DeviceID: deviceID, Data: r, Timestamp: at}
}

func (m *ReadingMessage) Kind() Kind  { return KindReading }
func (m *ReadingMessage) Key() string { return m.ZoneID }

func (m *ReadingMessage) Validate() error {
	if m.ZoneID == "" || m.DeviceID == "" {
		return invalid(m, "zone_id and device_id are required")
	}
	return nil
}

type PredictionMessage struct {
	Type          Kind        `json:"type"`
	ZoneID        string      `json:"zone_id"`
	CurrentTemp   float64     `json:"current_temp"`
	PredictedTemp float64     `json:"predicted_temp"`
	Confidence    float64     `json:"confidence"`
	Trend         model.Trend `json:"trend"`
	Timestamp     time.Time   `json:"timestamp"`
}

func NewPrediction(zoneID string, p model.Prediction, at time.Time) *PredictionMessage {
	return &PredictionMessage{
		Type:          KindPrediction,
		ZoneID:        zoneID,
		CurrentTemp:   p.CurrentTemp,
		PredictedTemp: p.PredictedTemp,
		Confidence:    p.Confidence,
		Trend:         p.Trend,
		Timestamp:     at,
	}
}

func (m *PredictionMessage) Kind() Kind  { return KindPrediction }
func (m *PredictionMessage) Key() string { return m.ZoneID }

func (m *PredictionMessage) Validate() error {
	if m.ZoneID == "" {
		return invalid(m, "zone_id is required")
	}
	if !m.Trend.Valid() {
		return invalid(m, fmt.Sprintf("unknown trend %q", m.Trend))
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return invalid(m, fmt.Sprintf("confidence %v out of range", m.Confidence))
	}
	return nil
}

type DeviceDiscoveredMessage struct {
	Type      Kind         `json:"type"`
	Device    model.Device `json:"device"`
	Timestamp time.Time    `json:"timestamp"`
}

func NewDeviceDiscovered(d model.Device, at time.Time) *DeviceDiscoveredMessage {
	return &DeviceDiscoveredMessage{Type: KindDeviceDiscovered, Device: d, Timestamp: at}
}

func (m *DeviceDiscoveredMessage) Kind() Kind  { return KindDeviceDiscovered }
func (m *DeviceDiscoveredMessage) Key() string { return m.Device.ID }

func (m *DeviceDiscoveredMessage) Validate() error {
	if m.Device.ID == "" {
		return invalid(m, "device id is required")
	}
	if !m.Device.Status.Valid() {
		return invalid(m, fmt.Sprintf("unknown status %q", m.Device.Status))
	}
	return nil
}

type DeviceStatusMessage struct {
	Type      Kind               `json:"type"`
	DeviceID  string             `json:"device_id"`
	Status    model.DeviceStatus `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
}

func NewDeviceStatus(deviceID string, status model.DeviceStatus, at time.Time) *DeviceStatusMessage {
	return &DeviceStatusMessage{Type: KindDeviceStatus, DeviceID: deviceID, Status: status, Timestamp: at}
}

func (m *DeviceStatusMessage) Kind() Kind  { return KindDeviceStatus }
func (m *DeviceStatusMessage) Key() string { return m.DeviceID }

func (m *DeviceStatusMessage) Validate() error {
	if m.DeviceID == "" {
		return invalid(m, "device_id is required")
	}
	if !m.Status.Valid() {
		return invalid(m, fmt.Sprintf("unknown status %q", m.Status))
	}
	return nil
}

type KeepaliveMessage struct {
	Type Kind `json:"type"`
}

func NewKeepalive() *KeepaliveMessage { return &KeepaliveMessage{Type: KindKeepalive} }

func (m *KeepaliveMessage) Kind() Kind      { return KindKeepalive }
func (m *KeepaliveMessage) Key() string     { return "" }
func (m *KeepaliveMessage) Validate() error { return nil }

// Frame is a validated message together with its JSON encoding.
type Frame struct {
	Message Message
	Data    []byte
}

// Encode validates msg and serializes it.
func Encode(msg Message) (Frame, error) {
	if msg == nil {
		return Frame{}, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if err := msg.Validate(); err != nil {
		return Frame{}, err
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	return Frame{Message: msg, Data: b}, nil
}

func invalid(m Message, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidMessage, m.Kind(), reason)
}
