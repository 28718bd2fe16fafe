package modbus

import (
	"encoding/binary"
	"testing"
	"time"

	mb "github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hvac-simulator/internal/model"
)

var t0 = time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)

var zones = []model.ZoneRef{
	{ID: "server-room", Name: "Server Room", Setpoint: 18},
	{ID: "open-office", Name: "Open Office", Setpoint: 23},
}

func officeReading() model.Reading {
	co2 := 612.0
	occ := 12
	return model.Reading{Temperature: 22.57, Humidity: 51.2, CO2: &co2, PowerKW: 1.61, Occupancy: &occ}
}

func newClient(t *testing.T, g *Gateway) mb.Client {
	t.Helper()
	h := mb.NewTCPClientHandler(g.Addr())
	h.Timeout = 2 * time.Second
	h.SlaveId = 1
	require.NoError(t, h.Connect())
	t.Cleanup(func() { _ = h.Close() })
	return mb.NewClient(h)
}

func words(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(b[i*2:])
	}
	return out
}

func TestGatewayOverTCP(t *testing.T) {
	g := NewGateway(zones, nil)
	require.NoError(t, g.Listen("127.0.0.1:0"))
	t.Cleanup(g.Close)
	c := newClient(t, g)

	g.ObserveReading("open-office", officeReading(), t0)
	g.ObservePrediction("open-office", model.Prediction{PredictedTemp: 23.1, Confidence: 0.81, Trend: model.TrendRising}, t0)

	data, err := c.ReadInputRegisters(BaseAddress(1), model.ZoneBlockSize)
	require.NoError(t, err)
	assert.Equal(t, []uint16{2257, 5120, 612, 161, 12, 2300, 2310, 81}, words(data))

	data, err = c.ReadHoldingRegisters(BaseAddress(0), 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1800}, words(data))

	data, err = c.ReadDiscreteInputs(BaseAddress(1), 3)
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, byte(0b101), data[0])

	// server-room has only its setpoint so far
	data, err = c.ReadInputRegisters(BaseAddress(0), model.ZoneBlockSize)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 0, 0, 0, 0, 1800, 0, 0}, words(data))
}

func TestGatewayExceptions(t *testing.T) {
	g := NewGateway(zones, nil)
	require.NoError(t, g.Listen("127.0.0.1:0"))
	t.Cleanup(g.Close)
	c := newClient(t, g)

	_, err := c.ReadCoils(0, 1)
	require.Error(t, err)
	var mbErr *mb.ModbusError
	require.ErrorAs(t, err, &mbErr)
	assert.Equal(t, byte(exceptionIllegalFunction), mbErr.ExceptionCode)

	_, err = c.ReadInputRegisters(2*model.ZoneBlockSize, 1)
	require.ErrorAs(t, err, &mbErr)
	assert.Equal(t, byte(exceptionIllegalDataAddr), mbErr.ExceptionCode)

	// the connection survives exceptions
	_, err = c.ReadInputRegisters(0, 1)
	assert.NoError(t, err)
}

func TestRegistersSnapshot(t *testing.T) {
	g := NewGateway(zones, nil)

	g.ObserveReading("server-room", model.Reading{Temperature: 18.25, Humidity: 45.1, PowerKW: 2.02}, t0)
	g.ObserveReading("lobby", model.Reading{Temperature: 20}, t0)

	z, ok := g.Registers("server-room")
	require.True(t, ok)
	assert.Equal(t, uint16(0), z.BaseAddress)
	assert.Equal(t, t0, z.Timestamp)
	assert.InDelta(t, 18.25, z.Value(model.RegTemperature), 1e-9)
	assert.InDelta(t, 45.1, z.Value(model.RegHumidity), 1e-9)
	assert.Zero(t, z.Value(model.RegCO2))
	assert.InDelta(t, 18.0, z.Value(model.RegSetpoint), 1e-9)

	_, ok = g.Registers("lobby")
	assert.False(t, ok)

	snap := g.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "server-room", snap[0].ZoneID)
	assert.Equal(t, "open-office", snap[1].ZoneID)
	assert.Equal(t, uint16(model.ZoneBlockSize), snap[1].BaseAddress)
	assert.True(t, snap[1].Timestamp.IsZero())
}

func TestTrendBitsFollowPrediction(t *testing.T) {
	g := NewGateway(zones, nil)
	g.ObservePrediction("server-room", model.Prediction{Trend: model.TrendFalling}, t0)
	g.srv.mu.RLock()
	assert.False(t, g.srv.bits[BitRising])
	assert.True(t, g.srv.bits[BitFalling])
	g.srv.mu.RUnlock()

	g.ObservePrediction("server-room", model.Prediction{Trend: model.TrendStable}, t0)
	g.srv.mu.RLock()
	assert.False(t, g.srv.bits[BitRising])
	assert.False(t, g.srv.bits[BitFalling])
	g.srv.mu.RUnlock()
}

func TestToWord(t *testing.T) {
	tests := []struct {
		v, scale float64
		want     uint16
	}{
		{22.57, 100, 2257},
		{0.95, 100, 95},
		{1200, 1, 1200},
		{-3, 100, 0},
		{1e9, 1, 65535},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, toWord(tt.v, tt.scale), "%v*%v", tt.v, tt.scale)
	}
}

func TestHandlePDU(t *testing.T) {
	s := NewServer(4, nil)
	require.NoError(t, s.writeInput(1, []uint16{0xABCD}))

	assert.Equal(t, []byte{0x04, 2, 0xAB, 0xCD}, s.handlePDU([]byte{0x04, 0, 1, 0, 1}))
	assert.Equal(t, []byte{0x84, exceptionIllegalDataVal}, s.handlePDU([]byte{0x04, 0, 0, 0, 0}))
	assert.Equal(t, []byte{0x84, exceptionIllegalDataVal}, s.handlePDU([]byte{0x04, 0}))
	assert.Equal(t, []byte{0x83, exceptionIllegalDataAddr}, s.handlePDU([]byte{0x03, 0, 3, 0, 2}))
	assert.Equal(t, []byte{0x86, exceptionIllegalFunction}, s.handlePDU([]byte{0x06, 0, 0, 0, 1}))
	assert.Error(t, s.writeInput(3, []uint16{1, 2}))
}
