package model

import "time"

// ZoneRegisters is the Modbus view of a zone's latest telemetry.
// Words hold fixed-point values, see RegisterScales.
type ZoneRegisters struct {
	ZoneID      string    `json:"zone_id"`
	BaseAddress uint16    `json:"base_address"`
	Words       []uint16  `json:"words"`
	Timestamp   time.Time `json:"timestamp"`
}

// Register offsets inside a zone block.
const (
	RegTemperature uint16 = iota
	RegHumidity
	RegCO2
	RegPower
	RegOccupancy
	RegSetpoint
	RegPredicted
	RegConfidence

	ZoneBlockSize = 8
)

// RegisterScales is the fixed-point factor of each register in a zone block.
// CO2 and occupancy are whole numbers; everything else keeps two decimals.
var RegisterScales = [ZoneBlockSize]float64{
	RegTemperature: 100,
	RegHumidity:    100,
	RegCO2:         1,
	RegPower:       100,
	RegOccupancy:   1,
	RegSetpoint:    100,
	RegPredicted:   100,
	RegConfidence:  100,
}

// RegisterNames labels the registers of a zone block.
var RegisterNames = [ZoneBlockSize]string{
	RegTemperature: "temperature",
	RegHumidity:    "humidity",
	RegCO2:         "co2_level",
	RegPower:       "power_kw",
	RegOccupancy:   "occupancy",
	RegSetpoint:    "setpoint",
	RegPredicted:   "predicted_temp",
	RegConfidence:  "confidence",
}

// Value decodes the register at offset back to engineering units.
func (z ZoneRegisters) Value(offset uint16) float64 {
	if int(offset) >= len(z.Words) || int(offset) >= ZoneBlockSize {
		return 0
	}
	return float64(z.Words[offset]) / RegisterScales[offset]
}
