package sim

// Profile describes the climate characteristics of a zone.
type Profile struct {
	BaseTemp         float64 `yaml:"base_temp"`
	TempVariance     float64 `yaml:"temp_variance"`
	BaseHumidity     float64 `yaml:"base_humidity"`
	HumidityVariance float64 `yaml:"humidity_variance"`
	PowerBase        float64 `yaml:"power_base"`
	PowerVariance    float64 `yaml:"power_variance"`
	HasOccupancy     bool    `yaml:"has_occupancy"`
	HasCO2           bool    `yaml:"has_co2"`
	MaxOccupancy     int     `yaml:"max_occupancy"`
}

// DefaultProfile is used for zones without a dedicated profile.
const DefaultProfile = "open-office"

const defaultMaxOccupancy = 10

// BuiltinProfiles returns the stock zone profiles.
func BuiltinProfiles() map[string]Profile {
	return map[string]Profile{
		"server-room": {
			BaseTemp:         18.0,
			TempVariance:     0.3,
			BaseHumidity:     45.0,
			HumidityVariance: 3.0,
			PowerBase:        2.0,
			PowerVariance:    0.5,
		},
		"open-office": {
			BaseTemp:         23.0,
			TempVariance:     0.8,
			BaseHumidity:     55.0,
			HumidityVariance: 5.0,
			PowerBase:        1.5,
			PowerVariance:    0.3,
			HasOccupancy:     true,
			HasCO2:           true,
			MaxOccupancy:     25,
		},
	}
}

func (p Profile) maxOccupancy() int {
	if p.MaxOccupancy <= 0 {
		return defaultMaxOccupancy
	}
	return p.MaxOccupancy
}
