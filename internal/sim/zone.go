// Package sim generates synthetic per-zone HVAC telemetry.
//
// Each zone keeps its own temperature, humidity and drift direction between
// calls, so successive readings move with some momentum instead of jumping
// around a fixed mean.
package sim

import (
	"math"
	"sync"
	"time"

	"hvac-simulator/internal/model"
	"hvac-simulator/internal/rng"
)

// Value bounds enforced on every reading.
const (
	MinTemp     = 15.0
	MaxTemp     = 30.0
	MinHumidity = 30.0
	MaxHumidity = 70.0
	MinCO2      = 350.0
	MaxCO2      = 1200.0
)

const (
	setpointGain     = 0.05
	diurnalGain      = 0.1
	noiseScale       = 0.3
	humidityScale    = 0.2
	trendFlipChance  = 0.1
	trendStep        = 0.02
	powerGain        = 0.1
	outdoorCO2       = 400.0
	co2PerOccupant   = 25.0
	co2Sigma         = 20.0
	occupantHeat     = 0.1
	weekendHeat      = 0.05
	businessStart    = 8
	businessEnd      = 18
	lunchHour        = 13
	lunchSpreadHours = 5.0
)

// ZoneState is the mutable climate state of one zone.
type ZoneState struct {
	ZoneID      string
	Temperature float64
	Humidity    float64
	TrendSign   int
}

// ZoneSimulator produces readings for any number of zones.
type ZoneSimulator struct {
	src      rng.Source
	profiles map[string]Profile
	now      func() time.Time

	mu     sync.RWMutex
	states map[string]*ZoneState
}

// NewZoneSimulator creates a simulator. Missing profiles fall back to the
// built-in set; a nil clock means time.Now.
func NewZoneSimulator(src rng.Source, profiles map[string]Profile, now func() time.Time) *ZoneSimulator {
	merged := BuiltinProfiles()
	for id, p := range profiles {
		merged[id] = p
	}
	if now == nil {
		now = time.Now
	}
	return &ZoneSimulator{
		src:      src,
		profiles: merged,
		now:      now,
		states:   make(map[string]*ZoneState),
	}
}

// Profile returns the profile that applies to zoneID.
func (s *ZoneSimulator) Profile(zoneID string) Profile {
	if p, ok := s.profiles[zoneID]; ok {
		return p
	}
	return s.profiles[DefaultProfile]
}

// GenerateReading advances the zone one step and returns the new sample.
func (s *ZoneSimulator) GenerateReading(zoneID string, setpoint float64) model.Reading {
	profile := s.Profile(zoneID)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[zoneID]
	if !ok {
		sign := 1
		if s.src.IntN(2) == 0 {
			sign = -1
		}
		st = &ZoneState{
			ZoneID:      zoneID,
			Temperature: profile.BaseTemp,
			Humidity:    profile.BaseHumidity,
			TrendSign:   sign,
		}
		s.states[zoneID] = st
	}

	diurnal := diurnalFactor(now.Hour())

	var occupancy *int
	heat := 0.0
	if profile.HasOccupancy {
		occ, h := s.occupancy(now, profile)
		occupancy = &occ
		heat = h
	}

	pull := (setpoint - st.Temperature) * setpointGain
	noise := rng.Gauss(s.src, profile.TempVariance*noiseScale)
	if s.src.Float64() < trendFlipChance {
		st.TrendSign = -st.TrendSign
	}
	drift := float64(st.TrendSign) * trendStep

	temp := clamp(st.Temperature+pull+diurnal*diurnalGain+heat+noise+drift, MinTemp, MaxTemp)
	st.Temperature = temp

	hum := clamp(st.Humidity+rng.Gauss(s.src, profile.HumidityVariance*humidityScale), MinHumidity, MaxHumidity)
	st.Humidity = hum

	power := profile.PowerBase*(1+powerGain*math.Abs(setpoint-temp)) + rng.Gauss(s.src, profile.PowerVariance)

	r := model.Reading{
		Temperature: round(temp, 2),
		Humidity:    round(hum, 1),
		PowerKW:     round(power, 2),
		Occupancy:   occupancy,
		Timestamp:   now,
	}
	if profile.HasCO2 {
		occ := 0
		if occupancy != nil {
			occ = *occupancy
		}
		co2 := clamp(outdoorCO2+float64(occ)*co2PerOccupant+rng.Gauss(s.src, co2Sigma), MinCO2, MaxCO2)
		co2 = math.Round(co2)
		r.CO2 = &co2
	}
	return r
}

// occupancy returns the head count and the heat it contributes.
func (s *ZoneSimulator) occupancy(now time.Time, p Profile) (int, float64) {
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		n := rng.IntRange(s.src, 0, 2)
		return n, float64(n) * weekendHeat
	}
	hour := now.Hour()
	if hour >= businessStart && hour <= businessEnd {
		peak := 1 - math.Abs(float64(hour-lunchHour))/lunchSpreadHours
		n := int(float64(p.maxOccupancy()) * peak * rng.Uniform(s.src, 0.7, 1.0))
		return n, float64(n) * occupantHeat
	}
	return rng.IntRange(s.src, 0, 3), 0
}

// Snapshot returns a copy of every zone state seen so far.
func (s *ZoneSimulator) Snapshot() []ZoneState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ZoneState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	return out
}

// diurnalFactor peaks mid-afternoon and bottoms out before dawn.
func diurnalFactor(hour int) float64 {
	return math.Sin(float64(hour-6)*math.Pi/12) * 0.5
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
