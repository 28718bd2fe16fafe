// Package forecast fits a least-squares line to a trailing temperature window
// and extrapolates it over a short horizon.
package forecast

import (
	"math"
	"time"

	"hvac-simulator/internal/model"
)

const (
	// MinSamples is the smallest window that gets a regression.
	MinSamples = 5

	DefaultHorizonMinutes = 15
	DefaultInterval       = 5.0
	DefaultSeriesPoints   = 10

	fallbackTemp       = 22.0
	fallbackConfidence = 0.5
	slopeDeadband      = 0.01
	minConfidence      = 0.3
	maxConfidence      = 0.95
	confidenceScale    = 0.9
	minTemp            = 15.0
	maxTemp            = 30.0
	flatTolerance      = 1e-12
)

// SeriesPoint is one forecast point of a plot series.
type SeriesPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	PredictedTemp float64   `json:"predicted_temp"`
}

// Forecaster extrapolates temperature windows. It holds no per-call state and
// is safe for concurrent use.
type Forecaster struct {
	horizon int
}

// New returns a Forecaster; non-positive horizons use DefaultHorizonMinutes.
func New(horizonMinutes int) *Forecaster {
	if horizonMinutes <= 0 {
		horizonMinutes = DefaultHorizonMinutes
	}
	return &Forecaster{horizon: horizonMinutes}
}

// Horizon returns the forecast horizon in minutes.
func (f *Forecaster) Horizon() int { return f.horizon }

// Predict forecasts the temperature Horizon minutes after the last sample.
// Windows shorter than MinSamples yield the last sample (or 22.0) with
// confidence 0.5 and a stable trend.
func (f *Forecaster) Predict(temps []float64, intervalSeconds float64) model.Prediction {
	p := model.Prediction{HorizonMinutes: f.horizon}
	if len(temps) > 0 {
		p.CurrentTemp = temps[len(temps)-1]
	} else {
		p.CurrentTemp = fallbackTemp
	}
	if len(temps) < MinSamples {
		p.PredictedTemp = p.CurrentTemp
		p.Confidence = fallbackConfidence
		p.Trend = model.TrendStable
		return p
	}

	line := fit(temps)
	n := len(temps)
	future := float64(n + stepsAhead(float64(f.horizon), intervalSeconds))

	p.PredictedTemp = round2(clamp(line.at(future), minTemp, maxTemp))
	p.Confidence = round2(clamp(line.r2*confidenceScale, minConfidence, maxConfidence))
	p.Trend = classify(line.slope)
	return p
}

// Series returns points forecasts spread evenly over the horizon, the i-th
// one horizon*(i+1)/points minutes after the last timestamp. It returns nil
// when the window is too short.
func (f *Forecaster) Series(temps []float64, timestamps []time.Time, intervalSeconds float64, points int) []SeriesPoint {
	if len(temps) < MinSamples || len(timestamps) == 0 {
		return nil
	}
	if points <= 0 {
		points = DefaultSeriesPoints
	}
	line := fit(temps)
	last := timestamps[len(timestamps)-1]
	out := make([]SeriesPoint, 0, points)
	for i := 0; i < points; i++ {
		minutes := float64(i+1) * float64(f.horizon) / float64(points)
		x := float64(len(temps) + stepsAhead(minutes, intervalSeconds))
		out = append(out, SeriesPoint{
			Timestamp:     last.Add(time.Duration(minutes * float64(time.Minute))),
			PredictedTemp: round2(clamp(line.at(x), minTemp, maxTemp)),
		})
	}
	return out
}

type line struct {
	slope, intercept, r2 float64
}

func (l line) at(x float64) float64 { return l.intercept + l.slope*x }

// fit runs ordinary least squares on (index, temperature).
func fit(ys []float64) line {
	n := float64(len(ys))
	var sumX, sumY float64
	for i, y := range ys {
		sumX += float64(i)
		sumY += y
	}
	meanX, meanY := sumX/n, sumY/n

	var sxy, sxx float64
	for i, y := range ys {
		dx := float64(i) - meanX
		sxy += dx * (y - meanY)
		sxx += dx * dx
	}
	var l line
	if sxx > 0 {
		l.slope = sxy / sxx
	}
	l.intercept = meanY - l.slope*meanX

	var ssRes, ssTot float64
	for i, y := range ys {
		r := y - l.at(float64(i))
		ssRes += r * r
		d := y - meanY
		ssTot += d * d
	}
	if ssTot <= flatTolerance {
		l.r2 = 1.0
	} else {
		l.r2 = 1 - ssRes/ssTot
	}
	return l
}

func stepsAhead(minutes, intervalSeconds float64) int {
	if intervalSeconds <= 0 {
		intervalSeconds = DefaultInterval
	}
	return int(minutes * 60 / intervalSeconds)
}

func classify(slope float64) model.Trend {
	switch {
	case slope > slopeDeadband:
		return model.TrendRising
	case slope < -slopeDeadband:
		return model.TrendFalling
	default:
		return model.TrendStable
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
