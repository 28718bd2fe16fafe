package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"hvac-simulator/internal/db"
	"hvac-simulator/internal/forecast"
	"hvac-simulator/internal/model"
)

const (
	maxSeriesPoints       = 100
	defaultHistoryMinutes = 60
)

type healthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Subscribers int    `json:"subscribers"`
}

type zonePrediction struct {
	ZoneID string `json:"zone_id"`
	model.Prediction
	Timestamp time.Time `json:"timestamp"`
}

type historyPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	CurrentTemp   float64   `json:"current_temp"`
	PredictedTemp float64   `json:"predicted_temp"`
}

type historyResponse struct {
	ZoneID string         `json:"zone_id"`
	Data   []historyPoint `json:"data"`
}

type seriesResponse struct {
	ZoneID         string                 `json:"zone_id"`
	HorizonMinutes int                    `json:"horizon_minutes"`
	Data           []forecast.SeriesPoint `json:"data"`
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "healthy", Service: s.Service}
	if s.Subscribers != nil {
		resp.Subscribers = s.Subscribers()
	}
	writeJSON(w, http.StatusOK, resp)
}

// prediction forecasts from the live window. A zone without recent data
// reports its setpoint.
func (s *server) prediction(w http.ResponseWriter, r *http.Request) {
	zone, ok := s.zone(w, r)
	if !ok {
		return
	}
	samples, err := s.Store.RecentTemperatures(r.Context(), zone.ID, s.Window)
	if err != nil {
		s.fail(w, err)
		return
	}
	var p model.Prediction
	if len(samples) == 0 {
		p = model.Prediction{
			CurrentTemp:    zone.Setpoint,
			PredictedTemp:  zone.Setpoint,
			Confidence:     0.5,
			Trend:          model.TrendStable,
			HorizonMinutes: s.Forecaster.Horizon(),
		}
	} else {
		temps, _ := split(samples)
		p = s.Forecaster.Predict(temps, s.Interval.Seconds())
	}
	writeJSON(w, http.StatusOK, zonePrediction{ZoneID: zone.ID, Prediction: p, Timestamp: s.Clock()})
}

func (s *server) history(w http.ResponseWriter, r *http.Request) {
	minutes, err := intParam(r, "minutes", defaultHistoryMinutes, 1, 7*24*60)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	zone, ok := s.zone(w, r)
	if !ok {
		return
	}
	rows, err := s.Store.PredictionHistory(r.Context(), zone.ID, time.Duration(minutes)*time.Minute)
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := historyResponse{ZoneID: zone.ID, Data: make([]historyPoint, 0, len(rows))}
	for _, p := range rows {
		resp.Data = append(resp.Data, historyPoint{Timestamp: p.Timestamp, CurrentTemp: p.CurrentTemp, PredictedTemp: p.PredictedTemp})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) series(w http.ResponseWriter, r *http.Request) {
	points, err := intParam(r, "points", forecast.DefaultSeriesPoints, 1, maxSeriesPoints)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	zone, ok := s.zone(w, r)
	if !ok {
		return
	}
	samples, err := s.Store.RecentTemperatures(r.Context(), zone.ID, s.Window)
	if err != nil {
		s.fail(w, err)
		return
	}
	temps, stamps := split(samples)
	data := s.Forecaster.Series(temps, stamps, s.Interval.Seconds(), points)
	if data == nil {
		data = []forecast.SeriesPoint{}
	}
	writeJSON(w, http.StatusOK, seriesResponse{ZoneID: zone.ID, HorizonMinutes: s.Forecaster.Horizon(), Data: data})
}

func (s *server) registers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Registers.Snapshot())
}

func (s *server) zone(w http.ResponseWriter, r *http.Request) (*model.ZoneRef, bool) {
	zone, err := s.Store.GetZone(r.Context(), mux.Vars(r)["zone_id"])
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Zone not found")
		return nil, false
	}
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	return zone, true
}

func (s *server) fail(w http.ResponseWriter, err error) {
	s.log.Error("request failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func split(samples []model.TempSample) ([]float64, []time.Time) {
	temps := make([]float64, len(samples))
	stamps := make([]time.Time, len(samples))
	for i, s := range samples {
		temps[i] = s.Temperature
		stamps[i] = s.Timestamp
	}
	return temps, stamps
}

func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, errors.New(name + " must be an integer between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi))
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
