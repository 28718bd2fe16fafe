// Package output writes stored prediction history to JSON or CSV files.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"hvac-simulator/internal/db"
)

// ZoneHistory is the prediction history of one zone.
type ZoneHistory struct {
	ZoneID      string
	Predictions []db.StoredPrediction
}

type jsonPrediction struct {
	Timestamp      time.Time `json:"timestamp"`
	CurrentTemp    float64   `json:"current_temp"`
	PredictedTemp  float64   `json:"predicted_temp"`
	Confidence     float64   `json:"confidence"`
	Trend          string    `json:"trend"`
	HorizonMinutes int       `json:"prediction_horizon_minutes"`
}

type jsonZone struct {
	ZoneID      string           `json:"zone_id"`
	Predictions []jsonPrediction `json:"predictions"`
}

// WriteJSON writes the history to path with pretty formatting.
func WriteJSON(path string, zones []ZoneHistory) error {
	out := make([]jsonZone, 0, len(zones))
	for _, z := range zones {
		jz := jsonZone{ZoneID: z.ZoneID, Predictions: make([]jsonPrediction, 0, len(z.Predictions))}
		for _, p := range z.Predictions {
			jz.Predictions = append(jz.Predictions, jsonPrediction{
				Timestamp:      p.Timestamp,
				CurrentTemp:    p.CurrentTemp,
				PredictedTemp:  p.PredictedTemp,
				Confidence:     p.Confidence,
				Trend:          string(p.Trend),
				HorizonMinutes: p.HorizonMinutes,
			})
		}
		out = append(out, jz)
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// WriteCSV flattens the history into one row per prediction.
// Columns: zone_id,timestamp,current_temp,predicted_temp,confidence,trend,horizon_minutes
func WriteCSV(path string, zones []ZoneHistory) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	headers := []string{"zone_id", "timestamp", "current_temp", "predicted_temp", "confidence", "trend", "horizon_minutes"}
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, z := range zones {
		for _, p := range z.Predictions {
			rec := []string{
				z.ZoneID,
				p.Timestamp.UTC().Format(time.RFC3339Nano),
				formatFloat(p.CurrentTemp),
				formatFloat(p.PredictedTemp),
				formatFloat(p.Confidence),
				string(p.Trend),
				strconv.Itoa(p.HorizonMinutes),
			}
			if err := w.Write(rec); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
