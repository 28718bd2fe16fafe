// Package api serves the read-only HTTP surface: health, metrics, the
// websocket feed and zone predictions.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"hvac-simulator/internal/db"
	"hvac-simulator/internal/forecast"
	"hvac-simulator/internal/model"
)

// Store is the read side of the database used by the handlers.
type Store interface {
	GetZone(ctx context.Context, id string) (*model.ZoneRef, error)
	RecentTemperatures(ctx context.Context, zoneID string, window time.Duration) ([]model.TempSample, error)
	PredictionHistory(ctx context.Context, zoneID string, window time.Duration) ([]db.StoredPrediction, error)
}

// RegisterView exposes the Modbus register blocks.
type RegisterView interface {
	Snapshot() []model.ZoneRegisters
}

// Options wires the router. WS, Metrics and Registers are optional.
type Options struct {
	Service    string
	Store      Store
	Forecaster *forecast.Forecaster
	// Window and Interval must match the sensor loop.
	Window   time.Duration
	Interval time.Duration

	WSPath      string
	WS          http.Handler
	Subscribers func() int
	Metrics     http.Handler
	Registers   RegisterView

	Logger *slog.Logger
	Clock  func() time.Time
}

type server struct {
	Options
	log *slog.Logger
}

// NewRouter builds the routes and wraps them in CORS and panic recovery.
func NewRouter(o Options) http.Handler {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Service == "" {
		o.Service = "hvac-simulator"
	}
	if o.WSPath == "" {
		o.WSPath = "/ws/sensors"
	}
	s := &server{Options: o, log: o.Logger.With("component", "api")}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if o.Metrics != nil {
		r.Handle("/metrics", o.Metrics).Methods(http.MethodGet)
	}
	if o.WS != nil {
		r.Handle(o.WSPath, o.WS)
	}

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/predictions/{zone_id}", s.prediction).Methods(http.MethodGet)
	a.HandleFunc("/predictions/{zone_id}/history", s.history).Methods(http.MethodGet)
	a.HandleFunc("/predictions/{zone_id}/series", s.series).Methods(http.MethodGet)
	if o.Registers != nil {
		a.HandleFunc("/modbus/registers", s.registers).Methods(http.MethodGet)
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.log}),
		handlers.PrintRecoveryStack(false),
	)
	return recovery(cors(r))
}

type recoveryLogger struct{ log *slog.Logger }

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error("handler panic", "panic", v)
}
