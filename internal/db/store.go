// Package db persists zones, devices, readings and predictions in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"hvac-simulator/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

const schema = `
CREATE TABLE IF NOT EXISTS zones (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	setpoint REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS devices (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	type          TEXT NOT NULL,
	zone_id       TEXT NOT NULL REFERENCES zones(id),
	status        TEXT NOT NULL,
	discovered_at INTEGER NOT NULL,
	last_seen     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_devices_zone ON devices(zone_id, type);
CREATE TABLE IF NOT EXISTS readings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	zone_id     TEXT NOT NULL,
	device_id   TEXT NOT NULL,
	temperature REAL NOT NULL,
	humidity    REAL NOT NULL,
	co2_level   REAL,
	power_kw    REAL NOT NULL,
	occupancy   INTEGER,
	ts          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_readings_zone_ts ON readings(zone_id, ts);
CREATE TABLE IF NOT EXISTS predictions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	zone_id         TEXT NOT NULL,
	current_temp    REAL NOT NULL,
	predicted_temp  REAL NOT NULL,
	confidence      REAL NOT NULL,
	trend           TEXT NOT NULL,
	horizon_minutes INTEGER NOT NULL,
	ts              INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_predictions_zone_ts ON predictions(zone_id, ts);
`

// Store is the SQLite-backed zone registry, device registry and reading sink.
// Timestamps are stored as UTC unix nanoseconds.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to evaluate trailing windows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the database at path. ":memory:" is
// accepted for tests.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps :memory: databases shared and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close closes the database. Later calls return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) begin() (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	return s.mu.RUnlock, nil
}

// SeedZones inserts zones that do not exist yet. Existing rows are left alone.
func (s *Store) SeedZones(ctx context.Context, zones []model.ZoneRef) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()
	for _, z := range zones {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO zones (id, name, setpoint) VALUES (?, ?, ?)`,
			z.ID, z.Name, z.Setpoint); err != nil {
			return fmt.Errorf("seed zone %s: %w", z.ID, err)
		}
	}
	return nil
}

// SeedDevices inserts devices that do not exist yet.
func (s *Store) SeedDevices(ctx context.Context, devices []model.Device) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()
	for _, d := range devices {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO devices (id, name, type, zone_id, status, discovered_at, last_seen)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.Name, string(d.Type), d.ZoneID, string(d.Status), toNanos(d.DiscoveredAt), nullTime(d.LastSeen)); err != nil {
			return fmt.Errorf("seed device %s: %w", d.ID, err)
		}
	}
	return nil
}

func (s *Store) ListZones(ctx context.Context) ([]model.ZoneRef, error) {
	done, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, setpoint FROM zones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	defer rows.Close()
	var out []model.ZoneRef
	for rows.Next() {
		var z model.ZoneRef
		if err := rows.Scan(&z.ID, &z.Name, &z.Setpoint); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

func (s *Store) GetZone(ctx context.Context, id string) (*model.ZoneRef, error) {
	done, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	var z model.ZoneRef
	err = s.db.QueryRowContext(ctx, `SELECT id, name, setpoint FROM zones WHERE id = ?`, id).
		Scan(&z.ID, &z.Name, &z.Setpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("zone %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get zone %s: %w", id, err)
	}
	return &z, nil
}

// CreateDevice inserts a new device. Duplicate ids are an error.
func (s *Store) CreateDevice(ctx context.Context, d model.Device) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO devices (id, name, type, zone_id, status, discovered_at, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, string(d.Type), d.ZoneID, string(d.Status), toNanos(d.DiscoveredAt), nullTime(d.LastSeen))
	if err != nil {
		return fmt.Errorf("create device %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status model.DeviceStatus) error {
	return s.updateDevice(ctx, id, `UPDATE devices SET status = ? WHERE id = ?`, string(status))
}

func (s *Store) TouchLastSeen(ctx context.Context, id string, t time.Time) error {
	return s.updateDevice(ctx, id, `UPDATE devices SET last_seen = ? WHERE id = ?`, toNanos(t))
}

func (s *Store) updateDevice(ctx context.Context, id, query string, value any) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()
	res, err := s.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("update device %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update device %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return nil
}

const deviceColumns = `id, name, type, zone_id, status, discovered_at, last_seen`

func (s *Store) ListDevices(ctx context.Context) ([]model.Device, error) {
	return s.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
}

func (s *Store) ListOnline(ctx context.Context) ([]model.Device, error) {
	return s.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices WHERE status = ? ORDER BY id`, string(model.StatusOnline))
}

// SensorForZone returns the first sensor attached to the zone, or nil when the
// zone has none.
func (s *Store) SensorForZone(ctx context.Context, zoneID string) (*model.Device, error) {
	devs, err := s.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE zone_id = ? AND type = ? ORDER BY id LIMIT 1`,
		zoneID, string(model.DeviceSensor))
	if err != nil {
		return nil, err
	}
	if len(devs) == 0 {
		return nil, nil
	}
	return &devs[0], nil
}

func (s *Store) queryDevices(ctx context.Context, query string, args ...any) ([]model.Device, error) {
	done, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()
	var out []model.Device
	for rows.Next() {
		var (
			d            model.Device
			typ, status  string
			discoveredAt int64
			lastSeen     sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &d.Name, &typ, &d.ZoneID, &status, &discoveredAt, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.Type = model.DeviceType(typ)
		d.Status = model.DeviceStatus(status)
		d.DiscoveredAt = fromNanos(discoveredAt)
		if lastSeen.Valid {
			t := fromNanos(lastSeen.Int64)
			d.LastSeen = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MaxDeviceCounter returns the largest numeric suffix among device ids, so a
// restarted discovery engine never reuses an id.
func (s *Store) MaxDeviceCounter(ctx context.Context) (int64, error) {
	devs, err := s.ListDevices(ctx)
	if err != nil {
		return 0, err
	}
	var max int64
	for _, d := range devs {
		i := strings.LastIndexByte(d.ID, '-')
		if i < 0 {
			continue
		}
		n, err := strconv.ParseInt(d.ID[i+1:], 10, 64)
		if err == nil && n > max {
			max = n
		}
	}
	return max, nil
}

func (s *Store) AppendReading(ctx context.Context, zoneID, deviceID string, r model.Reading) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()
	var (
		co2 sql.NullFloat64
		occ sql.NullInt64
	)
	if r.CO2 != nil {
		co2 = sql.NullFloat64{Float64: *r.CO2, Valid: true}
	}
	if r.Occupancy != nil {
		occ = sql.NullInt64{Int64: int64(*r.Occupancy), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO readings (zone_id, device_id, temperature, humidity, co2_level, power_kw, occupancy, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		zoneID, deviceID, r.Temperature, r.Humidity, co2, r.PowerKW, occ, toNanos(r.Timestamp))
	if err != nil {
		return fmt.Errorf("append reading for %s: %w", zoneID, err)
	}
	return nil
}

func (s *Store) AppendPrediction(ctx context.Context, zoneID string, p model.Prediction, t time.Time) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO predictions (zone_id, current_temp, predicted_temp, confidence, trend, horizon_minutes, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		zoneID, p.CurrentTemp, p.PredictedTemp, p.Confidence, string(p.Trend), p.HorizonMinutes, toNanos(t))
	if err != nil {
		return fmt.Errorf("append prediction for %s: %w", zoneID, err)
	}
	return nil
}

// RecentTemperatures returns the zone's temperatures of the trailing window,
// oldest first.
func (s *Store) RecentTemperatures(ctx context.Context, zoneID string, window time.Duration) ([]model.TempSample, error) {
	done, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	since := s.now().Add(-window)
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, temperature FROM readings WHERE zone_id = ? AND ts >= ? ORDER BY ts, id`,
		zoneID, toNanos(since))
	if err != nil {
		return nil, fmt.Errorf("recent temperatures for %s: %w", zoneID, err)
	}
	defer rows.Close()
	var out []model.TempSample
	for rows.Next() {
		var (
			ts   int64
			temp float64
		)
		if err := rows.Scan(&ts, &temp); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		out = append(out, model.TempSample{Timestamp: fromNanos(ts), Temperature: temp})
	}
	return out, rows.Err()
}

// StoredPrediction is a prediction row with its timestamp.
type StoredPrediction struct {
	model.Prediction
	Timestamp time.Time
}

// PredictionHistory returns the zone's predictions of the trailing window,
// oldest first.
func (s *Store) PredictionHistory(ctx context.Context, zoneID string, window time.Duration) ([]StoredPrediction, error) {
	done, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	rows, err := s.db.QueryContext(ctx,
		`SELECT current_temp, predicted_temp, confidence, trend, horizon_minutes, ts
		 FROM predictions WHERE zone_id = ? AND ts >= ? ORDER BY ts, id`,
		zoneID, toNanos(s.now().Add(-window)))
	if err != nil {
		return nil, fmt.Errorf("prediction history for %s: %w", zoneID, err)
	}
	defer rows.Close()
	var out []StoredPrediction
	for rows.Next() {
		var (
			p     StoredPrediction
			trend string
			ts    int64
		)
		if err := rows.Scan(&p.CurrentTemp, &p.PredictedTemp, &p.Confidence, &trend, &p.HorizonMinutes, &ts); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		p.Trend = model.Trend(trend)
		p.Timestamp = fromNanos(ts)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PruneBefore deletes readings and predictions older than t and returns the
// number of rows removed.
func (s *Store) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	done, err := s.begin()
	if err != nil {
		return 0, err
	}
	defer done()
	var total int64
	for _, table := range []string{"readings", "predictions"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE ts < ?`, toNanos(t))
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}
