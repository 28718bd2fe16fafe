// Package orchestrator runs the sensor and discovery loops that drive the
// simulator, persists what they produce and publishes it through the hub.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"hvac-simulator/internal/discovery"
	"hvac-simulator/internal/hub"
	"hvac-simulator/internal/metrics"
	"hvac-simulator/internal/model"
)

const (
	loopSensor    = "sensor"
	loopDiscovery = "discovery"
	loopPrune     = "prune"
	loopSync      = "sync"
)

// Config holds the loop cadences.
type Config struct {
	SensorInterval time.Duration
	Schedule       discovery.Schedule
	// SyncDelay is how long a discovered device stays syncing.
	SyncDelay time.Duration
	// Window is the trailing period fed to the forecaster.
	Window time.Duration
	// Retention > 0 enables periodic deletion of older history.
	Retention  time.Duration
	PruneEvery time.Duration
	// CancelPendingOnStop aborts deferred syncing-to-online transitions on
	// Stop instead of letting them complete.
	CancelPendingOnStop bool
}

// DefaultConfig returns 5s sensor ticks, the default discovery schedule, a
// 3s sync delay and a 5 minute window.
func DefaultConfig() Config {
	return Config{
		SensorInterval: 5 * time.Second,
		Schedule:       discovery.DefaultSchedule(),
		SyncDelay:      3 * time.Second,
		Window:         5 * time.Minute,
		PruneEvery:     time.Minute,
	}
}

// Deps are the collaborators of an Orchestrator. Observers, Pruner, Logger,
// Metrics and Clock are optional.
type Deps struct {
	Zones      ZoneRegistry
	Devices    DeviceRegistry
	Sink       ReadingSink
	Simulator  Simulator
	Forecaster Predictor
	Discovery  Discoverer
	Selector   discovery.Selector
	Hub        Broadcaster
	Observers  []Observer
	Pruner     Pruner
	Logger     *slog.Logger
	Metrics    *metrics.Sim
	Clock      func() time.Time
}

func (d Deps) validate() error {
	var missing []string
	for name, ok := range map[string]bool{
		"Zones":      d.Zones != nil,
		"Devices":    d.Devices != nil,
		"Sink":       d.Sink != nil,
		"Simulator":  d.Simulator != nil,
		"Forecaster": d.Forecaster != nil,
		"Discovery":  d.Discovery != nil,
		"Selector":   d.Selector != nil,
		"Hub":        d.Hub != nil,
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("orchestrator: missing dependencies %v", missing)
	}
	return nil
}

// Orchestrator owns the background loops. Start and Stop may be called
// repeatedly; a stopped orchestrator can be started again.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	now  func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup

	pendingCtx    context.Context
	pendingCancel context.CancelFunc
	pending       sync.WaitGroup
	inFlight      atomic.Int64
}

// New validates deps and fills zero config values from DefaultConfig.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if cfg.SensorInterval <= 0 {
		cfg.SensorInterval = def.SensorInterval
	}
	if cfg.Schedule.Interval <= 0 {
		cfg.Schedule = def.Schedule
	}
	if cfg.SyncDelay < 0 {
		cfg.SyncDelay = def.SyncDelay
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.PruneEvery <= 0 {
		cfg.PruneEvery = def.PruneEvery
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	o := &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  log.With("component", "orchestrator"),
		now:  now,
	}
	o.pendingCtx, o.pendingCancel = context.WithCancel(context.Background())
	return o, nil
}

// Start launches the loops. Calling Start on a running orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.pendingCtx.Err() != nil {
		o.pendingCtx, o.pendingCancel = context.WithCancel(context.Background())
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true

	o.loops.Add(2)
	go o.sensorLoop(runCtx)
	go o.discoveryLoop(runCtx)
	if o.cfg.Retention > 0 && o.deps.Pruner != nil {
		o.loops.Add(1)
		go o.pruneLoop(runCtx)
	}
	o.log.Info("started",
		"sensor_interval", o.cfg.SensorInterval,
		"discovery_interval", o.cfg.Schedule.Interval,
		"window", o.cfg.Window)
	return nil
}

// Stop cancels the loops and waits for them to return. Deferred transitions
// are awaited, or canceled first when CancelPendingOnStop is set.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.running = false
	o.cancel()
	o.loops.Wait()

	if o.cfg.CancelPendingOnStop {
		o.pendingCancel()
	}
	o.pending.Wait()
	o.log.Info("stopped")
}

// Running reports whether the loops are active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Pending returns the number of deferred transitions in flight.
func (o *Orchestrator) Pending() int { return int(o.inFlight.Load()) }

func (o *Orchestrator) sensorLoop(ctx context.Context) {
	defer o.loops.Done()
	for ctx.Err() == nil {
		o.SensorTick(ctx)
		if !discovery.Sleep(ctx, o.cfg.SensorInterval) {
			return
		}
	}
}

func (o *Orchestrator) discoveryLoop(ctx context.Context) {
	defer o.loops.Done()
	o.deps.Discovery.RunLoop(ctx, o.cfg.Schedule, func(ev discovery.Event) {
		if err := safely(func() error { return o.HandleEvent(ctx, ev) }); err != nil {
			o.fault(ctx, loopDiscovery, err, "kind", ev.Kind.String())
		}
	})
}

func (o *Orchestrator) pruneLoop(ctx context.Context) {
	defer o.loops.Done()
	for discovery.Sleep(ctx, o.cfg.PruneEvery) {
		cutoff := o.now().Add(-o.cfg.Retention)
		n, err := o.deps.Pruner.PruneBefore(ctx, cutoff)
		if err != nil {
			o.fault(ctx, loopPrune, err)
			continue
		}
		if n > 0 {
			o.log.Debug("pruned history", "rows", n, "before", cutoff)
		}
	}
}

// SensorTick simulates, stores and publishes one reading and one prediction
// per zone. A failing zone is logged and does not affect the others.
func (o *Orchestrator) SensorTick(ctx context.Context) {
	start := time.Now()
	defer func() { o.deps.Metrics.ObserveTick(loopSensor, time.Since(start).Seconds()) }()

	var zones []model.ZoneRef
	err := safely(func() error {
		var err error
		zones, err = o.deps.Zones.ListZones(ctx)
		return err
	})
	if err != nil {
		o.fault(ctx, loopSensor, fmt.Errorf("list zones: %w", err))
		return
	}
	for _, z := range zones {
		if ctx.Err() != nil {
			return
		}
		if err := safely(func() error { return o.tickZone(ctx, z) }); err != nil {
			o.fault(ctx, loopSensor, err, "zone", z.ID)
		}
	}
}

func (o *Orchestrator) tickZone(ctx context.Context, z model.ZoneRef) error {
	r := o.deps.Simulator.GenerateReading(z.ID, z.Setpoint)

	sensor, err := o.deps.Devices.SensorForZone(ctx, z.ID)
	if err != nil {
		return fmt.Errorf("sensor lookup: %w", err)
	}
	if sensor == nil {
		return nil
	}

	now := o.now()
	r.Timestamp = now
	if err := o.deps.Sink.AppendReading(ctx, z.ID, sensor.ID, r); err != nil {
		return err
	}
	if err := o.deps.Devices.TouchLastSeen(ctx, sensor.ID, now); err != nil {
		return err
	}
	for _, obs := range o.deps.Observers {
		obs.ObserveReading(z.ID, r, now)
	}
	o.deps.Hub.Broadcast(context.WithoutCancel(ctx), hub.NewReading(z.ID, sensor.ID, r, now))
	o.deps.Metrics.Reading(z.ID)

	window, err := o.deps.Sink.RecentTemperatures(ctx, z.ID, o.cfg.Window)
	if err != nil {
		return fmt.Errorf("window: %w", err)
	}
	if len(window) == 0 {
		return nil
	}
	temps := make([]float64, len(window))
	for i, s := range window {
		temps[i] = s.Temperature
	}
	p := o.deps.Forecaster.Predict(temps, o.cfg.SensorInterval.Seconds())
	if err := o.deps.Sink.AppendPrediction(ctx, z.ID, p, now); err != nil {
		return err
	}
	for _, obs := range o.deps.Observers {
		obs.ObservePrediction(z.ID, p, now)
	}
	o.deps.Hub.Broadcast(context.WithoutCancel(ctx), hub.NewPrediction(z.ID, p, now))
	o.deps.Metrics.Prediction(z.ID, string(p.Trend))
	return nil
}

// HandleEvent applies one discovery event. A status change with no online
// device to apply it to is dropped without error.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev discovery.Event) error {
	switch ev.Kind {
	case discovery.KindDiscovered:
		return o.applyDiscovered(ctx, ev.Device)
	case discovery.KindStatusChanged:
		return o.applyStatusChange(ctx, ev.Status)
	default:
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

func (o *Orchestrator) applyDiscovered(ctx context.Context, d model.Device) error {
	now := o.now()
	d.Status = model.StatusSyncing
	if d.DiscoveredAt.IsZero() {
		d.DiscoveredAt = now
	}
	if err := o.deps.Devices.CreateDevice(ctx, d); err != nil {
		o.deps.Metrics.Discovery(discovery.KindDiscovered.String(), "error")
		return err
	}
	o.deps.Hub.Broadcast(context.WithoutCancel(ctx), hub.NewDeviceDiscovered(d, now))
	o.deps.Metrics.Discovery(discovery.KindDiscovered.String(), "applied")
	o.log.Info("device discovered", "device", d.ID, "type", d.Type, "zone", d.ZoneID)

	o.deferOnline(d.ID)
	return nil
}

func (o *Orchestrator) applyStatusChange(ctx context.Context, status model.DeviceStatus) error {
	kind := discovery.KindStatusChanged.String()
	online, err := o.deps.Devices.ListOnline(ctx)
	if err != nil {
		o.deps.Metrics.Discovery(kind, "error")
		return fmt.Errorf("list online: %w", err)
	}
	d, ok := o.deps.Selector.Select(online)
	if !ok {
		o.deps.Metrics.Discovery(kind, "dropped")
		o.log.Debug("status change dropped, no online device", "status", status)
		return nil
	}
	if err := o.deps.Devices.SetStatus(ctx, d.ID, status); err != nil {
		o.deps.Metrics.Discovery(kind, "error")
		return err
	}
	o.deps.Hub.Broadcast(context.WithoutCancel(ctx), hub.NewDeviceStatus(d.ID, status, o.now()))
	o.deps.Metrics.Discovery(kind, "applied")
	o.log.Info("device status changed", "device", d.ID, "status", status)
	return nil
}

// deferOnline moves a syncing device online after SyncDelay. The transition
// is tracked so Stop can wait for or cancel it.
func (o *Orchestrator) deferOnline(id string) {
	ctx := o.pendingCtx
	o.pending.Add(1)
	o.deps.Metrics.SetPending(int(o.inFlight.Add(1)))

	go func() {
		defer func() {
			o.deps.Metrics.SetPending(int(o.inFlight.Add(-1)))
			o.pending.Done()
		}()
		if !discovery.Sleep(ctx, o.cfg.SyncDelay) {
			o.log.Info("sync canceled", "device", id)
			return
		}
		if err := safely(func() error { return o.completeSync(ctx, id) }); err != nil {
			o.fault(ctx, loopSync, err, "device", id)
		}
	}()
}

func (o *Orchestrator) completeSync(ctx context.Context, id string) error {
	if err := o.deps.Devices.SetStatus(ctx, id, model.StatusOnline); err != nil {
		return err
	}
	now := o.now()
	if err := o.deps.Devices.TouchLastSeen(ctx, id, now); err != nil {
		return err
	}
	o.deps.Hub.Broadcast(context.WithoutCancel(ctx), hub.NewDeviceStatus(id, model.StatusOnline, now))
	o.log.Info("device online", "device", id)
	return nil
}

// fault records an absorbed error. Errors caused by shutdown are not counted.
func (o *Orchestrator) fault(ctx context.Context, loop string, err error, attrs ...any) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}
	o.deps.Metrics.TickError(loop)
	o.log.Error("tick failed", append([]any{"loop", loop, "err", err}, attrs...)...)
}

// safely runs fn, converting a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
