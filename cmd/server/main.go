package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"

	"hvac-simulator/internal/api"
	"hvac-simulator/internal/config"
	"hvac-simulator/internal/db"
	"hvac-simulator/internal/discovery"
	"hvac-simulator/internal/forecast"
	"hvac-simulator/internal/hub"
	"hvac-simulator/internal/logging"
	"hvac-simulator/internal/metrics"
	"hvac-simulator/internal/modbus"
	"hvac-simulator/internal/orchestrator"
	"hvac-simulator/internal/rng"
	"hvac-simulator/internal/sim"
)

const (
	serviceName     = "hvac-simulator"
	shutdownTimeout = 10 * time.Second
	kafkaTimeout    = 5 * time.Second
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML configuration file (stock zones when empty)")
	flag.Parse()

	if err := run(configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadYAML(configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	logger, err := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()
	lg := logger.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	if err := store.SeedZones(ctx, cfg.ZoneRefs()); err != nil {
		return fmt.Errorf("seed zones: %w", err)
	}
	if err := store.SeedDevices(ctx, cfg.SeedDevices(time.Now())); err != nil {
		return fmt.Errorf("seed devices: %w", err)
	}

	src := rng.New(cfg.Simulation.Seed)
	engine := discovery.NewEngine(src, cfg.ZoneIDs())
	counter, err := store.MaxDeviceCounter(ctx)
	if err != nil {
		return fmt.Errorf("read device counter: %w", err)
	}
	engine.SetCounter(counter)

	reg := metrics.NewRegistry()
	h := hub.New(lg, metrics.NewHub(reg))
	defer h.Close()
	ws := hub.NewWSHandler(h, lg, cfg.Server.IdleTimeout, cfg.Server.WriteTimeout)

	if cfg.Kafka.Enabled {
		w := hub.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		h.Join(hub.NewKafkaSubscriber("kafka:"+cfg.Kafka.Topic, w, kafkaTimeout))
		lg.Info("mirroring to kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	var (
		observers []orchestrator.Observer
		registers api.RegisterView
	)
	if cfg.Modbus.Enabled {
		gw := modbus.NewGateway(cfg.ZoneRefs(), lg)
		if err := gw.Listen(cfg.Modbus.ListenAddress); err != nil {
			return err
		}
		defer gw.Close()
		observers = append(observers, gw)
		registers = gw
	}

	fc := forecast.New(cfg.Simulation.HorizonMinutes)
	orch, err := orchestrator.New(orchestrator.Config{
		SensorInterval: cfg.Simulation.SensorInterval,
		Schedule: discovery.Schedule{
			Interval:   cfg.Simulation.DiscoveryInterval,
			JitterLow:  cfg.Simulation.DiscoveryJitterLow,
			JitterHigh: cfg.Simulation.DiscoveryJitterHigh,
		},
		SyncDelay:           cfg.Simulation.SyncDelay,
		Window:              cfg.Simulation.Window,
		Retention:           cfg.Storage.Retention,
		CancelPendingOnStop: cfg.Simulation.CancelPendingOnStop,
	}, orchestrator.Deps{
		Zones:      store,
		Devices:    store,
		Sink:       store,
		Simulator:  sim.NewZoneSimulator(src, cfg.Profiles(), time.Now),
		Forecaster: fc,
		Discovery:  engine,
		Selector:   discovery.UniformSelector{Src: src},
		Hub:        h,
		Observers:  observers,
		Pruner:     store,
		Logger:     lg,
		Metrics:    metrics.NewSim(reg),
	})
	if err != nil {
		return err
	}

	router := api.NewRouter(api.Options{
		Service:     serviceName,
		Store:       store,
		Forecaster:  fc,
		Window:      cfg.Simulation.Window,
		Interval:    cfg.Simulation.SensorInterval,
		WSPath:      cfg.Server.WSPath,
		WS:          ws,
		Subscribers: h.Len,
		Metrics:     reg.Handler(),
		Registers:   registers,
		Logger:      lg,
	})
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           handlers.LoggingHandler(os.Stdout, router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	defer orch.Stop()

	errCh := make(chan error, 1)
	go func() {
		lg.Info("http listening", "addr", cfg.Server.ListenAddress, "ws", cfg.Server.WSPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		lg.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	orch.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
