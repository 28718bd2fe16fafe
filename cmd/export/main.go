package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"hvac-simulator/internal/config"
	"hvac-simulator/internal/db"
	"hvac-simulator/internal/output"
)

func main() {
	var (
		cfgPath string
		dbPath  string
		outJSON string
		outCSV  string
		window  time.Duration
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML configuration file (stock zones when empty)")
	flag.StringVar(&dbPath, "db", "", "SQLite database (defaults to storage.db_path)")
	flag.StringVar(&outJSON, "json", "", "path to write JSON history (optional)")
	flag.StringVar(&outCSV, "csv", "", "path to write CSV history (optional)")
	flag.DurationVar(&window, "window", time.Hour, "how far back to export")
	flag.Parse()

	if outJSON == "" && outCSV == "" {
		log.Fatalf("no output specified: set --json and/or --csv")
	}

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.LoadYAML(cfgPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if dbPath == "" {
		dbPath = cfg.Storage.DBPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	zones, err := store.ListZones(ctx)
	if err != nil {
		log.Fatalf("list zones: %v", err)
	}
	hist := make([]output.ZoneHistory, 0, len(zones))
	for _, z := range zones {
		preds, err := store.PredictionHistory(ctx, z.ID, window)
		if err != nil {
			log.Fatalf("history for %s: %v", z.ID, err)
		}
		hist = append(hist, output.ZoneHistory{ZoneID: z.ID, Predictions: preds})
	}

	if outJSON != "" {
		if err := output.WriteJSON(outJSON, hist); err != nil {
			log.Printf("write json error: %v", err)
		}
	}
	if outCSV != "" {
		if err := output.WriteCSV(outCSV, hist); err != nil {
			log.Printf("write csv error: %v", err)
		}
	}
}
