package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binsim/internal/api"
	"binsim/internal/config"
	"binsim/internal/metrics"
	"binsim/internal/sim"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config (defaults apply when empty)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := api.NewStoreFromEnv(ctx)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	broker := api.NewBrokerFromEnv()

	manager, err := sim.New(cfg, store, broker)
	if err != nil {
		log.Fatalf("failed to init simulation: %v", err)
	}

	metrics.RegisterDefault()
	srvDeps := api.NewServer(store, broker, manager)
	mux := http.NewServeMux()
	srvDeps.Routes(mux)

	addr := cfg.Server.Addr
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.LogMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	log.Printf("run %s: %d bins, %d trucks, %d ticks, seed %d",
		manager.RunID(), cfg.Agents.Counts.Bins, cfg.Agents.Counts.Trucks, cfg.TotalTicks(), cfg.Simulation.Seed)
	summary, err := manager.Run(ctx)
	if err != nil {
		log.Printf("simulation halted: %v", err)
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	log.Printf("run summary:\n%s", out)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
