package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dbbouncer/dbbouncer/internal/config"
	"github.com/dbbouncer/dbbouncer/internal/gateway"
	"github.com/dbbouncer/dbbouncer/internal/metrics"
	"github.com/dbbouncer/dbbouncer/internal/registry"
	"github.com/dbbouncer/dbbouncer/internal/selector"
	"github.com/dbbouncer/dbbouncer/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("startup failed", "error", err)
		return 1
	}

	m := metrics.New()
	r := registry.New(cfg.Candidates, cfg.Probe.Database, int(cfg.Probe.ConnectTimeout.Milliseconds()))

	sel := selector.New(r, m, cfg.Probe)
	sel.Start()
	defer sel.Stop()

	gw, err := gateway.New(cfg, r, m)
	if err != nil {
		slog.Error("startup failed", "error", err)
		return 1
	}
	gw.Start()
	defer gw.Stop()

	telem := telemetry.NewServer(m)
	if err := telem.Start(cfg.Tuning.MetricsHost, cfg.Tuning.MetricsPort); err != nil {
		slog.Error("startup failed", "error", err)
		return 1
	}
	defer telem.Stop()

	slog.Info("pggateway running",
		"listen", cfg.ListenHost, "port", cfg.ListenPort,
		"candidates", len(cfg.Candidates), "workers", cfg.Tuning.NumThreads,
	)

	waitForShutdown()
	slog.Info("shutting down")
	return 0
}

func waitForShutdown() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
