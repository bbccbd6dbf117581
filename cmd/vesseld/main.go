// Package main runs the vessel HTTP application server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/vesselkit/vessel/internal/app"
	"github.com/vesselkit/vessel/internal/config"
	"github.com/vesselkit/vessel/internal/health"
	"github.com/vesselkit/vessel/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	listenAddr := flag.String("addr", "", "Listen address override")
	flag.Parse()

	if v := os.Getenv("CONFIG_PATH"); v != "" && *configPath == "" {
		*configPath = v
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logging.NewDefault("vesseld").WithError(err).Error("configuration invalid")
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	log := logging.New("vesseld", cfg.Log.Level, cfg.Log.Format)

	a, err := app.NewBuilder(cfg, log).
		Use("system-probes", func(a *app.App) error {
			a.Health.Register("cpu", health.CPUProbe(95))
			a.Health.Register("memory", health.MemoryProbe(95))
			a.Health.Register("disk", health.DiskProbe("/", 95))
			return nil
		}).
		Build()
	if err != nil {
		log.WithError(err).Error("application build failed")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		log.WithError(err).Error("server exited")
		os.Exit(1)
	}
	log.Info("server stopped")
}
