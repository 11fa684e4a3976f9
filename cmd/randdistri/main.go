// Command randdistri runs the router: it spreads generate requests over the
// configured workers by weight and exposes the operator actions over HTTP.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/angeloszaimis/randdistri/config"
	"github.com/angeloszaimis/randdistri/pkg/logger"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to a config file (default: config.yaml in ./config or .)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.NewWithOptions(logger.Options{
		Level:       cfg.Logging.Level,
		AddSource:   cfg.Logging.AddSource,
		Environment: cfg.Server.Environment,
		Service:     "randdistri",
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("Failed to initialize", slog.Any("err", err))
		os.Exit(1)
	}

	if err := a.run(ctx); err != nil {
		log.Error("Stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("Shut down gracefully")
}
