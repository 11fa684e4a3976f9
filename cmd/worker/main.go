// Command worker runs one random number service. The supervisor starts it
// with SERVER_ID and SERVER_PORT set; flags override the environment.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/angeloszaimis/randdistri/internal/httpserver"
	"github.com/angeloszaimis/randdistri/internal/worker"
	"github.com/angeloszaimis/randdistri/pkg/logger"
)

func main() {
	var (
		id          = flag.String("id", envOr("SERVER_ID", "Server1"), "server id, selects the default range")
		host        = flag.String("host", envOr("SERVER_HOST", "127.0.0.1"), "address to bind")
		port        = flag.Int("port", envInt("SERVER_PORT", 5001), "port to listen on")
		latency     = flag.Duration("latency", worker.DefaultLatency, "artificial delay per generate call")
		minValue    = flag.Int64("min", 0, "override the default range minimum")
		maxValue    = flag.Int64("max", 0, "override the default range maximum")
		level       = flag.String("log-level", envOr("LOGGING_LEVEL", "info"), "log level")
		environment = flag.String("environment", envOr("SERVER_ENVIRONMENT", "dev"), "dev, staging or prod")
	)
	flag.Parse()

	log := logger.NewWithOptions(logger.Options{
		Level:       *level,
		Environment: *environment,
		Service:     "worker",
	})

	opts := []worker.Option{worker.WithLatency(*latency)}
	if *minValue < *maxValue {
		opts = append(opts, worker.WithRange(worker.Range{Min: *minValue, Max: *maxValue}))
	}
	w := worker.New(*id, log, opts...)

	addr := net.JoinHostPort(*host, strconv.Itoa(*port))
	srv, err := httpserver.New(addr, w.Handler(), httpserver.WithShutdownTimeout(2*time.Second))
	if err != nil {
		log.Error("Invalid listen address", slog.String("addr", addr), slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("Worker listening",
		slog.String("server", *id),
		slog.String("addr", addr),
		slog.Duration("latency", *latency))

	if err := srv.Run(ctx); err != nil {
		log.Error("Worker stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("Worker stopped", slog.String("server", *id))
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
