// Command snapupd is the transactional snapshot update daemon. It exposes
// Open/Call/CallExt/Close/Abort on the system bus and serializes concurrent
// operations per transaction id.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/sushant-115/snapupd/config"
	"github.com/sushant-115/snapupd/core/daemon"
	"github.com/sushant-115/snapupd/core/registry"
	"github.com/sushant-115/snapupd/core/snapshot"
	"github.com/sushant-115/snapupd/pkg/bus"
	"github.com/sushant-115/snapupd/pkg/logger"
	"github.com/sushant-115/snapupd/pkg/telemetry"
)

const version = "0.2.0"

var (
	configPath  = flag.String("config", "", "Path to the yaml configuration file")
	backendName = flag.String("backend", "", "Snapshot backend override (tukit or memory)")
	sessionBus  = flag.Bool("session-bus", false, "Attach to the session bus instead of the system bus")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Printf("snapupd %s\n", version)
		return
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "snapupd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *backendName != "" {
		cfg.Daemon.Backend = *backendName
	}
	if *sessionBus {
		cfg.Bus.UseSessionBus = true
	}

	zlogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("CRITICAL: Can't initialize logger: %v", err)
	}
	defer func() { _ = zlogger.Sync() }()

	zlogger.Info("Started snapupd", zap.String("version", version),
		zap.String("backend", cfg.Daemon.Backend),
		zap.Bool("sessionBus", cfg.Bus.UseSessionBus))

	tel, telShutdown, err := telemetry.New(cfg.Telemetry, zlogger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telShutdown(ctx); err != nil {
			zlogger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	metrics, err := daemon.NewMetrics(tel.Meter)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	backend, err := newBackend(cfg.Daemon, zlogger)
	if err != nil {
		return err
	}

	conn, err := bus.Connect(cfg.Bus, zlogger)
	if err != nil {
		return err
	}
	defer conn.Close()

	d := daemon.New(daemon.Options{
		Logger:        zlogger,
		Registry:      registry.New(zlogger),
		Backend:       backend,
		Emitter:       conn,
		Metrics:       metrics,
		Tracer:        tel.Tracer,
		DrainInterval: time.Duration(cfg.Daemon.DrainInterval),
	})
	if err := conn.ExportTransaction(d); err != nil {
		return err
	}

	return d.Run(context.Background())
}

func newBackend(cfg config.DaemonConfig, zlogger *zap.Logger) (snapshot.Backend, error) {
	switch cfg.Backend {
	case config.BackendTukit:
		return snapshot.NewTukitBackend(cfg.TukitBinary, zlogger), nil
	case config.BackendMemory:
		return snapshot.NewMemoryBackend(nil), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}
