package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/attpc/conductor/internal/app/orchestration"
	"github.com/attpc/conductor/internal/app/run"
	"github.com/attpc/conductor/internal/config"
	"github.com/attpc/conductor/internal/config/fileloader"
	"github.com/attpc/conductor/internal/infra/commands"
	"github.com/attpc/conductor/internal/infra/embassy"
	"github.com/attpc/conductor/pkg/common/logger"
	"github.com/attpc/conductor/pkg/common/otel"
	"github.com/attpc/conductor/pkg/common/timeutil"
)

const serviceType = "conductor"

// statusRefreshInterval paces the main control loop's bus drain.
const statusRefreshInterval = 2 * time.Second

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("CONDUCTOR-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	prob := 0.0
	if raw := os.Getenv("OTEL_SAMPLING_RATIO"); raw != "" {
		prob, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			log.Error(ctx, "failed to parse OTEL_SAMPLING_RATIO", "error", err)
			os.Exit(1)
		}
	}
	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      svcName,
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Probability:      prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(serviceType)

	configPath := os.Getenv("CONDUCTOR_CONFIG")
	if configPath == "" {
		configPath = "conductor.yaml"
	}
	loader := fileloader.NewFileLoader(configPath)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Error(ctx, "failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}
	log.Info(ctx, "configuration loaded",
		"path", configPath, "experiment", cfg.Experiment, "run_number", int(cfg.RunNumber))

	scriptDir := envOr("CONDUCTOR_SCRIPT_DIR", "scripts")
	configDir := envOr("CONDUCTOR_GET_CONFIG_DIR", "configs")
	backupDir := envOr("CONDUCTOR_BACKUP_DIR", "backups")
	tableDir := envOr("CONDUCTOR_TABLE_DIR", "tables")
	shell := envOr("CONDUCTOR_SHELL", "zsh")

	clock := timeutil.Default()

	bus := embassy.New(log, tracer, clock)
	if err := bus.Startup(ctx, cfg.Experiment); err != nil {
		log.Error(ctx, "failed to start embassy", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := bus.Shutdown(context.Background()); err != nil {
			log.Error(ctx, "error shutting down embassy", "error", err)
		}
	}()
	log.Info(ctx, "embassy started", "experiment", cfg.Experiment, "tasks", bus.TaskCount())

	metrics, err := orchestration.NewControlMetrics(otel.GetMeterProvider())
	if err != nil {
		log.Error(ctx, "failed to create metrics collector", "error", err)
		os.Exit(1)
	}

	status := orchestration.NewStatusManager(log)
	engine := orchestration.NewTransitioner(bus, status, log, tracer, metrics)
	executor := commands.NewExecutor(shell, scriptDir, log)
	coordinator := run.NewCoordinator(
		engine, status, executor, loader,
		config.NewRunTable(tableDir),
		configDir, backupDir,
		clock, log, tracer, metrics,
	)

	ctrl := newController(cfg, bus, status, engine, coordinator, log)

	ticker := time.NewTicker(statusRefreshInterval)
	defer ticker.Stop()

	log.Info(ctx, "conductor ready", "commands", "status forward backward start stop quit")
	for {
		select {
		case sig := <-sigCh:
			log.Info(ctx, "shutdown signal received", "signal", sig.String())
			ctrl.shutdown(ctx)
			return

		case line, ok := <-ctrl.Commands():
			if !ok || ctrl.execute(ctx, line) {
				ctrl.shutdown(ctx)
				return
			}

		case <-ticker.C:
			if err := ctrl.tick(ctx); err != nil {
				log.Error(ctx, "control loop error", "error", err)
				ctrl.shutdown(ctx)
				os.Exit(1)
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
