// Package run coordinates the lifecycle of one data-taking run: the
// pre-flight run-number check, the ordered start and stop of the detector,
// and the post-run bookkeeping (moving data files, backing up the
// configuration, and logging the run to the experiment table).
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/attpc/conductor/internal/app/orchestration"
	"github.com/attpc/conductor/internal/config"
	"github.com/attpc/conductor/internal/domain/daq"
	"github.com/attpc/conductor/internal/infra/commands"
	"github.com/attpc/conductor/pkg/common/logger"
	"github.com/attpc/conductor/pkg/common/timeutil"
)

var (
	// ErrRunExists is returned when the run number already has data on disk.
	// Starting anyway would silently mix two runs' files.
	ErrRunExists = errors.New("run number already has data")

	// ErrPreflight is returned when the run-number check itself could not
	// run. An unverifiable run number is treated like a used one.
	ErrPreflight = errors.New("run number check could not execute")
)

// TransitionEngine is the orchestration surface the coordinator drives.
type TransitionEngine interface {
	ReconfigureMasterBlocking(ctx context.Context) error
	StartFrontEndsBlocking(ctx context.Context) error
	StartMaster(ctx context.Context) error
	StopMasterBlocking(ctx context.Context) error
	StopFrontEnds(ctx context.Context) error
}

// CommandRunner executes scripted command descriptors.
type CommandRunner interface {
	Execute(ctx context.Context, cmd commands.Command) commands.Status
}

// MonitorSource exposes the latest front-end monitor snapshots.
type MonitorSource interface {
	Monitors() []daq.MonitorSnapshot
}

var _ TransitionEngine = (*orchestration.Transitioner)(nil)
var _ MonitorSource = (*orchestration.StatusManager)(nil)

// Coordinator runs the start/stop choreography around the transition
// engine. Not safe for concurrent use.
type Coordinator struct {
	engine   TransitionEngine
	monitors MonitorSource
	runner   CommandRunner
	loader   config.Loader
	table    *config.RunTable
	clock    timeutil.Provider
	logger   *logger.Logger
	tracer   trace.Tracer
	metrics  orchestration.ControlMetrics

	configDir string
	backupDir string

	startedAt time.Time
	running   bool
}

// NewCoordinator wires the run lifecycle over the given collaborators.
// configDir and backupDir locate the configuration set for post-run backup.
func NewCoordinator(
	engine TransitionEngine,
	monitors MonitorSource,
	runner CommandRunner,
	loader config.Loader,
	table *config.RunTable,
	configDir, backupDir string,
	clock timeutil.Provider,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics orchestration.ControlMetrics,
) *Coordinator {
	return &Coordinator{
		engine:    engine,
		monitors:  monitors,
		runner:    runner,
		loader:    loader,
		table:     table,
		configDir: configDir,
		backupDir: backupDir,
		clock:     clock,
		logger:    log,
		tracer:    tracer,
		metrics:   metrics,
	}
}

// IsRunning reports whether a run started through this coordinator is
// still in progress.
func (c *Coordinator) IsRunning() bool { return c.running }

// Elapsed returns how long the current run has been going.
func (c *Coordinator) Elapsed() time.Duration {
	if !c.running {
		return 0
	}
	return c.clock.Now().Sub(c.startedAt)
}

// StartRun takes the detector from Ready to Running. The run number is
// verified first, then the master is reconfigured so its timestamp counters
// reset, the front-ends start, and the master opens the trigger only once
// every front-end confirms it is taking data.
func (c *Coordinator) StartRun(ctx context.Context, cfg *config.Config) error {
	ctx, span := c.tracer.Start(ctx, "run.start",
		trace.WithAttributes(
			attribute.String("experiment", cfg.Experiment),
			attribute.Int("run_number", int(cfg.RunNumber)),
		))
	defer span.End()

	c.logger.Info(ctx, "starting run", "run_number", int(cfg.RunNumber))

	check := commands.CheckRunExists(c.monitors.Monitors(), cfg.Experiment, cfg.RunNumber)
	switch status := c.runner.Execute(ctx, check); status {
	case commands.StatusSuccess:
		return fmt.Errorf("%w: run %d of %s", ErrRunExists, cfg.RunNumber, cfg.Experiment)
	case commands.StatusCouldNotExecute:
		return fmt.Errorf("%w: run %d of %s", ErrPreflight, cfg.RunNumber, cfg.Experiment)
	case commands.StatusFailure:
		// No data under this run number; proceed.
	}
	c.logger.Info(ctx, "run number validated", "run_number", int(cfg.RunNumber))

	if err := c.engine.ReconfigureMasterBlocking(ctx); err != nil {
		return fmt.Errorf("reconfiguring master: %w", err)
	}
	if err := c.engine.StartFrontEndsBlocking(ctx); err != nil {
		return fmt.Errorf("starting front-ends: %w", err)
	}
	if err := c.engine.StartMaster(ctx); err != nil {
		return fmt.Errorf("starting master: %w", err)
	}

	c.startedAt = c.clock.Now()
	c.running = true
	c.metrics.IncRunsStarted(ctx)
	c.logger.Info(ctx, "run started", "run_number", int(cfg.RunNumber))
	return nil
}

// StopRun takes the detector back to Ready and performs the post-run
// bookkeeping. The master stops first so the front-ends drain without new
// triggers. Bookkeeping failures are logged but do not abort the stop: the
// detector must come to rest even when a script misbehaves.
func (c *Coordinator) StopRun(ctx context.Context, cfg *config.Config) error {
	ctx, span := c.tracer.Start(ctx, "run.stop",
		trace.WithAttributes(
			attribute.String("experiment", cfg.Experiment),
			attribute.Int("run_number", int(cfg.RunNumber)),
		))
	defer span.End()

	c.logger.Info(ctx, "stopping run", "run_number", int(cfg.RunNumber))

	if err := c.engine.StopMasterBlocking(ctx); err != nil {
		return fmt.Errorf("stopping master: %w", err)
	}
	if err := c.engine.StopFrontEnds(ctx); err != nil {
		return fmt.Errorf("stopping front-ends: %w", err)
	}

	// A stop without a matching start still brings the detector to rest,
	// but there is no start time to measure a duration from.
	var duration time.Duration
	if c.running {
		duration = c.clock.Now().Sub(c.startedAt)
		c.running = false
		c.metrics.IncRunsCompleted(ctx)
		c.metrics.ObserveRunDuration(ctx, duration)
	}

	move := commands.MoveDataFiles(c.monitors.Monitors(), cfg.Experiment, cfg.RunNumber)
	if status := c.runner.Execute(ctx, move); status != commands.StatusSuccess {
		c.logger.Error(ctx, "could not move run data files",
			"run_number", int(cfg.RunNumber), "status", string(status))
	}

	backup := commands.BackupConfig(c.configDir, c.backupDir, cfg.Experiment, cfg.RunNumber)
	if status := c.runner.Execute(ctx, backup); status != commands.StatusSuccess {
		c.logger.Error(ctx, "could not back up configuration",
			"run_number", int(cfg.RunNumber), "status", string(status))
	}

	if err := c.table.Append(*cfg, duration); err != nil {
		c.logger.Error(ctx, "could not log run to table", "error", err)
	}

	c.logger.Info(ctx, "run stopped",
		"run_number", int(cfg.RunNumber), "duration_s", int64(duration.Seconds()))

	cfg.RunNumber++
	if err := c.loader.Save(ctx, cfg); err != nil {
		return fmt.Errorf("autosaving configuration: %w", err)
	}
	return nil
}
