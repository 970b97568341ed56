package main

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	"github.com/attpc/conductor/internal/app/orchestration"
	"github.com/attpc/conductor/internal/app/run"
	"github.com/attpc/conductor/internal/config"
	"github.com/attpc/conductor/internal/domain/daq"
	"github.com/attpc/conductor/internal/infra/embassy"
	"github.com/attpc/conductor/pkg/common/logger"
)

// transitionDeadline bounds every blocking operator action. Generous enough
// for a full configure sweep, short enough that a dead module surfaces.
const transitionDeadline = 5 * time.Minute

// controller glues the operator console to the control plane: it drains the
// bus on every tick, logs system state changes, and dispatches the line
// commands read from stdin.
type controller struct {
	cfg         *config.Config
	bus         *embassy.Embassy
	status      *orchestration.StatusManager
	engine      *orchestration.Transitioner
	coordinator *run.Coordinator
	logger      *logger.Logger

	lastSystem daq.ControlStatus
	commands   chan string
}

func newController(
	cfg *config.Config,
	bus *embassy.Embassy,
	status *orchestration.StatusManager,
	engine *orchestration.Transitioner,
	coordinator *run.Coordinator,
	log *logger.Logger,
) *controller {
	c := &controller{
		cfg:         cfg,
		bus:         bus,
		status:      status,
		engine:      engine,
		coordinator: coordinator,
		logger:      log,
		lastSystem:  daq.StatusOffline,
		commands:    make(chan string),
	}
	go c.readConsole()
	return c
}

// Commands yields the operator's console lines.
func (c *controller) Commands() <-chan string { return c.commands }

func (c *controller) readConsole() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.ToLower(scanner.Text()))
		if line == "" {
			continue
		}
		c.commands <- line
	}
	close(c.commands)
}

// tick drains the bus into the status ledger and logs aggregate changes.
func (c *controller) tick(ctx context.Context) error {
	msgs, err := c.bus.Poll()
	if err != nil {
		return err
	}
	c.status.HandleMessages(ctx, msgs)

	if system := c.status.SystemStatus(); system != c.lastSystem {
		c.logger.Info(ctx, "system status changed",
			"from", c.lastSystem.String(), "to", system.String(),
			"monitors", string(c.status.MonitorSystemStatus()),
			"data_rate_mb_s", c.status.TotalDataRate(),
		)
		c.lastSystem = system
	}
	return nil
}

// execute dispatches one console command. It reports whether the operator
// asked to quit.
func (c *controller) execute(ctx context.Context, line string) bool {
	opCtx, cancel := context.WithTimeout(ctx, transitionDeadline)
	defer cancel()

	switch line {
	case "status":
		c.logger.Info(ctx, "system status",
			"system", c.lastSystem.String(),
			"master", c.status.MasterStatus().String(),
			"monitors", string(c.status.MonitorSystemStatus()),
			"disk", string(c.status.DiskStatus()),
			"data_rate_mb_s", c.status.TotalDataRate(),
			"run_number", int(c.cfg.RunNumber),
			"running", c.coordinator.IsRunning(),
			"elapsed_s", int64(c.coordinator.Elapsed().Seconds()),
		)

	case "forward":
		if err := c.engine.ForwardTransitionAll(opCtx); err != nil {
			c.logger.Error(ctx, "forward transition failed", "error", err)
		}

	case "backward":
		if err := c.engine.BackwardTransitionAll(opCtx); err != nil {
			c.logger.Error(ctx, "backward transition failed", "error", err)
		}

	case "start":
		if err := c.coordinator.StartRun(opCtx, c.cfg); err != nil {
			c.logger.Error(ctx, "start run failed", "error", err)
		}

	case "stop":
		if err := c.coordinator.StopRun(opCtx, c.cfg); err != nil {
			c.logger.Error(ctx, "stop run failed", "error", err)
		}

	case "quit", "exit":
		return true

	default:
		c.logger.Warn(ctx, "unknown command",
			"command", line, "known", "status forward backward start stop quit")
	}
	return false
}

// shutdown stops a run in flight, then tears the embassy down.
func (c *controller) shutdown(ctx context.Context) {
	if c.coordinator.IsRunning() {
		stopCtx, cancel := context.WithTimeout(ctx, transitionDeadline)
		if err := c.coordinator.StopRun(stopCtx, c.cfg); err != nil {
			c.logger.Error(ctx, "could not stop run during shutdown", "error", err)
		}
		cancel()
	}
	if err := c.bus.Shutdown(ctx); err != nil {
		c.logger.Error(ctx, "error shutting down embassy", "error", err)
	}
	c.status.Reset()
	c.logger.Info(ctx, "conductor stopped")
}
