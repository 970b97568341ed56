// Package embassy hosts the envoy worker tasks and the message channels
// connecting them to the controller. The embassy is the only component that
// knows how many goroutines exist and which channel reaches which module;
// callers speak to it through Submit and Poll alone.
package embassy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/attpc/conductor/internal/domain/daq"
	"github.com/attpc/conductor/internal/infra/envoy"
	"github.com/attpc/conductor/pkg/common/logger"
	"github.com/attpc/conductor/pkg/common/timeutil"
)

const (
	// commandQueueCap bounds how many transition commands can stack up for a
	// single module before Submit drops them.
	commandQueueCap = 10

	// resultQueueCap bounds the shared inbound queue. Sized for a full round
	// of status reports from every worker plus headroom so slow draining does
	// not stall the envoys.
	resultQueueCap = 33
)

// ErrBusClosed is returned by Poll when the shared results channel has
// closed while the embassy still believes it is connected.
var ErrBusClosed = errors.New("embassy message bus closed unexpectedly")

// Embassy owns the envoy goroutines for every module and the channels they
// communicate over. One command envoy and one status-poll envoy run per
// control server, plus one monitor envoy per front-end. Not safe for
// concurrent use; the controller owns it from a single goroutine.
type Embassy struct {
	logger *logger.Logger
	tracer trace.Tracer
	clock  timeutil.Provider

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	commands  map[daq.ModuleID]chan daq.Message
	results   chan daq.Message
	taskCount int
}

// New constructs a disconnected embassy.
func New(log *logger.Logger, tracer trace.Tracer, clock timeutil.Provider) *Embassy {
	return &Embassy{
		logger: log,
		tracer: tracer,
		clock:  clock,
	}
}

// Startup spawns the full envoy fleet for the given experiment. Calling it
// on a connected embassy is a no-op.
func (e *Embassy) Startup(ctx context.Context, experiment string) error {
	ctx, span := e.tracer.Start(ctx, "embassy.startup",
		trace.WithAttributes(attribute.String("experiment", experiment)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.connected {
		e.logger.Warn(ctx, "embassy already connected, ignoring startup")
		return nil
	}
	if experiment == "" {
		return fmt.Errorf("experiment name must not be empty")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, runCtx := errgroup.WithContext(runCtx)

	e.cancel = cancel
	e.group = group
	e.commands = make(map[daq.ModuleID]chan daq.Message, daq.NumModules)
	e.results = make(chan daq.Message, resultQueueCap)
	e.taskCount = 0

	for _, id := range daq.AllModuleIDs() {
		cfg := envoy.NewModuleConfig(id, experiment)
		inbound := make(chan daq.Message, commandQueueCap)
		e.commands[id] = inbound

		commander := envoy.NewControlEnvoy(cfg, inbound, e.results, e.logger)
		poller := envoy.NewControlEnvoy(cfg, nil, e.results, e.logger)
		group.Go(func() error { return commander.RunCommands(runCtx) })
		group.Go(func() error { return poller.RunStatusPolls(runCtx) })
		e.taskCount += 2
	}

	for _, id := range daq.FrontEndIDs() {
		monitor := envoy.NewMonitorEnvoy(envoy.NewMonitorConfig(id), e.results, e.logger, e.clock)
		group.Go(func() error { return monitor.Run(runCtx) })
		e.taskCount++
	}

	e.connected = true
	e.logger.Info(ctx, "embassy connected", "experiment", experiment, "tasks", e.taskCount)
	return nil
}

// Submit routes a command message to its module's envoy. Non-command kinds
// are ignored: responses and reports flow the other direction, and routing
// one backwards is a programming error worth a log line, not a crash.
// Submit never blocks; a full queue drops the message with a warning.
func (e *Embassy) Submit(ctx context.Context, msg daq.Message) error {
	ctx, span := e.tracer.Start(ctx, "embassy.submit",
		trace.WithAttributes(
			attribute.String("kind", msg.Kind.String()),
			attribute.Int("module_id", int(msg.ModuleID)),
		))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		return fmt.Errorf("embassy is not connected")
	}
	if !msg.Kind.IsCommand() {
		e.logger.Warn(ctx, "dropping non-command message submitted to bus", "message", msg.String())
		return nil
	}

	inbound, ok := e.commands[msg.ModuleID]
	if !ok {
		e.logger.Warn(ctx, "dropping command for unregistered module", "module_id", int(msg.ModuleID))
		return nil
	}

	select {
	case inbound <- msg:
		return nil
	default:
		return fmt.Errorf("command queue full for module %d", msg.ModuleID)
	}
}

// Poll drains every message currently waiting on the results channel
// without blocking. An empty bus yields an empty slice.
func (e *Embassy) Poll() ([]daq.Message, error) {
	e.mu.Lock()
	results := e.results
	connected := e.connected
	e.mu.Unlock()

	if !connected {
		return nil, nil
	}

	var drained []daq.Message
	for {
		select {
		case msg, ok := <-results:
			if !ok {
				return drained, ErrBusClosed
			}
			drained = append(drained, msg)
		default:
			return drained, nil
		}
	}
}

// Shutdown cancels the envoy fleet and waits for every goroutine to exit.
// Safe to call on a disconnected embassy.
func (e *Embassy) Shutdown(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "embassy.shutdown")
	defer span.End()

	e.mu.Lock()
	if !e.connected {
		e.mu.Unlock()
		return nil
	}
	cancel, group := e.cancel, e.group
	e.connected = false
	e.cancel = nil
	e.group = nil
	e.commands = nil
	e.taskCount = 0
	e.mu.Unlock()

	cancel()
	if err := group.Wait(); err != nil {
		return fmt.Errorf("waiting for envoy fleet: %w", err)
	}

	e.logger.Info(ctx, "embassy disconnected")
	return nil
}

// IsConnected reports whether the envoy fleet is running.
func (e *Embassy) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// TaskCount returns the number of envoy goroutines currently running.
func (e *Embassy) TaskCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.taskCount
}
