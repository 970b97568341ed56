package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/attpc/conductor/internal/domain/daq"
	"github.com/attpc/conductor/pkg/common/logger"
)

// statusRefreshInterval is how often a blocking wait re-reads the bus while
// watching for a condition to come true.
const statusRefreshInterval = 2 * time.Second

var (
	// ErrInvalidTransition is returned when the system's aggregate state has
	// no defined next step in the requested direction.
	ErrInvalidTransition = errors.New("no valid transition from the current system state")

	// ErrWaitTimeout is returned when a blocking wait's deadline expires
	// before the watched condition comes true.
	ErrWaitTimeout = errors.New("condition not reached before deadline")

	errNotYet = errors.New("condition not reached yet")
)

// MessageBus is the embassy surface the transition engine drives.
type MessageBus interface {
	Submit(ctx context.Context, msg daq.Message) error
	Poll() ([]daq.Message, error)
}

// Transitioner walks the detector through the configuration state machine.
// It submits transition commands through the bus and enforces the ordering
// the hardware requires: the master prepares before the front-ends, the
// front-ends configure and start before the master, and the master stops
// first so no front-end sees triggers after its data path closes.
type Transitioner struct {
	bus     MessageBus
	status  *StatusManager
	logger  *logger.Logger
	tracer  trace.Tracer
	metrics ControlMetrics
}

// NewTransitioner constructs the engine over the given bus and ledger.
func NewTransitioner(bus MessageBus, status *StatusManager, log *logger.Logger, tracer trace.Tracer, metrics ControlMetrics) *Transitioner {
	return &Transitioner{bus: bus, status: status, logger: log, tracer: tracer, metrics: metrics}
}

// submit sends one operation to one module and marks it busy. The hold flag
// set by SetBusy keeps the engine from issuing a second operation to the
// module before its response arrives.
func (t *Transitioner) submit(ctx context.Context, id daq.ModuleID, op daq.ControlOperation) error {
	if err := t.bus.Submit(ctx, daq.NewOperationMessage(op, id)); err != nil {
		return fmt.Errorf("submitting %s to module %d: %w", op, id, err)
	}
	t.status.SetBusy(id)
	t.metrics.IncOperationsSubmitted(ctx, op)
	t.logger.Info(ctx, "submitted operation", "module_id", int(id), "operation", op.String())
	return nil
}

// Transition advances or regresses each listed module by one step. Modules
// with an operation in flight and modules with no valid step are skipped.
func (t *Transitioner) Transition(ctx context.Context, ids []daq.ModuleID, forward bool) error {
	ctx, span := t.tracer.Start(ctx, "transitioner.transition",
		trace.WithAttributes(attribute.Bool("forward", forward)))
	defer span.End()

	for _, id := range ids {
		if t.status.IsHeld(id) {
			continue
		}

		var op daq.ControlOperation
		if forward {
			op = t.status.StatusOf(id).ForwardOperation()
		} else {
			op = t.status.StatusOf(id).BackwardOperation()
		}
		if op == daq.OpInvalid {
			continue
		}

		if err := t.submit(ctx, id, op); err != nil {
			return err
		}
	}
	return nil
}

// ForwardTransitionAll advances the whole system one step, in the order the
// step requires. Describe fans out to everyone at once. Prepare goes to the
// master first and to the front-ends only after the master reports
// Prepared. Configure goes to the front-ends first and to the master only
// after every front-end reports Ready.
func (t *Transitioner) ForwardTransitionAll(ctx context.Context) error {
	ctx, span := t.tracer.Start(ctx, "transitioner.forward_all")
	defer span.End()

	switch status := t.status.SystemStatus(); status {
	case daq.StatusIdle:
		return t.Transition(ctx, daq.AllModuleIDs(), true)

	case daq.StatusDescribed:
		if err := t.Transition(ctx, []daq.ModuleID{daq.MasterID}, true); err != nil {
			return err
		}
		if err := t.waitFor(ctx, "master prepared", func() bool {
			return t.status.MasterStatus() == daq.StatusPrepared
		}); err != nil {
			return err
		}
		return t.Transition(ctx, daq.FrontEndIDs(), true)

	case daq.StatusPrepared:
		if err := t.Transition(ctx, daq.FrontEndIDs(), true); err != nil {
			return err
		}
		if err := t.waitFor(ctx, "front-ends ready", func() bool {
			return t.status.IsAllFrontEndsIn(daq.StatusReady)
		}); err != nil {
			return err
		}
		return t.Transition(ctx, []daq.ModuleID{daq.MasterID}, true)

	default:
		t.metrics.IncInvalidTransitions(ctx)
		return fmt.Errorf("%w: cannot advance from %s", ErrInvalidTransition, status)
	}
}

// BackwardTransitionAll regresses the whole system one step. Backward steps
// carry no ordering constraint: tearing configuration down is safe in any
// order because no module is triggering. Modules with no valid backward step
// are skipped, so a mixed ledger regresses whatever can move; the sweep
// errors only when nothing can.
func (t *Transitioner) BackwardTransitionAll(ctx context.Context) error {
	ctx, span := t.tracer.Start(ctx, "transitioner.backward_all")
	defer span.End()

	movable := false
	for _, id := range daq.AllModuleIDs() {
		if t.status.CanGoBackward(id) {
			movable = true
			break
		}
	}
	if !movable {
		t.metrics.IncInvalidTransitions(ctx)
		return fmt.Errorf("%w: no module has a valid backward step", ErrInvalidTransition)
	}

	return t.Transition(ctx, daq.AllModuleIDs(), false)
}

// StartFrontEndsBlocking starts data taking on every front-end and blocks
// until all of them report Running.
func (t *Transitioner) StartFrontEndsBlocking(ctx context.Context) error {
	ctx, span := t.tracer.Start(ctx, "transitioner.start_front_ends")
	defer span.End()

	for _, id := range daq.FrontEndIDs() {
		if err := t.submit(ctx, id, daq.OpStart); err != nil {
			return err
		}
	}
	return t.waitFor(ctx, "front-ends running", func() bool {
		return t.status.IsAllFrontEndsIn(daq.StatusRunning)
	})
}

// StartMaster opens the trigger. The front-ends must already be running or
// the first triggers land on modules with no open data path.
func (t *Transitioner) StartMaster(ctx context.Context) error {
	ctx, span := t.tracer.Start(ctx, "transitioner.start_master")
	defer span.End()
	return t.submit(ctx, daq.MasterID, daq.OpStart)
}

// StopMasterBlocking closes the trigger and blocks until the master reports
// Ready. Stopping the master first guarantees the front-ends drain without
// receiving new triggers.
func (t *Transitioner) StopMasterBlocking(ctx context.Context) error {
	ctx, span := t.tracer.Start(ctx, "transitioner.stop_master")
	defer span.End()

	if err := t.submit(ctx, daq.MasterID, daq.OpStop); err != nil {
		return err
	}
	return t.waitFor(ctx, "master stopped", func() bool {
		return t.status.MasterStatus() == daq.StatusReady
	})
}

// StopFrontEnds halts data taking on every front-end.
func (t *Transitioner) StopFrontEnds(ctx context.Context) error {
	ctx, span := t.tracer.Start(ctx, "transitioner.stop_front_ends")
	defer span.End()

	for _, id := range daq.FrontEndIDs() {
		if err := t.submit(ctx, id, daq.OpStop); err != nil {
			return err
		}
	}
	return nil
}

// ReconfigureMasterBlocking cycles the master trigger back through Prepared
// and up to Ready. The master's configuration embeds the run number, so it
// must be re-applied between runs.
func (t *Transitioner) ReconfigureMasterBlocking(ctx context.Context) error {
	ctx, span := t.tracer.Start(ctx, "transitioner.reconfigure_master")
	defer span.End()

	if err := t.submit(ctx, daq.MasterID, daq.OpUndo); err != nil {
		return err
	}
	if err := t.waitFor(ctx, "master prepared", func() bool {
		return t.status.MasterStatus() == daq.StatusPrepared
	}); err != nil {
		return err
	}

	if err := t.submit(ctx, daq.MasterID, daq.OpConfigure); err != nil {
		return err
	}
	return t.waitFor(ctx, "master ready", func() bool {
		return t.status.MasterStatus() == daq.StatusReady
	})
}

// waitFor blocks until the condition comes true, re-reading the bus on the
// refresh cadence. The caller bounds the wait through the context deadline;
// expiry surfaces as ErrWaitTimeout.
func (t *Transitioner) waitFor(ctx context.Context, desc string, cond func() bool) error {
	check := func() error {
		if err := t.refresh(ctx); err != nil {
			return backoff.Permanent(err)
		}
		if cond() {
			return nil
		}
		return errNotYet
	}

	ticker := backoff.WithContext(backoff.NewConstantBackOff(statusRefreshInterval), ctx)
	if err := backoff.Retry(check, ticker); err != nil {
		if errors.Is(err, errNotYet) || ctx.Err() != nil {
			t.metrics.IncWaitTimeouts(ctx)
			return fmt.Errorf("%w: waiting for %s", ErrWaitTimeout, desc)
		}
		return err
	}
	return nil
}

// refresh folds everything waiting on the bus into the status ledger.
func (t *Transitioner) refresh(ctx context.Context) error {
	msgs, err := t.bus.Poll()
	if err != nil {
		return fmt.Errorf("polling message bus: %w", err)
	}
	t.status.HandleMessages(ctx, msgs)
	return nil
}
