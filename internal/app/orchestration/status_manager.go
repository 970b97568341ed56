// Package orchestration implements the control plane above the embassy: the
// status ledger tracking every module's last known state and the transition
// engine that walks the system through the configuration state machine in
// the order the hardware requires.
package orchestration

import (
	"context"

	"github.com/attpc/conductor/internal/domain/daq"
	"github.com/attpc/conductor/pkg/common/logger"
)

// StatusManager is the single source of truth for module state. It owns the
// last reported status record per module, the latest monitor snapshot per
// front-end, and a hold flag per module marking an in-flight transition.
//
// A held module's polled status reports are discarded until its operation
// response arrives. The control servers report stale state while a
// transition runs; accepting those reports would let the engine issue a
// second operation mid-flight.
//
// Not safe for concurrent use. The controller owns it from one goroutine.
type StatusManager struct {
	logger *logger.Logger

	records  [daq.NumModules]daq.ModuleStatus
	monitors [daq.NumModules - 1]daq.MonitorSnapshot
	held     [daq.NumModules]bool
}

// NewStatusManager constructs a ledger with every module offline.
func NewStatusManager(log *logger.Logger) *StatusManager {
	sm := &StatusManager{logger: log}
	sm.Reset()
	return sm
}

// Reset returns every record to the offline default and clears all holds.
func (sm *StatusManager) Reset() {
	for i := range sm.records {
		sm.records[i] = daq.ModuleStatus{}
		sm.held[i] = false
	}
	for i := range sm.monitors {
		sm.monitors[i] = daq.NewMonitorSnapshot()
	}
}

// HandleMessages folds a batch of bus messages into the ledger.
func (sm *StatusManager) HandleMessages(ctx context.Context, msgs []daq.Message) {
	for _, msg := range msgs {
		sm.handle(ctx, msg)
	}
}

func (sm *StatusManager) handle(ctx context.Context, msg daq.Message) {
	if !msg.ModuleID.Valid() {
		sm.logger.Warn(ctx, "discarding message from unknown module", "message", msg.String())
		return
	}

	switch msg.Kind {
	case daq.KindControlOpResponse:
		result, err := msg.AsOperationResult()
		if err != nil {
			sm.logger.Error(ctx, "undecodable operation response", "error", err)
			return
		}
		if result.ErrorCode != 0 {
			sm.logger.Error(ctx, "module reported operation failure",
				"module_id", int(msg.ModuleID),
				"error_code", result.ErrorCode,
				"error_message", result.ErrorMessage,
			)
		} else {
			sm.logger.Info(ctx, "module completed operation",
				"module_id", int(msg.ModuleID), "text", result.Text)
		}
		sm.held[msg.ModuleID] = false

	case daq.KindControlStatus:
		if sm.held[msg.ModuleID] {
			return
		}
		status, err := msg.AsModuleStatus()
		if err != nil {
			sm.logger.Error(ctx, "undecodable status report", "error", err)
			return
		}
		sm.records[msg.ModuleID] = status

	case daq.KindMonitorReport:
		if msg.ModuleID.IsMaster() {
			sm.logger.Warn(ctx, "discarding monitor report from master", "message", msg.String())
			return
		}
		snapshot, err := msg.AsMonitorSnapshot()
		if err != nil {
			sm.logger.Error(ctx, "undecodable monitor report", "error", err)
			return
		}
		sm.monitors[msg.ModuleID] = snapshot

	default:
		sm.logger.Warn(ctx, "unexpected message kind on results bus", "message", msg.String())
	}
}

// StatusOf returns the last known status of one module.
func (sm *StatusManager) StatusOf(id daq.ModuleID) daq.ControlStatus {
	if !id.Valid() {
		return daq.StatusOffline
	}
	return sm.records[id].Status()
}

// RecordOf returns the raw status record of one module.
func (sm *StatusManager) RecordOf(id daq.ModuleID) daq.ModuleStatus {
	if !id.Valid() {
		return daq.ModuleStatus{}
	}
	return sm.records[id]
}

// MonitorOf returns the latest monitor snapshot for one front-end. The
// master routes no data and always reads as unreachable.
func (sm *StatusManager) MonitorOf(id daq.ModuleID) daq.MonitorSnapshot {
	if !id.Valid() || id.IsMaster() {
		return daq.NewMonitorSnapshot()
	}
	return sm.monitors[id]
}

// Monitors returns the latest snapshot of every front-end monitor, indexed
// by module id.
func (sm *StatusManager) Monitors() []daq.MonitorSnapshot {
	out := make([]daq.MonitorSnapshot, len(sm.monitors))
	copy(out, sm.monitors[:])
	return out
}

// SystemStatus reduces the ledger to one value: the shared status when
// every module agrees, Inconsistent otherwise.
func (sm *StatusManager) SystemStatus() daq.ControlStatus {
	first := sm.records[0].Status()
	for _, record := range sm.records[1:] {
		if record.Status() != first {
			return daq.StatusInconsistent
		}
	}
	return first
}

// IsAllFrontEndsIn reports whether every front-end sits in the given state.
func (sm *StatusManager) IsAllFrontEndsIn(status daq.ControlStatus) bool {
	for _, id := range daq.FrontEndIDs() {
		if sm.records[id].Status() != status {
			return false
		}
	}
	return true
}

// MasterStatus returns the master trigger's last known status.
func (sm *StatusManager) MasterStatus() daq.ControlStatus {
	return sm.records[daq.MasterID].Status()
}

// IsHeld reports whether a transition is in flight for the module.
func (sm *StatusManager) IsHeld(id daq.ModuleID) bool {
	return id.Valid() && sm.held[id]
}

// SetBusy marks a module as transitioning: its record flips to Busy and its
// hold flag suppresses polled reports until the operation response lands.
func (sm *StatusManager) SetBusy(id daq.ModuleID) {
	if !id.Valid() {
		return
	}
	sm.records[id] = daq.ModuleStatus{State: daq.StatusBusy.Int32()}
	sm.held[id] = true
}

// CanGoForward reports whether the module may take its next forward step.
// Beyond the module's own state, two cross-module constraints apply: a
// front-end leaves Described only once the master is prepared, and the
// master leaves Prepared only once every front-end is ready.
func (sm *StatusManager) CanGoForward(id daq.ModuleID) bool {
	if !id.Valid() || sm.held[id] {
		return false
	}

	status := sm.records[id].Status()
	if !status.CanGoForward() {
		return false
	}

	if !id.IsMaster() && status == daq.StatusDescribed {
		master := sm.MasterStatus()
		return master == daq.StatusPrepared || master == daq.StatusReady
	}
	if id.IsMaster() && status == daq.StatusPrepared {
		return sm.IsAllFrontEndsIn(daq.StatusReady)
	}
	return true
}

// CanGoBackward reports whether the module may take its next backward step.
func (sm *StatusManager) CanGoBackward(id daq.ModuleID) bool {
	if !id.Valid() || sm.held[id] {
		return false
	}
	return sm.records[id].Status().CanGoBackward()
}

// MonitorSystemStatus reduces monitor reachability to one value: Online
// when every monitor answers, Offline when none do, Inconsistent otherwise.
func (sm *StatusManager) MonitorSystemStatus() daq.MonitorSystemStatus {
	reachable := 0
	for _, snapshot := range sm.monitors {
		if snapshot.Reachable() {
			reachable++
		}
	}
	switch reachable {
	case len(sm.monitors):
		return daq.MonitorsOnline
	case 0:
		return daq.MonitorsOffline
	default:
		return daq.MonitorsInconsistent
	}
}

// DiskStatus reduces the monitor snapshots to one value: the shared disk
// state when every front-end agrees, N/A otherwise.
func (sm *StatusManager) DiskStatus() daq.DiskState {
	first := sm.monitors[0].Disk
	for _, snapshot := range sm.monitors[1:] {
		if snapshot.Disk != first {
			return daq.DiskNA
		}
	}
	return first
}

// TotalDataRate sums the write rate across all front-ends in MB/s.
func (sm *StatusManager) TotalDataRate() float64 {
	var total float64
	for _, snapshot := range sm.monitors {
		total += snapshot.DataRateMB
	}
	return total
}
