// Package daq holds the domain model for the detector control plane: the
// module topology, the per-module control state machine, monitor snapshots,
// and the message envelope exchanged between the envoys and the controller.
package daq

// ModuleID identifies one hardware module in the fixed detector topology.
type ModuleID int

// The detector is a fixed set of modules: front-ends 0..NumModules-2 plus
// one master trigger unit with the highest id.
const (
	// NumModules is the total number of hardware modules.
	NumModules = 12

	// MasterID is the module id of the master trigger unit.
	MasterID ModuleID = NumModules - 1
)

// IsMaster reports whether the id belongs to the master trigger unit.
func (id ModuleID) IsMaster() bool { return id == MasterID }

// Valid reports whether the id is inside the detector topology.
func (id ModuleID) Valid() bool { return id >= 0 && id < NumModules }

// AllModuleIDs returns every module id, front-ends first, master last.
func AllModuleIDs() []ModuleID {
	ids := make([]ModuleID, 0, NumModules)
	for id := ModuleID(0); id < NumModules; id++ {
		ids = append(ids, id)
	}
	return ids
}

// FrontEndIDs returns the ids of every front-end module, excluding the master.
func FrontEndIDs() []ModuleID {
	ids := make([]ModuleID, 0, NumModules-1)
	for id := ModuleID(0); id < MasterID; id++ {
		ids = append(ids, id)
	}
	return ids
}
