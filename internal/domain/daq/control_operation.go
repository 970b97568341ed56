package daq

import (
	"errors"
	"fmt"
)

// ControlOperation is a transition request that can be sent to a module's
// control server. The named values are the canonical wire names.
type ControlOperation string

// ErrControlOperationUnknown is returned when an operation name cannot be
// parsed.
var ErrControlOperationUnknown = errors.New("control operation unknown")

const (
	// OpDescribe loads the hardware description (Idle -> Described).
	OpDescribe ControlOperation = "Describe"

	// OpPrepare loads the run preparation (Described -> Prepared).
	OpPrepare ControlOperation = "Prepare"

	// OpConfigure loads the full configuration (Prepared -> Ready).
	OpConfigure ControlOperation = "Configure"

	// OpStart begins data taking (Ready -> Running).
	OpStart ControlOperation = "Start"

	// OpUndo unwinds one configuration step (Prepared/Described -> back).
	OpUndo ControlOperation = "Undo"

	// OpBreakup unwinds the full configuration (Ready -> Prepared).
	OpBreakup ControlOperation = "Breakup"

	// OpStop ends data taking (Running -> Ready).
	OpStop ControlOperation = "Stop"

	// OpInvalid marks a status with no valid transition; it is never sent.
	OpInvalid ControlOperation = "Invalid"
)

var controlOperationNames = map[string]ControlOperation{
	string(OpDescribe):  OpDescribe,
	string(OpPrepare):   OpPrepare,
	string(OpConfigure): OpConfigure,
	string(OpStart):     OpStart,
	string(OpUndo):      OpUndo,
	string(OpBreakup):   OpBreakup,
	string(OpStop):      OpStop,
	string(OpInvalid):   OpInvalid,
}

// String returns the canonical wire name.
func (op ControlOperation) String() string { return string(op) }

// ParseControlOperation converts a wire name to an operation. Unrecognized
// names are a conversion error, never silently coerced.
func ParseControlOperation(name string) (ControlOperation, error) {
	if op, ok := controlOperationNames[name]; ok {
		return op, nil
	}
	return OpInvalid, fmt.Errorf("%w: %q", ErrControlOperationUnknown, name)
}
