package daq

import (
	"errors"
	"fmt"
)

// ControlStatus represents the configuration state of one module's control
// server. The named values are the canonical wire names.
type ControlStatus string

// ErrControlStatusUnknown is returned when a status name cannot be parsed.
var ErrControlStatusUnknown = errors.New("control status unknown")

const (
	// StatusOffline indicates the module has never responded or the last
	// status poll failed.
	StatusOffline ControlStatus = "Offline"

	// StatusIdle indicates the module is reachable with no configuration
	// loaded.
	StatusIdle ControlStatus = "Idle"

	// StatusDescribed indicates the hardware description has been loaded.
	StatusDescribed ControlStatus = "Described"

	// StatusPrepared indicates the run preparation has been loaded.
	StatusPrepared ControlStatus = "Prepared"

	// StatusReady indicates the module is fully configured and can start.
	StatusReady ControlStatus = "Ready"

	// StatusRunning indicates the module is taking data.
	StatusRunning ControlStatus = "Running"

	// StatusBusy is a controller-local placeholder for a module with an
	// operation in flight. It is never transmitted by a module.
	StatusBusy ControlStatus = "Busy"

	// StatusError indicates a status code the controller does not recognize.
	StatusError ControlStatus = "Error"

	// StatusInconsistent is computed when aggregating and the modules do
	// not agree. It is never transmitted by a module.
	StatusInconsistent ControlStatus = "Inconsistent"
)

// controlStatusCodes is the wire code table. Error and Inconsistent are
// sentinel values with no code of their own.
var controlStatusCodes = map[ControlStatus]int32{
	StatusOffline:   0,
	StatusIdle:      1,
	StatusDescribed: 2,
	StatusPrepared:  3,
	StatusReady:     4,
	StatusRunning:   5,
	StatusBusy:      6,
}

var controlStatusFromCode = reverse(controlStatusCodes)

var controlStatusNames = map[string]ControlStatus{
	string(StatusOffline):      StatusOffline,
	string(StatusIdle):         StatusIdle,
	string(StatusDescribed):    StatusDescribed,
	string(StatusPrepared):     StatusPrepared,
	string(StatusReady):        StatusReady,
	string(StatusRunning):      StatusRunning,
	string(StatusBusy):         StatusBusy,
	string(StatusError):        StatusError,
	string(StatusInconsistent): StatusInconsistent,
}

func reverse[K comparable, V comparable](m map[K]V) map[V]K {
	out := make(map[V]K, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// String returns the canonical wire name.
func (s ControlStatus) String() string { return string(s) }

// Int32 returns the wire code for the status. The sentinel statuses Error
// and Inconsistent have no wire code and return -1.
func (s ControlStatus) Int32() int32 {
	if code, ok := controlStatusCodes[s]; ok {
		return code
	}
	return -1
}

// ControlStatusFromInt32 maps a wire code to a status. Any unrecognized
// code maps to StatusError; this direction never fails so a misbehaving
// module surfaces as an error state rather than a dropped record.
func ControlStatusFromInt32(code int32) ControlStatus {
	if s, ok := controlStatusFromCode[code]; ok {
		return s
	}
	return StatusError
}

// ParseControlStatus converts a wire name to a status. Unrecognized names
// are a conversion error, never silently coerced.
func ParseControlStatus(name string) (ControlStatus, error) {
	if s, ok := controlStatusNames[name]; ok {
		return s, nil
	}
	return StatusError, fmt.Errorf("%w: %q", ErrControlStatusUnknown, name)
}

// ForwardOperation returns the operation that advances a module out of
// this status, or OpInvalid when no forward transition exists.
func (s ControlStatus) ForwardOperation() ControlOperation {
	switch s {
	case StatusIdle:
		return OpDescribe
	case StatusDescribed:
		return OpPrepare
	case StatusPrepared:
		return OpConfigure
	default:
		return OpInvalid
	}
}

// BackwardOperation returns the operation that regresses a module out of
// this status, or OpInvalid when no backward transition exists.
func (s ControlStatus) BackwardOperation() ControlOperation {
	switch s {
	case StatusReady:
		return OpBreakup
	case StatusPrepared, StatusDescribed:
		return OpUndo
	default:
		return OpInvalid
	}
}

// CanGoForward reports whether a module in this status can be advanced.
func (s ControlStatus) CanGoForward() bool {
	switch s {
	case StatusIdle, StatusDescribed, StatusPrepared:
		return true
	default:
		return false
	}
}

// CanGoBackward reports whether a module in this status can be regressed.
func (s ControlStatus) CanGoBackward() bool {
	switch s {
	case StatusReady, StatusPrepared, StatusDescribed:
		return true
	default:
		return false
	}
}
