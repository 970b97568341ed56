package daq

// ModuleStatus is the last known status of one module's control server,
// refreshed on the polling cadence or after an operation completes.
type ModuleStatus struct {
	ErrorCode    int32  `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	State        int32  `json:"state"`
	Transition   int32  `json:"transition"`
}

// Status returns the typed control status for the record's state code.
func (m ModuleStatus) Status() ControlStatus { return ControlStatusFromInt32(m.State) }

// OperationResult is a module's reply to a transition request.
type OperationResult struct {
	ErrorCode    int32  `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Text         string `json:"text"`
}

// OperationRequest is a transition command addressed to one module.
type OperationRequest struct {
	Operation ControlOperation `json:"operation"`
}

// DiskState describes whether a monitored data directory currently holds
// run files.
type DiskState string

const (
	DiskFilled DiskState = "Filled"
	DiskEmpty  DiskState = "Empty"
	DiskNA     DiskState = "N/A"
)

// MonitorSnapshot is the last known state of one front-end's disk monitor.
// The zero-value constructor yields an "unreachable" record so the operator
// always sees something, even for a dead monitor.
type MonitorSnapshot struct {
	State       int32     `json:"state"`
	Address     string    `json:"address"`
	Location    string    `json:"location"`
	Disk        DiskState `json:"disk"`
	PercentUsed string    `json:"percent_used"`
	DiskSpace   uint64    `json:"disk_space"`
	Files       int32     `json:"files"`
	BytesUsed   uint64    `json:"bytes_used"`
	DataRateMB  float64   `json:"data_rate_mb"`
}

// NewMonitorSnapshot returns the default "unreachable" snapshot.
func NewMonitorSnapshot() MonitorSnapshot {
	return MonitorSnapshot{
		Address:     "N/A",
		Location:    "N/A",
		Disk:        DiskNA,
		PercentUsed: "N/A",
	}
}

// Reachable reports whether the snapshot came from a live monitor.
func (m MonitorSnapshot) Reachable() bool { return m.State != 0 }

// MonitorSystemStatus is the aggregate reachability of the monitor fleet.
type MonitorSystemStatus string

const (
	MonitorsOnline       MonitorSystemStatus = "Online"
	MonitorsOffline      MonitorSystemStatus = "Offline"
	MonitorsInconsistent MonitorSystemStatus = "Inconsistent"
)
