package event

import "time"

// FlowState is the discrete lifecycle state of a flow supervisor (spec §4.5).
type FlowState string

const (
	StateInactive  FlowState = "Inactive"
	StateStarting  FlowState = "Starting"
	StateRunning   FlowState = "Running"
	StatePaused    FlowState = "Paused"
	StateStopping  FlowState = "Stopping"
	StateFailed    FlowState = "Failed"
)

// FlowStatus is a point-in-time snapshot of a supervisor's lifecycle state.
// Reason is populated only when State is StateFailed.
type FlowStatus struct {
	FlowName string    `json:"flow_name"`
	State    FlowState `json:"state"`
	Reason   string    `json:"reason,omitempty"`
}

// DestinationMetrics carries per-destination write counters.
type DestinationMetrics struct {
	Name        string `json:"name"`
	WritesOK    int64  `json:"writes_ok"`
	WritesFailed int64 `json:"writes_failed"`
}

// FlowMetrics are the per-supervisor counters of spec §3. Metrics are
// cleared on supervisor recreation (restart), not on pause/resume.
type FlowMetrics struct {
	FlowName          string               `json:"flow_name"`
	MessagesReceived  int64                `json:"messages_received"`
	RecordsProcessed  int64                `json:"records_processed"`
	Errors            int64                `json:"errors"`
	StartedAt         time.Time            `json:"started_at"`
	UptimeSeconds     float64              `json:"uptime_seconds"`
	Destinations      []DestinationMetrics `json:"destinations"`
}
