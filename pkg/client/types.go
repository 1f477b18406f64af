package client

import "time"

// PerformerStatus is one live performer as reported by the daemon.
type PerformerStatus struct {
	Name            string     `json:"name"`
	Command         string     `json:"command"`
	PID             int        `json:"pid"`
	Running         bool       `json:"running"`
	Uptime          string     `json:"uptime"`
	MemoryMB        *float64   `json:"memory_mb"`
	CPUPercent      *float64   `json:"cpu_percent"`
	RestartAttempts int        `json:"restart_attempts"`
	LastRestartAt   *time.Time `json:"last_restart_at"`
	StartedAt       time.Time  `json:"started_at"`
}

// HealthMetrics are the probe values behind a health verdict.
type HealthMetrics struct {
	MemoryMB      *float64 `json:"memory_mb"`
	CPUPercent    *float64 `json:"cpu_percent"`
	UptimeSeconds int64    `json:"uptime_seconds"`
}

// Health is the health verdict of one performer.
type Health struct {
	Healthy bool          `json:"healthy"`
	Issues  []string      `json:"issues"`
	Metrics HealthMetrics `json:"metrics"`
}

// Status is the body of GET /status.
type Status struct {
	Conducting  bool              `json:"conducting"`
	Environment string            `json:"environment"`
	Performers  []PerformerStatus `json:"performers"`
	Total       int               `json:"total_performers"`
	Running     int               `json:"running_performers"`
	Health      map[string]Health `json:"health,omitempty"`
}

// Instrument is the configured shape of one performance.
type Instrument struct {
	Command     string         `json:"command"`
	CommandLine string         `json:"command_line"`
	Performers  uint           `json:"performers"`
	Memory      uint           `json:"memory"`
	Timeout     *uint          `json:"timeout"`
	RetryAfter  *uint          `json:"retry_after,omitempty"`
	Nice        int            `json:"nice,omitempty"`
	Options     map[string]any `json:"options"`
}

// MonitorReport summarizes one monitor tick.
type MonitorReport struct {
	Checked      int      `json:"checked"`
	Restarted    []string `json:"restarted,omitempty"`
	Postponed    []string `json:"postponed,omitempty"`
	Dropped      []string `json:"dropped,omitempty"`
	Failed       []string `json:"failed,omitempty"`
	MemoryAlerts []string `json:"memory_alerts,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
