package process

import "time"

// Kind classifies the result of a termination attempt
type Kind string

const (
	KindSuccess           Kind = "SUCCESS"
	KindNotFound          Kind = "NOT_FOUND"
	KindAccessDenied      Kind = "ACCESS_DENIED"
	KindTimeout           Kind = "TIMEOUT"
	KindProtected         Kind = "PROTECTED"
	KindError             Kind = "ERROR"
	KindAlreadyTerminated Kind = "ALREADY_TERMINATED"
)

// Signal is the termination signal strength
type Signal int

const (
	// SignalTerminate asks the process to exit (SIGTERM)
	SignalTerminate Signal = iota
	// SignalKill forces the process to exit (SIGKILL)
	SignalKill
)

func (s Signal) String() string {
	if s == SignalKill {
		return "SIGKILL"
	}
	return "SIGTERM"
}

// TerminationOutcome is the result of terminating one PID
type TerminationOutcome struct {
	PID         uint32        `json:"pid"`
	ProcessName string        `json:"process_name"`
	Kind        Kind          `json:"kind"`
	Message     string        `json:"message"`
	Elapsed     time.Duration `json:"elapsed"`
	Signal      string        `json:"signal,omitempty"`
}

// Success reports whether the process was terminated
func (o TerminationOutcome) Success() bool {
	return o.Kind == KindSuccess
}

// ProcessInfo represents a running process in detail
type ProcessInfo struct {
	PID             uint32    `json:"pid"`
	PPID            uint32    `json:"ppid"`
	Name            string    `json:"name"`
	Exe             string    `json:"exe,omitempty"`
	Username        string    `json:"username"`
	Status          string    `json:"status"`
	CPUPercent      float64   `json:"cpu_percent"`
	MemPercent      float32   `json:"mem_percent"`
	MemRSS          uint64    `json:"mem_rss"`
	Cmdline         string    `json:"cmdline"`
	CreateTime      time.Time `json:"create_time"`
	NumThreads      int32     `json:"num_threads"`
	Protected       bool      `json:"protected"`
	ProtectedReason string    `json:"protected_reason,omitempty"`
	Unit            string    `json:"unit,omitempty"`
}

// KillRequest represents a request to terminate a process
type KillRequest struct {
	Force          bool `json:"force,omitempty"`
	TimeoutSeconds int  `json:"timeout_seconds,omitempty"` // Default: 10
}

// PortKillRequest represents a request to free a port
type PortKillRequest struct {
	Protocol string `json:"protocol,omitempty"` // Default: tcp
	Force    bool   `json:"force,omitempty"`
}

// KillResponse is the outcome list of a termination request
type KillResponse struct {
	Outcomes []TerminationOutcome `json:"outcomes"`
	Total    int                  `json:"total"`
}
