package ports

import (
	"fmt"
	"strings"
	"time"
)

// Transport is the socket transport protocol
type Transport string

const (
	TCP Transport = "TCP"
	UDP Transport = "UDP"
)

// ParseTransport matches a transport name case-insensitively.
// An empty name returns "" and ok=true, meaning "any transport".
func ParseTransport(name string) (Transport, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "":
		return "", true
	case string(TCP):
		return TCP, true
	case string(UDP):
		return UDP, true
	}
	return "", false
}

// Matches reports whether t equals the given transport name, ignoring case
func (t Transport) Matches(name string) bool {
	return strings.EqualFold(string(t), strings.TrimSpace(name))
}

// State is the connection state of a socket
type State string

const (
	StateListen      State = "LISTEN"
	StateEstablished State = "ESTABLISHED"
	StateCloseWait   State = "CLOSE_WAIT"
	StateTimeWait    State = "TIME_WAIT"
	StateSynSent     State = "SYN_SENT"
	StateSynRecv     State = "SYN_RECV"
	StateFinWait1    State = "FIN_WAIT1"
	StateFinWait2    State = "FIN_WAIT2"
	StateClosing     State = "CLOSING"
	StateLastAck     State = "LAST_ACK"
	StateUnknown     State = "UNKNOWN"
)

var knownStates = map[string]State{
	"LISTEN":      StateListen,
	"ESTABLISHED": StateEstablished,
	"CLOSE_WAIT":  StateCloseWait,
	"TIME_WAIT":   StateTimeWait,
	"SYN_SENT":    StateSynSent,
	"SYN_RECV":    StateSynRecv,
	"FIN_WAIT1":   StateFinWait1,
	"FIN_WAIT2":   StateFinWait2,
	"CLOSING":     StateClosing,
	"LAST_ACK":    StateLastAck,
}

// ParseState maps an OS status string to a State. Anything unrecognized,
// including the "NONE" reported for UDP sockets, is StateUnknown.
func ParseState(status string) State {
	if s, ok := knownStates[strings.ToUpper(status)]; ok {
		return s
	}
	return StateUnknown
}

// ConnectionRecord is one socket observed in a scan
type ConnectionRecord struct {
	LocalAddress  string    `json:"local_address"`
	LocalPort     uint16    `json:"local_port"`
	RemoteAddress string    `json:"remote_address,omitempty"`
	RemotePort    uint16    `json:"remote_port,omitempty"`
	Transport     Transport `json:"transport"`
	State         State     `json:"state"`
	// OwnerPID is 0 when the OS could not attribute the socket
	OwnerPID uint32 `json:"owner_pid,omitempty"`
}

// HasOwner reports whether the socket was attributed to a process
func (r ConnectionRecord) HasOwner() bool {
	return r.OwnerPID != 0
}

// HasRemote reports whether the socket has a remote peer
func (r ConnectionRecord) HasRemote() bool {
	return r.RemoteAddress != "" || r.RemotePort != 0
}

// ProcessSnapshot is the metadata of a process at scan time
type ProcessSnapshot struct {
	PID            uint32    `json:"pid"`
	ParentPID      uint32    `json:"ppid,omitempty"`
	Name           string    `json:"name"`
	ExecutablePath string    `json:"exe,omitempty"`
	CommandLine    string    `json:"cmdline,omitempty"`
	Username       string    `json:"username,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	// Degraded is set when the process vanished, could not be read, or has
	// exited
	Degraded bool `json:"degraded,omitempty"`
	// Exited marks a degraded snapshot of a process that has exited but not
	// been reaped. Name and ParentPID are still real.
	Exited bool `json:"exited,omitempty"`
}

// DegradedSnapshot builds the placeholder snapshot for an unreadable process
func DegradedSnapshot(pid uint32) ProcessSnapshot {
	return ProcessSnapshot{
		PID:      pid,
		Name:     fmt.Sprintf("PID:%d (unavailable)", pid),
		Degraded: true,
	}
}

// ExitedSnapshot builds the snapshot of a zombie process
func ExitedSnapshot(pid uint32, name string, ppid uint32) ProcessSnapshot {
	return ProcessSnapshot{
		PID:       pid,
		ParentPID: ppid,
		Name:      name,
		Degraded:  true,
		Exited:    true,
	}
}

// PortView is a socket joined with its owning process
type PortView struct {
	ConnectionRecord
	Process *ProcessSnapshot `json:"process,omitempty"`
}

// ProcessName returns the owning process name or "" if the socket is unattributed
func (v PortView) ProcessName() string {
	if v.Process == nil {
		return ""
	}
	return v.Process.Name
}

// Endpoint formats the local address as host:port
func (v PortView) Endpoint() string {
	return formatEndpoint(v.LocalAddress, v.LocalPort)
}

// RemoteEndpoint formats the remote address as host:port, or "" if there is none
func (v PortView) RemoteEndpoint() string {
	if !v.HasRemote() {
		return ""
	}
	return formatEndpoint(v.RemoteAddress, v.RemotePort)
}

func formatEndpoint(addr string, port uint16) string {
	if strings.Contains(addr, ":") {
		return fmt.Sprintf("[%s]:%d", addr, port)
	}
	return fmt.Sprintf("%s:%d", addr, port)
}
