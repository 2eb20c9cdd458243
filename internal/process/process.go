package process

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ngenohkevin/portguard/internal/ports"
)

// DefaultTimeout is how long a termination waits for the process to exit
const DefaultTimeout = 10 * time.Second

// maxAttempts caps a termination at one graceful and one forced signal
const maxAttempts = 2

// PortFinder resolves ports to their owning sockets
type PortFinder interface {
	FindByPort(port uint16, transport string) ([]ports.PortView, error)
	ScanRange(start, end uint16, transport string) ([]ports.PortView, error)
}

// Options configures a Manager
type Options struct {
	// AllowSystemPorts lets TerminateByPort act on the policy's system ports
	AllowSystemPorts bool
	// Timeout is the default wait budget for TerminateByPort
	Timeout time.Duration
}

// Manager terminates processes and the owners of ports
type Manager struct {
	finder           PortFinder
	policy           *Policy
	control          Controller
	allowSystemPorts bool
	timeout          time.Duration
}

// NewManager creates a new process manager
func NewManager(finder PortFinder, policy *Policy, control Controller, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Manager{
		finder:           finder,
		policy:           policy,
		control:          control,
		allowSystemPorts: opts.AllowSystemPorts,
		timeout:          opts.Timeout,
	}
}

// Policy returns the protection policy in use
func (m *Manager) Policy() *Policy {
	return m.policy
}

// AllowSystemPorts reports whether system ports may be freed
func (m *Manager) AllowSystemPorts() bool {
	return m.allowSystemPorts
}

// TerminateByPID terminates a single process. A graceful attempt that times
// out is retried once with SIGKILL and half the budget; the outcome reports
// the final attempt only. A non-positive timeout uses the manager default.
func (m *Manager) TerminateByPID(pid uint32, force bool, timeout time.Duration) TerminationOutcome {
	if timeout <= 0 {
		timeout = m.timeout
	}

	var outcome TerminationOutcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome = m.attempt(pid, force, timeout)
		if outcome.Kind != KindTimeout || force {
			break
		}
		log.Printf("[kill] %s (PID %d) ignored SIGTERM for %v, escalating to SIGKILL",
			outcome.ProcessName, pid, timeout)
		force = true
		timeout /= 2
	}

	log.Printf("[kill] PID %d: %s (%s)", pid, outcome.Kind, outcome.Message)
	return outcome
}

func (m *Manager) attempt(pid uint32, force bool, timeout time.Duration) TerminationOutcome {
	name, err := m.control.Name(pid)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return TerminationOutcome{
				PID:         pid,
				ProcessName: "unknown",
				Kind:        KindNotFound,
				Message:     fmt.Sprintf("process with PID %d not found", pid),
			}
		case errors.Is(err, ErrAccessDenied):
			return accessDenied(pid, "unavailable")
		}
		return failed(pid, "unknown", err)
	}

	if decision := m.policy.Check(pid); decision.Protected {
		return TerminationOutcome{
			PID:         pid,
			ProcessName: name,
			Kind:        KindProtected,
			Message:     fmt.Sprintf("process %s (PID %d) is protected: %s", name, pid, decision.Reason),
		}
	}

	running, err := m.control.IsRunning(pid)
	if err != nil {
		return m.classified(pid, name, err)
	}
	if !running {
		return TerminationOutcome{
			PID:         pid,
			ProcessName: name,
			Kind:        KindAlreadyTerminated,
			Message:     fmt.Sprintf("process %s (PID %d) has already exited", name, pid),
		}
	}

	sig := SignalTerminate
	if force {
		sig = SignalKill
	}

	start := time.Now()
	if err := m.control.Signal(pid, sig); err != nil {
		return m.classified(pid, name, err)
	}

	err = m.control.Wait(pid, timeout)
	elapsed := time.Since(start)
	switch {
	case err == nil:
		return TerminationOutcome{
			PID:         pid,
			ProcessName: name,
			Kind:        KindSuccess,
			Message:     fmt.Sprintf("process %s (PID %d) terminated with %s", name, pid, sig),
			Elapsed:     elapsed,
			Signal:      sig.String(),
		}
	case errors.Is(err, ErrWaitTimeout):
		return TerminationOutcome{
			PID:         pid,
			ProcessName: name,
			Kind:        KindTimeout,
			Message:     fmt.Sprintf("process %s (PID %d) still running %v after %s", name, pid, timeout, sig),
			Elapsed:     elapsed,
			Signal:      sig.String(),
		}
	}
	outcome := m.classified(pid, name, err)
	outcome.Signal = sig.String()
	return outcome
}

func (m *Manager) classified(pid uint32, name string, err error) TerminationOutcome {
	switch {
	case errors.Is(err, ErrNotFound):
		return TerminationOutcome{
			PID:         pid,
			ProcessName: name,
			Kind:        KindNotFound,
			Message:     fmt.Sprintf("process %s (PID %d) disappeared", name, pid),
		}
	case errors.Is(err, ErrAccessDenied):
		return accessDenied(pid, name)
	}
	return failed(pid, name, err)
}

func accessDenied(pid uint32, name string) TerminationOutcome {
	return TerminationOutcome{
		PID:         pid,
		ProcessName: name,
		Kind:        KindAccessDenied,
		Message:     fmt.Sprintf("insufficient privileges to terminate PID %d, try running as administrator", pid),
	}
}

func failed(pid uint32, name string, err error) TerminationOutcome {
	return TerminationOutcome{
		PID:         pid,
		ProcessName: name,
		Kind:        KindError,
		Message:     fmt.Sprintf("failed to terminate PID %d: %v", pid, err),
	}
}

// TerminateByPort terminates every process bound to port. System ports are
// refused unless the manager was built with AllowSystemPorts. One failing PID
// does not stop the others; outcomes follow resolution order.
func (m *Manager) TerminateByPort(port uint16, transport string, force bool) []TerminationOutcome {
	if transport == "" {
		transport = "tcp"
	}
	label := fmt.Sprintf("%s:%d", strings.ToUpper(transport), port)

	if m.policy.IsSystemPort(port) && !m.allowSystemPorts {
		return []TerminationOutcome{{
			Kind:        KindProtected,
			ProcessName: "system port",
			Message:     fmt.Sprintf("port %d is a system port; enable allow-system-ports to free it", port),
		}}
	}

	views, err := m.finder.FindByPort(port, transport)
	if err != nil {
		return []TerminationOutcome{{
			Kind:        KindError,
			ProcessName: "unknown",
			Message:     fmt.Sprintf("failed to resolve owners of %s: %v", label, err),
		}}
	}
	if len(views) == 0 {
		return []TerminationOutcome{{
			Kind:        KindNotFound,
			ProcessName: "unknown",
			Message:     fmt.Sprintf("port %s is not in use", label),
		}}
	}

	outcomes := make([]TerminationOutcome, 0, len(views))
	for _, v := range views {
		if !v.HasOwner() {
			outcomes = append(outcomes, TerminationOutcome{
				Kind:        KindNotFound,
				ProcessName: "unknown",
				Message:     fmt.Sprintf("could not determine the process owning %s", label),
			})
			continue
		}
		outcomes = append(outcomes, m.TerminateByPID(v.OwnerPID, force, m.timeout))
	}
	return outcomes
}

// Get returns detailed information about a process, including its
// protection status
func (m *Manager) Get(pid uint32) (*ProcessInfo, error) {
	info, err := m.control.Describe(pid)
	if err != nil {
		return nil, err
	}

	decision := m.policy.Check(pid)
	info.Protected = decision.Protected
	info.ProtectedReason = decision.Reason
	return info, nil
}

// ProcessesInRange returns the processes owning TCP ports in [start, end],
// keyed by port. Processes that cannot be described are skipped.
func (m *Manager) ProcessesInRange(start, end uint16) (map[uint16][]ProcessInfo, error) {
	views, err := m.finder.ScanRange(start, end, "tcp")
	if err != nil {
		return nil, err
	}

	result := make(map[uint16][]ProcessInfo)
	for _, v := range views {
		if !v.HasOwner() {
			continue
		}
		info, err := m.Get(v.OwnerPID)
		if err != nil {
			continue
		}
		result[v.LocalPort] = append(result[v.LocalPort], *info)
	}
	return result, nil
}
