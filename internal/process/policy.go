package process

import (
	"fmt"
	"strings"

	"github.com/ngenohkevin/portguard/internal/ports"
)

// KernelThreadParent is the PID of the kernel thread reaper (kthreadd)
const KernelThreadParent uint32 = 2

// DefaultProtectedNames returns the process name fragments that mark
// OS-critical processes. Matching is case-insensitive substring matching.
func DefaultProtectedNames() []string {
	return []string{
		"systemd",
		"kernel",
		"kthreadd",
		"ksoftirqd",
		"migration",
		"rcu_",
		"watchdog",
		"dbus",
		"networkmanager",
		"sshd",
		"init",
		"swapper",
		"idle",
		"launchd",
	}
}

// DefaultSystemPorts returns the well-known ports guarded on the by-port path
func DefaultSystemPorts() []uint16 {
	return []uint16{22, 25, 53, 80, 110, 143, 443, 993, 995}
}

// Inspector looks up process attributes
type Inspector interface {
	FetchProcess(pid uint32) ports.ProcessSnapshot
}

// PolicyOptions configures a Policy
type PolicyOptions struct {
	ProtectedNames     []string
	SystemPorts        []uint16
	KernelThreadParent uint32
}

// DefaultPolicyOptions returns the built-in deny-list and system ports
func DefaultPolicyOptions() PolicyOptions {
	return PolicyOptions{
		ProtectedNames:     DefaultProtectedNames(),
		SystemPorts:        DefaultSystemPorts(),
		KernelThreadParent: KernelThreadParent,
	}
}

// Decision is the result of a protection check
type Decision struct {
	Protected bool   `json:"protected"`
	Reason    string `json:"reason,omitempty"`
}

// Policy decides which processes must never be terminated. It is a
// best-effort heuristic over process name and parentage, not a capability
// check. Decisions are computed fresh on every call.
type Policy struct {
	inspector          Inspector
	protectedNames     []string
	systemPorts        map[uint16]bool
	kernelThreadParent uint32
}

// NewPolicy creates a policy that looks processes up through inspector
func NewPolicy(inspector Inspector, opts PolicyOptions) *Policy {
	names := make([]string, 0, len(opts.ProtectedNames))
	for _, n := range opts.ProtectedNames {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			names = append(names, n)
		}
	}

	systemPorts := make(map[uint16]bool, len(opts.SystemPorts))
	for _, p := range opts.SystemPorts {
		systemPorts[p] = true
	}

	return &Policy{
		inspector:          inspector,
		protectedNames:     names,
		systemPorts:        systemPorts,
		kernelThreadParent: opts.KernelThreadParent,
	}
}

// IsProtected reports whether terminating pid is forbidden
func (p *Policy) IsProtected(pid uint32) bool {
	return p.Check(pid).Protected
}

// Check evaluates the protection rules in order and returns the first match.
// A process that cannot be inspected is protected. An exited process is
// judged by its name and parent like a live one.
func (p *Policy) Check(pid uint32) Decision {
	snap := p.inspector.FetchProcess(pid)
	if snap.Degraded && !snap.Exited {
		return Decision{Protected: true, Reason: "process metadata unavailable"}
	}

	if pid == 1 {
		return Decision{Protected: true, Reason: "init process (PID 1)"}
	}

	name := strings.ToLower(snap.Name)
	for _, fragment := range p.protectedNames {
		if strings.Contains(name, fragment) {
			return Decision{Protected: true, Reason: fmt.Sprintf("system process name matches %q", fragment)}
		}
	}

	if p.kernelThreadParent != 0 && snap.ParentPID == p.kernelThreadParent {
		return Decision{Protected: true, Reason: "kernel thread"}
	}

	return Decision{}
}

// IsSystemPort reports whether port is in the guarded system port set
func (p *Policy) IsSystemPort(port uint16) bool {
	return p.systemPorts[port]
}

// ProtectedNames returns the effective deny-list
func (p *Policy) ProtectedNames() []string {
	out := make([]string, len(p.protectedNames))
	copy(out, p.protectedNames)
	return out
}
