package process

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ngenohkevin/portguard/internal/ports"
)

func testPolicy(procs map[uint32]ports.ProcessSnapshot) (*Policy, *fakeInspector) {
	insp := &fakeInspector{procs: procs}
	return NewPolicy(insp, DefaultPolicyOptions()), insp
}

func TestPolicy_InitIsProtected(t *testing.T) {
	p, _ := testPolicy(map[uint32]ports.ProcessSnapshot{
		1: {PID: 1, Name: "bash"},
	})

	d := p.Check(1)
	assert.True(t, d.Protected)
	assert.Contains(t, d.Reason, "PID 1")
}

func TestPolicy_UnresolvableIsProtected(t *testing.T) {
	p, _ := testPolicy(nil)

	assert.True(t, p.IsProtected(4242))
	assert.Equal(t, "process metadata unavailable", p.Check(4242).Reason)
}

func TestPolicy_ExitedProcessFollowsRules(t *testing.T) {
	p, _ := testPolicy(map[uint32]ports.ProcessSnapshot{
		700: ports.ExitedSnapshot(700, "node", 900),
		701: ports.ExitedSnapshot(701, "sshd", 1),
		702: ports.ExitedSnapshot(702, "kworker/0:1", 2),
	})

	assert.False(t, p.IsProtected(700))
	assert.Contains(t, p.Check(701).Reason, "sshd")
	assert.Equal(t, "kernel thread", p.Check(702).Reason)
}

func TestPolicy_DenyListIsCaseInsensitive(t *testing.T) {
	p, _ := testPolicy(map[uint32]ports.ProcessSnapshot{
		500: {PID: 500, Name: "NetworkManager", ParentPID: 1},
		501: {PID: 501, Name: "sshd", ParentPID: 1},
		502: {PID: 502, Name: "systemd-resolved", ParentPID: 1},
		503: {PID: 503, Name: "node", ParentPID: 900},
	})

	assert.True(t, p.IsProtected(500))
	assert.True(t, p.IsProtected(501))
	assert.True(t, p.IsProtected(502))
	assert.False(t, p.IsProtected(503))
}

func TestPolicy_KernelThreads(t *testing.T) {
	p, _ := testPolicy(map[uint32]ports.ProcessSnapshot{
		77: {PID: 77, Name: "nfsd", ParentPID: 2},
	})

	d := p.Check(77)
	assert.True(t, d.Protected)
	assert.Equal(t, "kernel thread", d.Reason)
}

func TestPolicy_CustomDenyList(t *testing.T) {
	insp := &fakeInspector{procs: map[uint32]ports.ProcessSnapshot{
		10: {PID: 10, Name: "sshd", ParentPID: 1},
		11: {PID: 11, Name: "Postgres", ParentPID: 1},
	}}
	p := NewPolicy(insp, PolicyOptions{
		ProtectedNames: []string{" POSTGRES ", ""},
		SystemPorts:    []uint16{5432},
	})

	assert.False(t, p.IsProtected(10))
	assert.True(t, p.IsProtected(11))
	assert.True(t, p.IsSystemPort(5432))
	assert.False(t, p.IsSystemPort(22))
	assert.Equal(t, []string{"postgres"}, p.ProtectedNames())
}

func TestPolicy_NoCachedDecision(t *testing.T) {
	procs := map[uint32]ports.ProcessSnapshot{
		300: {PID: 300, Name: "node", ParentPID: 1},
	}
	p, insp := testPolicy(procs)

	assert.False(t, p.IsProtected(300))

	// PID reuse: the same PID now belongs to a protected process
	procs[300] = ports.ProcessSnapshot{PID: 300, Name: "sshd", ParentPID: 1}
	assert.True(t, p.IsProtected(300))
	assert.Equal(t, 2, insp.calls)
}

func TestPolicy_DefaultSystemPorts(t *testing.T) {
	p, _ := testPolicy(nil)

	for _, port := range []uint16{22, 25, 53, 80, 110, 143, 443, 993, 995} {
		assert.True(t, p.IsSystemPort(port), "port %d", port)
	}
	assert.False(t, p.IsSystemPort(8080))
}

func TestPolicy_RealInitProcess(t *testing.T) {
	p := NewPolicy(ports.NewSystemSource(), DefaultPolicyOptions())

	assert.True(t, p.IsProtected(1))
	assert.True(t, p.IsProtected(999999999))
}
