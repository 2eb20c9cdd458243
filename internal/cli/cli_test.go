package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngenohkevin/portguard/config"
	"github.com/ngenohkevin/portguard/internal/docker"
	"github.com/ngenohkevin/portguard/internal/metrics"
	"github.com/ngenohkevin/portguard/internal/ports"
	"github.com/ngenohkevin/portguard/internal/process"
	"github.com/ngenohkevin/portguard/internal/server"
	"github.com/ngenohkevin/portguard/internal/systemd"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type stubFinder struct {
	views []ports.PortView
	err   error
}

func (s *stubFinder) ScanAll() ([]ports.PortView, error) { return s.views, s.err }

func (s *stubFinder) ScanListening() ([]ports.PortView, error) {
	return ports.FilterListening(s.views), s.err
}

func (s *stubFinder) ScanRange(start, end uint16, transport string) ([]ports.PortView, error) {
	return ports.FilterRange(s.views, start, end, transport), s.err
}

func (s *stubFinder) FindByPort(port uint16, transport string) ([]ports.PortView, error) {
	return ports.FilterPort(s.views, port, transport), s.err
}

// stubProcesses is both the policy inspector and the process controller
type stubProcesses struct {
	mu      sync.Mutex
	procs   map[uint32]ports.ProcessSnapshot
	running map[uint32]bool
	signals map[uint32]process.Signal
}

func (s *stubProcesses) FetchProcess(pid uint32) ports.ProcessSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.procs[pid]; ok {
		return snap
	}
	return ports.DegradedSnapshot(pid)
}

func (s *stubProcesses) Name(pid uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.procs[pid]
	if !ok {
		return "", process.ErrNotFound
	}
	return snap.Name, nil
}

func (s *stubProcesses) IsRunning(pid uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[pid], nil
}

func (s *stubProcesses) Signal(pid uint32, sig process.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[pid] = false
	s.signals[pid] = sig
	return nil
}

func (s *stubProcesses) Wait(uint32, time.Duration) error { return nil }

func (s *stubProcesses) Describe(pid uint32) (*process.ProcessInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.procs[pid]
	if !ok {
		return nil, process.ErrNotFound
	}
	return &process.ProcessInfo{PID: pid, PPID: snap.ParentPID, Name: snap.Name, Username: "dev", Status: "sleep"}, nil
}

func (s *stubProcesses) isRunning(pid uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[pid]
}

type stubUnits struct{}

func (stubUnits) UnitForPID(_ context.Context, pid uint32) (*systemd.UnitInfo, error) {
	if pid == 4242 {
		return &systemd.UnitInfo{Name: "webapp.service", ActiveState: "active", SubState: "running", IsMain: true}, nil
	}
	return nil, errors.New("no unit")
}

type stubContainers struct{}

func (stubContainers) ContainersForPort(_ context.Context, port uint16, _ string) (*docker.ContainerList, error) {
	list := &docker.ContainerList{Port: port}
	if port == 8080 {
		list.Containers = []docker.ContainerInfo{{ID: "abc123def456", Name: "web", Image: "node:20", Status: "Up 2 hours"}}
	}
	list.Total = len(list.Containers)
	return list, nil
}

func listen(port uint16, tr ports.Transport, pid uint32, name string) ports.PortView {
	return ports.PortView{
		ConnectionRecord: ports.ConnectionRecord{
			LocalAddress: "0.0.0.0",
			LocalPort:    port,
			Transport:    tr,
			State:        ports.StateListen,
			OwnerPID:     pid,
		},
		Process: &ports.ProcessSnapshot{PID: pid, Name: name, ParentPID: 1, Username: "dev", CommandLine: name + " --serve"},
	}
}

type testEnv struct {
	app    *App
	out    *bytes.Buffer
	finder *stubFinder
	procs  *stubProcesses
	cfg    *config.Config
}

func newTestEnv(t *testing.T, input string) *testEnv {
	t.Helper()

	established := listen(8080, ports.TCP, 4242, "node")
	established.State = ports.StateEstablished
	established.RemoteAddress = "10.0.0.9"
	established.RemotePort = 51515

	e := &testEnv{
		out: &bytes.Buffer{},
		cfg: config.LoadWithDefaults(),
		finder: &stubFinder{views: []ports.PortView{
			listen(22, ports.TCP, 500, "sshd"),
			listen(80, ports.TCP, 700, "caddy"),
			listen(8080, ports.TCP, 4242, "node"),
			established,
			listen(5353, ports.UDP, 4243, "mdns-repeater"),
		}},
		procs: &stubProcesses{
			procs: map[uint32]ports.ProcessSnapshot{
				500:  {PID: 500, Name: "sshd", ParentPID: 1},
				700:  {PID: 700, Name: "caddy", ParentPID: 1},
				4242: {PID: 4242, Name: "node", ParentPID: 1},
				4243: {PID: 4243, Name: "mdns-repeater", ParentPID: 1},
			},
			running: map[uint32]bool{500: true, 700: true, 4242: true, 4243: true},
			signals: map[uint32]process.Signal{},
		},
	}

	e.app = &App{
		in:         bufio.NewReader(strings.NewReader(input)),
		out:        e.out,
		loadConfig: func() (*config.Config, error) { return e.cfg, nil },
		newEngine: func(cfg *config.Config) (*Engine, error) {
			policy := process.NewPolicy(e.procs, cfg.Policy())
			return &Engine{Deps: server.Deps{
				Scanner:    e.finder,
				Manager:    process.NewManager(e.finder, policy, e.procs, cfg.ManagerOptions()),
				Metrics:    metrics.New(),
				Units:      stubUnits{},
				Containers: stubContainers{},
			}}, nil
		},
	}
	return e
}

func (e *testEnv) run(args ...string) error {
	root := NewRootCommand(e.app)
	root.SetArgs(args)
	root.SetErr(e.out)
	return root.Execute()
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in         string
		start, end uint16
		wantErr    bool
	}{
		{in: "8000-8100", start: 8000, end: 8100},
		{in: "22-22", start: 22, end: 22},
		{in: " 1 - 1024 ", start: 1, end: 1024},
		{in: "8100-8000", wantErr: true},
		{in: "0-10", wantErr: true},
		{in: "1-70000", wantErr: true},
		{in: "8080", wantErr: true},
		{in: "a-b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			start, end, err := ParseRange(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}

func TestScan_All(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("scan"))

	out := e.out.String()
	assert.Contains(t, out, "TCP (4)")
	assert.Contains(t, out, "UDP (1)")
	assert.Contains(t, out, "0.0.0.0:8080")
	assert.Contains(t, out, "ESTABLISHED")
	assert.Contains(t, out, "node")
	assert.Less(t, strings.Index(out, "TCP (4)"), strings.Index(out, "UDP (1)"))
}

func TestScan_Port(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("scan", "--port", "8080"))

	out := e.out.String()
	assert.Contains(t, out, "TCP (2)")
	assert.NotContains(t, out, "sshd")
	assert.NotContains(t, out, "UDP")
}

func TestScan_Range(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("scan", "--range", "20-100"))

	out := e.out.String()
	assert.Contains(t, out, "sshd")
	assert.Contains(t, out, "caddy")
	assert.NotContains(t, out, "node")
}

func TestScan_Protocol(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("scan", "--protocol", "udp"))

	out := e.out.String()
	assert.Contains(t, out, "UDP (1)")
	assert.NotContains(t, out, "TCP (")
}

func TestScan_Listening(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("scan", "--listening"))

	out := e.out.String()
	assert.Contains(t, out, "TCP (3)")
	assert.NotContains(t, out, "ESTABLISHED")
}

func TestScan_LimitAndDetails(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("scan", "--limit", "1", "--details", "--port", "8080"))

	out := e.out.String()
	assert.Contains(t, out, "... and 1 more")
	assert.Contains(t, out, "user:   dev")
	assert.Contains(t, out, "cmd:    node --serve")
}

func TestScan_DetailsShowsRemote(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("scan", "--details"))

	assert.Contains(t, e.out.String(), "remote: 10.0.0.9:51515")
}

func TestScan_Empty(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("scan", "--port", "9999"))

	assert.Contains(t, e.out.String(), "No sockets found")
}

func TestScan_Errors(t *testing.T) {
	e := newTestEnv(t, "")
	assert.Error(t, e.run("scan", "--protocol", "sctp"))
	assert.Error(t, e.run("scan", "--range", "9-1"))
	assert.Error(t, e.run("scan", "--port", "80", "--range", "1-100"))

	e = newTestEnv(t, "")
	e.finder.err = ports.ErrScanUnavailable
	err := e.run("scan")
	assert.ErrorIs(t, err, ports.ErrScanUnavailable)
}

func TestKill_PIDWithYes(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("kill", "--pid", "4242", "--yes"))

	assert.Contains(t, e.out.String(), "SUCCESS")
	assert.False(t, e.procs.isRunning(4242))
	assert.Equal(t, process.SignalTerminate, e.procs.signals[4242])
}

func TestKill_PIDConfirmed(t *testing.T) {
	e := newTestEnv(t, "y\n")

	require.NoError(t, e.run("kill", "--pid", "4242"))

	out := e.out.String()
	assert.Contains(t, out, "Terminate node (PID 4242)? [y/N]")
	assert.Contains(t, out, "SUCCESS")
}

func TestKill_PIDDeclined(t *testing.T) {
	e := newTestEnv(t, "n\n")

	err := e.run("kill", "--pid", "4242")

	assert.ErrorIs(t, err, ErrAborted)
	assert.True(t, e.procs.isRunning(4242))
}

func TestKill_NoAnswerDeclines(t *testing.T) {
	e := newTestEnv(t, "")

	assert.ErrorIs(t, e.run("kill", "--pid", "4242"), ErrAborted)
	assert.True(t, e.procs.isRunning(4242))
}

func TestKill_PortForce(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("kill", "--port", "8080", "--force"))

	out := e.out.String()
	assert.Contains(t, out, "Processes holding TCP port 8080:")
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, "2 processes: 1 SUCCESS, 1 ALREADY_TERMINATED")
	assert.Equal(t, process.SignalKill, e.procs.signals[4242])
}

func TestKill_PortConfirmation(t *testing.T) {
	e := newTestEnv(t, "no\n")

	assert.ErrorIs(t, e.run("kill", "--port", "8080"), ErrAborted)
	assert.Contains(t, e.out.String(), "Terminate 1 process(es)? [y/N]")
	assert.True(t, e.procs.isRunning(4242))
}

func TestKill_SystemPortRefused(t *testing.T) {
	e := newTestEnv(t, "")

	err := e.run("kill", "--port", "80", "--yes")

	assert.ErrorIs(t, err, ErrIncomplete)
	out := e.out.String()
	assert.Contains(t, out, "pass --allow-system")
	assert.Contains(t, out, "PROTECTED")
	assert.True(t, e.procs.isRunning(700))
}

func TestKill_SystemPortAllowed(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("kill", "--port", "80", "--yes", "--allow-system"))

	assert.False(t, e.procs.isRunning(700))
}

func TestKill_ProtectedProcess(t *testing.T) {
	e := newTestEnv(t, "")

	err := e.run("kill", "--port", "22", "--yes", "--allow-system")

	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Contains(t, e.out.String(), "[protected:")
	assert.True(t, e.procs.isRunning(500))
}

func TestKill_NotFound(t *testing.T) {
	e := newTestEnv(t, "")

	err := e.run("kill", "--pid", "31337", "--yes")

	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Contains(t, e.out.String(), "NOT_FOUND")
}

func TestKill_FlagValidation(t *testing.T) {
	e := newTestEnv(t, "")

	assert.Error(t, e.run("kill"))
	assert.Error(t, e.run("kill", "--pid", "1", "--port", "80"))
	assert.Error(t, e.run("kill", "--port", "8080", "--protocol", "icmp", "--yes"))
	assert.Error(t, e.run("kill", "--pid", "0"))
}

func TestInspect_PID(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("inspect", "--pid", "4242"))

	out := e.out.String()
	assert.Contains(t, out, "node (PID 4242)")
	assert.Contains(t, out, "Protected: no")
	assert.Contains(t, out, "Unit:      webapp.service (active/running)")
	assert.Contains(t, out, "systemd may restart")
}

func TestInspect_ProtectedPID(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("inspect", "--pid", "500"))

	assert.Contains(t, e.out.String(), "Protected: ")
	assert.NotContains(t, e.out.String(), "Protected: no")
}

func TestInspect_PIDNotFound(t *testing.T) {
	e := newTestEnv(t, "")

	assert.ErrorIs(t, e.run("inspect", "--pid", "31337"), process.ErrNotFound)
}

func TestInspect_Port(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("inspect", "--port", "8080"))

	out := e.out.String()
	assert.Contains(t, out, "Port 8080")
	assert.NotContains(t, out, "system port")
	assert.Contains(t, out, "remote: 10.0.0.9:51515")
	assert.Contains(t, out, "container abc123def456 web (node:20) Up 2 hours")
}

func TestInspect_SystemPort(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("inspect", "--port", "22"))

	out := e.out.String()
	assert.Contains(t, out, "Port 22 (system port)")
	assert.Contains(t, out, "[protected:")
}

func TestInspect_RequiresTarget(t *testing.T) {
	e := newTestEnv(t, "")

	assert.Error(t, e.run("inspect"))
}

func TestKeygen(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("keygen"))

	key := strings.TrimSpace(e.out.String())
	assert.Len(t, key, 64)
}

func TestKeygen_Token(t *testing.T) {
	e := newTestEnv(t, "")

	require.NoError(t, e.run("keygen", "--token", "--scope", "read,terminate", "--ttl", "1h"))

	auth := server.NewAuthService(e.cfg.APIKey, e.cfg.JWTSecret)
	claims, err := auth.ValidateToken(strings.TrimSpace(e.out.String()))
	require.NoError(t, err)
	assert.True(t, claims.Allows(server.ScopeTerminate))

	assert.Error(t, e.run("keygen", "--token", "--scope", "admin"))
}

func TestNoColorFlag(t *testing.T) {
	e := newTestEnv(t, "")
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = true })

	require.NoError(t, e.run("--no-color", "scan", "--port", "8080"))

	assert.True(t, color.NoColor)
	assert.NotContains(t, e.out.String(), "\x1b[")
}

func TestConfigError(t *testing.T) {
	e := newTestEnv(t, "")
	e.app.loadConfig = func() (*config.Config, error) {
		return nil, errors.New("API_KEY is required")
	}

	assert.EqualError(t, e.run("scan"), "API_KEY is required")
}
