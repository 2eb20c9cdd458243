package process

import (
	"sync"
	"time"

	"github.com/ngenohkevin/portguard/internal/ports"
)

// fakeInspector returns canned snapshots; unknown PIDs are degraded. When
// exited reports true the snapshot turns into a zombie's.
type fakeInspector struct {
	procs  map[uint32]ports.ProcessSnapshot
	exited func(pid uint32) bool
	calls  int
}

func (f *fakeInspector) FetchProcess(pid uint32) ports.ProcessSnapshot {
	f.calls++
	snap, ok := f.procs[pid]
	if !ok {
		return ports.DegradedSnapshot(pid)
	}
	if f.exited != nil && f.exited(pid) {
		return ports.ExitedSnapshot(pid, snap.Name, snap.ParentPID)
	}
	return snap
}

// fakeController simulates a process table. Processes exit when signalled
// unless configured to ignore the signal.
type fakeController struct {
	mu         sync.Mutex
	names      map[uint32]string
	running    map[uint32]bool
	ignoreTerm bool
	ignoreKill bool
	nameErr    error
	runningErr error
	signalErr  error
	waitErr    error

	signals      []Signal
	waitBudgets  []time.Duration
	describeInfo *ProcessInfo
}

func newFakeController() *fakeController {
	return &fakeController{
		names:   make(map[uint32]string),
		running: make(map[uint32]bool),
	}
}

func (f *fakeController) add(pid uint32, name string) {
	f.names[pid] = name
	f.running[pid] = true
}

// exited reports whether a known process has been signalled to death
func (f *fakeController) exited(pid uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, known := f.names[pid]
	return known && !f.running[pid]
}

func (f *fakeController) Name(pid uint32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nameErr != nil {
		return "", f.nameErr
	}
	name, ok := f.names[pid]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}

func (f *fakeController) IsRunning(pid uint32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runningErr != nil {
		return false, f.runningErr
	}
	return f.running[pid], nil
}

func (f *fakeController) Signal(pid uint32, sig Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	if f.signalErr != nil {
		return f.signalErr
	}
	if sig == SignalTerminate && !f.ignoreTerm {
		f.running[pid] = false
	}
	if sig == SignalKill && !f.ignoreKill {
		f.running[pid] = false
	}
	return nil
}

func (f *fakeController) Wait(pid uint32, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitBudgets = append(f.waitBudgets, timeout)
	if f.waitErr != nil {
		return f.waitErr
	}
	if f.running[pid] {
		return ErrWaitTimeout
	}
	return nil
}

func (f *fakeController) Describe(pid uint32) (*ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[pid]
	if !ok {
		return nil, ErrNotFound
	}
	if f.describeInfo != nil {
		info := *f.describeInfo
		return &info, nil
	}
	return &ProcessInfo{PID: pid, Name: name, Status: "running"}, nil
}

// fakeFinder serves fixed port views
type fakeFinder struct {
	views []ports.PortView
	err   error
	calls int
}

func (f *fakeFinder) FindByPort(port uint16, transport string) ([]ports.PortView, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return ports.FilterPort(f.views, port, transport), nil
}

func (f *fakeFinder) ScanRange(start, end uint16, transport string) ([]ports.PortView, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return ports.FilterRange(f.views, start, end, transport), nil
}

func view(port uint16, transport ports.Transport, pid uint32) ports.PortView {
	return ports.PortView{ConnectionRecord: ports.ConnectionRecord{
		LocalAddress: "0.0.0.0",
		LocalPort:    port,
		Transport:    transport,
		State:        ports.StateListen,
		OwnerPID:     pid,
	}}
}
