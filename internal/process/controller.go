package process

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

var (
	// ErrNotFound means the process does not exist
	ErrNotFound = errors.New("process not found")
	// ErrAccessDenied means the caller lacks privileges over the process
	ErrAccessDenied = errors.New("access denied")
	// ErrWaitTimeout means the process did not exit within the wait budget
	ErrWaitTimeout = errors.New("timed out waiting for process to exit")
)

// Controller is the OS seam used to inspect and signal processes
type Controller interface {
	Name(pid uint32) (string, error)
	IsRunning(pid uint32) (bool, error)
	Signal(pid uint32, sig Signal) error
	Wait(pid uint32, timeout time.Duration) error
	Describe(pid uint32) (*ProcessInfo, error)
}

const defaultPollInterval = 50 * time.Millisecond

// SystemController is the gopsutil-backed Controller
type SystemController struct {
	pollInterval time.Duration
}

// NewSystemController creates a controller acting on live processes
func NewSystemController() *SystemController {
	return &SystemController{pollInterval: defaultPollInterval}
}

// Name returns the process name
func (c *SystemController) Name(pid uint32) (string, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", classify(err)
	}
	name, err := p.Name()
	if err != nil {
		return "", classify(err)
	}
	return name, nil
}

// IsRunning reports whether the process exists and is not a zombie
func (c *SystemController) IsRunning(pid uint32) (bool, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(classify(err), ErrNotFound) {
			return false, nil
		}
		return false, classify(err)
	}
	return alive(p)
}

// Signal sends SIGTERM or SIGKILL
func (c *SystemController) Signal(pid uint32, sig Signal) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return classify(err)
	}

	if sig == SignalKill {
		err = p.Kill()
	} else {
		err = p.Terminate()
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

// Wait blocks until the process exits or timeout elapses
func (c *SystemController) Wait(pid uint32, timeout time.Duration) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(classify(err), ErrNotFound) {
			return nil
		}
		return classify(err)
	}

	deadline := time.Now().Add(timeout)
	for {
		running, err := alive(p)
		if err != nil {
			return err
		}
		if !running {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrWaitTimeout
		}
		time.Sleep(c.pollInterval)
	}
}

// Describe returns detailed information about a process
func (c *SystemController) Describe(pid uint32) (*ProcessInfo, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, classify(err)
	}

	name, err := p.Name()
	if err != nil {
		return nil, classify(err)
	}

	ppid, _ := p.Ppid()
	exe, _ := p.Exe()
	username, _ := p.Username()
	status, _ := p.Status()
	cpuPercent, _ := p.CPUPercent()
	memPercent, _ := p.MemoryPercent()
	memInfo, _ := p.MemoryInfo()
	cmdline, _ := p.Cmdline()
	createTime, _ := p.CreateTime()
	numThreads, _ := p.NumThreads()

	var memRSS uint64
	if memInfo != nil {
		memRSS = memInfo.RSS
	}

	var statusStr string
	if len(status) > 0 {
		statusStr = status[0]
	}

	return &ProcessInfo{
		PID:        pid,
		PPID:       uint32(ppid),
		Name:       name,
		Exe:        exe,
		Username:   username,
		Status:     statusStr,
		CPUPercent: cpuPercent,
		MemPercent: memPercent,
		MemRSS:     memRSS,
		Cmdline:    cmdline,
		CreateTime: time.UnixMilli(createTime),
		NumThreads: numThreads,
	}, nil
}

func alive(p *process.Process) (bool, error) {
	running, err := p.IsRunning()
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !running {
		return false, nil
	}
	if status, err := p.Status(); err == nil {
		for _, s := range status {
			if s == process.Zombie {
				return false, nil
			}
		}
	}
	return true, nil
}

// classify maps raw OS errors onto ErrNotFound and ErrAccessDenied
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAccessDenied):
		return err
	case errors.Is(err, process.ErrorProcessNotRunning), errors.Is(err, fs.ErrNotExist), isNoSuchProcess(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return err
}
