package ports

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"time"

	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// ErrScanUnavailable is returned when the OS socket table cannot be read at
// all for a reason other than missing privileges.
var ErrScanUnavailable = errors.New("socket enumeration unavailable")

// Source reads the OS socket and process tables
type Source interface {
	// ListConnections returns every inet socket visible to the current user.
	// Permission shortfalls degrade the result instead of failing.
	ListConnections() ([]ConnectionRecord, error)

	// FetchProcess never fails; unreadable processes yield a degraded snapshot.
	FetchProcess(pid uint32) ProcessSnapshot
}

// SystemSource is the gopsutil-backed Source
type SystemSource struct {
	connections func(kind string) ([]psnet.ConnectionStat, error)
	newProcess  func(pid int32) (*process.Process, error)
}

// NewSystemSource creates a Source reading the live OS tables
func NewSystemSource() *SystemSource {
	return &SystemSource{
		connections: psnet.Connections,
		newProcess:  process.NewProcess,
	}
}

// ListConnections enumerates IPv4/IPv6 TCP and UDP sockets. If the full
// enumeration is denied it retries with TCP only, and returns an empty list
// when that fails too.
func (s *SystemSource) ListConnections() ([]ConnectionRecord, error) {
	stats, err := s.connections("inet")
	if err != nil {
		if !isPermission(err) {
			return nil, fmt.Errorf("%w: %v", ErrScanUnavailable, err)
		}
		stats, err = s.connections("tcp")
		if err != nil {
			return []ConnectionRecord{}, nil
		}
	}

	records := make([]ConnectionRecord, 0, len(stats))
	for _, c := range stats {
		rec, ok := toRecord(c)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func toRecord(c psnet.ConnectionStat) (ConnectionRecord, bool) {
	if c.Laddr.Port == 0 || c.Laddr.Port > 65535 {
		return ConnectionRecord{}, false
	}

	rec := ConnectionRecord{
		LocalAddress: c.Laddr.IP,
		LocalPort:    uint16(c.Laddr.Port),
		Transport:    TCP,
		State:        ParseState(c.Status),
	}
	if c.Type == syscall.SOCK_DGRAM {
		rec.Transport = UDP
		rec.State = StateUnknown
	}
	if c.Raddr.IP != "" && c.Raddr.Port != 0 && c.Raddr.Port <= 65535 {
		rec.RemoteAddress = c.Raddr.IP
		rec.RemotePort = uint16(c.Raddr.Port)
	}
	if c.Pid > 0 {
		rec.OwnerPID = uint32(c.Pid)
	}
	return rec, true
}

// FetchProcess reads the metadata of pid
func (s *SystemSource) FetchProcess(pid uint32) ProcessSnapshot {
	p, err := s.newProcess(int32(pid))
	if err != nil {
		return DegradedSnapshot(pid)
	}

	name, err := p.Name()
	if err != nil {
		return DegradedSnapshot(pid)
	}
	var parent uint32
	if ppid, err := p.Ppid(); err == nil && ppid > 0 {
		parent = uint32(ppid)
	}
	if status, err := p.Status(); err == nil && isZombie(status) {
		return ExitedSnapshot(pid, name, parent)
	}

	snap := ProcessSnapshot{
		PID:       pid,
		ParentPID: parent,
		Name:      name,
	}
	snap.ExecutablePath, _ = p.Exe()
	snap.CommandLine, _ = p.Cmdline()
	snap.Username, _ = p.Username()
	if created, err := p.CreateTime(); err == nil && created > 0 {
		snap.CreatedAt = time.UnixMilli(created)
	}
	return snap
}

func isZombie(status []string) bool {
	for _, s := range status {
		if s == process.Zombie {
			return true
		}
	}
	return false
}

func isPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}
