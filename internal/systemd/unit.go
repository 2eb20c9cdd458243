package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/ngenohkevin/portguard/internal/cache"
)

const unitTTL = 10 * time.Second

// busConn is the subset of the systemd dbus connection used here
type busConn interface {
	GetUnitNameByPID(ctx context.Context, pid uint32) (string, error)
	GetUnitPropertiesContext(ctx context.Context, unit string) (map[string]interface{}, error)
	Close()
}

// Resolver maps PIDs to the systemd unit that owns them
type Resolver struct {
	connect func(ctx context.Context) (busConn, error)
	cache   *cache.Cache[*UnitInfo]
}

// NewResolver creates a resolver talking to the system bus
func NewResolver() *Resolver {
	return &Resolver{
		connect: func(ctx context.Context) (busConn, error) {
			return dbus.NewWithContext(ctx)
		},
		cache: cache.New[*UnitInfo](unitTTL),
	}
}

// Close releases the resolver cache
func (r *Resolver) Close() {
	r.cache.Close()
}

// UnitForPID returns the unit the process runs under
func (r *Resolver) UnitForPID(ctx context.Context, pid uint32) (*UnitInfo, error) {
	return r.cache.GetOrSet(cache.UnitKey(pid), func() (*UnitInfo, error) {
		return r.lookup(ctx, pid)
	})
}

func (r *Resolver) lookup(ctx context.Context, pid uint32) (*UnitInfo, error) {
	conn, err := r.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	name, err := conn.GetUnitNameByPID(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve unit for PID %d: %w", pid, err)
	}

	info := &UnitInfo{Name: name}

	props, err := conn.GetUnitPropertiesContext(ctx, name)
	if err != nil {
		// name alone is still useful
		return info, nil
	}

	if desc, ok := props["Description"].(string); ok {
		info.Description = desc
	}
	if loadState, ok := props["LoadState"].(string); ok {
		info.LoadState = loadState
	}
	if activeState, ok := props["ActiveState"].(string); ok {
		info.ActiveState = activeState
	}
	if subState, ok := props["SubState"].(string); ok {
		info.SubState = subState
	}
	if mainPID, ok := props["MainPID"].(uint32); ok {
		info.MainPID = mainPID
		info.IsMain = mainPID == pid
	}

	return info, nil
}
