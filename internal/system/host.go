package system

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/host"

	"github.com/ngenohkevin/portguard/internal/cache"
)

const hostTTL = 30 * time.Second

// Collector reads host information, caching it briefly
type Collector struct {
	cache *cache.Cache[*HostInfo]
	info  func() (*host.InfoStat, error)
}

// NewCollector creates a new host info collector
func NewCollector() *Collector {
	return &Collector{
		cache: cache.New[*HostInfo](hostTTL),
		info:  host.Info,
	}
}

// Close stops the collector's cache
func (c *Collector) Close() {
	c.cache.Close()
}

// HostInfo retrieves system host information
func (c *Collector) HostInfo() (*HostInfo, error) {
	return c.cache.GetOrSet(cache.KeyHost, func() (*HostInfo, error) {
		info, err := c.info()
		if err != nil {
			return nil, fmt.Errorf("failed to get host info: %w", err)
		}

		return &HostInfo{
			Hostname:        info.Hostname,
			OS:              info.OS,
			Platform:        info.Platform,
			PlatformVersion: info.PlatformVersion,
			KernelVersion:   info.KernelVersion,
			KernelArch:      info.KernelArch,
			Uptime:          info.Uptime,
			UptimeHuman:     formatUptime(info.Uptime),
			Procs:           info.Procs,
			Privileged:      os.Geteuid() == 0,
		}, nil
	})
}

// formatUptime converts uptime seconds to human readable format
func formatUptime(seconds uint64) string {
	duration := time.Duration(seconds) * time.Second

	days := int(duration.Hours() / 24)
	hours := int(duration.Hours()) % 24
	minutes := int(duration.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
