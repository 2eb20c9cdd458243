package system

// HostInfo contains system identification information
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	KernelArch      string `json:"kernel_arch"`
	Uptime          uint64 `json:"uptime"`
	UptimeHuman     string `json:"uptime_human"`
	Procs           uint64 `json:"procs"`
	// Privileged is true when running as root; without it sockets of other
	// users' processes may be unattributable and their termination denied
	Privileged bool `json:"privileged"`
}
