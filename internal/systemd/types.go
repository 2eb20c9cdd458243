package systemd

// UnitInfo describes the systemd unit a process belongs to
type UnitInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	LoadState   string `json:"load_state,omitempty"`
	ActiveState string `json:"active_state,omitempty"`
	SubState    string `json:"sub_state,omitempty"`
	MainPID     uint32 `json:"main_pid,omitempty"`
	// IsMain is true when the process is the unit's main process, meaning
	// systemd may restart it after termination
	IsMain bool `json:"is_main"`
}
