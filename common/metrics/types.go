package metrics

// SystemInfo describes the host the service is running on. Traffic blocks
// behave differently in containers (raw sockets, capture devices), so the
// diagnostics surface reports where flowd lives.
type SystemInfo struct {
	OS               string `json:"os"`
	OSVersion        string `json:"os_version"`
	Arch             string `json:"arch"`
	Hostname         string `json:"hostname"`
	CPUCores         int    `json:"cpu_cores"`
	CPULogical       int    `json:"cpu_logical"`
	TotalMemoryMB    uint64 `json:"total_memory_mb"`
	GoVersion        string `json:"go_version"`
	InContainer      bool   `json:"in_container"`
	ContainerRuntime string `json:"container_runtime,omitempty"`
}

// Capture gathers system information for the diagnostics endpoint
func Capture() *SystemInfo {
	return collectSystemInfo()
}
