package metrics

import (
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

func collectSystemInfo() *SystemInfo {
	info := &SystemInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPULogical: runtime.NumCPU(),
		GoVersion:  runtime.Version(),
	}

	info.Hostname = "unknown"
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if rt := containerRuntime(); rt != "" {
		info.InContainer = true
		info.ContainerRuntime = rt
	}

	info.OSVersion = osVersion()
	info.CPUCores = physicalCores()
	info.TotalMemoryMB = totalMemoryMB()
	return info
}

// containerRuntime returns the detected container runtime, or "" when the
// process appears to run directly on the host.
func containerRuntime() string {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "docker"
	}
	if _, err := os.Stat("/var/run/secrets/kubernetes.io"); err == nil {
		return "kubernetes"
	}

	// The init cgroup names the runtime on older setups.
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		cgroups := string(data)
		switch {
		case strings.Contains(cgroups, "docker"):
			return "docker"
		case strings.Contains(cgroups, "kubepods"):
			return "kubernetes"
		case strings.Contains(cgroups, "containerd"):
			return "containerd"
		}
	}
	return ""
}

func osVersion() string {
	switch runtime.GOOS {
	case "linux":
		return linuxOSVersion()
	case "darwin":
		return darwinOSVersion()
	case "windows":
		return windowsOSVersion()
	default:
		return "unknown"
	}
}

func linuxOSVersion() string {
	if data, err := os.ReadFile("/etc/os-release"); err == nil {
		var name, version string
		for _, line := range strings.Split(string(data), "\n") {
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			value = strings.Trim(value, "\"")
			switch key {
			case "PRETTY_NAME":
				return value
			case "NAME":
				name = value
			case "VERSION":
				version = value
			}
		}
		if name != "" {
			return strings.TrimSpace(name + " " + version)
		}
	}

	if out, err := exec.Command("uname", "-r").Output(); err == nil {
		return "Linux " + strings.TrimSpace(string(out))
	}
	return "Linux (unknown)"
}

func darwinOSVersion() string {
	if out, err := exec.Command("sw_vers", "-productVersion").Output(); err == nil {
		version := strings.TrimSpace(string(out))
		if name, err := exec.Command("sw_vers", "-productName").Output(); err == nil {
			return strings.TrimSpace(string(name)) + " " + version
		}
		return "macOS " + version
	}

	if out, err := exec.Command("uname", "-r").Output(); err == nil {
		return "macOS " + strings.TrimSpace(string(out))
	}
	return "macOS (unknown)"
}

func windowsOSVersion() string {
	if out, err := exec.Command("cmd", "/c", "ver").Output(); err == nil {
		return strings.TrimSpace(string(out))
	}

	if out, err := exec.Command("wmic", "os", "get", "Caption,Version", "/value").Output(); err == nil {
		fields := wmicFields(string(out))
		if caption := fields["Caption"]; caption != "" {
			if version := fields["Version"]; version != "" {
				return caption + " (Version " + version + ")"
			}
			return caption
		}
	}
	return "Windows (unknown)"
}

// physicalCores counts physical CPU cores, falling back to the logical
// count when the platform gives no answer.
func physicalCores() int {
	switch runtime.GOOS {
	case "linux":
		return linuxPhysicalCores()
	case "darwin":
		return darwinPhysicalCores()
	case "windows":
		return windowsPhysicalCores()
	default:
		return runtime.NumCPU()
	}
}

func linuxPhysicalCores() int {
	if out, err := exec.Command("lscpu", "-p=Core").Output(); err == nil {
		cores := make(map[string]struct{})
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				cores[line] = struct{}{}
			}
		}
		if len(cores) > 0 {
			return len(cores)
		}
	}

	if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
		cores := make(map[string]struct{})
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "core id") {
				if _, id, ok := strings.Cut(line, ":"); ok {
					cores[strings.TrimSpace(id)] = struct{}{}
				}
			}
		}
		if len(cores) > 0 {
			return len(cores)
		}
	}
	return runtime.NumCPU()
}

func darwinPhysicalCores() int {
	if out, err := exec.Command("sysctl", "-n", "hw.physicalcpu").Output(); err == nil {
		if cores, err := strconv.Atoi(strings.TrimSpace(string(out))); err == nil && cores > 0 {
			return cores
		}
	}
	return runtime.NumCPU()
}

func windowsPhysicalCores() int {
	if out, err := exec.Command("wmic", "cpu", "get", "NumberOfCores", "/value").Output(); err == nil {
		if cores, err := strconv.Atoi(wmicFields(string(out))["NumberOfCores"]); err == nil && cores > 0 {
			return cores
		}
	}
	return runtime.NumCPU()
}

func totalMemoryMB() uint64 {
	switch runtime.GOOS {
	case "linux":
		return linuxMemoryMB()
	case "darwin":
		return darwinMemoryMB()
	case "windows":
		return windowsMemoryMB()
	default:
		return 0
	}
}

func linuxMemoryMB() uint64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		// MemTotal reports kB.
		if fields := strings.Fields(line); len(fields) >= 2 {
			if kb, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				return kb / 1024
			}
		}
	}
	return 0
}

func darwinMemoryMB() uint64 {
	if out, err := exec.Command("sysctl", "-n", "hw.memsize").Output(); err == nil {
		if bytes, err := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64); err == nil {
			return bytes / 1024 / 1024
		}
	}
	return 0
}

func windowsMemoryMB() uint64 {
	if out, err := exec.Command("wmic", "ComputerSystem", "get", "TotalPhysicalMemory", "/value").Output(); err == nil {
		if bytes, err := strconv.ParseUint(wmicFields(string(out))["TotalPhysicalMemory"], 10, 64); err == nil {
			return bytes / 1024 / 1024
		}
	}
	return 0
}

// wmicFields parses wmic /value output into a key=value map.
func wmicFields(out string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		if key, value, ok := strings.Cut(strings.TrimSpace(line), "="); ok {
			fields[key] = value
		}
	}
	return fields
}
