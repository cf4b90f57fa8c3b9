// Package platform answers questions about the host the device runs on.
package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Info describes the host.
type Info struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	Arch            string `json:"arch"`
}

// Querier returns host information. Tests substitute their own.
type Querier interface {
	Query(ctx context.Context) (Info, error)
}

// Host queries the running host through gopsutil.
type Host struct{}

// Query returns the host's identity.
func (Host) Query(ctx context.Context) (Info, error) {
	stat, err := host.InfoWithContext(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("querying host info: %w", err)
	}
	return Info{
		Hostname:        stat.Hostname,
		OS:              stat.OS,
		Platform:        stat.Platform,
		PlatformVersion: stat.PlatformVersion,
		Arch:            stat.KernelArch,
	}, nil
}

var osLabels = map[string]string{
	"linux":     "Linux",
	"darwin":    "macOS",
	"windows":   "Windows",
	"freebsd":   "FreeBSD",
	"openbsd":   "OpenBSD",
	"netbsd":    "NetBSD",
	"android":   "Android",
	"ios":       "iOS",
	"solaris":   "Solaris",
	"dragonfly": "DragonFly BSD",
}

// OSLabel returns a human-readable operating system name, for example
// "Linux" or "macOS".
func (i Info) OSLabel() string {
	if label, ok := osLabels[strings.ToLower(i.OS)]; ok {
		return label
	}
	if i.OS == "" {
		return "Unknown"
	}
	return strings.ToUpper(i.OS[:1]) + i.OS[1:]
}

// Memory is a snapshot of host memory usage.
type Memory struct {
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// MemoryUsage returns current host memory usage.
func MemoryUsage(ctx context.Context) (Memory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Memory{}, fmt.Errorf("querying memory: %w", err)
	}
	return Memory{
		TotalBytes:  vm.Total,
		UsedBytes:   vm.Used,
		UsedPercent: vm.UsedPercent,
	}, nil
}
