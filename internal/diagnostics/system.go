// Package diagnostics collects host resource information for the doctor
// command. Every probe is best-effort: a failing collector leaves its
// fields zeroed rather than failing the report.
package diagnostics

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Report holds a snapshot of host resources.
type Report struct {
	Hostname string        `json:"hostname"`
	OS       string        `json:"os"`
	Platform string        `json:"platform"`
	Arch     string        `json:"arch"`
	Uptime   time.Duration `json:"uptime"`

	CPUModel   string  `json:"cpu_model"`
	CPUCores   int     `json:"cpu_cores"`
	CPUThreads int     `json:"cpu_threads"`
	CPUPercent float64 `json:"cpu_percent"`

	MemTotalMB float64 `json:"mem_total_mb"`
	MemUsedMB  float64 `json:"mem_used_mb"`
	MemPercent float64 `json:"mem_percent"`

	DiskTotalGB float64 `json:"disk_total_gb"`
	DiskUsedGB  float64 `json:"disk_used_gb"`
	DiskPercent float64 `json:"disk_percent"`

	LoadAvg1  float64 `json:"load_avg_1"`
	LoadAvg5  float64 `json:"load_avg_5"`
	LoadAvg15 float64 `json:"load_avg_15"`
}

// Collect gathers a host snapshot. The CPU sample blocks for the given
// interval; pass zero to skip utilization sampling.
func Collect(sample time.Duration) Report {
	r := Report{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	if name, err := os.Hostname(); err == nil {
		r.Hostname = name
	}
	if info, err := host.Info(); err == nil {
		r.Platform = strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
		r.Uptime = time.Duration(info.Uptime) * time.Second
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		r.CPUModel = strings.TrimSpace(infos[0].ModelName)
	}
	if cores, err := cpu.Counts(false); err == nil {
		r.CPUCores = cores
	}
	if threads, err := cpu.Counts(true); err == nil {
		r.CPUThreads = threads
	}
	if sample > 0 {
		if percents, err := cpu.Percent(sample, false); err == nil && len(percents) > 0 {
			r.CPUPercent = percents[0]
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		r.MemTotalMB = float64(vm.Total) / 1024 / 1024
		r.MemUsedMB = float64(vm.Used) / 1024 / 1024
		r.MemPercent = vm.UsedPercent
	}

	if usage, err := disk.Usage(rootDiskPath()); err == nil {
		r.DiskTotalGB = float64(usage.Total) / 1024 / 1024 / 1024
		r.DiskUsedGB = float64(usage.Used) / 1024 / 1024 / 1024
		r.DiskPercent = usage.UsedPercent
	}

	if avg, err := load.Avg(); err == nil {
		r.LoadAvg1 = avg.Load1
		r.LoadAvg5 = avg.Load5
		r.LoadAvg15 = avg.Load15
	}

	return r
}

func rootDiskPath() string {
	if runtime.GOOS == "windows" {
		drive := os.Getenv("SystemDrive")
		if drive == "" {
			drive = "C:"
		}
		return drive + "\\"
	}
	return "/"
}
