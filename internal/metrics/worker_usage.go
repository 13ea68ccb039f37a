package metrics

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ResourceUsage is a point-in-time CPU/memory sample of the worker.
type ResourceUsage struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

var (
	workerCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "worker",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the worker process.",
		},
	)
	workerMemoryMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "worker",
			Name:      "memory_mb",
			Help:      "Resident memory of the worker process in MB.",
		},
	)
	workerThreads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "worker",
			Name:      "num_threads",
			Help:      "Thread count of the worker process.",
		},
	)
	workerFDs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "worker",
			Name:      "num_fds",
			Help:      "Open file descriptors of the worker process (Unix only).",
		},
	)
)

// RegisterUsage adds the resource gauges to r. Separate from Register so
// embedders can opt out of the gopsutil sampling surface.
func RegisterUsage(r prometheus.Registerer) error {
	cs := []prometheus.Collector{workerCPUPercent, workerMemoryMB, workerThreads}
	if runtime.GOOS != "windows" {
		cs = append(cs, workerFDs)
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// SampleWorker reads current resource usage for pid and mirrors it into
// the gauges. An exited or inaccessible pid returns an error and leaves
// the gauges untouched.
func SampleWorker(pid int) (ResourceUsage, error) {
	if pid <= 0 {
		return ResourceUsage{}, fmt.Errorf("invalid pid %d", pid)
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return ResourceUsage{}, fmt.Errorf("open process %d: %w", pid, err)
	}
	u := ResourceUsage{PID: pid, Timestamp: time.Now().UTC()}
	if cpu, err := p.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		u.MemoryMB = float64(mem.RSS) / 1024 / 1024
	}
	if th, err := p.NumThreads(); err == nil {
		u.NumThreads = th
	}
	if runtime.GOOS != "windows" {
		if fds, err := p.NumFDs(); err == nil {
			u.NumFDs = fds
		}
	}
	setUsageGauges(u)
	return u, nil
}

// ClearWorkerUsage zeroes the resource gauges, used when the worker is
// not running.
func ClearWorkerUsage() {
	setUsageGauges(ResourceUsage{})
}

func setUsageGauges(u ResourceUsage) {
	workerCPUPercent.Set(u.CPUPercent)
	workerMemoryMB.Set(u.MemoryMB)
	workerThreads.Set(float64(u.NumThreads))
	if runtime.GOOS != "windows" {
		workerFDs.Set(float64(u.NumFDs))
	}
}
