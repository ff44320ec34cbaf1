// Package sysmon samples host CPU and memory usage for the autoscaler and
// the operational API.
package sysmon

import (
	"context"
	"sync"
	"time"

	sysinfo "github.com/elastic/go-sysinfo"
	"github.com/elastic/go-sysinfo/types"
)

// Monitor computes CPU utilization from successive host CPU-time samples.
// The first call has no baseline and reports zero.
type Monitor struct {
	mu      sync.Mutex
	prev    types.CPUTimes
	hasPrev bool
}

// New creates a Monitor.
func New() *Monitor {
	return &Monitor{}
}

// CPUPercent returns host CPU utilization in [0,100] over the window since
// the previous call.
func (m *Monitor) CPUPercent(ctx context.Context) (float64, error) {
	host, err := sysinfo.Host()
	if err != nil {
		return 0, err
	}
	cpu, err := host.CPUTime()
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasPrev {
		m.prev = cpu
		m.hasPrev = true
		return 0, nil
	}

	deltaTotal := cpuTotal(cpu) - cpuTotal(m.prev)
	deltaIdle := (cpu.Idle + cpu.IOWait) - (m.prev.Idle + m.prev.IOWait)
	m.prev = cpu

	if deltaTotal <= 0 {
		return 0, nil
	}
	pct := 100 * (1 - float64(deltaIdle)/float64(deltaTotal))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

// MemoryPercent returns host memory utilization in [0,100], counting memory
// available without swapping as free.
func (m *Monitor) MemoryPercent(ctx context.Context) (float64, error) {
	host, err := sysinfo.Host()
	if err != nil {
		return 0, err
	}
	mem, err := host.Memory()
	if err != nil {
		return 0, err
	}
	if mem.Total == 0 {
		return 0, nil
	}
	used := mem.Total - mem.Available
	return 100 * float64(used) / float64(mem.Total), nil
}

func cpuTotal(t types.CPUTimes) time.Duration {
	return t.User + t.System + t.Idle + t.IOWait + t.IRQ + t.Nice + t.SoftIRQ + t.Steal
}
