// Package probe answers point-in-time questions about OS processes:
// liveness, resident memory, CPU share and start time.
package probe

import (
	"math"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Prober inspects a process by PID. Implementations must be safe for concurrent use.
type Prober interface {
	// Alive reports whether pid names a live, non-zombie process.
	Alive(pid int) bool
	// MemoryMB returns resident memory in megabytes, or nil when unreadable.
	MemoryMB(pid int) *float64
	// CPUPercent returns the CPU share of the process, or nil when unreadable.
	CPUPercent(pid int) *float64
	// StartTime returns the process start as unix seconds, 0 when unknown.
	StartTime(pid int) int64
}

// Snapshot is the live OS view of one process.
type Snapshot struct {
	PID        int      `json:"pid"`
	Running    bool     `json:"running"`
	MemoryMB   *float64 `json:"memory_mb"`
	CPUPercent *float64 `json:"cpu_percent"`
}

// Info returns nil for pid <= 0 or a dead process, otherwise a snapshot
// with the requested metrics filled in on a best effort basis.
func Info(p Prober, pid int, trackMemory, trackCPU bool) *Snapshot {
	if pid <= 0 || !p.Alive(pid) {
		return nil
	}
	s := &Snapshot{PID: pid, Running: true}
	if trackMemory {
		s.MemoryMB = p.MemoryMB(pid)
	}
	if trackCPU {
		s.CPUPercent = p.CPUPercent(pid)
	}
	return s
}

// OS is the Prober backed by the running kernel.
type OS struct{}

var _ Prober = OS{}

func (OS) Alive(pid int) bool { return pidAlive(pid) }

func (OS) MemoryMB(pid int) *float64 {
	p, err := newProc(pid)
	if err != nil {
		return nil
	}
	mi, err := p.MemoryInfo()
	if err != nil || mi == nil {
		return nil
	}
	v := round2(float64(mi.RSS) / 1024 / 1024)
	return &v
}

func (OS) CPUPercent(pid int) *float64 {
	p, err := newProc(pid)
	if err != nil {
		return nil
	}
	c, err := p.CPUPercent()
	if err != nil {
		return nil
	}
	v := round2(c)
	return &v
}

func (OS) StartTime(pid int) int64 { return procStartUnix(pid) }

func newProc(pid int) (*gopsproc.Process, error) {
	if pid <= 0 || pid > math.MaxInt32 {
		return nil, gopsproc.ErrorProcessNotRunning
	}
	return gopsproc.NewProcess(int32(pid))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
