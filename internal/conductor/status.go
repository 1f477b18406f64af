package conductor

import (
	"context"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/loykin/orchestral/internal/config"
	"github.com/loykin/orchestral/internal/metrics"
	"github.com/loykin/orchestral/internal/performer"
	"github.com/loykin/orchestral/internal/score"
)

// PerformerStatus is one live performer as reported by Status.
type PerformerStatus struct {
	Name            string     `json:"name"`
	Command         string     `json:"command"`
	PID             int        `json:"pid"`
	Running         bool       `json:"running"`
	Uptime          string     `json:"uptime"`
	MemoryMB        *float64   `json:"memory_mb"`
	CPUPercent      *float64   `json:"cpu_percent"`
	RestartAttempts int        `json:"restart_attempts"`
	LastRestartAt   *time.Time `json:"last_restart_at"`
	StartedAt       time.Time  `json:"started_at"`
}

type Status struct {
	Conducting  bool              `json:"conducting"`
	Environment string            `json:"environment"`
	Performers  []PerformerStatus `json:"performers"`
	Total       int               `json:"total_performers"`
	Running     int               `json:"running_performers"`
}

// Status reports the live registry contents merged with OS probes.
func (c *Conductor) Status(ctx context.Context) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	recs := c.reg.Load(ctx)
	st := Status{
		Conducting:  c.reg.IsConducting(ctx),
		Environment: c.score.Environment(),
		Performers:  make([]PerformerStatus, 0, len(recs)),
		Total:       len(recs),
	}
	now := c.opts.Now()
	running := make(map[string]int)
	for _, rec := range recs {
		info := c.reg.ProcessInfo(rec.PID)
		if info == nil {
			continue
		}
		st.Running++
		running[score.BaseName(rec.Name)]++
		metrics.ObservePerformer(rec.Name, info.MemoryMB, info.CPUPercent)
		st.Performers = append(st.Performers, PerformerStatus{
			Name:            rec.Name,
			Command:         rec.Command,
			PID:             rec.PID,
			Running:         info.Running,
			Uptime:          Uptime(rec.StartedAt, now),
			MemoryMB:        info.MemoryMB,
			CPUPercent:      info.CPUPercent,
			RestartAttempts: rec.RestartAttempts,
			LastRestartAt:   rec.LastRestartAt,
			StartedAt:       rec.StartedAt,
		})
	}
	for _, n := range c.score.Names() {
		metrics.SetRunningPerformers(n, running[n])
	}
	return st
}

// Uptime renders now-started without a suffix, e.g. "3 minutes".
func Uptime(started, now time.Time) string {
	if started.IsZero() {
		return ""
	}
	if now.Before(started) {
		now = started
	}
	return strings.TrimSpace(humanize.RelTime(started, now, "", ""))
}

// Instrument is the configured shape of one performance.
type Instrument struct {
	Command     string         `json:"command"`
	CommandLine string         `json:"command_line"`
	Performers  uint           `json:"performers"`
	Memory      uint           `json:"memory"`
	Timeout     *uint          `json:"timeout"`
	RetryAfter  *uint          `json:"retry_after,omitempty"`
	Nice        int            `json:"nice,omitempty"`
	Options     config.Options `json:"-"`
	OptionsMap  map[string]any `json:"options"`
}

// Instruments projects the active environment's performances.
func (c *Conductor) Instruments() map[string]Instrument {
	out := make(map[string]Instrument)
	for name, p := range c.score.Performances() {
		out[name] = Instrument{
			Command:     p.Command,
			CommandLine: c.score.BuildCommand(p),
			Performers:  p.Instances,
			Memory:      p.MemoryMB,
			Timeout:     p.Timeout,
			RetryAfter:  p.RetryAfter,
			Nice:        p.Nice,
			Options:     p.Options,
			OptionsMap:  p.Options.Map(),
		}
	}
	return out
}

// HealthCheck covers the handles this process started. Performers started
// by another invocation are visible through Status only.
func (c *Conductor) HealthCheck() map[string]performer.Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]performer.Health, len(c.performers))
	for _, h := range c.performers {
		out[h.Name()] = h.CheckHealth()
	}
	return out
}
