package conductor

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/orchestral/internal/history"
	"github.com/loykin/orchestral/internal/metrics"
	"github.com/loykin/orchestral/internal/performer"
	"github.com/loykin/orchestral/internal/registry"
	"github.com/loykin/orchestral/internal/score"
)

// Restart reasons.
const (
	ReasonNotRunning     = "Process not running"
	ReasonMemoryExceeded = "Memory limit exceeded"
)

// MonitorReport summarizes one monitor tick by performer name.
type MonitorReport struct {
	Checked      int      `json:"checked"`
	Restarted    []string `json:"restarted,omitempty"`
	Postponed    []string `json:"postponed,omitempty"`
	Dropped      []string `json:"dropped,omitempty"`
	Failed       []string `json:"failed,omitempty"`
	MemoryAlerts []string `json:"memory_alerts,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// MonitorPerformers checks every registry record once. Dead performers are
// restarted within the restart budget, performers over their memory limit
// are replaced. A failure on one record is logged and the record is kept.
//
// It reads with Records, not Load. Load prunes dead records, so a status,
// conduct or pause run between a crash and the next tick drops the record
// and the crashed performer is not restarted until the next conduct.
func (c *Conductor) MonitorPerformers(ctx context.Context) MonitorReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	var report MonitorReport
	recs := c.reg.Records(ctx)
	out := make([]registry.ProcessRecord, 0, len(recs))
	for _, rec := range recs {
		report.Checked++
		if next, keep := c.checkRecord(ctx, rec, &report); keep {
			out = append(out, next)
		}
	}
	if len(recs) > 0 {
		c.reg.Save(ctx, out)
	}
	metrics.IncMonitorTick()
	return report
}

func (c *Conductor) checkRecord(ctx context.Context, rec registry.ProcessRecord, report *MonitorReport) (next registry.ProcessRecord, keep bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("monitor check panicked", "performer", rec.Name, "panic", r)
			report.Errors = append(report.Errors, rec.Name)
			next, keep = rec, true
		}
	}()

	p, known := c.score.PerformanceFor(rec.Name)
	if !c.reg.Alive(rec) {
		return c.handleDead(ctx, rec, p, known, report)
	}

	info := c.reg.ProcessInfo(rec.PID)
	if info == nil || info.MemoryMB == nil || *info.MemoryMB <= 0 || !known {
		return rec, true
	}
	metrics.ObservePerformer(rec.Name, info.MemoryMB, info.CPUPercent)

	used, limit := *info.MemoryMB, float64(p.MemoryMB)
	if used > limit {
		return c.replaceOverLimit(ctx, rec, p, used, report)
	}
	if used >= limit*float64(c.score.MemoryAlertThreshold())/100 {
		c.log.Warn("performer nearing memory limit", "performer", rec.Name, "pid", rec.PID,
			"memory_mb", used, "limit_mb", p.MemoryMB)
		metrics.IncMemoryAlert(p.Name)
		report.MemoryAlerts = append(report.MemoryAlerts, rec.Name)
	}
	return rec, true
}

func (c *Conductor) handleDead(ctx context.Context, rec registry.ProcessRecord, p score.Performance, known bool, report *MonitorReport) (registry.ProcessRecord, bool) {
	metrics.ForgetPerformer(rec.Name)
	if !c.score.RestartOnFailure() {
		c.log.Info("performer exited, restart disabled", "performer", rec.Name, "pid", rec.PID)
		report.Dropped = append(report.Dropped, rec.Name)
		return rec, false
	}
	if !known {
		c.log.Warn("performer exited and its performance is no longer configured", "performer", rec.Name)
		report.Dropped = append(report.Dropped, rec.Name)
		return rec, false
	}

	now := c.opts.Now()
	if rec.LastRestartAt != nil && now.Sub(*rec.LastRestartAt) < c.score.RestartDelay() {
		report.Postponed = append(report.Postponed, rec.Name)
		return rec, true
	}

	h := c.restore(rec, p)
	c.rollWindow(h, rec, now)
	if budget := c.score.MaxRestartAttempts(); h.RestartAttempts() >= budget {
		c.log.Error("restart budget exhausted", "performer", rec.Name, "attempts", h.RestartAttempts(),
			"window", c.score.RestartWindow())
		metrics.IncRestartBudgetExhausted(p.Name)
		report.Failed = append(report.Failed, rec.Name)
		c.emit(ctx, history.KindPerformerFailed, rec.Name, map[string]any{
			"restart_attempts":     h.RestartAttempts(),
			"max_restart_attempts": budget,
			"command":              h.Command(),
		})
		return rec, false
	}

	pid, err := h.Respawn(ctx)
	if err != nil {
		report.Errors = append(report.Errors, rec.Name)
	}
	c.track(h)
	c.recordRestart(ctx, h, p, rec.PID, pid, ReasonNotRunning, report)
	return h.ProcessRecord(), true
}

func (c *Conductor) replaceOverLimit(ctx context.Context, rec registry.ProcessRecord, p score.Performance, used float64, report *MonitorReport) (registry.ProcessRecord, bool) {
	c.log.Warn("performer exceeded memory limit", "performer", rec.Name, "pid", rec.PID,
		"memory_mb", used, "limit_mb", p.MemoryMB)
	c.emit(ctx, history.KindMemoryExceeded, rec.Name, map[string]any{
		"memory_usage": used,
		"limit_mb":     p.MemoryMB,
		"command":      rec.Command,
	})

	h := c.restore(rec, p)
	c.rollWindow(h, rec, c.opts.Now())
	h.Terminate(ctx, c.opts.RestartGrace)
	pid, err := h.Respawn(ctx)
	if err != nil {
		report.Errors = append(report.Errors, rec.Name)
	}
	c.track(h)
	c.recordRestart(ctx, h, p, rec.PID, pid, ReasonMemoryExceeded, report)
	return h.ProcessRecord(), true
}

// restore rebuilds a handle for rec with a freshly rendered command.
func (c *Conductor) restore(rec registry.ProcessRecord, p score.Performance) *performer.Performer {
	rec.Command = c.score.BuildCommand(p)
	return performer.Restore(rec, c.performerConfig(p), c.deps())
}

// rollWindow starts a new restart window when none is open or the open one
// is older than the configured window.
func (c *Conductor) rollWindow(h *performer.Performer, rec registry.ProcessRecord, now time.Time) {
	if rec.RestartWindowStartedAt == nil || now.Sub(*rec.RestartWindowStartedAt) >= c.score.RestartWindow() {
		h.ResetRestartWindow()
	}
}

func (c *Conductor) recordRestart(ctx context.Context, h *performer.Performer, p score.Performance, oldPID, newPID int, reason string, report *MonitorReport) {
	c.log.Info("performer restarted", "performer", h.Name(), "old_pid", oldPID, "pid", newPID, "reason", reason)
	metrics.IncMonitorRestart(p.Name, reason)
	report.Restarted = append(report.Restarted, h.Name())
	c.emit(ctx, history.KindPerformerRestarted, h.Name(), map[string]any{
		"reason":           reason,
		"old_pid":          oldPID,
		"new_pid":          newPID,
		"restart_attempts": h.RestartAttempts(),
		"command":          h.Command(),
	})
}

// String is a one-line summary for logs.
func (r MonitorReport) String() string {
	return fmt.Sprintf("checked=%d restarted=%d postponed=%d dropped=%d failed=%d alerts=%d errors=%d",
		r.Checked, len(r.Restarted), len(r.Postponed), len(r.Dropped), len(r.Failed), len(r.MemoryAlerts), len(r.Errors))
}
