// Package performer manages exactly one detached worker process.
package performer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/google/shlex"

	"github.com/loykin/orchestral/internal/logger"
	"github.com/loykin/orchestral/internal/metrics"
	"github.com/loykin/orchestral/internal/probe"
	"github.com/loykin/orchestral/internal/registry"
)

// DefaultRestartGrace is the pause between stop and start in Restart.
const DefaultRestartGrace = 2 * time.Second

// Health issue messages.
const (
	IssueNotRunning = "Process is not running"
)

// Config is the per-performer slice of a performance definition.
type Config struct {
	MemoryMB uint
	Nice     int
	Dir      string
	Env      []string
	Log      logger.Config
}

// Deps are the collaborators a Performer talks to. Zero values pick the OS
// implementations and the wall clock.
type Deps struct {
	Spawner      Spawner
	Prober       probe.Prober
	Logger       *slog.Logger
	Now          func() time.Time
	Sleep        func(ctx context.Context, d time.Duration) error
	RestartGrace time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Spawner == nil {
		d.Spawner = OSSpawner{Logger: d.Logger}
	}
	if d.Prober == nil {
		d.Prober = probe.OS{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sleep == nil {
		d.Sleep = SleepContext
	}
	if d.RestartGrace <= 0 {
		d.RestartGrace = DefaultRestartGrace
	}
	return d
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Performer is the in-memory handle to one OS process.
type Performer struct {
	mu   sync.Mutex
	name string
	cmd  string
	cfg  Config
	deps Deps
	log  *slog.Logger

	pid             int
	procStart       int64
	startedAt       time.Time
	restartAttempts int
	windowStartedAt *time.Time
	lastRestartAt   *time.Time
}

var _ registry.Entry = (*Performer)(nil)

// New returns a handle that has not been started.
func New(name, command string, cfg Config, deps Deps) *Performer {
	deps = deps.withDefaults()
	return &Performer{name: name, cmd: command, cfg: cfg, deps: deps, log: deps.Logger.With("performer", name)}
}

// Restore rebuilds a handle from a persisted record, keeping its PID, start
// time and restart bookkeeping.
func Restore(rec registry.ProcessRecord, cfg Config, deps Deps) *Performer {
	p := New(rec.Name, rec.Command, cfg, deps)
	p.pid = rec.PID
	p.procStart = rec.ProcStart
	p.startedAt = rec.StartedAt
	p.restartAttempts = rec.RestartAttempts
	p.windowStartedAt = rec.RestartWindowStartedAt
	p.lastRestartAt = rec.LastRestartAt
	return p
}

func (p *Performer) Name() string    { return p.name }
func (p *Performer) Command() string { return p.cmd }

func (p *Performer) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *Performer) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

func (p *Performer) RestartAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restartAttempts
}

// ProcessRecord is the persisted projection of the handle.
func (p *Performer) ProcessRecord() registry.ProcessRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return registry.ProcessRecord{
		Name:                   p.name,
		Command:                p.cmd,
		PID:                    p.pid,
		StartedAt:              p.startedAt,
		ProcStart:              p.procStart,
		RestartAttempts:        p.restartAttempts,
		RestartWindowStartedAt: p.windowStartedAt,
		LastRestartAt:          p.lastRestartAt,
	}
}

// Start spawns the command and records the PID. On failure the PID is left
// at 0, so the performer reads as not running.
func (p *Performer) Start(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked(ctx)
}

func (p *Performer) startLocked(ctx context.Context) (int, error) {
	p.pid = 0
	p.procStart = 0
	p.startedAt = p.deps.Now()

	// split like sh so quoted option values stay one argument
	argv, err := shlex.Split(p.cmd)
	if err != nil {
		p.log.Warn("parse command", "command", p.cmd, "error", err)
		return 0, fmt.Errorf("parse command: %w", err)
	}
	if len(argv) == 0 {
		return 0, errors.New("empty command")
	}
	stdout, stderr, err := p.cfg.Log.PerformerFiles(p.name)
	if err != nil {
		p.log.Warn("open performer logs", "error", err)
	}
	pid, err := p.deps.Spawner.Spawn(ctx, SpawnRequest{
		Name:   p.name,
		Argv:   argv,
		Dir:    p.cfg.Dir,
		Env:    p.cfg.Env,
		Nice:   p.cfg.Nice,
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		p.log.Warn("spawn failed", "command", p.cmd, "error", err)
		return 0, err
	}
	p.pid = pid
	p.procStart = p.deps.Prober.StartTime(pid)
	metrics.IncStart(p.name)
	p.log.Info("performer started", "pid", pid)
	return pid, nil
}

// Stop sends SIGTERM when the process is running. Calling it on a stopped
// performer is a no-op. It does not wait for the process to exit.
func (p *Performer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Performer) stopLocked() {
	if !p.runningLocked() {
		return
	}
	if err := p.deps.Spawner.Signal(p.pid, syscall.SIGTERM); err != nil {
		p.log.Warn("stop failed", "pid", p.pid, "error", err)
		return
	}
	metrics.IncStop(p.name)
	p.log.Info("performer stopped", "pid", p.pid)
}

// Terminate stops the process and waits up to grace for it to exit before
// sending SIGKILL.
func (p *Performer) Terminate(ctx context.Context, grace time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	deadline := p.deps.Now().Add(grace)
	for p.runningLocked() && p.deps.Now().Before(deadline) {
		if err := p.deps.Sleep(ctx, 100*time.Millisecond); err != nil {
			break
		}
	}
	if p.runningLocked() {
		p.log.Warn("grace period elapsed, killing", "pid", p.pid, "grace", grace)
		_ = p.deps.Spawner.Signal(p.pid, syscall.SIGKILL)
	}
}

// Restart stops the process, waits the restart grace, and starts it again.
func (p *Performer) Restart(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	if err := p.deps.Sleep(ctx, p.deps.RestartGrace); err != nil {
		return 0, err
	}
	return p.respawnLocked(ctx)
}

// Respawn starts a replacement without stopping anything first. Used when
// the previous process is already gone.
func (p *Performer) Respawn(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.respawnLocked(ctx)
}

func (p *Performer) respawnLocked(ctx context.Context) (int, error) {
	now := p.deps.Now()
	p.restartAttempts++
	p.lastRestartAt = &now
	if p.windowStartedAt == nil {
		p.windowStartedAt = &now
	}
	metrics.IncRestart(p.name)
	return p.startLocked(ctx)
}

// ResetRestartWindow starts a new restart-accounting window at now.
func (p *Performer) ResetRestartWindow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.deps.Now()
	p.restartAttempts = 0
	p.windowStartedAt = &now
}

// IsRunning is true when a PID is recorded and the OS reports it live.
func (p *Performer) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runningLocked()
}

func (p *Performer) runningLocked() bool {
	return p.pid > 0 && p.deps.Prober.Alive(p.pid)
}

func (p *Performer) MemoryUsageMB() *float64 {
	if !p.IsRunning() {
		return nil
	}
	return p.deps.Prober.MemoryMB(p.PID())
}

func (p *Performer) CPUPercent() *float64 {
	if !p.IsRunning() {
		return nil
	}
	return p.deps.Prober.CPUPercent(p.PID())
}

// HealthMetrics are the probe values behind a health verdict.
type HealthMetrics struct {
	MemoryMB      *float64 `json:"memory_mb"`
	CPUPercent    *float64 `json:"cpu_percent"`
	UptimeSeconds int64    `json:"uptime_seconds"`
}

type Health struct {
	Healthy bool          `json:"healthy"`
	Issues  []string      `json:"issues"`
	Metrics HealthMetrics `json:"metrics"`
}

// CheckHealth is healthy when running and within the memory limit.
func (p *Performer) CheckHealth() Health {
	h := Health{Issues: []string{}}
	running := p.IsRunning()
	if !running {
		h.Issues = append(h.Issues, IssueNotRunning)
	}
	mem := p.MemoryUsageMB()
	if mem != nil && p.cfg.MemoryMB > 0 && *mem > float64(p.cfg.MemoryMB) {
		h.Issues = append(h.Issues, MemoryIssue(*mem, p.cfg.MemoryMB))
	}
	h.Healthy = len(h.Issues) == 0
	h.Metrics = HealthMetrics{MemoryMB: mem, CPUPercent: p.CPUPercent()}
	if started := p.StartedAt(); running && !started.IsZero() {
		h.Metrics.UptimeSeconds = int64(p.deps.Now().Sub(started) / time.Second)
	}
	return h
}

// MemoryIssue renders the memory-limit health issue.
func MemoryIssue(usedMB float64, limitMB uint) string {
	return fmt.Sprintf("Memory usage (%.2fMB) exceeds limit (%dMB)", usedMB, limitMB)
}
