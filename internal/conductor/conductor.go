// Package conductor supervises performances: it starts their performers,
// stops them, reports on them and restarts the ones that die or outgrow
// their memory limit.
package conductor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/orchestral/internal/env"
	"github.com/loykin/orchestral/internal/history"
	"github.com/loykin/orchestral/internal/metrics"
	"github.com/loykin/orchestral/internal/performer"
	"github.com/loykin/orchestral/internal/probe"
	"github.com/loykin/orchestral/internal/registry"
	"github.com/loykin/orchestral/internal/score"
)

// DefaultEncorePause is the gap between pause and conduct in Encore.
const DefaultEncorePause = 2 * time.Second

// Options are the Conductor's collaborators. Zero values pick the OS
// implementations, the wall clock and no audit sinks.
type Options struct {
	Logger       *slog.Logger
	Spawner      performer.Spawner
	Prober       probe.Prober
	Sinks        []history.Sink
	Env          *env.Env
	Now          func() time.Time
	Sleep        func(ctx context.Context, d time.Duration) error
	RestartGrace time.Duration
	EncorePause  time.Duration
}

// Conductor is the supervisor. Every public method holds one mutex, so
// monitor ticks and API calls never interleave.
type Conductor struct {
	mu    sync.Mutex
	score *score.Score
	reg   *registry.Registry
	opts  Options
	log   *slog.Logger

	// handles started or restarted by this process, in start order
	performers []*performer.Performer
}

func New(sc *score.Score, reg *registry.Registry, opts Options) *Conductor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Spawner == nil {
		opts.Spawner = performer.OSSpawner{Logger: opts.Logger}
	}
	if opts.Prober == nil {
		opts.Prober = probe.OS{}
	}
	if opts.Env == nil {
		opts.Env = env.New(true)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = performer.SleepContext
	}
	if opts.RestartGrace <= 0 {
		opts.RestartGrace = performer.DefaultRestartGrace
	}
	if opts.EncorePause <= 0 {
		opts.EncorePause = DefaultEncorePause
	}
	return &Conductor{
		score: sc,
		reg:   reg,
		opts:  opts,
		log:   opts.Logger.With("component", "conductor"),
	}
}

func (c *Conductor) Score() *score.Score { return c.score }

// Conduct starts every performer of the named performance, or of all
// performances when name is empty. Instances already alive in the registry
// are left alone. Spawn failures are logged, not returned.
func (c *Conductor) Conduct(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conduct(ctx, name)
}

func (c *Conductor) conduct(ctx context.Context, name string) error {
	targets, err := c.targets(name)
	if err != nil {
		return err
	}

	live := c.reg.Load(ctx)
	alive := make(map[string]bool, len(live))
	for _, rec := range live {
		alive[rec.Name] = true
	}

	var started []*performer.Performer
	for _, p := range targets {
		cmd := c.score.BuildCommand(p)
		for _, inst := range p.InstanceNames() {
			if alive[inst] {
				c.log.Debug("performer already running", "performer", inst)
				continue
			}
			h := performer.New(inst, cmd, c.performerConfig(p), c.deps())
			_, _ = h.Start(ctx)
			c.track(h)
			started = append(started, h)
		}
		metrics.IncConduct(p.Name)
	}

	c.reg.SetConducting(ctx, true)
	records := append([]registry.ProcessRecord(nil), live...)
	names := make([]string, 0, len(started))
	for _, h := range started {
		records = append(records, h.ProcessRecord())
		names = append(names, h.Name())
	}
	c.reg.Save(ctx, records)

	c.log.Info("conducting", "performance", name, "started", len(started), "already_running", len(live))
	c.emit(ctx, history.KindPerformanceStarted, name, map[string]any{
		"performers":  names,
		"total_count": len(names),
	})
	return nil
}

// Pause sends SIGTERM to every matching performer. A name matches a
// performer called exactly that or an instance of it (name-N). An empty name
// pauses everything and clears the registry.
func (c *Conductor) Pause(ctx context.Context, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pause(ctx, name, func(h *performer.Performer) { h.Stop() })
}

// PauseWait is Pause that waits up to the graceful shutdown timeout for each
// performer to exit and kills the ones that do not.
func (c *Conductor) PauseWait(ctx context.Context, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	grace := c.score.GracefulShutdownTimeout()
	c.pause(ctx, name, func(h *performer.Performer) { h.Terminate(ctx, grace) })
}

func (c *Conductor) pause(ctx context.Context, name string, stop func(*performer.Performer)) {
	match := func(n string) bool {
		return name == "" || n == name || score.BaseName(n) == name
	}

	stopped := make(map[string]bool)
	var names []string
	kept := c.performers[:0]
	for _, h := range c.performers {
		if !match(h.Name()) {
			kept = append(kept, h)
			continue
		}
		stop(h)
		stopped[h.Name()] = true
		names = append(names, h.Name())
		metrics.ForgetPerformer(h.Name())
	}
	c.performers = kept

	var remaining []registry.ProcessRecord
	for _, rec := range c.reg.Load(ctx) {
		if !match(rec.Name) {
			remaining = append(remaining, rec)
			continue
		}
		if stopped[rec.Name] {
			continue
		}
		p, _ := c.score.PerformanceFor(rec.Name)
		stop(performer.Restore(rec, c.performerConfig(p), c.deps()))
		names = append(names, rec.Name)
		metrics.ForgetPerformer(rec.Name)
	}

	if name == "" {
		c.reg.SetConducting(ctx, false)
		c.reg.Clear(ctx)
		c.log.Info("paused all performers", "stopped", len(names))
		c.emit(ctx, history.KindPerformanceStopped, "", map[string]any{"performers": names})
		return
	}
	c.reg.Save(ctx, remaining)
	c.log.Info("paused performance", "performance", name, "stopped", len(names))
}

// Encore pauses, waits briefly and conducts again. It is not atomic: a
// failure to start leaves the performance paused.
func (c *Conductor) Encore(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.targets(name); err != nil {
		return err
	}
	c.pause(ctx, name, func(h *performer.Performer) { h.Stop() })
	if err := c.opts.Sleep(ctx, c.opts.EncorePause); err != nil {
		return err
	}
	return c.conduct(ctx, name)
}

func (c *Conductor) IsConducting(ctx context.Context) bool {
	return c.reg.IsConducting(ctx)
}

// Run ticks MonitorPerformers every interval until ctx is done or the
// conducting flag is cleared.
func (c *Conductor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.score.HealthCheckInterval()
	}
	c.log.Info("monitor started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if !c.IsConducting(ctx) {
			c.log.Info("not conducting, monitor exiting")
			return
		}
		c.MonitorPerformers(ctx)
		select {
		case <-ctx.Done():
			c.log.Info("monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

func (c *Conductor) targets(name string) ([]score.Performance, error) {
	if name == "" {
		names := c.score.Names()
		out := make([]score.Performance, 0, len(names))
		for _, n := range names {
			p, _ := c.score.Performance(n)
			out = append(out, p)
		}
		return out, nil
	}
	p, ok := c.score.Performance(name)
	if !ok {
		return nil, &ConfigurationError{Name: name, Environment: c.score.Environment()}
	}
	return []score.Performance{p}, nil
}

func (c *Conductor) performerConfig(p score.Performance) performer.Config {
	cfg := c.score.Config()
	return performer.Config{
		MemoryMB: p.MemoryMB,
		Nice:     p.Nice,
		Dir:      cfg.WorkingDir,
		Env:      c.opts.Env.Merge(p.Env),
		Log:      cfg.Log,
	}
}

func (c *Conductor) deps() performer.Deps {
	return performer.Deps{
		Spawner:      c.opts.Spawner,
		Prober:       c.opts.Prober,
		Logger:       c.opts.Logger,
		Now:          c.opts.Now,
		Sleep:        c.opts.Sleep,
		RestartGrace: c.opts.RestartGrace,
	}
}

// track replaces any handle with the same name.
func (c *Conductor) track(h *performer.Performer) {
	for i, cur := range c.performers {
		if cur.Name() == h.Name() {
			c.performers[i] = h
			return
		}
	}
	c.performers = append(c.performers, h)
}

func (c *Conductor) emit(ctx context.Context, kind history.Kind, performerName string, payload map[string]any) {
	if len(c.opts.Sinks) == 0 {
		return
	}
	e := history.NewEvent(kind, performerName, c.score.Environment(), payload, c.opts.Now())
	_ = history.Emit(ctx, c.log, c.opts.Sinks, e)
}
