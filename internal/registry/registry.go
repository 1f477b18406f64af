// Package registry is the durable record of which performers exist, shared by
// every invocation through a key/value store.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loykin/orchestral/internal/probe"
	"github.com/loykin/orchestral/internal/store"
)

const (
	ProcessesKey  = "orchestral:processes"
	ConductingKey = "orchestral:conducting"

	DefaultTTL = 7 * 24 * time.Hour
)

// Options configures a Registry. Zero values pick defaults.
type Options struct {
	TTL         time.Duration
	TrackMemory bool
	TrackCPU    bool
	Logger      *slog.Logger
}

// Registry persists ProcessRecords and the conducting flag. Store failures
// degrade to empty data and are logged, never returned.
type Registry struct {
	kv    store.KV
	probe probe.Prober
	opts  Options
	log   *slog.Logger
}

func New(kv store.KV, p probe.Prober, opts Options) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Registry{kv: kv, probe: p, opts: opts, log: l.With("component", "registry")}
}

// Ping verifies the backing store answers at all.
func (r *Registry) Ping(ctx context.Context) error {
	_, err := r.kv.Has(ctx, ConductingKey)
	return err
}

// Save replaces the stored set and resets its TTL.
func (r *Registry) Save(ctx context.Context, records []ProcessRecord) {
	records = Normalize(records...)
	b, err := json.Marshal(records)
	if err != nil {
		r.log.Warn("encode records", "error", err)
		return
	}
	if err := r.kv.Put(ctx, ProcessesKey, b, r.opts.TTL); err != nil {
		r.log.Warn("save records", "error", err)
	}
}

// Records returns the stored set without probing the OS.
func (r *Registry) Records(ctx context.Context) []ProcessRecord {
	b, ok, err := r.kv.Get(ctx, ProcessesKey)
	if err != nil {
		r.log.Warn("load records", "error", err)
		return nil
	}
	if !ok || len(b) == 0 {
		return nil
	}
	var recs []ProcessRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		r.log.Warn("decode records", "error", err)
		return nil
	}
	return recs
}

// Load returns the records whose process is alive. The filtered set is
// written back, which drops dead records and refreshes the TTL.
func (r *Registry) Load(ctx context.Context) []ProcessRecord {
	recs := r.Records(ctx)
	if len(recs) == 0 {
		return nil
	}
	live := make([]ProcessRecord, 0, len(recs))
	for _, rec := range recs {
		if r.Alive(rec) {
			live = append(live, rec)
		}
	}
	if len(live) != len(recs) {
		r.log.Debug("pruned dead records", "dropped", len(recs)-len(live))
	}
	r.Save(ctx, live)
	return live
}

// Alive reports whether rec's PID is live and, when both sides know it, was
// started at the recorded time.
func (r *Registry) Alive(rec ProcessRecord) bool {
	if rec.PID <= 0 || !r.probe.Alive(rec.PID) {
		return false
	}
	if rec.ProcStart > 0 {
		if cur := r.probe.StartTime(rec.PID); cur > 0 && cur != rec.ProcStart {
			return false
		}
	}
	return true
}

// Clear removes the stored set.
func (r *Registry) Clear(ctx context.Context) {
	if err := r.kv.Forget(ctx, ProcessesKey); err != nil {
		r.log.Warn("clear records", "error", err)
	}
}

func (r *Registry) SetConducting(ctx context.Context, on bool) {
	var err error
	if on {
		err = r.kv.Put(ctx, ConductingKey, []byte("true"), r.opts.TTL)
	} else {
		err = r.kv.Forget(ctx, ConductingKey)
	}
	if err != nil {
		r.log.Warn("set conducting", "conducting", on, "error", err)
	}
}

func (r *Registry) IsConducting(ctx context.Context) bool {
	ok, err := r.kv.Has(ctx, ConductingKey)
	if err != nil {
		r.log.Warn("read conducting", "error", err)
		return false
	}
	return ok
}

// ProcessInfo returns nil for pid <= 0 or a dead process.
func (r *Registry) ProcessInfo(pid int) *probe.Snapshot {
	return probe.Info(r.probe, pid, r.opts.TrackMemory, r.opts.TrackCPU)
}
