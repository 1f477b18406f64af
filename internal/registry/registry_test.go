package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/orchestral/internal/probe"
	"github.com/loykin/orchestral/internal/store/memory"
)

func newRegistry(t *testing.T) (*Registry, *probe.Fake, *memory.Store) {
	t.Helper()
	kv := memory.New()
	f := probe.NewFake()
	return New(kv, f, Options{TrackMemory: true, TrackCPU: true}), f, kv
}

func rec(name string, pid int) ProcessRecord {
	return ProcessRecord{Name: name, Command: "php artisan queue:work", PID: pid, StartedAt: time.Unix(1_700_000_000, 0).UTC()}
}

func TestLoad_SelfPruning(t *testing.T) {
	ctx := context.Background()
	r, f, _ := newRegistry(t)
	f.SetAlive(101, true)
	f.SetAlive(103, true)
	r.Save(ctx, []ProcessRecord{rec("w-1", 101), rec("w-2", 102), rec("w-3", 103), rec("w-4", 0)})

	live := r.Load(ctx)
	require.Len(t, live, 2)
	assert.Equal(t, "w-1", live[0].Name)
	assert.Equal(t, "w-3", live[1].Name)

	// dead entries were written back out
	assert.Len(t, r.Records(ctx), 2)

	// fixed point
	assert.Equal(t, live, r.Load(ctx))
}

func TestLoad_PIDReuseIsDead(t *testing.T) {
	ctx := context.Background()
	r, f, _ := newRegistry(t)
	f.SetAlive(200, true)
	f.SetStartTime(200, 5000)

	same := rec("a", 200)
	same.ProcStart = 5000
	r.Save(ctx, []ProcessRecord{same})
	assert.Len(t, r.Load(ctx), 1)

	reused := rec("a", 200)
	reused.ProcStart = 4000
	r.Save(ctx, []ProcessRecord{reused})
	assert.Empty(t, r.Load(ctx))
}

func TestSave_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	r, f, _ := newRegistry(t)
	for _, pid := range []int{1, 2, 3, 4} {
		f.SetAlive(pid, true)
	}
	r.Save(ctx, []ProcessRecord{rec("a", 1), rec("b", 2)})
	r.Save(ctx, []ProcessRecord{rec("c", 3), rec("d", 4)})

	names := []string{}
	for _, x := range r.Load(ctx) {
		names = append(names, x.Name)
	}
	assert.Equal(t, []string{"c", "d"}, names)
}

func TestSave_DuplicateNamesLastWins(t *testing.T) {
	ctx := context.Background()
	r, f, _ := newRegistry(t)
	f.SetAlive(1, true)
	f.SetAlive(2, true)
	r.Save(ctx, []ProcessRecord{rec("a", 1), rec("a", 2)})
	got := r.Load(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].PID)
}

func TestConductingFlag_RoundTrip(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newRegistry(t)
	assert.False(t, r.IsConducting(ctx))
	r.SetConducting(ctx, true)
	assert.True(t, r.IsConducting(ctx))

	// independent of the record set
	r.Clear(ctx)
	assert.True(t, r.IsConducting(ctx))

	r.SetConducting(ctx, false)
	assert.False(t, r.IsConducting(ctx))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	r, f, _ := newRegistry(t)
	f.SetAlive(1, true)
	r.Save(ctx, []ProcessRecord{rec("a", 1)})
	r.Clear(ctx)
	assert.Empty(t, r.Load(ctx))
	assert.Empty(t, r.Records(ctx))
}

func TestTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	kv := memory.New().WithClock(func() time.Time { return now })
	f := probe.NewFake()
	f.SetAlive(1, true)
	r := New(kv, f, Options{TTL: time.Hour})
	r.Save(ctx, []ProcessRecord{rec("a", 1)})
	r.SetConducting(ctx, true)

	now = now.Add(30 * time.Minute)
	require.Len(t, r.Load(ctx), 1) // refreshes the TTL

	now = now.Add(45 * time.Minute)
	assert.Len(t, r.Records(ctx), 1)
	assert.False(t, r.IsConducting(ctx))
}

func TestProcessInfo(t *testing.T) {
	r, f, _ := newRegistry(t)
	assert.Nil(t, r.ProcessInfo(0))
	assert.Nil(t, r.ProcessInfo(-1))
	assert.Nil(t, r.ProcessInfo(77))

	f.SetAlive(77, true)
	f.SetMemory(77, 64)
	info := r.ProcessInfo(77)
	require.NotNil(t, info)
	assert.True(t, info.Running)
	require.NotNil(t, info.MemoryMB)
	assert.Equal(t, 64.0, *info.MemoryMB)
	assert.Nil(t, info.CPUPercent)
}

type brokenKV struct{ memory.Store }

var errDown = errors.New("store down")

func (*brokenKV) Put(context.Context, string, []byte, time.Duration) error { return errDown }
func (*brokenKV) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, errDown }
func (*brokenKV) Forget(context.Context, string) error                     { return errDown }
func (*brokenKV) Has(context.Context, string) (bool, error)                { return false, errDown }

func TestStoreUnavailable_Degrades(t *testing.T) {
	ctx := context.Background()
	r := New(&brokenKV{}, probe.NewFake(), Options{})
	assert.NotPanics(t, func() {
		r.Save(ctx, []ProcessRecord{rec("a", 1)})
		r.SetConducting(ctx, true)
		r.Clear(ctx)
	})
	assert.Empty(t, r.Load(ctx))
	assert.False(t, r.IsConducting(ctx))
	assert.ErrorIs(t, r.Ping(ctx), errDown)
}

func TestNormalize_Entries(t *testing.T) {
	got := Normalize[Entry](rec("a", 1), rec("b", 2), rec("a", 3))
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, 3, got[0].PID)
	assert.Equal(t, "b", got[1].Name)
}
