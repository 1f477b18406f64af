package performer

import (
	"context"
	"sync"
	"syscall"

	"github.com/loykin/orchestral/internal/probe"
)

// FakeSpawner hands out sequential PIDs and marks them alive on a probe.Fake.
// Signals mark the PID dead unless IgnoreSignals is set.
type FakeSpawner struct {
	mu            sync.Mutex
	Probe         *probe.Fake
	NextPID       int
	Err           error
	IgnoreSignals bool

	Spawned  []SpawnRequest
	Signaled []Signal
}

// Signal is one delivered signal.
type Signal struct {
	PID int
	Sig syscall.Signal
}

var _ Spawner = (*FakeSpawner)(nil)

func NewFakeSpawner(p *probe.Fake) *FakeSpawner {
	return &FakeSpawner{Probe: p, NextPID: 1000}
}

func (f *FakeSpawner) Spawn(_ context.Context, req SpawnRequest) (int, error) {
	closeFiles(req.Stdout, req.Stderr)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Spawned = append(f.Spawned, req)
	if f.Err != nil {
		return 0, f.Err
	}
	f.NextPID++
	pid := f.NextPID
	if f.Probe != nil {
		f.Probe.SetAlive(pid, true)
	}
	return pid, nil
}

func (f *FakeSpawner) Signal(pid int, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Signaled = append(f.Signaled, Signal{PID: pid, Sig: sig})
	if !f.IgnoreSignals && f.Probe != nil {
		f.Probe.SetAlive(pid, false)
	}
	return nil
}

// SpawnCount returns how many spawns were attempted.
func (f *FakeSpawner) SpawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Spawned)
}

// SignalsFor returns the signals delivered to pid.
func (f *FakeSpawner) SignalsFor(pid int) []syscall.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []syscall.Signal
	for _, s := range f.Signaled {
		if s.PID == pid {
			out = append(out, s.Sig)
		}
	}
	return out
}
