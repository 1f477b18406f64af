package probe

import "sync"

// Fake is an in-memory Prober for tests and dry runs. The zero value reports
// every PID as dead.
type Fake struct {
	mu     sync.Mutex
	alive  map[int]bool
	memory map[int]float64
	cpu    map[int]float64
	start  map[int]int64
}

func NewFake() *Fake {
	return &Fake{alive: map[int]bool{}, memory: map[int]float64{}, cpu: map[int]float64{}, start: map[int]int64{}}
}

// SetAlive marks pid as live or dead.
func (f *Fake) SetAlive(pid int, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	if alive {
		f.alive[pid] = true
	} else {
		delete(f.alive, pid)
	}
}

// SetMemory sets the resident memory reported for pid.
func (f *Fake) SetMemory(pid int, mb float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	f.memory[pid] = mb
}

// SetCPU sets the CPU share reported for pid.
func (f *Fake) SetCPU(pid int, pct float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	f.cpu[pid] = pct
}

// SetStartTime sets the start time reported for pid.
func (f *Fake) SetStartTime(pid int, unix int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	f.start[pid] = unix
}

func (f *Fake) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *Fake) MemoryMB(pid int) *float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive[pid] {
		return nil
	}
	v, ok := f.memory[pid]
	if !ok {
		return nil
	}
	return &v
}

func (f *Fake) CPUPercent(pid int) *float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive[pid] {
		return nil
	}
	v, ok := f.cpu[pid]
	if !ok {
		return nil
	}
	return &v
}

func (f *Fake) StartTime(pid int) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.start[pid]
}

func (f *Fake) init() {
	if f.alive == nil {
		f.alive = map[int]bool{}
		f.memory = map[int]float64{}
		f.cpu = map[int]float64{}
		f.start = map[int]int64{}
	}
}
