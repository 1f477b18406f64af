package performer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
)

// SpawnRequest describes one detached child process.
type SpawnRequest struct {
	Name   string
	Argv   []string
	Dir    string
	Env    []string // nil inherits the supervisor's environment
	Nice   int
	Stdout *os.File // nil discards
	Stderr *os.File // nil discards
}

// Spawner starts and signals OS processes.
type Spawner interface {
	// Spawn starts the process in its own session and returns its PID.
	Spawn(ctx context.Context, req SpawnRequest) (int, error)
	// Signal delivers sig to the process group led by pid. A missing process is not an error.
	Signal(pid int, sig syscall.Signal) error
}

// OSSpawner spawns real processes with os/exec.
type OSSpawner struct {
	Logger *slog.Logger
}

var _ Spawner = OSSpawner{}

func (s OSSpawner) Spawn(_ context.Context, req SpawnRequest) (int, error) {
	if len(req.Argv) == 0 {
		return 0, errors.New("empty command")
	}
	// The child must outlive this invocation, so it is not bound to ctx.
	// #nosec G204 -- argv comes from the operator's configuration and is never passed to a shell
	cmd := exec.Command(req.Argv[0], req.Argv[1:]...)
	cmd.Dir = req.Dir
	cmd.Env = req.Env
	if req.Stdout != nil {
		cmd.Stdout = req.Stdout
	}
	if req.Stderr != nil {
		cmd.Stderr = req.Stderr
	}
	configureSysProcAttr(cmd)
	err := cmd.Start()
	closeFiles(req.Stdout, req.Stderr)
	if err != nil {
		return 0, fmt.Errorf("spawn %s: %w", req.Name, err)
	}
	pid := cmd.Process.Pid
	if req.Nice != 0 {
		if err := setNice(pid, req.Nice); err != nil && s.Logger != nil {
			s.Logger.Warn("set nice", "performer", req.Name, "pid", pid, "nice", req.Nice, "error", err)
		}
	}
	// reap the child if it exits while this invocation is still alive
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

func (OSSpawner) Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	return signalGroup(pid, sig)
}

func closeFiles(fs ...*os.File) {
	for _, f := range fs {
		if f != nil {
			_ = f.Close()
		}
	}
}
