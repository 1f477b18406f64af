package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/loykin/orchestral"
)

const shutdownTimeout = 5 * time.Second

// daemonArgs returns the current command line without the detach flag.
func daemonArgs() []string {
	var out []string
	for _, arg := range os.Args[1:] {
		if arg == "--detach" || strings.HasPrefix(arg, "--detach=") {
			continue
		}
		out = append(out, arg)
	}
	return out
}

// daemonize re-executes the binary with args in a new session and returns
// the child PID. The child logs through --logfile; its stdio is discarded.
func daemonize(args []string, logFile string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to get executable path: %w", err)
	}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o750); err != nil {
			return 0, fmt.Errorf("failed to create log dir: %w", err)
		}
	}

	// #nosec G204
	cmd := exec.Command(executable, args...)
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon process: %w", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

// writePidFile writes the daemon PID to a file
func writePidFile(pidFile string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0o750); err != nil {
		return err
	}
	// #nosec G302
	f, err := os.OpenFile(pidFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.WriteString(strconv.Itoa(pid))
	return err
}

func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	return os.Remove(pidFile)
}

// acquireMonitorLock takes the exclusive monitor lock or reports who holds it.
func acquireMonitorLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("another monitor daemon holds %s", path)
	}
	return lock, nil
}

func pick[T comparable](flag, cfg T) T {
	var zero T
	if flag != zero {
		return flag
	}
	return cfg
}

// runDaemon monitors until the conducting flag is cleared or a signal
// arrives. On a signal every performer is paused before returning.
func runDaemon(ctx context.Context, w io.Writer, o *orchestral.Orchestra, f ConductFlags) error {
	cfg := o.Config()
	log := o.Logger()

	lock, err := acquireMonitorLock(cfg.Daemon.LockFile)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	if pidFile := pick(f.PIDFile, cfg.Daemon.PIDFile); pidFile != "" {
		if err := writePidFile(pidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(pidFile) }()
	}

	var servers []*http.Server
	if addr := pick(f.MetricsListen, cfg.Daemon.MetricsListen); addr != "" {
		if err := orchestral.RegisterMetricsDefault(); err != nil {
			log.Warn("register metrics", "error", err)
		}
		ms := orchestral.NewMetricsServer(addr)
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "error", err)
			}
		}()
		log.Info("metrics server listening", "addr", addr)
		servers = append(servers, ms)
	}
	if addr := pick(f.Listen, cfg.Daemon.Listen); addr != "" {
		api, err := orchestral.NewAPIServer(addr, o.Conductor, log, cfg.Daemon)
		if err != nil {
			return err
		}
		servers = append(servers, api)
		log.Info("api server listening", "addr", addr, "base_path", cfg.Daemon.BasePath, "tls", cfg.Daemon.TLS.Enabled)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, s := range servers {
			_ = s.Shutdown(sctx)
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, _ = fmt.Fprintf(w, "Monitoring (pid %d)\n", os.Getpid())
	o.Run(sigCtx, pick(f.Interval, cfg.Daemon.Interval))

	if sigCtx.Err() != nil {
		log.Info("shutting down, pausing all performers")
		grace := time.Duration(cfg.Management.GracefulShutdownTimeout) * time.Second
		pctx, cancel := context.WithTimeout(context.Background(), grace+shutdownTimeout)
		defer cancel()
		o.PauseWait(pctx, "")
		_, _ = fmt.Fprintln(w, "Paused all performances")
	}
	return nil
}
