package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/orchestral"
)

func TestDaemonArgsDropsDetach(t *testing.T) {
	orig := os.Args
	t.Cleanup(func() { os.Args = orig })
	os.Args = []string{"orchestral", "conduct", "--daemon", "--detach", "--pidfile", "/tmp/o.pid", "--detach=true", "emails"}
	assert.Equal(t, []string{"conduct", "--daemon", "--pidfile", "/tmp/o.pid", "emails"}, daemonArgs())
}

func TestPidFileRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "run", "orchestral.pid")
	require.NoError(t, writePidFile(p, 4242))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "4242", string(b))
	require.NoError(t, removePidFile(p))
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, removePidFile(""))
}

func TestMonitorLockIsExclusive(t *testing.T) {
	p := filepath.Join(t.TempDir(), "state", "monitor.lock")
	first, err := acquireMonitorLock(p)
	require.NoError(t, err)

	_, err = acquireMonitorLock(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another monitor daemon")

	require.NoError(t, first.Unlock())
	again, err := acquireMonitorLock(p)
	require.NoError(t, err)
	_ = again.Unlock()
}

func TestPick(t *testing.T) {
	assert.Equal(t, "flag", pick("flag", "cfg"))
	assert.Equal(t, "cfg", pick("", "cfg"))
	assert.Equal(t, 2*time.Second, pick(0, 2*time.Second))
}

func TestRunDaemonPausesOnCancel(t *testing.T) {
	requireUnix(t)
	cfg, err := orchestral.LoadConfig(writeConfig(t))
	require.NoError(t, err)
	pidFile := filepath.Join(t.TempDir(), "daemon.pid")

	o, err := orchestral.Open(context.Background(), cfg, orchestral.Options{})
	require.NoError(t, err)
	defer func() { _ = o.Close() }()
	require.NoError(t, o.Conduct(context.Background(), "sleeper"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var out bytes.Buffer
	go func() {
		done <- runDaemon(ctx, &out, o, ConductFlags{Daemon: true, Interval: 20 * time.Millisecond, PIDFile: pidFile})
	}()

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(pidFile)
		return err == nil && string(b) == strconv.Itoa(os.Getpid())
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("daemon did not stop")
	}

	st := o.Status(context.Background())
	assert.False(t, st.Conducting)
	assert.Zero(t, st.Total)
	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))

	lock, err := acquireMonitorLock(cfg.Daemon.LockFile)
	require.NoError(t, err)
	_ = lock.Unlock()
}

func TestRunDaemonExitsWhenNotConducting(t *testing.T) {
	cfg, err := orchestral.LoadConfig(writeConfig(t))
	require.NoError(t, err)
	o, err := orchestral.Open(context.Background(), cfg, orchestral.Options{Store: orchestral.NewMemoryStore()})
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	var out bytes.Buffer
	require.NoError(t, runDaemon(context.Background(), &out, o, ConductFlags{Interval: time.Millisecond}))
	assert.NotContains(t, out.String(), "Paused all performances")
}
