package orchestral

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/orchestral/internal/config"
	"github.com/loykin/orchestral/internal/history"
	hsqlite "github.com/loykin/orchestral/internal/history/sqlite"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sleeperConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "testing"
	cfg.Program = "sleep"
	cfg.UseOSEnv = false
	cfg.Performances = map[string]map[string]config.Performance{
		"testing": {"sleeper": {Command: "30", Performers: 2}},
	}
	return cfg
}

func TestOpenConductStatusPause(t *testing.T) {
	requireUnix(t)
	ctx := context.Background()
	rec := &history.Recorder{}
	o, err := Open(ctx, sleeperConfig(), Options{Logger: quietLogger(), Store: NewMemoryStore(), Sinks: []HistorySink{rec}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })

	require.NoError(t, o.Conduct(ctx, "sleeper"))
	st := o.Status(ctx)
	assert.True(t, st.Conducting)
	assert.Equal(t, "testing", st.Environment)
	require.Equal(t, 2, st.Total)
	assert.Equal(t, 2, st.Running)
	assert.Equal(t, "sleeper-1", st.Performers[0].Name)
	assert.Equal(t, "sleep 30", st.Performers[0].Command)

	o.PauseWait(ctx, "")
	st = o.Status(ctx)
	assert.False(t, st.Conducting)
	assert.Zero(t, st.Total)

	assert.Len(t, rec.OfKind(history.KindPerformanceStarted), 1)
	assert.Len(t, rec.OfKind(history.KindPerformanceStopped), 1)
}

func TestOpenUnknownPerformance(t *testing.T) {
	o, err := Open(context.Background(), sleeperConfig(), Options{Logger: quietLogger(), Store: NewMemoryStore()})
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	err = o.Conduct(context.Background(), "nope")
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "nope", ce.Name)
	assert.ErrorIs(t, err, ErrUnknownPerformance)
}

func TestOpenDatabaseDriverWritesAudit(t *testing.T) {
	requireUnix(t)
	ctx := context.Background()
	dir := t.TempDir()
	cfg := sleeperConfig()
	cfg.Storage.Driver = config.DriverDatabase
	cfg.Storage.DSN = "sqlite://" + filepath.Join(dir, "state.db")

	o, err := Open(ctx, cfg, Options{Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, o.Conduct(ctx, "sleeper"))
	o.PauseWait(ctx, "")
	require.NoError(t, o.Close())

	sink, err := hsqlite.New(cfg.Storage.DSN)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	n, err := sink.Count(ctx, "sleeper", history.KindPerformanceStarted)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenCacheDriverSkipsAudit(t *testing.T) {
	dir := t.TempDir()
	cfg := sleeperConfig()
	cfg.Storage.DSN = "sqlite://" + filepath.Join(dir, "state.db")
	cfg.Storage.AuditDSN = "sqlite://" + filepath.Join(dir, "audit.db")

	o, err := Open(context.Background(), cfg, Options{Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, o.Close())
	_, err = os.Stat(filepath.Join(dir, "audit.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestOpenBadEnvFile(t *testing.T) {
	cfg := sleeperConfig()
	cfg.EnvFiles = []string{filepath.Join(t.TempDir(), "missing.env")}
	_, err := Open(context.Background(), cfg, Options{Logger: quietLogger(), Store: NewMemoryStore()})
	require.Error(t, err)
}

func TestAuditDSNs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DSN = "postgres://u:p@db/app"
	assert.Equal(t, []string{"postgres://u:p@db/app"}, AuditDSNs(cfg))

	cfg.Storage.DSN = "memory://"
	assert.Empty(t, AuditDSNs(cfg))

	cfg.Storage.AuditSinks = []string{"clickhouse://ch:9000/logs"}
	cfg.Storage.AuditDSN = "sqlite:///tmp/audit.db"
	assert.Equal(t, []string{"clickhouse://ch:9000/logs", "sqlite:///tmp/audit.db"}, AuditDSNs(cfg))
}

func TestRouterFacade(t *testing.T) {
	o, err := Open(context.Background(), sleeperConfig(), Options{Logger: quietLogger(), Store: NewMemoryStore()})
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	srv := httptest.NewServer(NewRouter(o.Conductor, "/api").Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/api/instruments")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(b), "sleeper")
}

func TestNewAPIServerServesBasePath(t *testing.T) {
	o, err := Open(context.Background(), sleeperConfig(), Options{Logger: quietLogger(), Store: NewMemoryStore()})
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	d := o.Config().Daemon
	d.BasePath = "/v1"
	srv, err := NewAPIServer(addr, o.Conductor, quietLogger(), d)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	get := func(path string) int {
		resp, err := http.Get("http://" + addr + path)
		if err != nil {
			return 0
		}
		_ = resp.Body.Close()
		return resp.StatusCode
	}
	require.Eventually(t, func() bool { return get("/v1/status") == http.StatusOK }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, http.StatusNotFound, get("/api/status"))
}

func TestNewAPIServerMissingCertificate(t *testing.T) {
	o, err := Open(context.Background(), sleeperConfig(), Options{Logger: quietLogger(), Store: NewMemoryStore()})
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	d := o.Config().Daemon
	d.TLS = TLSConfig{Enabled: true, Dir: t.TempDir(), AutoGenerate: false}
	_, err = NewAPIServer("127.0.0.1:0", o.Conductor, quietLogger(), d)
	assert.Error(t, err)
}

func TestMetricsServerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg))

	ms := NewMetricsServer(":0")
	srv := httptest.NewServer(ms.Handler)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/other")
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	assert.True(t, strings.HasPrefix(ms.Addr, ":"))
}
