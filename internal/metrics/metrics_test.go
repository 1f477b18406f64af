package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func freshRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	orig := regOK.Load()
	regOK.Store(false)
	t.Cleanup(func() { regOK.Store(orig) })
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := freshRegistry(t)
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncStart("worker-1")
	IncStart("worker-1")
	IncRestart("worker-1")
	IncStop("worker-1")
	IncConduct("worker")
	IncMonitorRestart("worker", "Memory limit exceeded")
	IncRestartBudgetExhausted("worker")
	IncMemoryAlert("worker")
	IncMonitorTick()
	SetRunningPerformers("worker", 3)
	mem, cpu := 12.5, 0.5
	ObservePerformer("worker-1", &mem, &cpu)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"orchestral_performer_starts_total":                false,
		"orchestral_performer_stops_total":                 false,
		"orchestral_performer_restarts_total":              false,
		"orchestral_monitor_restarts_total":                false,
		"orchestral_monitor_restart_budget_exhausted_total": false,
		"orchestral_monitor_memory_alerts_total":           false,
		"orchestral_monitor_ticks_total":                   false,
		"orchestral_conducts_total":                        false,
		"orchestral_running_performers":                    false,
		"orchestral_performer_memory_mb":                   false,
		"orchestral_performer_cpu_percent":                 false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
	var m dto.Metric
	if err := performerStarts.WithLabelValues("worker-1").Write(&m); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := m.GetCounter().GetValue(); got < 2 {
		t.Fatalf("expected at least 2 starts, got %v", got)
	}
}

func seriesCount(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return len(mf.GetMetric())
		}
	}
	return 0
}

func TestObservePerformer_NilClears(t *testing.T) {
	reg := freshRegistry(t)
	before := seriesCount(t, reg, "orchestral_performer_memory_mb")
	mem := 10.0
	ObservePerformer("gone-1", &mem, nil)
	if got := seriesCount(t, reg, "orchestral_performer_memory_mb"); got != before+1 {
		t.Fatalf("expected %d series, got %d", before+1, got)
	}
	ObservePerformer("gone-1", nil, nil)
	if got := seriesCount(t, reg, "orchestral_performer_memory_mb"); got != before {
		t.Fatalf("expected %d series after clearing, got %d", before, got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	orig := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(orig)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncStart("x")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "orchestral_performer_starts_total") {
		t.Fatalf("metrics output missing starts_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	reg := freshRegistry(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncStart("c")
			IncRestart("c")
			IncStop("c")
			IncMonitorTick()
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	orig := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(orig)

	// no-ops, must not panic
	IncStart("test")
	IncRestart("test")
	IncStop("test")
	IncConduct("test")
	SetRunningPerformers("test", 5)
	ObservePerformer("test", nil, nil)
	ForgetPerformer("test")
}

type errorRegisterer struct{}

func (errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}
func (errorRegisterer) MustRegister(...prometheus.Collector)   {}
func (errorRegisterer) Unregister(prometheus.Collector) bool { return false }

func TestRegisterError(t *testing.T) {
	orig := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(orig)

	err := Register(errorRegisterer{})
	if err == nil || err.Error() != "test registration error" {
		t.Fatalf("expected registration error, got %v", err)
	}
	if regOK.Load() {
		t.Fatalf("failed registration must not enable helpers")
	}
}
