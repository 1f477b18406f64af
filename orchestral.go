// Package orchestral is the embeddable facade over the performance supervisor.
package orchestral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/orchestral/internal/conductor"
	"github.com/loykin/orchestral/internal/config"
	"github.com/loykin/orchestral/internal/env"
	"github.com/loykin/orchestral/internal/history"
	hfactory "github.com/loykin/orchestral/internal/history/factory"
	"github.com/loykin/orchestral/internal/metrics"
	"github.com/loykin/orchestral/internal/performer"
	"github.com/loykin/orchestral/internal/probe"
	"github.com/loykin/orchestral/internal/registry"
	"github.com/loykin/orchestral/internal/score"
	iapi "github.com/loykin/orchestral/internal/server"
	"github.com/loykin/orchestral/internal/store"
	sfactory "github.com/loykin/orchestral/internal/store/factory"
	"github.com/loykin/orchestral/internal/store/memory"
	itls "github.com/loykin/orchestral/internal/tls"
)

// Re-export core types for external consumers.

type Config = config.Config

type Performance = config.Performance

type Conductor = conductor.Conductor

type Status = conductor.Status

type PerformerStatus = conductor.PerformerStatus

type Instrument = conductor.Instrument

type MonitorReport = conductor.MonitorReport

type Health = performer.Health

type ConfigurationError = conductor.ConfigurationError

type Store = store.KV

type HistorySink = history.Sink

type Event = history.Event

type Router = iapi.Router

type TLSConfig = itls.Config

type DaemonConfig = config.Daemon

var ErrUnknownPerformance = conductor.ErrUnknownPerformance

// LoadConfig reads a config file layered over defaults and ORCHESTRAL_* variables.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig returns built-in defaults with no performances.
func DefaultConfig() *Config { return config.Default() }

// NewMemoryStore returns a process-local store, useful for embedding and tests.
func NewMemoryStore() Store { return memory.New() }

// Options tune Open. Zero values use the config.
type Options struct {
	Logger *slog.Logger
	// Store replaces the store built from storage.dsn. Open does not close it.
	Store Store
	// Sinks are added to the audit sinks built from the config.
	Sinks []HistorySink
}

// Orchestra is a conductor wired to its store and audit sinks.
type Orchestra struct {
	*Conductor

	cfg     *Config
	log     *slog.Logger
	closers []func() error
}

// Open builds the store, registry, environment and audit sinks described by
// cfg and returns a ready conductor. Close releases them.
func Open(ctx context.Context, cfg *Config, opts Options) (*Orchestra, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = cfg.Log.NewSlogger()
	}
	o := &Orchestra{cfg: cfg, log: log}

	kv := opts.Store
	if kv == nil {
		built, err := sfactory.NewFromDSN(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		kv = built
		o.closers = append(o.closers, built.Close)
	}

	sc := score.New(cfg)
	reg := registry.New(kv, probe.OS{}, registry.Options{
		TTL:         cfg.Storage.TTL,
		TrackMemory: sc.TrackMemory(),
		TrackCPU:    sc.TrackCPU(),
		Logger:      log,
	})
	if err := reg.Ping(ctx); err != nil {
		_ = o.Close()
		return nil, fmt.Errorf("storage unavailable: %w", err)
	}

	globals, err := cfg.GlobalEnv()
	if err != nil {
		_ = o.Close()
		return nil, err
	}
	e := env.New(cfg.UseOSEnv)
	e.SetAll(globals)

	sinks := append([]history.Sink(nil), opts.Sinks...)
	if cfg.Storage.Driver == config.DriverDatabase {
		built, err := hfactory.NewSinks(ctx, AuditDSNs(cfg))
		if err != nil {
			_ = o.Close()
			return nil, fmt.Errorf("open audit sinks: %w", err)
		}
		o.closers = append(o.closers, func() error { hfactory.CloseAll(built); return nil })
		sinks = append(sinks, built...)
	}

	o.Conductor = conductor.New(sc, reg, conductor.Options{
		Logger: log,
		Sinks:  sinks,
		Env:    e,
	})
	return o, nil
}

// AuditDSNs lists where audit events go: audit_sinks, then audit_dsn, and
// when neither is set the storage DSN itself if it is a SQL database.
func AuditDSNs(cfg *Config) []string {
	var out []string
	out = append(out, cfg.Storage.AuditSinks...)
	if cfg.Storage.AuditDSN != "" {
		out = append(out, cfg.Storage.AuditDSN)
	}
	if len(out) > 0 {
		return out
	}
	ld := strings.ToLower(strings.TrimSpace(cfg.Storage.DSN))
	switch {
	case ld == "", strings.HasPrefix(ld, "memory://"), strings.HasPrefix(ld, "file://"):
		return nil
	default:
		return []string{cfg.Storage.DSN}
	}
}

func (o *Orchestra) Config() *Config      { return o.cfg }
func (o *Orchestra) Logger() *slog.Logger { return o.log }

// Close releases the store and sinks opened by Open. Performers keep running.
func (o *Orchestra) Close() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		errs = append(errs, o.closers[i]())
	}
	o.closers = nil
	return errors.Join(errs...)
}

// NewRouter exposes the conductor over HTTP for mounting in another server.
func NewRouter(c *Conductor, basePath string) *Router { return iapi.NewRouter(c, basePath) }

// NewHTTPServer starts an HTTP server exposing the conductor API.
func NewHTTPServer(addr, basePath string, c *Conductor, log *slog.Logger) *http.Server {
	return iapi.NewServer(addr, basePath, c, log)
}

// NewAPIServer starts the API server on addr with the base path and TLS
// settings of d. Without [daemon.tls] it serves plain HTTP.
func NewAPIServer(addr string, c *Conductor, log *slog.Logger, d DaemonConfig) (*http.Server, error) {
	conf, err := itls.Setup(d.TLS)
	if err != nil {
		return nil, fmt.Errorf("tls setup: %w", err)
	}
	return iapi.Serve(addr, iapi.NewRouter(c, d.BasePath), log, conf), nil
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewMetricsServer returns an unstarted server exposing /metrics from the default registry.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ServeMetrics runs a metrics server on addr in the caller goroutine.
func ServeMetrics(addr string) error {
	return NewMetricsServer(addr).ListenAndServe()
}
