package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/orchestral/internal/conductor"
	"github.com/loykin/orchestral/internal/performer"
)

// Router provides embeddable HTTP handlers for a running conductor.
// Endpoints:
//
//	GET  {basePath}/status       query: health=1 adds per-performer health
//	GET  {basePath}/instruments
//	GET  {basePath}/health
//	POST {basePath}/conduct      query: name=... (optional, all when empty)
//	POST {basePath}/pause        query: name=... (optional), wait=1
//	POST {basePath}/encore       query: name=... (optional)
//	POST {basePath}/monitor      runs one monitor tick
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	cond     *conductor.Conductor
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/conduct, ...
func NewRouter(cond *conductor.Conductor, basePath string) *Router {
	return &Router{cond: cond, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g.Group(r.basePath))
	return g
}

// Register mounts the endpoints on an existing gin route group.
func (r *Router) Register(group *gin.RouterGroup) {
	group.GET("/status", r.handleStatus)
	group.GET("/instruments", r.handleInstruments)
	group.GET("/health", r.handleHealth)
	group.POST("/conduct", r.handleConduct)
	group.POST("/pause", r.handlePause)
	group.POST("/encore", r.handleEncore)
	group.POST("/monitor", r.handleMonitor)
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down with the returned server's Shutdown or Close.
func NewServer(addr, basePath string, cond *conductor.Conductor, log *slog.Logger) *http.Server {
	return NewTLSServer(addr, basePath, cond, log, nil)
}

// NewTLSServer is NewServer serving HTTPS when tlsConf is non-nil. The
// certificate comes from tlsConf (Certificates or GetCertificate).
func NewTLSServer(addr, basePath string, cond *conductor.Conductor, log *slog.Logger, tlsConf *tls.Config) *http.Server {
	return Serve(addr, NewRouter(cond, basePath), log, tlsConf)
}

// Serve starts r on addr in a background goroutine.
func Serve(addr string, r *Router, log *slog.Logger, tlsConf *tls.Config) *http.Server {
	if log == nil {
		log = slog.Default()
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// encore and pause?wait=1 can run for the graceful shutdown timeout
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		var err error
		if tlsConf != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server stopped", "addr", addr, "error", err)
		}
	}()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	conductor.Status
	Health map[string]performer.Health `json:"health,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := StatusResponse{Status: r.cond.Status(c.Request.Context())}
	if truthy(c.Query("health")) {
		resp.Health = r.cond.HealthCheck()
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleInstruments(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.cond.Instruments())
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.cond.HealthCheck())
}

func (r *Router) handleConduct(c *gin.Context) {
	name, ok := performanceName(c)
	if !ok {
		return
	}
	if err := r.cond.Conduct(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handlePause(c *gin.Context) {
	name, ok := performanceName(c)
	if !ok {
		return
	}
	// pausing must finish even if the client goes away
	ctx := context.WithoutCancel(c.Request.Context())
	if truthy(c.Query("wait")) {
		r.cond.PauseWait(ctx, name)
	} else {
		r.cond.Pause(ctx, name)
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleEncore(c *gin.Context) {
	name, ok := performanceName(c)
	if !ok {
		return
	}
	if err := r.cond.Encore(context.WithoutCancel(c.Request.Context()), name); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleMonitor(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.cond.MonitorPerformers(c.Request.Context()))
}

// performanceName reads ?name=; an empty name addresses every performance.
func performanceName(c *gin.Context) (string, bool) {
	name := c.Query("name")
	if name != "" && !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._:-] and no '..'"})
		return "", false
	}
	return name, true
}

func writeError(c *gin.Context, err error) {
	var cfgErr *conductor.ConfigurationError
	if errors.As(err, &cfgErr) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
}
