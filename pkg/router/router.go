// Package router wires the core process's HTTP surface: health/metrics
// endpoints plus the probe-protocol route group, instrumented the same
// way the teacher's gateway `Router` instrumented proxied routes —
// mutex-guarded per-route counters — but serving NightWatch's own
// control-plane handlers instead of reverse-proxying to upstreams.
package router

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nightwatch/nightwatch/pkg/probeproto"
)

// Metrics holds per-route request counters, the same shape the teacher's
// gateway router kept for its proxied routes.
type Metrics struct {
	mu            sync.RWMutex
	RequestCount  map[string]int64 `json:"request_count"`
	ErrorCount    map[string]int64 `json:"error_count"`
	ResponseTimes map[string]int64 `json:"response_times_ns"`
}

func newMetrics() *Metrics {
	return &Metrics{
		RequestCount:  make(map[string]int64),
		ErrorCount:    make(map[string]int64),
		ResponseTimes: make(map[string]int64),
	}
}

func (m *Metrics) record(route string, status int, dur time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount[route]++
	m.ResponseTimes[route] += dur.Nanoseconds()
	if status >= 500 {
		m.ErrorCount[route]++
	}
}

// Snapshot returns a copy of the current metrics, safe to serialize.
func (m *Metrics) Snapshot() *Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := newMetrics()
	for k, v := range m.RequestCount {
		out.RequestCount[k] = v
	}
	for k, v := range m.ErrorCount {
		out.ErrorCount[k] = v
	}
	for k, v := range m.ResponseTimes {
		out.ResponseTimes[k] = v
	}
	return out
}

func (m *Metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.record(c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// Router owns the core's gin engine and its route-level metrics.
type Router struct {
	engine  *gin.Engine
	metrics *Metrics
}

// New builds the core's HTTP surface: /healthz, /metrics, and the probe
// protocol group under /v1/probe mounted from probeproto.Server.
func New(probeServer *probeproto.Server) *Router {
	engine := gin.New()
	engine.Use(gin.Recovery())

	metrics := newMetrics()
	engine.Use(metrics.middleware())

	r := &Router{engine: engine, metrics: metrics}

	engine.GET("/healthz", r.handleHealthz)
	engine.GET("/metrics", r.handleMetrics)

	probeServer.RegisterRoutes(engine.Group("/v1/probe"))

	return r
}

// Engine exposes the underlying gin engine for cmd/core to Run().
func (r *Router) Engine() *gin.Engine { return r.engine }

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, r.metrics.Snapshot())
}
