// Package telemetry exposes read-only views of the running relay: an HTTP
// health server and an MQTT reporter for periodic performance reports.
// Nothing here feeds back into the pipeline.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// StatsFunc returns a JSON-serializable snapshot for /stats.
type StatsFunc func() any

// HealthServer serves liveness, readiness, stats and (optionally) the pose
// viewer websocket.
type HealthServer struct {
	addr    string
	ready   func() bool
	stats   StatsFunc
	viewer  http.Handler
	started time.Time

	engine *gin.Engine
	srv    *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewHealthServer builds the router. viewer may be nil, in which case
// /ws/poses is not registered.
func NewHealthServer(addr string, ready func() bool, stats StatsFunc, viewer http.Handler) *HealthServer {
	gin.SetMode(gin.ReleaseMode)

	s := &HealthServer{
		addr:    addr,
		ready:   ready,
		stats:   stats,
		viewer:  viewer,
		started: time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.liveness)
	r.GET("/readiness", s.readiness)
	r.GET("/stats", s.snapshot)
	if viewer != nil {
		r.GET("/ws/poses", gin.WrapH(viewer))
	}

	s.engine = r
	s.srv = &http.Server{
		Handler:     r,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler returns the router, for embedding and tests.
func (s *HealthServer) Handler() http.Handler {
	return s.engine
}

// liveness handles /health: if this runs, the process is alive.
func (s *HealthServer) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// readiness handles /readiness: 503 until the pipeline loop is running.
func (s *HealthServer) readiness(c *gin.Context) {
	if s.ready == nil || !s.ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *HealthServer) snapshot(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.stats())
}

// Start binds the listen address and serves in the background. Bind errors
// are returned synchronously.
func (s *HealthServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("telemetry: listen %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	endpoints := []string{"/health", "/readiness", "/stats"}
	if s.viewer != nil {
		endpoints = append(endpoints, "/ws/poses")
	}
	slog.Info("telemetry: health server started",
		"addr", ln.Addr().String(),
		"endpoints", endpoints,
	)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("telemetry: health server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *HealthServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *HealthServer) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutdown: %w", err)
	}
	slog.Info("telemetry: health server stopped")
	return nil
}
