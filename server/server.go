// Package server exposes voice sessions to browser widgets over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/joan6141318-ai/Moon-sub000/audio"
	"github.com/joan6141318-ai/Moon-sub000/bridge"
	"github.com/joan6141318-ai/Moon-sub000/config"
	"github.com/joan6141318-ai/Moon-sub000/internal/types"
	"github.com/joan6141318-ai/Moon-sub000/metrics"
	"github.com/joan6141318-ai/Moon-sub000/voice"
)

// Backend creates session controllers.
type Backend interface {
	NewController(device audio.Device, observer voice.Observer) *voice.Controller
	ProviderName() string
	Version() string
}

// Server serves health, status, metrics and the widget websocket.
type Server struct {
	cfg         config.ServerConfig
	backend     Backend
	metrics     *metrics.Metrics
	metricsPath string

	engine   *gin.Engine
	upgrader *websocket.Upgrader
	tracker  *Tracker
	started  time.Time

	mu      sync.Mutex
	baseCtx context.Context
}

// New creates a server. m may be nil to disable the metrics endpoint.
func New(cfg config.ServerConfig, backend Backend, m *metrics.Metrics, metricsPath string) *Server {
	s := &Server{
		cfg:         cfg,
		backend:     backend,
		metrics:     m,
		metricsPath: metricsPath,
		upgrader:    bridge.NewUpgrader(cfg.AllowedOrigins, cfg.HandshakeTimeout),
		tracker:     NewTracker(),
		started:     time.Now(),
		baseCtx:     context.Background(),
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), requestLogger(), cors.New(corsConfig(cfg.AllowedOrigins)))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/status", s.handleStatus)
	if s.metrics != nil && s.metricsPath != "" {
		s.engine.GET(s.metricsPath, gin.WrapH(s.metrics.Handler()))
	}
	s.engine.GET("/voice", s.handleVoice)
}

func corsConfig(origins []string) cors.Config {
	cc := cors.DefaultConfig()
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	cc.AllowMethods = []string{http.MethodGet, http.MethodOptions}
	return cc
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Tracker returns the live session tracker.
func (s *Server) Tracker() *Tracker {
	return s.tracker
}

// Run listens on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down: the
// listener stops, every widget connection is closed and its session torn
// down before Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown(srv)
	})
	return g.Wait()
}

func (s *Server) shutdown(srv *http.Server) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("server shutting down", "sessions", s.tracker.Len())
	err := srv.Shutdown(ctx)

	// Hijacked websocket connections are not tracked by http.Server.
	s.tracker.CloseAll()
	if werr := s.tracker.Wait(ctx); werr != nil {
		slog.Warn("sessions did not finish", "error", werr, "remaining", s.tracker.Len())
		err = errors.Join(err, werr)
	}
	return err
}

func (s *Server) base() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, types.ServerStatus{
		ActiveSessions: s.tracker.Len(),
		Provider:       s.backend.ProviderName(),
		Version:        s.backend.Version(),
		Uptime:         time.Since(s.started).Round(time.Second).String(),
		Sessions:       s.tracker.Statuses(s.backend.ProviderName()),
	})
}

func (s *Server) handleVoice(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade", "remote", c.ClientIP(), "error", err)
		return
	}

	bc := bridge.DefaultConfig()
	if s.cfg.ReadLimit > 0 {
		bc.ReadLimit = s.cfg.ReadLimit
	}
	bc.ICEServers = s.cfg.ICEServers

	conn := bridge.NewConn(ws, bc)
	ctrl := s.backend.NewController(conn, conn)
	conn.Bind(ctrl)

	s.serveConn(conn, ctrl, c.ClientIP())
}

// serveConn runs the socket loops and the controller loop until any of
// them ends.
func (s *Server) serveConn(conn *bridge.Conn, ctrl *voice.Controller, remote string) {
	s.tracker.add(&tracked{id: conn.ID, conn: conn, ctrl: ctrl, started: time.Now()})
	defer s.tracker.remove(conn.ID)

	if s.metrics != nil {
		s.metrics.Connections.Inc()
		defer s.metrics.Connections.Dec()
	}
	slog.Info("widget connected", "conn", conn.ID, "remote", remote)

	ctx, cancel := context.WithCancel(s.base())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return conn.ReadLoop(gctx)
	})
	g.Go(func() error {
		return conn.WriteLoop(gctx)
	})
	g.Go(func() error {
		if err := ctrl.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Warn("widget connection ended", "conn", conn.ID, "error", err)
		return
	}
	slog.Info("widget disconnected", "conn", conn.ID)
}
