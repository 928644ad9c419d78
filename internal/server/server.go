// Package server exposes the acquisition controller over HTTP: a small JSON
// API for the operator actions, a WebSocket event stream for live readings,
// Prometheus metrics and, optionally, the static web UI.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/CK6170/Intellispec-go/acquisition"
	"github.com/CK6170/Intellispec-go/internal/metrics"
	"github.com/CK6170/Intellispec-go/models"
	"github.com/CK6170/Intellispec-go/serial"
)

// Controller is the part of the acquisition controller the server drives.
type Controller interface {
	Connect(ctx context.Context, port string) error
	Disconnect() error
	Calibrate() error
	Measure() error
	Status() acquisition.Status
	Subscribe() (<-chan models.Event, func())
}

type Options struct {
	Controller Controller
	Serial     models.SERIAL
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	// WebDir is served at / when set.
	WebDir string
	// PortCache is the file remembering the last working port.
	PortCache string
	// ListPorts defaults to serial.ListPorts.
	ListPorts func() []models.PortInfo
}

type Server struct {
	router  *gin.Engine
	ctrl    Controller
	logger  *zap.Logger
	metrics *metrics.Metrics
	hub     *WSHub
	ports   *PortCache
	serial  models.SERIAL
	list    func() []models.PortInfo
}

func New(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:  gin.New(),
		ctrl:    opts.Controller,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		hub:     NewWSHub(),
		ports:   NewPortCache(opts.PortCache),
		serial:  opts.Serial.WithDefaults(),
		list:    opts.ListPorts,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.list == nil {
		s.list = serial.ListPorts
	}

	s.router.Use(gin.Recovery())
	s.router.Use(loggerMiddleware(s.logger))

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/ports", s.handlePorts)
		api.GET("/status", s.handleStatus)
		api.POST("/connect", s.handleConnect)
		api.POST("/disconnect", s.handleDisconnect)
		api.POST("/calibrate", s.handleCalibrate)
		api.POST("/measure", s.handleMeasure)
	}
	s.router.GET("/ws/acquisition", s.handleWS)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	if opts.WebDir != "" {
		s.router.NoRoute(staticHandler(opts.WebDir))
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Serve forwards controller events to WebSocket clients and serves HTTP on ln
// until ctx is cancelled, then shuts down within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	fwdCtx, stopForward := context.WithCancel(ctx)
	defer stopForward()
	go s.Forward(fwdCtx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("address", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	s.hub.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// Forward relays controller events to the WebSocket hub until ctx ends or the
// controller closes the subscription.
func (s *Server) Forward(ctx context.Context) {
	events, cancel := s.ctrl.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.hub.Broadcast(ev); err != nil {
				s.logger.Warn("Event broadcast failed", zap.Error(err))
			}
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{OK: true, Timestamp: time.Now()})
}

func (s *Server) handlePorts(c *gin.Context) {
	ports := s.list()
	if ports == nil {
		ports = []models.PortInfo{}
	}
	c.JSON(http.StatusOK, PortsResponse{
		Ports:    ports,
		LastPort: s.ports.Get(serialKey(s.serial)),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleConnect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, APIError{Error: err.Error(), Code: "bad_request"})
		return
	}

	key := serialKey(s.serial)
	port := strings.TrimSpace(req.Port)
	if port == "" {
		port = s.ports.Get(key)
	}

	if port != "" && !serial.HasPort(s.list(), port) {
		// Enumeration misses some adapters and virtual ports; try anyway.
		s.logger.Warn("Port not among enumerated ports", zap.String("port", port))
	}

	if err := s.ctrl.Connect(c.Request.Context(), port); err != nil {
		s.writeError(c, err)
		return
	}
	st := s.ctrl.Status()
	if err := s.ports.Set(key, st.Port); err != nil {
		s.logger.Warn("Failed to save last port", zap.Error(err))
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleDisconnect(c *gin.Context) {
	s.action(c, s.ctrl.Disconnect)
}

func (s *Server) handleCalibrate(c *gin.Context) {
	s.action(c, s.ctrl.Calibrate)
}

func (s *Server) handleMeasure(c *gin.Context) {
	s.action(c, s.ctrl.Measure)
}

func (s *Server) action(c *gin.Context, fn func() error) {
	if err := fn(); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, APIError{Error: err.Error(), Code: code})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, models.ErrNotConnected):
		return http.StatusConflict, "not_connected"
	case errors.Is(err, models.ErrConnection):
		return http.StatusBadGateway, "connection"
	case errors.Is(err, models.ErrIO):
		return http.StatusBadGateway, "io"
	case errors.Is(err, acquisition.ErrStopped):
		return http.StatusServiceUnavailable, "stopped"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// staticHandler serves the web UI. Pages and scripts are marked no-store so a
// reload after an update never mixes old and new assets.
func staticHandler(webDir string) gin.HandlerFunc {
	fs := http.FileServer(http.Dir(webDir))
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, APIError{Error: "not found", Code: "not_found"})
			return
		}
		p := c.Request.URL.Path
		if strings.HasPrefix(p, "/api/") {
			c.JSON(http.StatusNotFound, APIError{Error: "not found", Code: "not_found"})
			return
		}
		if p == "/" ||
			strings.HasPrefix(p, "/assets/") ||
			strings.HasSuffix(p, ".html") ||
			strings.HasSuffix(p, ".js") ||
			strings.HasSuffix(p, ".css") {
			c.Header("Cache-Control", "no-store")
		}
		fs.ServeHTTP(c.Writer, c.Request)
	}
}

// ResolveWebDir returns dir as an absolute path and checks that it holds an
// index.html.
func ResolveWebDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if st, err := os.Stat(abs); err != nil || !st.IsDir() {
		return "", errors.New("web directory does not exist: " + abs)
	}
	if _, err := os.Stat(filepath.Join(abs, "index.html")); err != nil {
		return "", errors.New("web directory has no index.html: " + abs)
	}
	return abs, nil
}
