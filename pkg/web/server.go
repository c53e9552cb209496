// Package web serves the signcam page, the display stream and a small JSON
// API for controlling the pipeline.
package web

import (
	"context"
	"embed"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-signcam/pkg/classify"
	"github.com/teslashibe/go-signcam/pkg/hub"
	"github.com/teslashibe/go-signcam/pkg/ingest"
	"github.com/teslashibe/go-signcam/pkg/pipeline"
)

//go:embed static/index.html
var staticFS embed.FS

// Controller is the part of the pipeline the server drives.
type Controller interface {
	Trigger() bool
	Retry() bool
	Status() pipeline.Status
	Stats() pipeline.Stats
}

// Answerer completes a WebRTC offer from a browser camera.
type Answerer interface {
	Answer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
}

// Config configures the server.
type Config struct {
	Port string
	// PreviewFPS limits preview thumbnails. Zero disables the preview.
	PreviewFPS float64
	// PreviewWidth is the thumbnail width; height keeps the aspect ratio.
	PreviewWidth int
	// OfferTimeout bounds a WebRTC answer, ICE gathering included.
	OfferTimeout time.Duration
	Logger       *slog.Logger
}

// DefaultConfig returns port 8080 with a 2 fps, 320px preview.
func DefaultConfig() Config {
	return Config{
		Port:         "8080",
		PreviewFPS:   2,
		PreviewWidth: 320,
		OfferTimeout: 10 * time.Second,
	}
}

// Server is the signcam web server
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger
	labels classify.Labels

	// Hubs for websocket broadcast
	displayHub *hub.Hub
	previewHub *hub.Hub

	mu       sync.RWMutex
	ctrl     Controller
	ingest   *ingest.Hub
	answerer Answerer

	surface *DisplaySurface
}

// NewServer creates the server. Attach a controller before serving.
func NewServer(cfg Config, labels classify.Labels) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = 10 * time.Second
	}
	logger := cfg.Logger.With("component", "web")

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		labels:     labels,
		displayHub: hub.New("display", hub.WithReplay(), hub.WithLogger(cfg.Logger)),
		previewHub: hub.New("preview", hub.WithReplay(), hub.WithLogger(cfg.Logger)),
	}
	s.surface = newDisplaySurface(s.displayHub, s.previewHub, cfg.PreviewFPS, cfg.PreviewWidth, logger)

	app := fiber.New(fiber.Config{
		AppName:               "signcam",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	app.Get("/", s.handleIndex)
	app.Get("/healthz", s.handleHealth)

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/stats", s.handleStats)
	api.Get("/labels", s.handleLabels)
	api.Post("/sample", s.handleSample)
	api.Post("/retry", s.handleRetry)
	api.Post("/webrtc/offer", s.handleOffer)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/display", websocket.New(s.handleDisplayWS))
	app.Get("/ws/preview", websocket.New(s.handlePreviewWS))

	s.app = app
	return s
}

// Attach sets the pipeline controller.
func (s *Server) Attach(ctrl Controller) {
	s.mu.Lock()
	s.ctrl = ctrl
	s.mu.Unlock()
}

// MountIngest mounts browser camera ingest on /ws/camera and /api/cameras.
// Trigger messages from cameras go to the controller.
func (s *Server) MountIngest(h *ingest.Hub) {
	s.mu.Lock()
	s.ingest = h
	s.mu.Unlock()
	h.OnTrigger(func(string) {
		if ctrl := s.controller(); ctrl != nil {
			ctrl.Trigger()
		}
	})
	h.RegisterRoutes(s.app)
	h.RegisterAPIRoutes(s.app.Group("/api"))
}

// MountWebRTC enables POST /api/webrtc/offer.
func (s *Server) MountWebRTC(a Answerer) {
	s.mu.Lock()
	s.answerer = a
	s.mu.Unlock()
}

// Surface returns the publisher surface that streams the display and
// preview to connected pages.
func (s *Server) Surface() *DisplaySurface { return s.surface }

// App exposes the fiber app, e.g. for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Run listens on the configured port until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.displayHub.Run(ctx)
	go s.previewHub.Run(ctx)

	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()
	s.logger.Info("web server listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

func (s *Server) controller() Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctrl
}
