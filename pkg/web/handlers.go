package web

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-signcam/pkg/hub"
	"github.com/teslashibe/go-signcam/pkg/protocol"
)

var errNotAttached = fiber.Map{"error": "pipeline not attached"}

// handleIndex serves the capture and display page
func (s *Server) handleIndex(c *fiber.Ctx) error {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	c.Type("html")
	return c.Send(page)
}

// handleHealth reports liveness
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleStatus returns the pipeline state and current display
func (s *Server) handleStatus(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(errNotAttached)
	}
	return c.JSON(ctrl.Status())
}

// handleStats returns pipeline and surface counters
func (s *Server) handleStats(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(errNotAttached)
	}
	return c.JSON(fiber.Map{
		"pipeline": ctrl.Stats(),
		"display": fiber.Map{
			"clients": s.displayHub.ClientCount(),
			"dropped": s.displayHub.Dropped(),
		},
		"preview": fiber.Map{
			"clients": s.previewHub.ClientCount(),
			"dropped": s.previewHub.Dropped(),
			"sent":    s.surface.PreviewsSent(),
		},
	})
}

// handleLabels returns the configured label set
func (s *Server) handleLabels(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"labels": s.labels})
}

// handleSample requests an immediate sample cycle
func (s *Server) handleSample(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(errNotAttached)
	}
	if !ctrl.Trigger() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"accepted": false,
			"error":    "sample not started: a cycle is pending or the camera is unavailable",
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": true})
}

// handleRetry restarts the capture source after a device error
func (s *Server) handleRetry(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(errNotAttached)
	}

	s.mu.RLock()
	cameras := s.ingest
	s.mu.RUnlock()
	if cameras != nil {
		if err := cameras.RequestRetry(); err != nil {
			s.logger.Warn("retry broadcast failed", "error", err)
		}
	}

	if !ctrl.Retry() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"accepted": false,
			"error":    "no device error to retry",
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": true})
}

// handleOffer answers a browser camera's WebRTC offer
func (s *Server) handleOffer(c *fiber.Ctx) error {
	s.mu.RLock()
	answerer := s.answerer
	s.mu.RUnlock()
	if answerer == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "webrtc capture not enabled"})
	}

	var offer webrtc.SessionDescription
	if err := c.BodyParser(&offer); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return c.Status(400).JSON(fiber.Map{"error": "expected an sdp offer"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.OfferTimeout)
	defer cancel()
	answer, err := answerer.Answer(ctx, offer)
	if err != nil {
		s.logger.Warn("webrtc offer failed", "error", err)
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(answer)
}

// handleDisplayWS streams display updates. Pages may send trigger messages.
func (s *Server) handleDisplayWS(c *websocket.Conn) {
	client := hub.NewClient(s.displayHub, c, s.handleDisplayMessage)
	if client == nil {
		return
	}
	client.Run()
}

func (s *Server) handleDisplayMessage(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.logger.Debug("ignoring display message", "error", err)
		return
	}
	if msg.Type != protocol.TypeTrigger {
		return
	}
	if ctrl := s.controller(); ctrl != nil {
		ctrl.Trigger()
	}
}

// handlePreviewWS streams preview thumbnails as binary JPEG messages
func (s *Server) handlePreviewWS(c *websocket.Conn) {
	client := hub.NewClient(s.previewHub, c, nil)
	if client == nil {
		return
	}
	client.Run()
}
