// Package ingest accepts browser cameras over WebSocket and feeds their
// frames and device errors into a capture source.
package ingest

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-signcam/pkg/capture"
	"github.com/teslashibe/go-signcam/pkg/frame"
	"github.com/teslashibe/go-signcam/pkg/protocol"
)

// Sink receives device errors reported by cameras.
type Sink interface {
	Fail(err *capture.DeviceError)
}

// FrameSink also receives frames. capture.Push is one; capture.WebRTC only
// takes device errors since its frames arrive over RTP.
type FrameSink interface {
	Sink
	Push(f frame.Frame)
}

// CameraConnection represents a connected browser camera
type CameraConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time
	Frames    uint64

	mu sync.Mutex
}

// Send sends a message to the camera
func (c *CameraConnection) Send(msg *protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// Hub manages WebSocket connections from capture clients
type Hub struct {
	mu      sync.RWMutex
	cameras map[string]*CameraConnection
	sink    Sink
	logger  *slog.Logger

	onTrigger func(cameraID string)

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	framesReceived   atomic.Uint64
	framesRejected   atomic.Uint64
	deviceErrors     atomic.Uint64
}

// NewHub creates an ingest hub feeding sink.
func NewHub(sink Sink, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cameras: make(map[string]*CameraConnection),
		sink:    sink,
		logger:  logger.With("component", "ingest"),
	}
}

// OnTrigger sets the callback for sample requests sent by cameras
func (h *Hub) OnTrigger(callback func(cameraID string)) {
	h.mu.Lock()
	h.onTrigger = callback
	h.mu.Unlock()
}

// RegisterRoutes registers the camera WebSocket routes
func (h *Hub) RegisterRoutes(router fiber.Router) {
	router.Use("/ws/camera", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws/camera", websocket.New(h.handleCamera))
	router.Get("/ws/camera/:id", websocket.New(h.handleCamera))
}

// handleCamera handles a camera WebSocket connection
func (h *Hub) handleCamera(c *websocket.Conn) {
	cameraID := c.Params("id")
	if cameraID == "" {
		cameraID = uuid.NewString()
	}

	now := time.Now()
	camera := &CameraConnection{
		ID:        cameraID,
		Conn:      c,
		Connected: now,
		LastSeen:  now,
	}

	h.mu.Lock()
	if old, ok := h.cameras[cameraID]; ok {
		old.Conn.Close()
	}
	h.cameras[cameraID] = camera
	count := len(h.cameras)
	h.mu.Unlock()

	h.logger.Info("camera connected", "camera", cameraID, "total", count)

	defer func() {
		h.mu.Lock()
		if h.cameras[cameraID] == camera {
			delete(h.cameras, cameraID)
		}
		count := len(h.cameras)
		h.mu.Unlock()

		h.logger.Info("camera disconnected", "camera", cameraID, "total", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("camera read error", "camera", cameraID, "error", err)
			}
			return
		}

		camera.mu.Lock()
		camera.LastSeen = time.Now()
		camera.mu.Unlock()

		h.messagesReceived.Add(1)
		h.handleMessage(camera, data)
	}
}

// handleMessage processes an incoming message from a camera
func (h *Hub) handleMessage(camera *CameraConnection, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.logger.Debug("parse error", "camera", camera.ID, "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeFrame:
		h.framesReceived.Add(1)
		fs, ok := h.sink.(FrameSink)
		if !ok {
			h.framesRejected.Add(1)
			return
		}
		fd, err := msg.GetFrameData()
		if err != nil {
			h.framesRejected.Add(1)
			return
		}
		f, err := capture.DecodeFrameData("browser:"+camera.ID, fd, msg.Timestamp)
		if err != nil {
			h.framesRejected.Add(1)
			h.logger.Debug("dropping undecodable frame", "camera", camera.ID, "error", err)
			return
		}
		camera.mu.Lock()
		camera.Frames++
		camera.mu.Unlock()
		fs.Push(f)

	case protocol.TypeDeviceError:
		de, err := msg.GetDeviceErrorData()
		if err != nil {
			return
		}
		h.deviceErrors.Add(1)
		kind := capture.ParseDeviceErrorKind(de.Kind)
		h.logger.Warn("camera reported device error", "camera", camera.ID, "kind", kind, "message", de.Message)
		if h.sink != nil {
			h.sink.Fail(capture.NewDeviceError(kind, "browser:"+camera.ID, errors.New(de.Message)))
		}

	case protocol.TypeTrigger:
		h.mu.RLock()
		cb := h.onTrigger
		h.mu.RUnlock()
		if cb != nil {
			cb(camera.ID)
		}

	case protocol.TypePing:
		h.SendPong(camera.ID, msg.Timestamp)
	}
}

// SendPong sends a pong response to a camera
func (h *Hub) SendPong(cameraID string, pingTS int64) error {
	msg, err := protocol.NewPongMessage("", pingTS, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return h.sendToCamera(cameraID, msg)
}

// sendToCamera sends a message to a specific camera
func (h *Hub) sendToCamera(cameraID string, msg *protocol.Message) error {
	h.mu.RLock()
	camera, ok := h.cameras[cameraID]
	h.mu.RUnlock()

	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "camera not connected")
	}

	h.messagesSent.Add(1)
	return camera.Send(msg)
}

// Broadcast sends a message to all connected cameras
func (h *Hub) Broadcast(msg *protocol.Message) {
	for _, camera := range h.snapshot() {
		h.messagesSent.Add(1)
		if err := camera.Send(msg); err != nil {
			h.logger.Debug("broadcast error", "camera", camera.ID, "error", err)
		}
	}
}

// RequestRetry asks every camera to reacquire its device.
func (h *Hub) RequestRetry() error {
	msg, err := protocol.NewRetryMessage()
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

func (h *Hub) snapshot() []*CameraConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cameras := make([]*CameraConnection, 0, len(h.cameras))
	for _, c := range h.cameras {
		cameras = append(cameras, c)
	}
	return cameras
}

// CameraCount returns the number of connected cameras
func (h *Hub) CameraCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.cameras)
}

// Stats contains hub statistics
type Stats struct {
	CameraCount      int    `json:"camera_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	FramesReceived   uint64 `json:"frames_received"`
	FramesRejected   uint64 `json:"frames_rejected"`
	DeviceErrors     uint64 `json:"device_errors"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		CameraCount:      h.CameraCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		FramesReceived:   h.framesReceived.Load(),
		FramesRejected:   h.framesRejected.Load(),
		DeviceErrors:     h.deviceErrors.Load(),
	}
}

// CameraInfo contains info about a connected camera
type CameraInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	Frames    uint64    `json:"frames"`
}

// GetCameraInfos returns info about all connected cameras
func (h *Hub) GetCameraInfos() []CameraInfo {
	cameras := h.snapshot()
	infos := make([]CameraInfo, 0, len(cameras))
	for _, c := range cameras {
		c.mu.Lock()
		infos = append(infos, CameraInfo{
			ID:        c.ID,
			Connected: c.Connected,
			LastSeen:  c.LastSeen,
			Frames:    c.Frames,
		})
		c.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers API routes for camera management
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	cameras := api.Group("/cameras")

	cameras.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"cameras": h.GetCameraInfos(),
			"count":   h.CameraCount(),
		})
	})

	cameras.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})
}
