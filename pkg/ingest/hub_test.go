package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-signcam/pkg/capture"
	"github.com/teslashibe/go-signcam/pkg/frame"
	"github.com/teslashibe/go-signcam/pkg/protocol"
)

// errSink records device errors and takes no frames.
type errSink struct {
	mu   sync.Mutex
	errs []*capture.DeviceError
}

func (s *errSink) Fail(err *capture.DeviceError) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *errSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

// serve runs hub on a fiber app listening on a random port.
func serve(t *testing.T, hub *Hub) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })
	return "ws://" + ln.Addr().String()
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msg *protocol.Message, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
	data, err := msg.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startedPush(t *testing.T) *capture.Push {
	t.Helper()
	push := capture.NewPush("browser")
	if err := push.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { push.Stop() })
	return push
}

func TestConnectAndDisconnect(t *testing.T) {
	hub := NewHub(startedPush(t), quiet())
	base := serve(t, hub)

	ws := dial(t, base+"/ws/camera/laptop")
	waitFor(t, func() bool { return hub.CameraCount() == 1 })

	infos := hub.GetCameraInfos()
	if len(infos) != 1 || infos[0].ID != "laptop" {
		t.Errorf("infos = %+v", infos)
	}

	ws.Close()
	waitFor(t, func() bool { return hub.CameraCount() == 0 })
}

func TestGeneratedCameraID(t *testing.T) {
	hub := NewHub(startedPush(t), quiet())
	base := serve(t, hub)

	dial(t, base+"/ws/camera")
	waitFor(t, func() bool { return hub.CameraCount() == 1 })

	if id := hub.GetCameraInfos()[0].ID; len(id) != 36 {
		t.Errorf("generated id = %q, want a uuid", id)
	}
}

func TestFramesReachSource(t *testing.T) {
	push := startedPush(t)
	hub := NewHub(push, quiet())
	base := serve(t, hub)
	ws := dial(t, base+"/ws/camera/cam1")

	f, err := frame.Solid("canvas", 32, 24, color.White)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := protocol.NewFrameMessage(32, 24, f.JPEG(), 1)
	send(t, ws, msg, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := push.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Source() != "browser:cam1" || got.Width() != 32 {
		t.Errorf("frame = %s %dx%d", got.Source(), got.Width(), got.Height())
	}
	if stats := hub.GetStats(); stats.FramesReceived != 1 || stats.FramesRejected != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUndecodableFrameRejected(t *testing.T) {
	hub := NewHub(startedPush(t), quiet())
	base := serve(t, hub)
	ws := dial(t, base+"/ws/camera/cam1")

	// Without dimensions the JPEG header must be read.
	msg, err := protocol.NewFrameMessage(0, 0, []byte("not a jpeg"), 1)
	send(t, ws, msg, err)

	waitFor(t, func() bool { return hub.GetStats().FramesRejected == 1 })
}

func TestDeviceErrorReported(t *testing.T) {
	push := startedPush(t)
	hub := NewHub(push, quiet())
	base := serve(t, hub)
	ws := dial(t, base+"/ws/camera/cam1")

	msg, err := protocol.NewDeviceErrorMessage("NotAllowedError", "Permission denied")
	send(t, ws, msg, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = push.Read(ctx)
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("Read() error = %v, want permission denied", err)
	}
	de, ok := capture.AsDeviceError(err)
	if !ok || de.Device != "browser:cam1" {
		t.Errorf("device error = %+v", de)
	}
}

func TestErrorOnlySink(t *testing.T) {
	sink := &errSink{}
	hub := NewHub(sink, quiet())
	base := serve(t, hub)
	ws := dial(t, base+"/ws/camera/cam1")

	f, _ := frame.Solid("canvas", 32, 24, color.White)
	msg, err := protocol.NewFrameMessage(32, 24, f.JPEG(), 1)
	send(t, ws, msg, err)
	msg, err = protocol.NewDeviceErrorMessage("NotFoundError", "no camera")
	send(t, ws, msg, err)

	waitFor(t, func() bool { return sink.count() == 1 })
	if hub.GetStats().FramesRejected != 1 {
		t.Error("frames should be rejected when the sink takes none")
	}
	if !errors.Is(sink.errs[0], capture.ErrDeviceUnavailable) {
		t.Errorf("error = %v, want device unavailable", sink.errs[0])
	}
}

func TestTriggerCallback(t *testing.T) {
	hub := NewHub(startedPush(t), quiet())
	got := make(chan string, 1)
	hub.OnTrigger(func(id string) { got <- id })
	base := serve(t, hub)
	ws := dial(t, base+"/ws/camera/button")

	msg, err := protocol.NewTriggerMessage()
	send(t, ws, msg, err)

	select {
	case id := <-got:
		if id != "button" {
			t.Errorf("trigger from %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("trigger callback not called")
	}
}

func TestPingPong(t *testing.T) {
	hub := NewHub(startedPush(t), quiet())
	base := serve(t, hub)
	ws := dial(t, base+"/ws/camera/ping-test")

	msg, err := protocol.NewPingMessage("p1")
	send(t, ws, msg, err)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	var resp protocol.Message
	json.Unmarshal(data, &resp)
	if resp.Type != protocol.TypePong {
		t.Errorf("Type = %s, want pong", resp.Type)
	}
}

func TestRequestRetry(t *testing.T) {
	hub := NewHub(startedPush(t), quiet())
	base := serve(t, hub)
	ws := dial(t, base+"/ws/camera/cam1")
	waitFor(t, func() bool { return hub.CameraCount() == 1 })

	if err := hub.RequestRetry(); err != nil {
		t.Fatal(err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil || msg.Type != protocol.TypeRetry {
		t.Errorf("message = %s, %v", data, err)
	}
}

func TestUpgradeRequired(t *testing.T) {
	hub := NewHub(startedPush(t), quiet())
	app := fiber.New()
	hub.RegisterRoutes(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/ws/camera", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("Status = %d, want 426", resp.StatusCode)
	}
}

func TestAPIRoutes(t *testing.T) {
	hub := NewHub(startedPush(t), quiet())
	app := fiber.New()
	hub.RegisterAPIRoutes(app.Group("/api"))

	tests := []struct {
		path string
		want string
	}{
		{"/api/cameras/", "cameras"},
		{"/api/cameras/stats", "frames_received"},
	}
	for _, tt := range tests {
		resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
		if err != nil {
			t.Fatalf("%s: %v", tt.path, err)
		}
		if resp.StatusCode != 200 {
			t.Errorf("%s: Status = %d", tt.path, resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), tt.want) {
			t.Errorf("%s: body %s missing %q", tt.path, body, tt.want)
		}
	}
}
