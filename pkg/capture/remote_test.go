package capture

import (
	"context"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-signcam/pkg/protocol"
)

// producer is a fake frame producer. Each message in send is written after
// the client connects; replies from the client are collected.
func producer(t *testing.T, send []*protocol.Message, replies chan<- *protocol.Message) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range send {
			data, _ := msg.Bytes()
			conn.WriteMessage(websocket.TextMessage, data)
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msg, err := protocol.ParseMessage(data); err == nil && replies != nil {
				replies <- msg
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRemoteReceivesFrames(t *testing.T) {
	f := solid(t, color.RGBA{G: 255, A: 255})
	msg, err := protocol.NewFrameMessage(f.Width(), f.Height(), f.JPEG(), 1)
	if err != nil {
		t.Fatal(err)
	}
	srv := producer(t, []*protocol.Message{msg}, nil)

	r := NewRemote(wsURL(srv), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	got, err := r.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Width() != f.Width() || got.Size() != f.Size() {
		t.Errorf("frame = %dx%d (%d bytes)", got.Width(), got.Height(), got.Size())
	}
	if !strings.HasPrefix(got.Source(), "remote:") {
		t.Errorf("Source() = %q", got.Source())
	}
}

func TestRemoteDeviceError(t *testing.T) {
	msg, _ := protocol.NewDeviceErrorMessage("NotAllowedError", "Permission denied")
	srv := producer(t, []*protocol.Message{msg}, nil)

	r := NewRemote(wsURL(srv), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	if _, err := r.Read(ctx); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Read() error = %v, want permission denied", err)
	}
}

func TestRemoteAnswersPing(t *testing.T) {
	ping, _ := protocol.NewPingMessage("p1")
	replies := make(chan *protocol.Message, 1)
	srv := producer(t, []*protocol.Message{ping}, replies)

	r := NewRemote(wsURL(srv), nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	select {
	case msg := <-replies:
		pong, err := msg.GetPongData()
		if err != nil {
			t.Fatalf("reply is not a pong: %v", err)
		}
		if pong.ID != "p1" {
			t.Errorf("pong ID = %q", pong.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pong received")
	}
}

func TestRemoteDialFailure(t *testing.T) {
	r := NewRemote("ws://127.0.0.1:1/none", nil)
	r.HandshakeTimeout = 200 * time.Millisecond
	if err := r.Start(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Start() error = %v, want device unavailable", err)
	}
}

func TestDecodeFrameDataRejectsFormat(t *testing.T) {
	fd := &protocol.FrameData{Format: "png", Data: "aGVsbG8="}
	if _, err := DecodeFrameData("x", fd, 0); err == nil {
		t.Error("expected error for png frame")
	}
}
