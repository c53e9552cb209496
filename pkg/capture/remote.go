package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-signcam/pkg/frame"
	"github.com/teslashibe/go-signcam/pkg/protocol"
)

// Remote dials a WebSocket frame producer that speaks the protocol package
// (for example another signcam instance's camera relay or a robot) and
// exposes its frames as a source.
type Remote struct {
	url    string
	push   *Push
	logger *slog.Logger

	// HandshakeTimeout bounds the dial. Defaults to 10s.
	HandshakeTimeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewRemote creates a remote source for a ws:// or wss:// URL.
func NewRemote(url string, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		url:              url,
		push:             NewPush("remote:" + url),
		logger:           logger.With("component", "capture.remote", "url", url),
		HandshakeTimeout: 10 * time.Second,
	}
}

// Name implements Source.
func (r *Remote) Name() string { return r.push.Name() }

// Start dials the producer and starts the read loop.
func (r *Remote) Start(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: r.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return NewDeviceError(DeviceUnavailable, r.Name(), fmt.Errorf("dial: %w", err))
	}

	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
	}
	r.conn = conn
	r.mu.Unlock()

	if err := r.push.Start(ctx); err != nil {
		conn.Close()
		return err
	}
	go r.readLoop(conn)
	r.logger.Info("connected to frame producer")
	return nil
}

func (r *Remote) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) {
				r.logger.Warn("producer connection lost", "error", err)
			}
			if r.current(conn) {
				r.push.Fail(NewDeviceError(DeviceUnavailable, r.Name(), fmt.Errorf("connection lost: %w", err)))
			}
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			r.logger.Debug("ignoring malformed message", "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeFrame:
			fd, err := msg.GetFrameData()
			if err != nil {
				continue
			}
			f, err := DecodeFrameData(r.Name(), fd, msg.Timestamp)
			if err != nil {
				r.logger.Debug("dropping undecodable frame", "error", err)
				continue
			}
			r.push.Push(f)

		case protocol.TypeDeviceError:
			de, err := msg.GetDeviceErrorData()
			if err != nil {
				continue
			}
			r.push.Fail(NewDeviceError(ParseDeviceErrorKind(de.Kind), r.Name(), errors.New(de.Message)))

		case protocol.TypePing:
			ping, err := msg.GetPingData()
			if err != nil {
				continue
			}
			pong, err := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli())
			if err != nil {
				continue
			}
			r.write(pong)
		}
	}
}

func (r *Remote) current(conn *websocket.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn == conn
}

func (r *Remote) write(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.WriteMessage(websocket.TextMessage, data)
	}
}

// Read implements Source.
func (r *Remote) Read(ctx context.Context) (frame.Frame, error) {
	return r.push.Read(ctx)
}

// Done implements Source.
func (r *Remote) Done() <-chan struct{} { return r.push.Done() }

// Stop closes the connection.
func (r *Remote) Stop() error {
	r.mu.Lock()
	if r.conn != nil {
		r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		r.conn.Close()
		r.conn = nil
	}
	r.mu.Unlock()
	return r.push.Stop()
}

// DecodeFrameData turns a wire frame into a Frame. tsMillis is the message
// timestamp; zero means now.
func DecodeFrameData(source string, fd *protocol.FrameData, tsMillis int64) (frame.Frame, error) {
	if fd.Format != "" && fd.Format != frame.FormatJPEG {
		return frame.Frame{}, fmt.Errorf("unsupported frame format %q", fd.Format)
	}
	data, err := fd.DecodeFrameData()
	if err != nil {
		return frame.Frame{}, err
	}
	captured := time.Now()
	if tsMillis > 0 {
		captured = time.UnixMilli(tsMillis)
	}
	return frame.New(source, data, fd.Width, fd.Height, captured)
}

var _ Source = (*Remote)(nil)
