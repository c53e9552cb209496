package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-signcam/pkg/frame"
)

// WebRTCConfig configures the browser WebRTC source.
type WebRTCConfig struct {
	ICEServers     []string      // STUN/TURN URLs; empty for LAN use
	DecodeInterval time.Duration // Minimum time between decodes
	MaxGOPBytes    int           // Cap on the buffered stream
}

// DefaultWebRTCConfig returns settings suited to a LAN browser client.
func DefaultWebRTCConfig() WebRTCConfig {
	return WebRTCConfig{
		DecodeInterval: 250 * time.Millisecond,
		MaxGOPBytes:    DefaultMaxGOPBytes,
	}
}

// WebRTC receives a browser camera track over WebRTC. The browser posts an
// SDP offer (see Answer); H264 video is depacketized and decoded to JPEG.
type WebRTC struct {
	cfg     WebRTCConfig
	push    *Push
	decoder H264Decoder
	api     *webrtc.API
	logger  *slog.Logger

	mu sync.Mutex
	pc *webrtc.PeerConnection
}

// NewWebRTC creates a WebRTC source that only negotiates H264.
func NewWebRTC(cfg WebRTCConfig, decoder H264Decoder, logger *slog.Logger) (*WebRTC, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if decoder == nil {
		decoder = FFmpegDecoder{}
	}
	if cfg.DecodeInterval <= 0 {
		cfg.DecodeInterval = DefaultWebRTCConfig().DecodeInterval
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: []webrtc.RTCPFeedback{
				{Type: "nack", Parameter: "pli"},
			},
		},
		PayloadType: 102,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register h264: %w", err)
	}

	return &WebRTC{
		cfg:     cfg,
		push:    NewPush("webrtc"),
		decoder: decoder,
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		logger:  logger.With("component", "capture.webrtc"),
	}, nil
}

// Name implements Source.
func (w *WebRTC) Name() string { return w.push.Name() }

// Start implements Source. Frames arrive once a browser completes Answer.
func (w *WebRTC) Start(ctx context.Context) error { return w.push.Start(ctx) }

// Read implements Source.
func (w *WebRTC) Read(ctx context.Context) (frame.Frame, error) { return w.push.Read(ctx) }

// Done implements Source.
func (w *WebRTC) Done() <-chan struct{} { return w.push.Done() }

// Fail forwards a device error reported by the browser.
func (w *WebRTC) Fail(err *DeviceError) { w.push.Fail(err) }

// Stop closes the peer connection.
func (w *WebRTC) Stop() error {
	w.mu.Lock()
	pc := w.pc
	w.pc = nil
	w.mu.Unlock()
	if pc != nil {
		pc.Close()
	}
	return w.push.Stop()
}

// Answer accepts a browser offer and returns the answer with all ICE
// candidates gathered. Any previous peer is replaced.
func (w *WebRTC) Answer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	var ice []webrtc.ICEServer
	if len(w.cfg.ICEServers) > 0 {
		ice = append(ice, webrtc.ICEServer{URLs: w.cfg.ICEServers})
	}
	pc, err := w.api.NewPeerConnection(webrtc.Configuration{ICEServers: ice})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("new peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("add transceiver: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		w.logger.Info("track received", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeH264) {
			w.push.Fail(NewDeviceError(DeviceUnavailable, w.Name(),
				fmt.Errorf("unsupported codec %s", track.Codec().MimeType)))
			return
		}
		go w.readTrack(pc, track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		w.logger.Debug("connection state", "state", state.String())
		if state != webrtc.PeerConnectionStateFailed {
			return
		}
		w.mu.Lock()
		current := w.pc == pc
		w.mu.Unlock()
		if current {
			w.push.Fail(NewDeviceError(DeviceUnavailable, w.Name(), errors.New("peer connection failed")))
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		pc.Close()
		return webrtc.SessionDescription{}, ctx.Err()
	}

	w.mu.Lock()
	old := w.pc
	w.pc = pc
	w.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return *pc.LocalDescription(), nil
}

func (w *WebRTC) readTrack(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	asm := newH264Assembler(w.cfg.MaxGOPBytes)
	pending := make(chan []byte, 1)
	done := make(chan struct{})
	defer close(done)
	go w.decodeLoop(pending, done)

	requestKeyframe := func() {
		pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
	}
	requestKeyframe()

	var lastPLI, lastDecode time.Time
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			w.logger.Debug("track ended", "error", err)
			return
		}
		needKey, err := asm.Write(pkt.Payload)
		if err != nil {
			w.logger.Debug("depacketize failed", "error", err)
			continue
		}
		if needKey && time.Since(lastPLI) > time.Second {
			requestKeyframe()
			lastPLI = time.Now()
		}
		if !pkt.Marker || !asm.Ready() || time.Since(lastDecode) < w.cfg.DecodeInterval {
			continue
		}
		lastDecode = time.Now()

		// Most recent stream wins if the decoder is still busy.
		select {
		case pending <- asm.Snapshot():
		default:
			select {
			case <-pending:
			default:
			}
			pending <- asm.Snapshot()
		}
	}
}

func (w *WebRTC) decodeLoop(pending <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case stream := <-pending:
			jpegData, err := w.decoder.Decode(context.Background(), stream)
			if err != nil {
				w.logger.Debug("decode failed", "error", err)
				continue
			}
			f, err := frame.New(w.Name(), jpegData, 0, 0, time.Now())
			if err != nil {
				w.logger.Debug("decoded frame rejected", "error", err)
				continue
			}
			w.push.Push(f)
		}
	}
}

var _ Source = (*WebRTC)(nil)
