package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/pion/rtp/codecs"
)

// H264 NAL unit types we care about.
const (
	nalSlice = 1
	nalIDR   = 5
	nalSPS   = 7
	nalPPS   = 8
)

// DefaultMaxGOPBytes caps the buffered group of pictures. Past this the
// assembler drops the GOP and waits for the next keyframe.
const DefaultMaxGOPBytes = 4 << 20

var errNoJPEG = errors.New("capture: decoder produced no jpeg")

// H264Decoder turns an Annex-B H264 stream into the JPEG of its last picture.
type H264Decoder interface {
	Decode(ctx context.Context, annexB []byte) ([]byte, error)
}

// FFmpegDecoder decodes through a short-lived ffmpeg process with pipe I/O.
type FFmpegDecoder struct {
	// Binary is the ffmpeg executable. Defaults to "ffmpeg".
	Binary string
	// Timeout bounds one decode. Defaults to 2s.
	Timeout time.Duration
	// Quality is the mjpeg qscale (1-31, lower is better). Defaults to 3.
	Quality int
}

// Decode implements H264Decoder.
func (d FFmpegDecoder) Decode(ctx context.Context, annexB []byte) ([]byte, error) {
	bin := d.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	q := d.Quality
	if q <= 0 {
		q = 3
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin,
		"-loglevel", "error",
		"-f", "h264", // Input format
		"-i", "pipe:0", // Read from stdin
		"-f", "image2pipe", // Output as pipe
		"-vcodec", "mjpeg", // Output as JPEG
		"-q:v", fmt.Sprint(q),
		"pipe:1", // Write to stdout
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(annexB)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil && stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg: %w (%s)", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return lastJPEG(stdout.Bytes())
}

// lastJPEG returns the last complete JPEG in a concatenated mjpeg stream.
func lastJPEG(stream []byte) ([]byte, error) {
	soi := []byte{0xFF, 0xD8, 0xFF}
	start := bytes.LastIndex(stream, soi)
	if start < 0 {
		return nil, errNoJPEG
	}
	img := stream[start:]
	if !bytes.HasSuffix(img, []byte{0xFF, 0xD9}) {
		// Truncated last picture: fall back to the one before it.
		if start == 0 {
			return nil, errNoJPEG
		}
		return lastJPEG(stream[:start])
	}
	out := make([]byte, len(img))
	copy(out, img)
	return out, nil
}

// h264Assembler depacketizes RTP payloads and keeps the Annex-B stream since
// the last SPS so that the newest picture can always be decoded.
type h264Assembler struct {
	depacketizer codecs.H264Packet
	gop          bytes.Buffer
	haveSPS      bool
	haveIDR      bool
	maxBytes     int
}

func newH264Assembler(maxBytes int) *h264Assembler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxGOPBytes
	}
	return &h264Assembler{maxBytes: maxBytes}
}

// Write feeds one RTP payload. It reports whether the GOP was dropped and a
// keyframe should be requested.
func (a *h264Assembler) Write(payload []byte) (needKeyframe bool, err error) {
	annexB, err := a.depacketizer.Unmarshal(payload)
	if err != nil {
		return false, err
	}
	if len(annexB) == 0 {
		// Fragment of a larger NAL, nothing complete yet.
		return false, nil
	}

	for _, typ := range nalTypes(annexB) {
		switch typ {
		case nalSPS:
			a.gop.Reset()
			a.haveSPS = true
			a.haveIDR = false
		case nalIDR:
			if a.haveSPS {
				a.haveIDR = true
			}
		}
	}
	if !a.haveSPS {
		return true, nil
	}

	a.gop.Write(annexB)
	if a.gop.Len() > a.maxBytes {
		a.reset()
		return true, nil
	}
	return false, nil
}

// Ready reports whether the buffer holds a decodable stream.
func (a *h264Assembler) Ready() bool {
	return a.haveSPS && a.haveIDR
}

// Snapshot copies the buffered stream.
func (a *h264Assembler) Snapshot() []byte {
	out := make([]byte, a.gop.Len())
	copy(out, a.gop.Bytes())
	return out
}

func (a *h264Assembler) reset() {
	a.gop.Reset()
	a.haveSPS = false
	a.haveIDR = false
}

// nalTypes lists the NAL unit types found after Annex-B start codes.
func nalTypes(annexB []byte) []byte {
	var types []byte
	for i := 0; i+3 < len(annexB); i++ {
		if annexB[i] != 0 || annexB[i+1] != 0 {
			continue
		}
		switch {
		case annexB[i+2] == 1:
			types = append(types, annexB[i+3]&0x1F)
			i += 3
		case annexB[i+2] == 0 && i+4 < len(annexB) && annexB[i+3] == 1:
			types = append(types, annexB[i+4]&0x1F)
			i += 4
		}
	}
	return types
}
