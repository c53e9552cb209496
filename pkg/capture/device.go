package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-signcam/pkg/frame"
)

// Device captures from a local camera through OpenCV.
type Device struct {
	cfg    Config
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	webcam  *gocv.VideoCapture
	mat     gocv.Mat
	stopped bool
	done    chan struct{}
}

// NewDevice creates a webcam source. The camera is opened by Start.
func NewDevice(cfg Config, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	name := fmt.Sprintf("device:%d", cfg.Device)
	return &Device{
		cfg:    cfg,
		name:   name,
		logger: logger.With("component", "capture.device", "device", cfg.Device),
		done:   make(chan struct{}),
	}
}

// Name implements Source.
func (d *Device) Name() string { return d.name }

// Start opens the camera.
func (d *Device) Start(ctx context.Context) error {
	if err := d.cfg.Validate(); err != nil {
		return NewDeviceError(DeviceUnavailable, d.name, err)
	}
	if runtime.GOOS == "linux" {
		if err := probeNode(fmt.Sprintf("/dev/video%d", d.cfg.Device)); err != nil {
			return d.deviceError(err)
		}
	}

	webcam, err := gocv.OpenVideoCapture(d.cfg.Device)
	if err != nil {
		return NewDeviceError(DeviceUnavailable, d.name, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return NewDeviceError(DeviceUnavailable, d.name, errors.New("camera did not open"))
	}
	webcam.Set(gocv.VideoCaptureFrameWidth, float64(d.cfg.Width))
	webcam.Set(gocv.VideoCaptureFrameHeight, float64(d.cfg.Height))
	webcam.Set(gocv.VideoCaptureFPS, float64(d.cfg.Framerate))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.webcam != nil {
		d.webcam.Close()
		d.mat.Close()
	}
	d.webcam = webcam
	d.mat = gocv.NewMat()
	if d.stopped {
		d.done = make(chan struct{})
		d.stopped = false
	}
	d.logger.Info("camera opened", "width", d.cfg.Width, "height", d.cfg.Height, "fps", d.cfg.Framerate)
	return nil
}

// Read grabs the current camera image and encodes it as JPEG.
func (d *Device) Read(ctx context.Context) (frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return frame.Frame{}, ErrStopped
	}
	if d.webcam == nil {
		return frame.Frame{}, ErrNotStarted
	}

	if ok := d.webcam.Read(&d.mat); !ok || d.mat.Empty() {
		return frame.Frame{}, NewDeviceError(DeviceUnavailable, d.name, errors.New("camera read failed"))
	}
	captured := time.Now()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, d.mat, []int{int(gocv.IMWriteJpegQuality), d.cfg.Quality})
	if err != nil {
		return frame.Frame{}, fmt.Errorf("capture: encode frame: %w", err)
	}
	defer buf.Close()

	return frame.New(d.name, buf.GetBytes(), d.mat.Cols(), d.mat.Rows(), captured)
}

// Done implements Source.
func (d *Device) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Stop closes the camera.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil
	}
	d.stopped = true
	close(d.done)
	if d.webcam != nil {
		d.webcam.Close()
		d.mat.Close()
		d.webcam = nil
	}
	d.logger.Info("camera closed")
	return nil
}

func (d *Device) deviceError(err error) *DeviceError {
	if errors.Is(err, fs.ErrPermission) {
		return NewDeviceError(PermissionDenied, d.name, err)
	}
	return NewDeviceError(DeviceUnavailable, d.name, err)
}

// probeNode checks that a V4L2 device node exists and can be opened.
func probeNode(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	return f.Close()
}

var _ Source = (*Device)(nil)
