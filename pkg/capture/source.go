// Package capture provides frame sources for the classification pipeline:
// local webcams, the screen, browser cameras pushed over WebSocket or WebRTC,
// and remote frame producers.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/teslashibe/go-signcam/pkg/frame"
)

// Source produces frames from a live feed.
type Source interface {
	// Name identifies the source in logs and frames.
	Name() string

	// Start acquires the underlying device. It fails with a *DeviceError
	// when the device is denied or unavailable.
	Start(ctx context.Context) error

	// Read returns the most recent frame. It blocks until a frame is
	// available, ctx is done or the source stops.
	Read(ctx context.Context) (frame.Frame, error)

	// Done is closed once the source has stopped.
	Done() <-chan struct{}

	// Stop releases the device. Safe to call more than once.
	Stop() error
}

var (
	// ErrStopped is returned by Read after Stop.
	ErrStopped = errors.New("capture: source stopped")

	// ErrNotStarted is returned by Read before Start.
	ErrNotStarted = errors.New("capture: source not started")

	// ErrPermissionDenied marks device errors caused by a refused permission.
	ErrPermissionDenied = errors.New("capture: permission denied")

	// ErrDeviceUnavailable marks device errors caused by a missing or busy device.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")
)

// DeviceErrorKind classifies why a device could not be used.
type DeviceErrorKind int

const (
	// DeviceUnavailable means the device is missing, busy or failed.
	DeviceUnavailable DeviceErrorKind = iota
	// PermissionDenied means the user or OS refused access.
	PermissionDenied
)

// String returns the wire name of the kind.
func (k DeviceErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	default:
		return "device_unavailable"
	}
}

// ParseDeviceErrorKind maps a wire name back to a kind. Unknown names map to
// DeviceUnavailable.
func ParseDeviceErrorKind(s string) DeviceErrorKind {
	switch s {
	case "permission_denied", "NotAllowedError", "SecurityError":
		return PermissionDenied
	default:
		return DeviceUnavailable
	}
}

// DeviceError reports a camera that could not be acquired or read.
// It is recoverable: the pipeline stays inactive until retried.
type DeviceError struct {
	Kind   DeviceErrorKind
	Device string
	Err    error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture [%s]: %s: %v", e.Device, e.Kind, e.Err)
	}
	return fmt.Sprintf("capture [%s]: %s", e.Device, e.Kind)
}

// Unwrap returns the underlying error.
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *DeviceError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.Kind == PermissionDenied
	case ErrDeviceUnavailable:
		return e.Kind == DeviceUnavailable
	}
	return false
}

// NewDeviceError builds a device error.
func NewDeviceError(kind DeviceErrorKind, device string, err error) *DeviceError {
	return &DeviceError{Kind: kind, Device: device, Err: err}
}

// AsDeviceError extracts a *DeviceError from err.
func AsDeviceError(err error) (*DeviceError, bool) {
	var de *DeviceError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
