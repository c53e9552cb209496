package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestDeviceErrorIs(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		denied      bool
		unavailable bool
	}{
		{"permission denied", NewDeviceError(PermissionDenied, "cam", nil), true, false},
		{"unavailable", NewDeviceError(DeviceUnavailable, "cam", errors.New("busy")), false, true},
		{"wrapped", fmt.Errorf("start: %w", NewDeviceError(PermissionDenied, "cam", nil)), true, false},
		{"plain error", errors.New("boom"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, ErrPermissionDenied); got != tt.denied {
				t.Errorf("Is(ErrPermissionDenied) = %v, want %v", got, tt.denied)
			}
			if got := errors.Is(tt.err, ErrDeviceUnavailable); got != tt.unavailable {
				t.Errorf("Is(ErrDeviceUnavailable) = %v, want %v", got, tt.unavailable)
			}
		})
	}
}

func TestDeviceErrorUnwrap(t *testing.T) {
	err := NewDeviceError(PermissionDenied, "cam", fs.ErrPermission)
	if !errors.Is(err, fs.ErrPermission) {
		t.Error("DeviceError should unwrap to its cause")
	}
	de, ok := AsDeviceError(fmt.Errorf("wrap: %w", err))
	if !ok || de.Device != "cam" {
		t.Fatalf("AsDeviceError() = %v, %v", de, ok)
	}
	if _, ok := AsDeviceError(errors.New("other")); ok {
		t.Error("AsDeviceError should not match plain errors")
	}
}

func TestParseDeviceErrorKind(t *testing.T) {
	tests := map[string]DeviceErrorKind{
		"permission_denied":  PermissionDenied,
		"NotAllowedError":    PermissionDenied,
		"SecurityError":      PermissionDenied,
		"device_unavailable": DeviceUnavailable,
		"NotFoundError":      DeviceUnavailable,
		"":                   DeviceUnavailable,
	}
	for in, want := range tests {
		if got := ParseDeviceErrorKind(in); got != want {
			t.Errorf("ParseDeviceErrorKind(%q) = %v, want %v", in, got, want)
		}
	}
	if PermissionDenied.String() != "permission_denied" {
		t.Errorf("String() = %q", PermissionDenied.String())
	}
}

func TestProbeNodeMissing(t *testing.T) {
	err := probeNode(filepath.Join(t.TempDir(), "video9"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("probeNode() error = %v, want not exist", err)
	}
	d := NewDevice(DefaultConfig(), nil)
	if de := d.deviceError(err); de.Kind != DeviceUnavailable {
		t.Errorf("kind = %v, want DeviceUnavailable", de.Kind)
	}
	if de := d.deviceError(fs.ErrPermission); de.Kind != PermissionDenied {
		t.Errorf("kind = %v, want PermissionDenied", de.Kind)
	}
}

func TestDeviceStartInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width = 10
	d := NewDevice(cfg, nil)
	err := d.Start(t.Context())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Start() error = %v, want device unavailable", err)
	}
}

func TestConfigPresets(t *testing.T) {
	for name, cfg := range Presets() {
		if err := cfg.Validate(); err != nil {
			t.Errorf("preset %s invalid: %v", name, err)
		}
	}
	if GetPreset("720P") == nil {
		t.Error("GetPreset should be case-insensitive")
	}
	if GetPreset("8k") != nil {
		t.Error("unknown preset should return nil")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"negative device", func(c *Config) { c.Device = -1 }, true},
		{"tiny width", func(c *Config) { c.Width = 100 }, true},
		{"huge height", func(c *Config) { c.Height = 5000 }, true},
		{"zero fps", func(c *Config) { c.Framerate = 0 }, true},
		{"quality over 100", func(c *Config) { c.Quality = 101 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
