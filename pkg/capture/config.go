package capture

import (
	"fmt"
	"strings"
)

// Config holds the capture parameters shared by local sources.
type Config struct {
	Device    int `json:"device"`    // Camera index for device sources
	Width     int `json:"width"`     // Frame width in pixels
	Height    int `json:"height"`    // Frame height in pixels
	Framerate int `json:"framerate"` // Target FPS
	Quality   int `json:"quality"`   // JPEG quality 1-100
}

// Preset names for common configurations
const (
	PresetDefault = "default"
	PresetLow     = "low"
	Preset720p    = "720p"
	Preset1080p   = "1080p"
)

// DefaultConfig returns 640x480, which is plenty for classification and
// matches what browsers hand out by default.
func DefaultConfig() Config {
	return Config{
		Device:    0,
		Width:     640,
		Height:    480,
		Framerate: 30,
		Quality:   85,
	}
}

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	low := DefaultConfig()
	low.Width, low.Height, low.Framerate, low.Quality = 320, 240, 15, 75

	hd := DefaultConfig()
	hd.Width, hd.Height = 1280, 720

	fhd := DefaultConfig()
	fhd.Width, fhd.Height = 1920, 1080

	return map[string]Config{
		PresetDefault: DefaultConfig(),
		PresetLow:     low,
		Preset720p:    hd,
		Preset1080p:   fhd,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[strings.ToLower(name)]; ok {
		return &cfg
	}
	return nil
}

// Validate checks that the values are within usable ranges.
func (c Config) Validate() error {
	var problems []string
	if c.Device < 0 {
		problems = append(problems, "device must be >= 0")
	}
	if c.Width < 160 || c.Width > 3840 {
		problems = append(problems, "width must be between 160 and 3840")
	}
	if c.Height < 120 || c.Height > 2160 {
		problems = append(problems, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > 120 {
		problems = append(problems, "framerate must be between 1 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		problems = append(problems, "quality must be between 1 and 100")
	}
	if len(problems) > 0 {
		return fmt.Errorf("capture config: %s", strings.Join(problems, "; "))
	}
	return nil
}
