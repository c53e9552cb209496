// Package config loads signcam configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/teslashibe/go-signcam/pkg/capture"
	"github.com/teslashibe/go-signcam/pkg/classify"
	"github.com/teslashibe/go-signcam/pkg/sampler"
)

// EnvPrefix prefixes every signcam environment variable.
const EnvPrefix = "SIGNCAM_"

// Source kinds.
const (
	SourceDevice  = "device"
	SourceScreen  = "screen"
	SourceBrowser = "browser"
	SourceWebRTC  = "webrtc"
	SourceRemote  = "remote"
	SourceDemo    = "demo"
)

// Classifier kinds.
const (
	ClassifierStub   = "stub"
	ClassifierModel  = "model"
	ClassifierVision = "vision"
	ClassifierGemini = "gemini"
)

// FallbackStub chains the stub behind a failing primary classifier. Its
// labels are made up, so it is only meant for demos.
const FallbackStub = "stub"

// Config is the full process configuration.
type Config struct {
	Port     string
	LogLevel string

	// Capture
	Source     string
	Preset     string
	Capture    capture.Config
	RemoteURL  string
	ICEServers []string
	FFmpegPath string

	// Sampling
	Interval  time.Duration
	Immediate bool
	Policy    string

	// Classification
	Classifier string
	Fallback   string
	Labels     string
	StubDelay  time.Duration
	StubMode   string
	StubLabel  string
	ModelPath  string

	VisionBaseURL string
	VisionAPIKey  string
	VisionModel   string
	GeminiAPIKey  string
	GeminiModel   string
	RemoteTimeout time.Duration

	// Display
	Debounce     time.Duration
	PreviewFPS   float64
	PreviewWidth int
}

// Default returns the configuration used when nothing is set: a browser
// camera classified by the stub every 2 seconds.
func Default() Config {
	return Config{
		Port:          "8080",
		LogLevel:      "info",
		Source:        SourceBrowser,
		Preset:        capture.PresetDefault,
		Capture:       capture.DefaultConfig(),
		ICEServers:    []string{"stun:stun.l.google.com:19302"},
		FFmpegPath:    "ffmpeg",
		Interval:      sampler.DefaultInterval,
		Immediate:     true,
		Policy:        sampler.PolicyDrop.String(),
		Classifier:    ClassifierStub,
		Labels:        classify.DefaultLabels().String(),
		StubDelay:     classify.DefaultStubDelay,
		StubMode:      string(classify.ModeRandom),
		VisionModel:   "gpt-4o-mini",
		GeminiModel:   "gemini-2.0-flash",
		RemoteTimeout: 30 * time.Second,
		Debounce:      250 * time.Millisecond,
		PreviewFPS:    2,
		PreviewWidth:  320,
	}
}

// Load reads the given .env files (".env" when none are named; missing
// files are ignored) and then the environment over Default.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := Default()
	p := parser{}

	cfg.Port = p.str("PORT", cfg.Port)
	cfg.LogLevel = p.str("LOG_LEVEL", cfg.LogLevel)

	cfg.Source = strings.ToLower(p.str("SOURCE", cfg.Source))
	cfg.Preset = p.str("PRESET", cfg.Preset)
	if preset := capture.GetPreset(cfg.Preset); preset != nil {
		cfg.Capture = *preset
	} else {
		p.fail("PRESET", fmt.Errorf("unknown preset %q", cfg.Preset))
	}
	cfg.Capture.Device = p.integer("DEVICE", cfg.Capture.Device)
	cfg.Capture.Width = p.integer("WIDTH", cfg.Capture.Width)
	cfg.Capture.Height = p.integer("HEIGHT", cfg.Capture.Height)
	cfg.Capture.Framerate = p.integer("FPS", cfg.Capture.Framerate)
	cfg.Capture.Quality = p.integer("QUALITY", cfg.Capture.Quality)
	cfg.RemoteURL = p.str("REMOTE_URL", cfg.RemoteURL)
	cfg.ICEServers = p.list("ICE_SERVERS", cfg.ICEServers)
	cfg.FFmpegPath = p.str("FFMPEG", cfg.FFmpegPath)

	cfg.Interval = p.duration("INTERVAL", cfg.Interval)
	cfg.Immediate = p.boolean("IMMEDIATE", cfg.Immediate)
	cfg.Policy = p.str("POLICY", cfg.Policy)

	cfg.Classifier = strings.ToLower(p.str("CLASSIFIER", cfg.Classifier))
	cfg.Fallback = strings.ToLower(p.str("FALLBACK", cfg.Fallback))
	cfg.Labels = p.str("LABELS", cfg.Labels)
	cfg.StubDelay = p.duration("STUB_DELAY", cfg.StubDelay)
	cfg.StubMode = p.str("STUB_MODE", cfg.StubMode)
	cfg.StubLabel = p.str("STUB_LABEL", cfg.StubLabel)
	cfg.ModelPath = p.str("MODEL_PATH", cfg.ModelPath)

	cfg.VisionBaseURL = p.str("VISION_BASE_URL", cfg.VisionBaseURL)
	cfg.VisionAPIKey = p.str("VISION_API_KEY", os.Getenv("OPENAI_API_KEY"))
	cfg.VisionModel = p.str("VISION_MODEL", cfg.VisionModel)
	cfg.GeminiAPIKey = p.str("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY"))
	cfg.GeminiModel = p.str("GEMINI_MODEL", cfg.GeminiModel)
	cfg.RemoteTimeout = p.duration("REMOTE_TIMEOUT", cfg.RemoteTimeout)

	cfg.Debounce = p.duration("DEBOUNCE", cfg.Debounce)
	cfg.PreviewFPS = p.number("PREVIEW_FPS", cfg.PreviewFPS)
	cfg.PreviewWidth = p.integer("PREVIEW_WIDTH", cfg.PreviewWidth)

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the pipeline cannot run
// with.
func (c Config) Validate() error {
	var errs []error
	switch c.Source {
	case SourceDevice, SourceScreen:
		if err := c.Capture.Validate(); err != nil {
			errs = append(errs, err)
		}
	case SourceRemote:
		if !strings.HasPrefix(c.RemoteURL, "ws://") && !strings.HasPrefix(c.RemoteURL, "wss://") {
			errs = append(errs, fmt.Errorf("config: remote source needs a ws:// or wss:// %sREMOTE_URL", EnvPrefix))
		}
	case SourceBrowser, SourceWebRTC, SourceDemo:
	default:
		errs = append(errs, fmt.Errorf("config: unknown source %q", c.Source))
	}

	if c.Interval < 0 {
		errs = append(errs, errors.New("config: interval must not be negative"))
	}
	if _, err := sampler.ParsePolicy(c.Policy); err != nil {
		errs = append(errs, err)
	}

	labels, err := classify.ParseLabels(c.Labels)
	if err != nil {
		errs = append(errs, err)
	}
	if _, err := classify.ParseMode(c.StubMode); err != nil {
		errs = append(errs, err)
	}
	if c.StubLabel != "" && err == nil && !labels.Contains(c.StubLabel) {
		errs = append(errs, fmt.Errorf("config: stub label %q not in %s", c.StubLabel, labels))
	}
	if c.StubDelay < 0 {
		errs = append(errs, errors.New("config: stub delay must not be negative"))
	}

	switch c.Classifier {
	case ClassifierStub, ClassifierGemini:
	case ClassifierModel:
		if c.ModelPath == "" {
			errs = append(errs, fmt.Errorf("config: model classifier needs %sMODEL_PATH", EnvPrefix))
		}
	case ClassifierVision:
		if c.VisionAPIKey == "" {
			errs = append(errs, fmt.Errorf("config: vision classifier needs %sVISION_API_KEY or OPENAI_API_KEY", EnvPrefix))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown classifier %q", c.Classifier))
	}

	switch c.Fallback {
	case "", FallbackStub:
	default:
		errs = append(errs, fmt.Errorf("config: unknown fallback %q", c.Fallback))
	}

	if c.PreviewFPS < 0 {
		errs = append(errs, errors.New("config: preview fps must not be negative"))
	}
	if c.Debounce < 0 {
		errs = append(errs, errors.New("config: debounce must not be negative"))
	}
	return errors.Join(errs...)
}

// LabelSet parses the configured labels.
func (c Config) LabelSet() (classify.Labels, error) {
	return classify.ParseLabels(c.Labels)
}

// parser reads prefixed variables and collects parse errors.
type parser struct {
	errs []error
}

func (p *parser) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
}

func (p *parser) str(key, def string) string {
	if v, ok := p.lookup(key); ok {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) number(key string, def float64) float64 {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return f
}

func (p *parser) boolean(key string, def bool) bool {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

// duration accepts Go durations ("2s") and bare milliseconds ("2000").
func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func (p *parser) list(key string, def []string) []string {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
