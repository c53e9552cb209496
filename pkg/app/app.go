// Package app wires the capture source, classifier, publisher and web
// server into one running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-signcam/internal/config"
	"github.com/teslashibe/go-signcam/internal/log"
	"github.com/teslashibe/go-signcam/pkg/capture"
	"github.com/teslashibe/go-signcam/pkg/classify"
	"github.com/teslashibe/go-signcam/pkg/ingest"
	"github.com/teslashibe/go-signcam/pkg/pipeline"
	"github.com/teslashibe/go-signcam/pkg/publisher"
	"github.com/teslashibe/go-signcam/pkg/sampler"
	"github.com/teslashibe/go-signcam/pkg/web"
)

// App owns every component and their lifecycle.
type App struct {
	config config.Config
	logger *slog.Logger
	labels classify.Labels

	source     capture.Source
	classifier classify.Classifier
	publisher  *publisher.Publisher
	sampler    *sampler.Sampler
	pipeline   *pipeline.Pipeline

	server *web.Server
	ingest *ingest.Hub
	webrtc *capture.WebRTC

	closers []io.Closer
}

// New validates cfg and returns an uninitialized App.
func New(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	labels, err := cfg.LabelSet()
	if err != nil {
		return nil, err
	}
	return &App{
		config: cfg,
		logger: log.Component("app"),
		labels: labels,
	}, nil
}

// Init builds all components. Call it after New and before Run.
func (a *App) Init(ctx context.Context) error {
	a.server = web.NewServer(web.Config{
		Port:         a.config.Port,
		PreviewFPS:   a.config.PreviewFPS,
		PreviewWidth: a.config.PreviewWidth,
		OfferTimeout: web.DefaultConfig().OfferTimeout,
		Logger:       log.L(),
	}, a.labels)

	if err := a.initSource(); err != nil {
		return fmt.Errorf("source init: %w", err)
	}
	if err := a.initClassifier(ctx); err != nil {
		return fmt.Errorf("classifier init: %w", err)
	}

	a.publisher = publisher.New(publisher.Options{
		Debounce: a.config.Debounce,
		Logger:   log.Component("publisher"),
	}, publisher.NewLogSurface(log.L()), a.server.Surface())

	policy, err := sampler.ParsePolicy(a.config.Policy)
	if err != nil {
		return err
	}
	a.sampler = sampler.New(sampler.Options{
		Interval:  a.config.Interval,
		Immediate: a.config.Immediate,
		Policy:    policy,
		Logger:    log.L(),
	})

	a.pipeline = pipeline.New(a.source, a.sampler, a.classifier, a.publisher, a.labels, log.L())
	a.server.Attach(a.pipeline)
	if a.ingest != nil {
		a.server.MountIngest(a.ingest)
	}
	if a.webrtc != nil {
		a.server.MountWebRTC(a.webrtc)
	}

	a.logger.Info("initialized",
		"source", a.source.Name(),
		"classifier", a.classifier.Name(),
		"labels", a.labels.String(),
		"interval", a.config.Interval,
		"policy", policy.String())
	return nil
}

func (a *App) initSource() error {
	cfg := a.config
	switch cfg.Source {
	case config.SourceDevice:
		a.source = capture.NewDevice(cfg.Capture, log.L())
	case config.SourceScreen:
		a.source = capture.NewScreen(cfg.Capture, image.Rectangle{})
	case config.SourceBrowser:
		push := capture.NewPush("browser")
		a.source = push
		a.ingest = ingest.NewHub(push, log.L())
	case config.SourceWebRTC:
		wcfg := capture.DefaultWebRTCConfig()
		wcfg.ICEServers = cfg.ICEServers
		w, err := capture.NewWebRTC(wcfg, capture.FFmpegDecoder{Binary: cfg.FFmpegPath}, log.L())
		if err != nil {
			return err
		}
		a.source, a.webrtc = w, w
		// Browser-side getUserMedia failures still arrive over /ws/camera.
		a.ingest = ingest.NewHub(w, log.L())
	case config.SourceRemote:
		a.source = capture.NewRemote(cfg.RemoteURL, log.L())
	case config.SourceDemo:
		demo, err := capture.NewDemo(cfg.Capture)
		if err != nil {
			return err
		}
		a.source = demo
	default:
		return fmt.Errorf("unknown source %q", cfg.Source)
	}
	return nil
}

// initClassifier builds the configured classifier. Failures of a model or
// remote backend surface as Unknown unless the stub fallback is enabled.
func (a *App) initClassifier(ctx context.Context) error {
	cfg := a.config
	stubOpts := []classify.StubOption{classify.WithDelay(cfg.StubDelay)}
	mode, err := classify.ParseMode(cfg.StubMode)
	if err != nil {
		return err
	}
	if mode == classify.ModeFixed || cfg.StubLabel != "" {
		label := cfg.StubLabel
		if label == "" {
			label = a.labels[0]
		}
		stubOpts = append(stubOpts, classify.WithFixedLabel(label))
	}
	stub, err := classify.NewStub(a.labels, stubOpts...)
	if err != nil {
		return err
	}

	remoteOpts := []classify.Option{
		classify.WithLabels(a.labels),
		classify.WithTimeout(cfg.RemoteTimeout),
		classify.WithLogger(log.L()),
	}

	var primary classify.Classifier
	switch cfg.Classifier {
	case config.ClassifierStub:
		a.classifier = stub
		return nil
	case config.ClassifierModel:
		mcfg := classify.DefaultModelConfig()
		mcfg.Path = cfg.ModelPath
		m, err := classify.NewModel(mcfg, a.labels, log.L())
		if err != nil {
			return err
		}
		a.closers = append(a.closers, m)
		primary = m
	case config.ClassifierVision:
		opts := append(remoteOpts, classify.WithAPIKey(cfg.VisionAPIKey), classify.WithModel(cfg.VisionModel))
		if cfg.VisionBaseURL != "" {
			opts = append(opts, classify.WithBaseURL(cfg.VisionBaseURL))
		}
		v, err := classify.NewVision(opts...)
		if err != nil {
			return err
		}
		primary = v
	case config.ClassifierGemini:
		g, err := classify.NewGemini(ctx, append(remoteOpts, classify.WithAPIKey(cfg.GeminiAPIKey), classify.WithModel(cfg.GeminiModel))...)
		if err != nil {
			return err
		}
		primary = g
	default:
		return fmt.Errorf("unknown classifier %q", cfg.Classifier)
	}

	if cfg.Fallback != config.FallbackStub {
		a.classifier = primary
		return nil
	}
	a.logger.Warn("stub fallback enabled: backend failures show made-up labels")
	chain, err := classify.NewChainWithLogger(log.L(), primary, stub)
	if err != nil {
		return err
	}
	a.classifier = chain
	return nil
}

// Run serves the web UI and runs the pipeline until ctx is cancelled or
// either of them fails.
func (a *App) Run(ctx context.Context) error {
	if a.pipeline == nil {
		return errors.New("app: Run called before Init")
	}
	a.logger.Info("listening", "url", "http://localhost:"+a.config.Port)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.pipeline.Run(ctx) })
	g.Go(func() error { return a.server.Run(ctx) })
	return g.Wait()
}

// Status reports the pipeline status. Valid after Init.
func (a *App) Status() pipeline.Status { return a.pipeline.Status() }

// Shutdown releases resources Run does not own.
func (a *App) Shutdown() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.logger.Info("goodbye")
}
