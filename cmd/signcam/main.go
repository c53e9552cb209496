// signcam - camera sign recognition with a live web display
// Samples a camera every interval, classifies the frame and shows the label.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-signcam/internal/config"
	"github.com/teslashibe/go-signcam/internal/log"
	"github.com/teslashibe/go-signcam/pkg/app"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(2)
	}
	log.Init(cfg.LogLevel)

	a, err := app.New(cfg)
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Init(ctx); err != nil {
		log.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer a.Shutdown()

	if err := a.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		a.Shutdown()
		os.Exit(1)
	}
}

// parseFlags loads the environment configuration and applies flags that
// were set explicitly on top of it.
func parseFlags() (config.Config, error) {
	envFile := flag.String("env", ".env", "Path to a .env file")
	port := flag.String("port", "", "HTTP port (overrides SIGNCAM_PORT)")
	source := flag.String("source", "", "Frame source: device, screen, browser, webrtc, remote, demo")
	classifier := flag.String("classifier", "", "Classifier: stub, model, vision, gemini")
	fallback := flag.String("fallback", "", "Set to stub to answer with the stub when the classifier fails (demos only)")
	labels := flag.String("labels", "", "Comma-separated sign labels")
	interval := flag.Duration("interval", 0, "Time between automatic samples (e.g. 2s)")
	remote := flag.String("remote", "", "ws:// URL of a remote camera (source=remote)")
	model := flag.String("model", "", "Path to an ONNX model (classifier=model)")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return cfg, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "source":
			cfg.Source = *source
		case "classifier":
			cfg.Classifier = *classifier
		case "fallback":
			cfg.Fallback = *fallback
		case "labels":
			cfg.Labels = *labels
		case "interval":
			cfg.Interval = *interval
		case "remote":
			cfg.RemoteURL = *remote
		case "model":
			cfg.ModelPath = *model
		case "debug":
			if *debug {
				cfg.LogLevel = "debug"
			}
		}
	})
	return cfg, nil
}
