package classify

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-signcam/pkg/frame"
)

// ModelConfig holds ONNX classifier configuration.
type ModelConfig struct {
	Path        string // ONNX file
	InputWidth  int    // Network input size
	InputHeight int
	Scale       float64    // Pixel scale factor
	Mean        [3]float64 // Per-channel mean subtracted before scaling
	SwapRB      bool       // Feed RGB instead of BGR

	// Probabilities is set when the graph already ends in a softmax, so
	// its outputs are used as they are.
	Probabilities bool
}

// DefaultModelConfig returns the usual 224x224 image classifier settings.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Path:        "models/signs.onnx",
		InputWidth:  224,
		InputHeight: 224,
		Scale:       1.0 / 255.0,
		SwapRB:      true,
	}
}

// Model runs a local ONNX image classifier through OpenCV's DNN module.
// The network must output one score per label, in label order.
type Model struct {
	net       gocv.Net
	config    ModelConfig
	labels    Labels
	inputSize image.Point
	logger    *slog.Logger
	mu        sync.Mutex
}

// NewModel loads the network. A missing or unreadable file is a
// KindUnavailable error.
func NewModel(cfg ModelConfig, labels Labels, logger *slog.Logger) (*Model, error) {
	if len(labels) == 0 {
		return nil, ErrNoLabels
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		return nil, newError(KindUnavailable, "model", errors.New("no model path configured"))
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, newError(KindUnavailable, "model", fmt.Errorf("model file: %w", err))
	}
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		d := DefaultModelConfig()
		cfg.InputWidth, cfg.InputHeight = d.InputWidth, d.InputHeight
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1.0 / 255.0
	}

	net := gocv.ReadNetFromONNX(cfg.Path)
	if net.Empty() {
		return nil, newError(KindUnavailable, "model", fmt.Errorf("failed to load model from %s", cfg.Path))
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	logger.Info("model loaded", "path", cfg.Path, "labels", len(labels))
	return &Model{
		net:       net,
		config:    cfg,
		labels:    labels,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
		logger:    logger.With("component", "classify.model"),
	}, nil
}

// Name implements Classifier.
func (m *Model) Name() string { return "model" }

// Classify runs one forward pass.
func (m *Model) Classify(ctx context.Context, f frame.Frame) (Result, error) {
	if err := checkFrame(m.Name(), f); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := time.Now()

	img, err := gocv.IMDecode(f.JPEG(), gocv.IMReadColor)
	if err != nil {
		return Result{}, newError(KindMalformed, m.Name(), fmt.Errorf("decode image: %w", err))
	}
	defer img.Close()
	if img.Empty() {
		return Result{}, newError(KindMalformed, m.Name(), errors.New("empty image"))
	}

	mean := m.config.Mean
	blob := gocv.BlobFromImage(img, m.config.Scale, m.inputSize,
		gocv.NewScalar(mean[0], mean[1], mean[2], 0), m.config.SwapRB, false)
	defer blob.Close()

	m.mu.Lock()
	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	m.mu.Unlock()
	defer output.Close()

	scores, err := output.DataPtrFloat32()
	if err != nil {
		return Result{}, newError(KindInference, m.Name(), fmt.Errorf("read output: %w", err))
	}
	if len(scores) != len(m.labels) {
		return Result{}, newError(KindInference, m.Name(),
			fmt.Errorf("model produced %d scores for %d labels", len(scores), len(m.labels)))
	}

	idx, p := argmax(probabilities(scores, m.config.Probabilities))
	now := time.Now()
	return Result{
		Label:      m.labels[idx],
		Confidence: clamp(p),
		Timestamp:  now,
		FrameID:    f.ID(),
		Classifier: m.Name(),
		Latency:    now.Sub(start),
	}, nil
}

// Close releases the network.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}

// probabilities returns per-label probabilities for the network output.
func probabilities(scores []float32, normalized bool) []float64 {
	if !normalized {
		return softmax(scores)
	}
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = float64(s)
	}
	return out
}

// softmax turns raw scores into probabilities.
func softmax(scores []float32) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	maxScore := float64(scores[0])
	for _, s := range scores[1:] {
		maxScore = math.Max(maxScore, float64(s))
	}
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(float64(s) - maxScore)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func argmax(p []float64) (int, float64) {
	best := 0
	for i := range p {
		if p[i] > p[best] {
			best = i
		}
	}
	return best, p[best]
}

var _ Classifier = (*Model)(nil)
