package classify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-signcam/internal/httpc"
	"github.com/teslashibe/go-signcam/pkg/frame"
)

// Vision classifies frames with any OpenAI-compatible vision model
// (OpenAI, Ollama, vLLM, Groq, etc.).
type Vision struct {
	baseURL string
	apiKey  string
	config  *Config
	http    *http.Client
	logger  *slog.Logger
}

// NewVision creates a vision classifier.
func NewVision(opts ...Option) (*Vision, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpc.NewClient(cfg.Timeout)
	}
	return &Vision{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		config:  cfg,
		http:    hc,
		logger:  cfg.Logger.With("component", "classify.vision"),
	}, nil
}

// Name implements Classifier.
func (v *Vision) Name() string { return "vision" }

// Classify sends the frame to /chat/completions and matches the reply.
func (v *Vision) Classify(ctx context.Context, f frame.Frame) (Result, error) {
	if err := checkFrame(v.Name(), f); err != nil {
		return Result{}, err
	}
	start := time.Now()

	payload := map[string]any{
		"model":       v.config.Model,
		"max_tokens":  v.config.MaxTokens,
		"temperature": 0,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": prompt(v.config.Labels)},
				{"type": "image_url", "image_url": map[string]string{
					"url": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(f.JPEG()),
				}},
			},
		}},
	}

	headers := map[string]string{}
	if v.apiKey != "" {
		headers["Authorization"] = "Bearer " + v.apiKey
	}

	resp, err := httpc.PostJSON(ctx, v.http, v.baseURL+"/chat/completions", payload, headers)
	if err != nil {
		return Result{}, transportError(ctx, v.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := parseAPIError(resp)
		return Result{}, newError(apiErr.kind(), v.Name(), apiErr)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, newError(KindInference, v.Name(), fmt.Errorf("decode response: %w", err))
	}
	if len(result.Choices) == 0 {
		return Result{}, newError(KindInference, v.Name(), fmt.Errorf("no choices returned"))
	}

	reply := result.Choices[0].Message.Content
	v.logger.Debug("vision reply", "reply", truncate(reply, 80), "latency_ms", time.Since(start).Milliseconds())
	return replyResult(v.Name(), v.config.Labels, reply, f, start)
}

var _ Classifier = (*Vision)(nil)
