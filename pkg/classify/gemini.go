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

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teslashibe/go-signcam/internal/httpc"
	"github.com/teslashibe/go-signcam/pkg/frame"
)

const (
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiModel   = "gemini-2.0-flash"
	geminiScope   = "https://www.googleapis.com/auth/generative-language"
)

// Gemini classifies frames with Google's Gemini API. Gemini uses a
// different request format than OpenAI, so it is implemented directly.
type Gemini struct {
	apiKey string
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// NewGemini creates a Gemini classifier. Without an API key it falls back
// to the configured token source, then to application default credentials.
func NewGemini(ctx context.Context, opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = geminiBaseURL
	cfg.Model = geminiModel
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpc.NewClient(cfg.Timeout)
	}

	if cfg.APIKey == "" {
		ts := cfg.TokenSource
		if ts == nil {
			var err error
			ts, err = google.DefaultTokenSource(ctx, geminiScope)
			if err != nil {
				return nil, newError(KindUnavailable, "gemini", fmt.Errorf("%w: no default credentials: %v", ErrNoAPIKey, err))
			}
		}
		base := hc.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc = &http.Client{
			Timeout:   hc.Timeout,
			Transport: &oauth2.Transport{Source: ts, Base: base},
		}
	}

	return &Gemini{
		apiKey: cfg.APIKey,
		config: cfg,
		http:   hc,
		logger: cfg.Logger.With("component", "classify.gemini"),
	}, nil
}

// Name implements Classifier.
func (g *Gemini) Name() string { return "gemini" }

// Classify sends the frame to generateContent and matches the reply.
func (g *Gemini) Classify(ctx context.Context, f frame.Frame) (Result, error) {
	if err := checkFrame(g.Name(), f); err != nil {
		return Result{}, err
	}
	start := time.Now()

	payload := map[string]any{
		"contents": []map[string]any{{
			"role": "user",
			"parts": []map[string]any{
				{"text": prompt(g.config.Labels)},
				{"inline_data": map[string]string{
					"mime_type": "image/jpeg",
					"data":      base64.StdEncoding.EncodeToString(f.JPEG()),
				}},
			},
		}},
		"generationConfig": map[string]any{
			"temperature":     0,
			"maxOutputTokens": g.config.MaxTokens,
		},
	}

	headers := map[string]string{}
	if g.apiKey != "" {
		headers["x-goog-api-key"] = g.apiKey
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimSuffix(g.config.BaseURL, "/"), g.config.Model)
	resp, err := httpc.PostJSON(ctx, g.http, url, payload, headers)
	if err != nil {
		return Result{}, transportError(ctx, g.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := parseAPIError(resp)
		return Result{}, newError(apiErr.kind(), g.Name(), apiErr)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, newError(KindInference, g.Name(), fmt.Errorf("decode response: %w", err))
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return Result{}, newError(KindInference, g.Name(), fmt.Errorf("no candidates returned"))
	}

	reply := result.Candidates[0].Content.Parts[0].Text
	g.logger.Debug("gemini reply", "reply", truncate(reply, 80), "latency_ms", time.Since(start).Milliseconds())
	return replyResult(g.Name(), g.config.Labels, reply, f, start)
}

var _ Classifier = (*Gemini)(nil)
