package classify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func openAIServer(t *testing.T, status int, reply string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			body, _ := io.ReadAll(r.Body)
			json.Unmarshal(body, seen)
			(*seen)["_auth"] = r.Header.Get("Authorization")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": reply, "code": "invalid_api_key"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVisionClassify(t *testing.T) {
	seen := map[string]any{}
	srv := openAIServer(t, http.StatusOK, "Thank you.", &seen)

	v, err := NewVision(WithBaseURL(srv.URL+"/"), WithAPIKey("sk-test"), WithModel("llava"), WithLogger(discard()))
	if err != nil {
		t.Fatal(err)
	}
	f := testFrame(t)
	res, err := v.Classify(context.Background(), f)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Label != "Thank You" || res.Confidence != exactReplyConfidence {
		t.Errorf("result = %+v", res)
	}
	if res.FrameID != f.ID() || res.Classifier != "vision" {
		t.Errorf("result metadata = %+v", res)
	}

	if seen["model"] != "llava" {
		t.Errorf("model = %v", seen["model"])
	}
	if seen["_auth"] != "Bearer sk-test" {
		t.Errorf("Authorization = %v", seen["_auth"])
	}
	msgs, _ := seen["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", seen["messages"])
	}
	content, _ := msgs[0].(map[string]any)["content"].([]any)
	if len(content) != 2 {
		t.Fatalf("content parts = %d, want text and image", len(content))
	}
	img := content[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(img, "data:image/jpeg;base64,") {
		t.Errorf("image url = %.40s", img)
	}
}

func TestVisionErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		reply    string
		wantKind Kind
	}{
		{"unauthorized", http.StatusUnauthorized, "bad key", KindUnavailable},
		{"server error", http.StatusBadGateway, "upstream", KindUnavailable},
		{"unmatched reply", http.StatusOK, "a thumbs up", KindInference},
		{"unknown reply", http.StatusOK, "Unknown", KindInference},
		{"negative sentence", http.StatusOK, "No hand sign is visible.", KindInference},
		{"bad request", http.StatusBadRequest, "model not found", KindInference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := openAIServer(t, tt.status, tt.reply, nil)
			v, _ := NewVision(WithBaseURL(srv.URL), WithLogger(discard()))

			_, err := v.Classify(context.Background(), testFrame(t))
			ce, ok := AsError(err)
			if !ok {
				t.Fatalf("error %v is not a classify error", err)
			}
			if ce.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", ce.Kind, tt.wantKind)
			}
		})
	}
}

func TestVisionUnreachable(t *testing.T) {
	v, _ := NewVision(WithBaseURL("http://127.0.0.1:1"), WithLogger(discard()))
	_, err := v.Classify(context.Background(), testFrame(t))
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("error = %v, want model unavailable", err)
	}
}

func TestVisionCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	v, _ := NewVision(WithBaseURL(srv.URL), WithLogger(discard()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := v.Classify(ctx, testFrame(t)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func geminiServer(t *testing.T, reply string, auth *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent") {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "model not found", "code": 404, "status": "NOT_FOUND"},
			})
			return
		}
		if auth != nil {
			*auth = r.Header.Get("x-goog-api-key") + "|" + r.Header.Get("Authorization")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"parts": []map[string]any{{"text": reply}}},
				"finishReason": "STOP",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGeminiWithAPIKey(t *testing.T) {
	var auth string
	srv := geminiServer(t, "I Love You", &auth)

	g, err := NewGemini(context.Background(),
		WithBaseURL(srv.URL), WithModel("gemini-test"), WithAPIKey("g-key"), WithLogger(discard()))
	if err != nil {
		t.Fatal(err)
	}
	res, err := g.Classify(context.Background(), testFrame(t))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Label != "I Love You" {
		t.Errorf("Label = %q", res.Label)
	}
	if auth != "g-key|" {
		t.Errorf("auth headers = %q", auth)
	}
}

func TestGeminiWithTokenSource(t *testing.T) {
	var auth string
	srv := geminiServer(t, "no", &auth)

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ya29.test", TokenType: "Bearer"})
	g, err := NewGemini(context.Background(),
		WithBaseURL(srv.URL), WithModel("gemini-test"), WithTokenSource(ts), WithLogger(discard()))
	if err != nil {
		t.Fatal(err)
	}
	res, err := g.Classify(context.Background(), testFrame(t))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Label != "No" {
		t.Errorf("Label = %q", res.Label)
	}
	if auth != "|Bearer ya29.test" {
		t.Errorf("auth headers = %q", auth)
	}
}

func TestGeminiModelNotFound(t *testing.T) {
	srv := geminiServer(t, "", nil)
	g, _ := NewGemini(context.Background(),
		WithBaseURL(srv.URL), WithModel("other"), WithAPIKey("k"), WithLogger(discard()))

	_, err := g.Classify(context.Background(), testFrame(t))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.Code != "NOT_FOUND" || apiErr.Message != "model not found" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if !errors.Is(err, ErrModelUnavailable) {
		t.Error("404 should be reported as unavailable")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"héllo", 2, "h..."},
		{"日本語", 4, "日..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want || !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
