package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/teslashibe/go-signcam/pkg/frame"
)

// Confidence reported for remote replies, which carry no scores. A reply
// that needed its lead-in stripped gets the lower value.
const (
	exactReplyConfidence   = 1.0
	partialReplyConfidence = 0.6
)

// prompt asks a vision model for exactly one label.
func prompt(labels Labels) string {
	return fmt.Sprintf("The image shows a person signing in front of a camera. "+
		"Which of these signs is being made: %s? "+
		"Answer with exactly one of those labels and nothing else. "+
		"If no hand sign is visible, answer Unknown.", labels)
}

// parseAPIError reads an error body in either OpenAI or Google style.
func parseAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error struct {
			Message string          `json:"message"`
			Code    json.RawMessage `json:"code"`
			Status  string          `json:"status"`
		} `json:"error"`
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Code = strings.Trim(string(errResp.Error.Code), `"`)
		if errResp.Error.Status != "" {
			apiErr.Code = errResp.Error.Status
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// transportError classifies a failed round trip.
func transportError(ctx context.Context, classifier string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return newError(KindInference, classifier, fmt.Errorf("request timed out: %w", err))
	}
	return newError(KindUnavailable, classifier, err)
}

// replyResult maps a backend reply to a result.
func replyResult(classifier string, labels Labels, reply string, f frame.Frame, start time.Time) (Result, error) {
	label, ok := labels.Match(reply)
	if !ok {
		return Result{}, newError(KindInference, classifier, fmt.Errorf("%w: %q", ErrUnmatchedReply, truncate(reply, 80)))
	}
	confidence := partialReplyConfidence
	if normalize(reply) == normalize(label) {
		confidence = exactReplyConfidence
	}
	now := time.Now()
	return Result{
		Label:      label,
		Confidence: confidence,
		Timestamp:  now,
		FrameID:    f.ID(),
		Classifier: classifier,
		Latency:    now.Sub(start),
	}, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
