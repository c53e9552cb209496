package classify

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrMalformedFrame matches any classification error caused by an
	// unusable frame.
	ErrMalformedFrame = errors.New("classify: malformed frame")

	// ErrModelUnavailable matches any classification error caused by a
	// missing model or an unreachable backend.
	ErrModelUnavailable = errors.New("classify: model unavailable")

	// ErrNoAPIKey is returned when a remote backend needs credentials.
	ErrNoAPIKey = errors.New("classify: API key required")

	// ErrNoLabels is returned for an empty label set.
	ErrNoLabels = errors.New("classify: label set is empty")

	// ErrDuplicateLabel is returned when a label appears twice.
	ErrDuplicateLabel = errors.New("classify: duplicate label")

	// ErrUnmatchedReply is returned when a backend answers with something
	// outside the label set.
	ErrUnmatchedReply = errors.New("classify: reply matches no label")

	// ErrNoClassifiers is returned by NewChain without classifiers.
	ErrNoClassifiers = errors.New("classify: no classifiers")
)

// Kind says why a classification failed.
type Kind int

const (
	// KindInference means the backend ran but produced nothing usable.
	KindInference Kind = iota
	// KindMalformed means the frame could not be decoded or validated.
	KindMalformed
	// KindUnavailable means no model was loaded or the backend refused.
	KindUnavailable
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed frame"
	case KindUnavailable:
		return "model unavailable"
	default:
		return "inference failed"
	}
}

// Error is the failure type of every Classifier.
type Error struct {
	Kind       Kind
	Classifier string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("classify [%s]: %s", e.Classifier, e.Kind)
	}
	return fmt.Sprintf("classify [%s]: %s: %v", e.Classifier, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrMalformedFrame:
		return e.Kind == KindMalformed
	case ErrModelUnavailable:
		return e.Kind == KindUnavailable
	}
	return false
}

func newError(kind Kind, classifier string, err error) *Error {
	return &Error{Kind: kind, Classifier: classifier, Err: err}
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// APIError is an error response from a remote classification backend.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized returns true for HTTP 401 and 403.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// kind maps the status to a failure kind. A backend that refuses us is
// unavailable; any other rejected request is an inference failure.
// KindMalformed is reserved for frames failing local validation.
func (e *APIError) kind() Kind {
	switch {
	case e.IsUnauthorized(), e.IsRateLimited(), e.IsServerError(), e.StatusCode == 404:
		return KindUnavailable
	default:
		return KindInference
	}
}

// ChainError aggregates the failures of every classifier in a chain.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "classify chain: no errors recorded"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("classify chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("classify chain: all %d classifiers failed, last error: %v",
		len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error {
	return e.Errors
}
