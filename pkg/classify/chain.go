package classify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-signcam/pkg/frame"
)

// Chain tries multiple classifiers in order until one succeeds.
type Chain struct {
	classifiers []Classifier
	logger      *slog.Logger
}

// NewChain creates a classifier chain.
// At least one classifier is required.
func NewChain(classifiers ...Classifier) (*Chain, error) {
	if len(classifiers) == 0 {
		return nil, ErrNoClassifiers
	}
	return &Chain{
		classifiers: classifiers,
		logger:      slog.Default().With("component", "classify.chain"),
	}, nil
}

// NewChainWithLogger creates a classifier chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, classifiers ...Classifier) (*Chain, error) {
	chain, err := NewChain(classifiers...)
	if err != nil {
		return nil, err
	}
	chain.logger = logger.With("component", "classify.chain")
	return chain, nil
}

// Name lists the chained classifiers.
func (c *Chain) Name() string {
	names := make([]string, len(c.classifiers))
	for i, cl := range c.classifiers {
		names[i] = cl.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Classify tries each classifier until one succeeds. A malformed frame
// stops the chain since no other backend can do better with it.
func (c *Chain) Classify(ctx context.Context, f frame.Frame) (Result, error) {
	if err := checkFrame(c.Name(), f); err != nil {
		return Result{}, err
	}

	var errs []error
	for i, cl := range c.classifiers {
		res, err := cl.Classify(ctx, f)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback classifier succeeded",
					"classifier", cl.Name(),
					"classifier_index", i,
				)
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		errs = append(errs, err)
		if ce, ok := AsError(err); ok && ce.Kind == KindMalformed {
			break
		}
		c.logger.Warn("classifier failed, trying next",
			"classifier", cl.Name(),
			"classifier_index", i,
			"error", err,
		)
	}

	return Result{}, newError(chainKind(errs), c.Name(), &ChainError{Errors: errs})
}

// chainKind picks the kind of the last failure, defaulting to inference.
func chainKind(errs []error) Kind {
	if len(errs) == 0 {
		return KindUnavailable
	}
	if ce, ok := AsError(errs[len(errs)-1]); ok {
		return ce.Kind
	}
	return KindInference
}

var _ Classifier = (*Chain)(nil)
