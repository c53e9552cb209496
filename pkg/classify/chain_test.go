package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/teslashibe/go-signcam/pkg/frame"
)

func TestNewChain(t *testing.T) {
	if _, err := NewChain(); !errors.Is(err, ErrNoClassifiers) {
		t.Errorf("NewChain() error = %v", err)
	}
	chain, err := NewChain(NewMock("Yes"), NewMock("No"))
	if err != nil {
		t.Fatal(err)
	}
	if chain.Name() != "chain(mock,mock)" {
		t.Errorf("Name() = %q", chain.Name())
	}
}

func TestChainFallback(t *testing.T) {
	primary := NewFailingMock(newError(KindUnavailable, "vision", errors.New("connection refused")))
	fallback := NewMock("Hello")

	chain, err := NewChainWithLogger(discard(), primary, fallback)
	if err != nil {
		t.Fatal(err)
	}

	res, err := chain.Classify(context.Background(), testFrame(t))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Label != "Hello" {
		t.Errorf("Label = %q, want Hello", res.Label)
	}
	if primary.CallCount() != 1 || fallback.CallCount() != 1 {
		t.Errorf("calls = %d, %d", primary.CallCount(), fallback.CallCount())
	}
}

func TestChainAllFail(t *testing.T) {
	first := NewFailingMock(newError(KindUnavailable, "a", nil))
	second := NewFailingMock(newError(KindInference, "b", errors.New("garbled")))
	chain, _ := NewChainWithLogger(discard(), first, second)

	_, err := chain.Classify(context.Background(), testFrame(t))
	ce, ok := AsError(err)
	if !ok {
		t.Fatalf("error %v is not a classify error", err)
	}
	if ce.Kind != KindInference {
		t.Errorf("Kind = %v, want the last failure's kind", ce.Kind)
	}
	var chainErr *ChainError
	if !errors.As(err, &chainErr) || len(chainErr.Errors) != 2 {
		t.Fatalf("expected ChainError with 2 errors, got %v", err)
	}
	if !errors.Is(err, ErrModelUnavailable) {
		t.Error("chain error should expose the unavailable failure")
	}
}

func TestChainStopsOnMalformed(t *testing.T) {
	second := NewMock("Yes")
	chain, _ := NewChainWithLogger(discard(), NewMock("No"), second)

	_, err := chain.Classify(context.Background(), frame.Frame{})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("error = %v, want malformed", err)
	}
	if second.CallCount() != 0 {
		t.Error("no classifier should run for a malformed frame")
	}
}

func TestChainCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &Mock{ClassifyFunc: func(ctx context.Context, f frame.Frame) (Result, error) {
		cancel()
		return Result{}, newError(KindInference, "a", ctx.Err())
	}}
	second := NewMock("Yes")
	chain, _ := NewChainWithLogger(discard(), first, second)

	if _, err := chain.Classify(ctx, testFrame(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want canceled", err)
	}
	if second.CallCount() != 0 {
		t.Error("chain should stop once the context is canceled")
	}
}

func TestMockRecordsCalls(t *testing.T) {
	m := NewMock("Yes")
	f := testFrame(t)
	m.Classify(context.Background(), f)
	m.Classify(context.Background(), f)

	calls := m.Calls()
	if len(calls) != 2 || calls[0].FrameID != f.ID().String() {
		t.Errorf("calls = %+v", calls)
	}
	m.Reset()
	if m.CallCount() != 0 {
		t.Error("Reset should clear calls")
	}

	empty := &Mock{}
	if _, err := empty.Classify(context.Background(), f); !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("Mock without func error = %v", err)
	}
}
