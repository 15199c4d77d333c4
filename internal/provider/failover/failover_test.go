package failover

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgerun/core/internal/core"
)

type stubProvider struct {
	name string
	err  error
	text string
}

func (s *stubProvider) Name() string         { return s.name }
func (s *stubProvider) SupportsTools() bool   { return true }
func (s *stubProvider) Complete(ctx context.Context, req core.CompletionRequest) (core.CompletionResponse, error) {
	return core.CompletionResponse{}, errors.New("not used")
}
func (s *stubProvider) CompleteStream(ctx context.Context, req core.CompletionRequest) (<-chan core.CompletionChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan core.CompletionChunk, 2)
	ch <- core.CompletionChunk{DeltaText: s.text}
	ch <- core.CompletionChunk{FinishReason: core.FinishStop}
	close(ch)
	return ch, nil
}

func TestNewRequiresAtLeastOneProvider(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for empty provider list")
	}
}

func TestCompleteStreamFailsOverOnServerError(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("503 service unavailable")}
	secondary := &stubProvider{name: "secondary", text: "hi from secondary"}

	o, err := New(Config{MaxRetries: 0, RetryBackoff: time.Millisecond}, primary, secondary)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	chunks, err := o.CompleteStream(context.Background(), core.CompletionRequest{})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}

	var text string
	for chunk := range chunks {
		text += chunk.DeltaText
	}
	if text != "hi from secondary" {
		t.Fatalf("expected failover to secondary provider, got %q", text)
	}

	metrics := o.Metrics()
	if metrics.TotalFailovers != 1 {
		t.Fatalf("expected one failover recorded, got %d", metrics.TotalFailovers)
	}
}

func TestCompleteStreamDoesNotFailoverOnInvalidRequest(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("400 invalid request")}
	secondary := &stubProvider{name: "secondary", text: "should not be reached"}

	o, err := New(Config{MaxRetries: 0}, primary, secondary)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := o.CompleteStream(context.Background(), core.CompletionRequest{}); err == nil {
		t.Fatalf("expected non-retryable error to propagate without failover")
	}
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("503 service unavailable")}
	secondary := &stubProvider{name: "secondary", text: "ok"}

	o, err := New(Config{MaxRetries: 0, RetryBackoff: time.Millisecond, CircuitBreakerThreshold: 2, CircuitBreakerTimeout: time.Hour}, primary, secondary)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := o.CompleteStream(context.Background(), core.CompletionRequest{}); err != nil {
			t.Fatalf("CompleteStream attempt %d: %v", i, err)
		}
	}

	states := o.ProviderStates()
	var primaryOpen bool
	for _, s := range states {
		if s.Name == "primary" && s.CircuitOpen {
			primaryOpen = true
		}
	}
	if !primaryOpen {
		t.Fatalf("expected primary's circuit to be open after %d consecutive failures, states=%+v", 2, states)
	}
}

func TestClassifyErrorTaxonomy(t *testing.T) {
	cases := map[string]string{
		"request timeout":            "timeout",
		"429 too many requests":      "rate_limit",
		"401 unauthorized":           "auth",
		"quota exceeded":             "billing",
		"model not found":            "model_unavailable",
		"503 service unavailable":    "server_error",
		"400 bad request":            "invalid_request",
		"something entirely unknown": "unknown",
	}
	for msg, want := range cases {
		if got := classify(errors.New(msg)); got != want {
			t.Errorf("classify(%q) = %q, want %q", msg, got, want)
		}
	}
}
