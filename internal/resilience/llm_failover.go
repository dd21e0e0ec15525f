package resilience

import (
	"context"

	"github.com/MrWong99/fateweaver/internal/observe"
	"github.com/MrWong99/fateweaver/pkg/provider/llm"
	"github.com/MrWong99/fateweaver/pkg/types"
)

// LLMFailover implements [llm.Provider] with automatic failover across multiple
// model backends. Each backend has its own circuit breaker; when the primary
// fails or its breaker is open, the next healthy fallback is tried. Every real
// backend failure is counted against that backend's name in the metrics, so an
// operator can see which model is burning the fallback budget.
type LLMFailover struct {
	group   *FallbackGroup[llm.Provider]
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFailover)(nil)

// FailoverOption configures an [LLMFailover].
type FailoverOption func(*LLMFailover)

// WithMetrics sets the metrics sink for per-backend failure counts.
// Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) FailoverOption {
	return func(f *LLMFailover) {
		if m != nil {
			f.metrics = m
		}
	}
}

// NewLLMFailover creates an [LLMFailover] with primary as the preferred backend.
func NewLLMFailover(primary llm.Provider, primaryName string, cfg FallbackConfig, opts ...FailoverOption) *LLMFailover {
	f := &LLMFailover{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		metrics: observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// AddFallback registers an additional model backend as a fallback.
func (f *LLMFailover) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// States reports the circuit breaker state of every backend keyed by name.
func (f *LLMFailover) States() map[string]State {
	return f.group.States()
}

// Complete sends the request to the first healthy backend and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFailover) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(name string, p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			f.metrics.RecordLLMFailure(ctx, name)
		}
		return resp, err
	})
}

// StreamCompletion sends the request to the first healthy backend and returns a
// streaming chunk channel. Only the initial connection attempt is covered by
// failover; once a stream is established, mid-stream errors are the caller's
// responsibility.
func (f *LLMFailover) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(name string, p llm.Provider) (<-chan llm.Chunk, error) {
		ch, err := p.StreamCompletion(ctx, req)
		if err != nil {
			f.metrics.RecordLLMFailure(ctx, name)
		}
		return ch, err
	})
}

// Capabilities returns the capabilities of the first entry (the primary).
// This does not participate in failover because capabilities are static metadata.
func (f *LLMFailover) Capabilities() types.ModelCapabilities {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Capabilities()
	}
	return types.ModelCapabilities{}
}
