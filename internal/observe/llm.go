package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/serene/pkg/provider/llm"
)

// instrumentedLLM records latency, outcome and a span for every completion.
type instrumentedLLM struct {
	llm.Provider
	name    string
	metrics *Metrics
}

// InstrumentLLM wraps p so that each Complete call is traced and recorded in
// m under the provider label name.
func InstrumentLLM(p llm.Provider, name string, m *Metrics) llm.Provider {
	return &instrumentedLLM{Provider: p, name: name, metrics: m}
}

func (i *instrumentedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, span := StartSpan(ctx, "oracle.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("oracle.provider", i.name)),
	)
	defer span.End()

	start := time.Now()
	resp, err := i.Provider.Complete(ctx, req)
	i.metrics.RecordOracleCall(ctx, i.name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, err
	}
	if resp != nil {
		span.SetAttributes(
			attribute.Int("oracle.usage.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("oracle.usage.completion_tokens", resp.Usage.CompletionTokens),
		)
	}
	return resp, nil
}
