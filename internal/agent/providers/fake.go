package providers

import (
	"context"

	"github.com/careerforge/orchestrator/internal/agent"
)

// FakeProvider is a deterministic agent.LLMProvider used by tests across the
// orchestration packages. Responses are consumed in order; once exhausted it
// returns the last response repeatedly.
type FakeProvider struct {
	Structured []agent.StructuredResult
	StreamText []string
	callIndex  int
}

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) CompleteStructured(ctx context.Context, req *agent.CompletionRequest) (*agent.StructuredResult, error) {
	if len(f.Structured) == 0 {
		return &agent.StructuredResult{Text: `{"content":"ok","confidence":0.9,"rationale":"fake"}`}, nil
	}
	idx := f.callIndex
	if idx >= len(f.Structured) {
		idx = len(f.Structured) - 1
	}
	f.callIndex++
	result := f.Structured[idx]
	return &result, nil
}

func (f *FakeProvider) CompleteStream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	out := make(chan *agent.CompletionChunk, len(f.StreamText)+1)
	go func() {
		defer close(out)
		texts := f.StreamText
		if len(texts) == 0 {
			texts = []string{"ok"}
		}
		for _, t := range texts {
			select {
			case out <- &agent.CompletionChunk{Text: t}:
			case <-ctx.Done():
				return
			}
		}
		out <- &agent.CompletionChunk{Done: true}
	}()
	return out, nil
}
