// Package providers implements LLMProvider integrations for the agent
// runtime. AnthropicProvider is the default, production-shaped
// implementation; a deterministic fake (see anthropic_test.go) backs tests.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/internal/agent/toolconv"
	"github.com/careerforge/orchestrator/pkg/models"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicProvider implements agent.LLMProvider over Claude.
type AnthropicProvider struct {
	BaseProvider
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider builds a provider from config, applying sane
// defaults for anything left zero-valued.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic", cfg.MaxRetries, cfg.RetryDelay),
		client:       anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name implements agent.LLMProvider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// CompleteStructured implements agent.LLMProvider: one round trip that
// returns either a tool call or final text.
func (p *AnthropicProvider) CompleteStructured(ctx context.Context, req *agent.CompletionRequest) (*agent.StructuredResult, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	var msg *anthropic.Message
	err = p.Retry(ctx, isRetryableAnthropicErr, func() error {
		m, callErr := p.client.Messages.New(ctx, params)
		if callErr != nil {
			return callErr
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	result := &agent.StructuredResult{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			result.Text += block.Text
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			result.ToolCall = &models.ToolCall{ID: block.ID, Name: block.Name, Args: args}
		}
	}
	return result, nil
}

// CompleteStream implements agent.LLMProvider: token-by-token streaming used
// for synthesis and direct-answer replies.
func (p *AnthropicProvider) CompleteStream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}
	out := make(chan *agent.CompletionChunk, 16)

	stream := p.client.Messages.NewStreaming(ctx, params)

	go func() {
		defer close(out)
		defer stream.Close()

		var acc anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				out <- &agent.CompletionChunk{Error: err}
				return
			}
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if text := delta.Delta.Text; text != "" {
					select {
					case out <- &agent.CompletionChunk{Text: text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- &agent.CompletionChunk{Error: err}
			return
		}
		out <- &agent.CompletionChunk{Done: true}
	}()

	return out, nil
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if tools, err := toolconv.ToAnthropicTools(req.Tools); err == nil {
		params.Tools = tools
	}
	return params, nil
}

// convertMessages translates the provider-agnostic conversation into
// Anthropic content blocks: text, tool_use, and tool_result all collapse
// into one content-block array per message, with a "tool" role message
// mapped onto a user turn the way Anthropic's wire format expects.
func convertMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			content = append(content, anthropic.NewTextBlock(m.Content))
		}
		for _, tr := range m.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range m.ToolCalls {
			var input map[string]any
			if len(tc.Args) > 0 {
				if err := json.Unmarshal(tc.Args, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call args for %s: %w", tc.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if m.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func isRetryableAnthropicErr(err error) bool {
	reason := classifyAnthropicError(err)
	return reason.IsRetryable()
}

func classifyAnthropicError(err error) FailoverReason {
	var apiErr *anthropic.Error
	if err == nil {
		return FailoverUnknown
	}
	if ok := asAnthropicError(err, &apiErr); ok {
		switch apiErr.StatusCode {
		case 402:
			return FailoverBilling
		case 401, 403:
			return FailoverAuth
		case 408:
			return FailoverTimeout
		case 429:
			return FailoverRateLimit
		case 400:
			return FailoverInvalidRequest
		}
		if apiErr.StatusCode >= 500 {
			return FailoverServerError
		}
	}
	return FailoverUnknown
}

func asAnthropicError(err error, target **anthropic.Error) bool {
	ae, ok := err.(*anthropic.Error)
	if ok {
		*target = ae
	}
	return ok
}
