// Package anthropic implements core.Provider against Anthropic's Claude
// API.
//
// Grounded on internal/agent/providers/anthropic.go's AnthropicProvider:
// the retry loop with exponential backoff, the tool/message conversion
// shape, and the content_block_start/delta/stop event-driven stream
// accumulation are carried over, generalized from the teacher's own
// agent.CompletionRequest/CompletionChunk shapes onto core's provider-
// agnostic ones. Both Complete and CompleteStream drive the same
// underlying NewStreaming call — Complete simply drains the stream
// synchronously into one response, since the teacher's SDK usage is
// proven only for the streaming entry point.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/forgerun/core/internal/core"
)

// Config configures a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
	MaxTokens    int
}

func (c Config) sanitized() Config {
	out := c
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = time.Second
	}
	if out.DefaultModel == "" {
		out.DefaultModel = "claude-sonnet-4-20250514"
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}
	return out
}

// Provider implements core.Provider against Anthropic's Messages API.
type Provider struct {
	client anthropic.Client
	cfg    Config
}

// New builds a Provider. It returns an error if cfg.APIKey is empty.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	cfg = cfg.sanitized()

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{client: anthropic.NewClient(opts...), cfg: cfg}, nil
}

// Name implements core.Provider.
func (p *Provider) Name() string { return "anthropic" }

// SupportsTools implements core.Provider.
func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) model(req core.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.cfg.DefaultModel
}

func (p *Provider) buildParams(req core.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, system, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req)),
		Messages:  messages,
		MaxTokens: int64(p.cfg.MaxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

// Complete implements core.Provider by draining one CompleteStream call
// into a single response.
func (p *Provider) Complete(ctx context.Context, req core.CompletionRequest) (core.CompletionResponse, error) {
	chunks, err := p.CompleteStream(ctx, req)
	if err != nil {
		return core.CompletionResponse{}, err
	}

	var text strings.Builder
	var toolCalls []core.ToolCall
	var usage core.Usage
	var finish core.FinishReason

	for chunk := range chunks {
		text.WriteString(chunk.DeltaText)
		toolCalls = append(toolCalls, chunk.DeltaToolCalls...)
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}

	return core.CompletionResponse{
		Message: core.Message{
			Role:      core.RoleAssistant,
			Content:   []core.ContentBlock{{Type: core.ContentText, Text: text.String()}},
			ToolCalls: toolCalls,
			Timestamp: time.Now(),
		},
		Usage:        usage,
		FinishReason: finish,
	}, nil
}

// CompleteStream implements core.Provider. Per spec §7/the teacher's own
// pattern, a stream-level error surfaces via the SSE "error" event rather
// than the call below; this method retries only the initial request setup
// (message/tool conversion) with exponential backoff, since those are the
// only synchronous failures NewStreaming's own invocation can produce.
func (p *Provider) CompleteStream(ctx context.Context, req core.CompletionRequest) (<-chan core.CompletionChunk, error) {
	model := p.model(req)
	var params anthropic.MessageNewParams
	var err error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		params, err = p.buildParams(req)
		if err == nil {
			break
		}
		wrapped := p.wrapError(err, model)
		if !isRetryableError(wrapped) || attempt == p.cfg.MaxRetries {
			return nil, wrapped
		}
		backoff := p.cfg.RetryDelay * time.Duration(math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan core.CompletionChunk)
	go func() {
		defer close(out)
		processStream(stream, out)
	}()
	return out, nil
}

func (p *Provider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("anthropic: request failed for model %s: %w", model, err)
}

// isRetryableError classifies transient failures, mirroring the teacher's
// status/substring-based classification.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, substr := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func convertMessages(messages []core.Message) ([]anthropic.MessageParam, string, error) {
	var system strings.Builder
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == core.RoleSystem {
			system.WriteString(msg.Text())
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if text := msg.Text(); text != "" {
			content = append(content, anthropic.NewTextBlock(text))
		}
		for _, call := range msg.ToolCalls {
			var input map[string]any
			if call.ArgumentsJSON != "" {
				if err := json.Unmarshal([]byte(call.ArgumentsJSON), &input); err != nil {
					return nil, "", fmt.Errorf("invalid tool call arguments for %s: %w", call.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}
		for _, block := range msg.Content {
			if block.Type == core.ContentToolResult {
				content = append(content, anthropic.NewToolResultBlock(block.ToolResultUseID, block.ToolResult, block.IsError))
			}
		}

		if len(content) == 0 {
			continue
		}
		if msg.Role == core.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, system.String(), nil
}

func convertTools(tools []core.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if tool.InputSchema != "" {
			if err := json.Unmarshal([]byte(tool.InputSchema), &schema); err != nil {
				return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
			}
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, param)
	}
	return result, nil
}
