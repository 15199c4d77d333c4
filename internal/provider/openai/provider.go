// Package openai implements core.Provider against OpenAI's Chat
// Completions API, exercising the Engine Facade's provider-agnostic
// contract alongside internal/provider/anthropic.
//
// Grounded on internal/agent/providers/openai.go's OpenAIProvider: its
// streaming retry loop, its index-keyed tool-call accumulation across
// delta chunks (processStream), and its message/tool conversion
// (convertToOpenAIMessages/convertToOpenAITools), generalized onto
// core's provider-agnostic CompletionRequest/ToolDefinition types.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forgerun/core/internal/core"
)

// Config configures a Provider.
type Config struct {
	APIKey       string
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
		out.DefaultModel = "gpt-4o"
	}
	return out
}

// Provider implements core.Provider against OpenAI's Chat Completions API.
type Provider struct {
	client *openai.Client
	cfg    Config
}

// New builds a Provider. It returns an error if cfg.APIKey is empty.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	cfg = cfg.sanitized()
	return &Provider{client: openai.NewClient(cfg.APIKey), cfg: cfg}, nil
}

// Name implements core.Provider.
func (p *Provider) Name() string { return "openai" }

// SupportsTools implements core.Provider.
func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) model(req core.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.cfg.DefaultModel
}

// Complete implements core.Provider by draining one CompleteStream call.
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
	if finish == core.FinishError {
		return core.CompletionResponse{}, core.Wrap(core.CategoryProvider, core.TagProviderError, "openai completion failed", nil)
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

// CompleteStream implements core.Provider: builds a streaming chat
// completion request with retry-with-backoff on transient failures, then
// hands the stream to processStream in a goroutine.
func (p *Provider) CompleteStream(ctx context.Context, req core.CompletionRequest) (<-chan core.CompletionChunk, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    p.model(req),
		Messages: messages,
		Stream:   true,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryableError(lastErr) {
			return nil, fmt.Errorf("openai: non-retryable error: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
	}

	out := make(chan core.CompletionChunk)
	go processStream(ctx, stream, out)
	return out, nil
}

// processStream converts OpenAI's streamed chat completion chunks into
// core.CompletionChunk, accumulating tool-call fragments by index since
// OpenAI streams a tool call's id/name/arguments across several chunks.
func processStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- core.CompletionChunk) {
	defer close(out)
	defer stream.Close()

	toolCalls := make(map[int]*core.ToolCall)

	for {
		select {
		case <-ctx.Done():
			out <- core.CompletionChunk{FinishReason: core.FinishError}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flushToolCalls(toolCalls, out)
				out <- core.CompletionChunk{FinishReason: core.FinishStop}
				return
			}
			out <- core.CompletionChunk{FinishReason: core.FinishError}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			out <- core.CompletionChunk{DeltaText: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &core.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].ArgumentsJSON += tc.Function.Arguments
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flushToolCalls(toolCalls, out)
			toolCalls = make(map[int]*core.ToolCall)
			out <- core.CompletionChunk{FinishReason: core.FinishToolCalls}
		}
	}
}

func flushToolCalls(toolCalls map[int]*core.ToolCall, out chan<- core.CompletionChunk) {
	for _, tc := range toolCalls {
		if tc.ID != "" && tc.Name != "" {
			out <- core.CompletionChunk{DeltaToolCalls: []core.ToolCall{*tc}}
		}
	}
}

func convertMessages(messages []core.Message) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case core.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Text()})

		case core.RoleUser:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Text()})

		case core.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Text()}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.ArgumentsJSON,
					},
				})
			}
			result = append(result, oaiMsg)

		case core.RoleTool:
			for _, block := range msg.Content {
				if block.Type == core.ContentToolResult {
					result = append(result, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    block.ToolResult,
						ToolCallID: block.ToolResultUseID,
					})
				}
			}
		}
	}
	return result, nil
}

func convertTools(tools []core.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		schema := map[string]any{"type": "object", "properties": map[string]any{}}
		if tool.InputSchema != "" {
			var parsed map[string]any
			if json.Unmarshal([]byte(tool.InputSchema), &parsed) == nil {
				schema = parsed
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

// isRetryableError classifies transient failures, mirroring the teacher's
// substring-based classification.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{
		"rate limit", "429",
		"500", "502", "503", "504",
		"timeout", "deadline exceeded",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
