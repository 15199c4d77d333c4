// Package gemini implements core.Provider against Google's Gemini API,
// the third concrete LLMProvider alongside internal/provider/anthropic
// and internal/provider/openai.
//
// Grounded on internal/agent/providers/google.go's GoogleProvider: its
// Go 1.23 iter.Seq2-based stream consumption (processStreamResponse),
// its exponential-backoff retry loop, its isRetryableError substring
// classification, and its convertMessages/convertTools structure,
// generalized onto core's provider-agnostic types. Gemini never returns
// tool-call IDs of its own, so generateToolCallID synthesizes one from
// the function name and a timestamp, matching the teacher exactly.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

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
		out.DefaultModel = "gemini-2.0-flash"
	}
	return out
}

// Provider implements core.Provider against Gemini's GenerateContent API.
type Provider struct {
	client *genai.Client
	cfg    Config
}

// New builds a Provider. It returns an error if cfg.APIKey is empty or
// the underlying SDK client fails to initialize.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	cfg = cfg.sanitized()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &Provider{client: client, cfg: cfg}, nil
}

// Name implements core.Provider.
func (p *Provider) Name() string { return "gemini" }

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
		return core.CompletionResponse{}, core.Wrap(core.CategoryProvider, core.TagProviderError, "gemini completion failed", nil)
	}
	if finish == "" {
		finish = core.FinishStop
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

// CompleteStream implements core.Provider: converts the request, retries
// GenerateContentStream with exponential backoff on transient failures,
// and converts the iter.Seq2 stream into core.CompletionChunk values.
func (p *Provider) CompleteStream(ctx context.Context, req core.CompletionRequest) (<-chan core.CompletionChunk, error) {
	model := p.model(req)
	contents, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to convert messages: %w", err)
	}
	config := buildConfig(req)

	out := make(chan core.CompletionChunk)
	go func() {
		defer close(out)

		var lastErr error
		for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
			if attempt > 0 {
				backoff := p.cfg.RetryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
				select {
				case <-ctx.Done():
					out <- core.CompletionChunk{FinishReason: core.FinishError}
					return
				case <-time.After(backoff):
				}
			}

			streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)
			lastErr = processStream(ctx, streamIter, out)
			if lastErr == nil {
				return
			}
			if !isRetryableError(lastErr) {
				out <- core.CompletionChunk{FinishReason: core.FinishError}
				return
			}
		}
		out <- core.CompletionChunk{FinishReason: core.FinishError}
	}()
	return out, nil
}

func processStream(ctx context.Context, streamIter func(func(*genai.GenerateContentResponse, error) bool), out chan<- core.CompletionChunk) error {
	var streamErr error
	sawToolCall := false

	streamIter(func(resp *genai.GenerateContentResponse, err error) bool {
		select {
		case <-ctx.Done():
			streamErr = ctx.Err()
			return false
		default:
		}
		if err != nil {
			streamErr = err
			return false
		}
		if resp == nil {
			return true
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					out <- core.CompletionChunk{DeltaText: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					sawToolCall = true
					out <- core.CompletionChunk{DeltaToolCalls: []core.ToolCall{{
						ID:            generateToolCallID(part.FunctionCall.Name),
						Name:          part.FunctionCall.Name,
						ArgumentsJSON: string(argsJSON),
					}}}
				}
			}
		}
		return true
	})

	if streamErr != nil {
		return streamErr
	}
	if sawToolCall {
		out <- core.CompletionChunk{FinishReason: core.FinishToolCalls}
	} else {
		out <- core.CompletionChunk{FinishReason: core.FinishStop}
	}
	return nil
}

func convertMessages(messages []core.Message) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == core.RoleSystem {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case core.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if text := msg.Text(); text != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: text})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if tc.ArgumentsJSON != "" {
				if err := json.Unmarshal([]byte(tc.ArgumentsJSON), &args); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
				}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}

		for _, block := range msg.Content {
			if block.Type != core.ContentToolResult {
				continue
			}
			var response map[string]any
			if err := json.Unmarshal([]byte(block.ToolResult), &response); err != nil {
				response = map[string]any{"result": block.ToolResult, "error": block.IsError}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     toolNameFromCallID(block.ToolResultUseID, messages),
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result, nil
}

func buildConfig(req core.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if system := systemPrompt(req.Messages); system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if len(req.Tools) > 0 {
		config.Tools = convertTools(req.Tools)
	}
	return config
}

func systemPrompt(messages []core.Message) string {
	var system strings.Builder
	for _, msg := range messages {
		if msg.Role == core.RoleSystem {
			system.WriteString(msg.Text())
		}
	}
	return system.String()
}

func convertTools(tools []core.ToolDefinition) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schemaMap map[string]any
		if tool.InputSchema != "" {
			_ = json.Unmarshal([]byte(tool.InputSchema), &schemaMap)
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToGenai(schemaMap),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// schemaToGenai converts a JSON Schema map to Gemini's Schema type field by
// field, since genai.Schema's Go field names and its "type" enum values
// ("OBJECT", not "object") don't line up with raw JSON Schema closely
// enough for a direct json.Unmarshal.
func schemaToGenai(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}

	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = schemaToGenai(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

// generateToolCallID synthesizes a tool call ID since Gemini doesn't
// provide one of its own.
func generateToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

func toolNameFromCallID(callID string, messages []core.Message) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == callID {
				return tc.Name
			}
		}
	}
	parts := strings.Split(callID, "_")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}

// isRetryableError classifies transient failures, mirroring the
// teacher's substring-based classification.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{
		"rate limit", "429", "too many requests", "resource exhausted", "quota",
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
