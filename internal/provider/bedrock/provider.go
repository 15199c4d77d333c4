// Package bedrock implements core.Provider against AWS Bedrock's Converse
// API, the fourth concrete LLMProvider named in SPEC_FULL.md's Domain
// Stack table. It exercises multi-provider failover/circuit-breaking at
// the provider layer, distinct from the per-worker circuit breaker in
// internal/circuitbreaker.
//
// Grounded on internal/agent/providers/bedrock.go's BedrockProvider: its
// AWS SDK config/credential wiring (explicit static credentials or the
// default provider chain), its ConverseStream event-driven accumulation
// (content_block_start/delta/stop → tool call), and its
// ThrottlingException/TooManyRequestsException-aware isRetryableError.
// Image attachment fetching (the teacher's convertImageAttachment/
// fetchImageAttachment machinery) is not carried over: core.Message
// carries text, tool calls, and tool results only, matching the scope
// already established by internal/provider/anthropic and
// internal/provider/openai.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/forgerun/core/internal/core"
)

// Config configures a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

func (c Config) sanitized() Config {
	out := c
	if out.Region == "" {
		out.Region = "us-east-1"
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = time.Second
	}
	if out.DefaultModel == "" {
		out.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	return out
}

// Provider implements core.Provider against AWS Bedrock's Converse API.
type Provider struct {
	client *bedrockruntime.Client
	cfg    Config
}

// New builds a Provider, loading AWS credentials from cfg's explicit
// static credentials if given, otherwise the default provider chain.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	cfg = cfg.sanitized()

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &Provider{client: bedrockruntime.NewFromConfig(awsCfg), cfg: cfg}, nil
}

// Name implements core.Provider.
func (p *Provider) Name() string { return "bedrock" }

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
		return core.CompletionResponse{}, core.Wrap(core.CategoryProvider, core.TagProviderError, "bedrock completion failed", nil)
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

// CompleteStream implements core.Provider: builds a ConverseStream
// request, retries with exponential backoff on AWS throttling/transient
// errors, then hands the event stream to processStream.
func (p *Provider) CompleteStream(ctx context.Context, req core.CompletionRequest) (<-chan core.CompletionChunk, error) {
	model := p.model(req)
	messages, system, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to convert messages: %w", err)
	}

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if system != "" {
		converseReq.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}
	if len(req.Tools) > 0 {
		toolConfig, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("bedrock: failed to convert tools: %w", err)
		}
		converseReq.ToolConfig = toolConfig
	}

	var stream *bedrockruntime.ConverseStreamOutput
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.cfg.RetryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		stream, lastErr = p.client.ConverseStream(ctx, converseReq)
		if lastErr == nil {
			break
		}
		if !isRetryableError(lastErr) {
			return nil, fmt.Errorf("bedrock: non-retryable error: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("bedrock: max retries exceeded: %w", lastErr)
	}

	out := make(chan core.CompletionChunk)
	go processStream(ctx, stream, out)
	return out, nil
}

func processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- core.CompletionChunk) {
	defer close(out)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var currentCall *core.ToolCall
	var inputBuilder strings.Builder
	eventChan := eventStream.Events()

	for {
		select {
		case <-ctx.Done():
			out <- core.CompletionChunk{FinishReason: core.FinishError}
			return
		case event, ok := <-eventChan:
			if !ok {
				if currentCall != nil && currentCall.ID != "" {
					currentCall.ArgumentsJSON = inputBuilder.String()
					out <- core.CompletionChunk{DeltaToolCalls: []core.ToolCall{*currentCall}}
				}
				if err := eventStream.Err(); err != nil {
					out <- core.CompletionChunk{FinishReason: core.FinishError}
				} else {
					out <- core.CompletionChunk{FinishReason: core.FinishStop}
				}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentCall = &core.ToolCall{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					inputBuilder.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						out <- core.CompletionChunk{DeltaText: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						inputBuilder.WriteString(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentCall != nil && currentCall.ID != "" {
					currentCall.ArgumentsJSON = inputBuilder.String()
					out <- core.CompletionChunk{DeltaToolCalls: []core.ToolCall{*currentCall}}
					currentCall = nil
					inputBuilder.Reset()
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				reason := core.FinishStop
				if ev.Value.StopReason == types.StopReasonToolUse {
					reason = core.FinishToolCalls
				}
				out <- core.CompletionChunk{FinishReason: reason}
				return
			}
		}
	}
}

func convertMessages(messages []core.Message) ([]types.Message, string, error) {
	var system strings.Builder
	result := make([]types.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == core.RoleSystem {
			system.WriteString(msg.Text())
			continue
		}

		var content []types.ContentBlock
		if text := msg.Text(); text != "" {
			content = append(content, &types.ContentBlockMemberText{Value: text})
		}

		for _, block := range msg.Content {
			if block.Type != core.ContentToolResult {
				continue
			}
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(block.ToolResultUseID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: block.ToolResult}},
				},
			})
		}

		for _, tc := range msg.ToolCalls {
			var input any
			if tc.ArgumentsJSON != "" {
				if err := json.Unmarshal([]byte(tc.ArgumentsJSON), &input); err != nil {
					return nil, "", fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
				}
			} else {
				input = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(input),
				},
			})
		}

		role := types.ConversationRoleUser
		if msg.Role == core.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		if len(content) > 0 {
			result = append(result, types.Message{Role: role, Content: content})
		}
	}
	return result, system.String(), nil
}

func convertTools(tools []core.ToolDefinition) (*types.ToolConfiguration, error) {
	specs := make([]types.Tool, 0, len(tools))
	for _, tool := range tools {
		var schema any
		if tool.InputSchema != "" {
			if err := json.Unmarshal([]byte(tool.InputSchema), &schema); err != nil {
				return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
			}
		} else {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name),
				Description: aws.String(tool.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}, nil
}

// isRetryableError classifies transient failures, mirroring the
// teacher's AWS-throttling-aware substring classification.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "ThrottlingException") ||
		strings.Contains(msg, "TooManyRequestsException") ||
		strings.Contains(msg, "ServiceUnavailableException") {
		return true
	}
	lower := strings.ToLower(msg)
	for _, substr := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(lower, substr) {
			return true
		}
	}
	return false
}
