package core

import "context"

// FinishReason classifies why a completion stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// ToolChoice constrains whether/which tool the model must call.
type ToolChoice struct {
	Mode string // "auto", "none", "required"
	Name string // set when Mode selects a specific tool
}

// CompletionRequest is the provider-agnostic request shape from spec §6.
type CompletionRequest struct {
	Messages   []Message
	Tools      []ToolDefinition
	ToolChoice ToolChoice
	Model      string
}

// Usage tracks token accounting for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// CompletionResponse is returned by Provider.Complete.
type CompletionResponse struct {
	Message      Message
	Usage        Usage
	FinishReason FinishReason
}

// CompletionChunk is one increment of a streamed completion.
type CompletionChunk struct {
	DeltaText      string
	DeltaToolCalls []ToolCall
	FinishReason   FinishReason
	Usage          *Usage
}

// Provider is the external LLM collaborator. The core never parses
// provider wire formats; concrete adapters (internal/provider/*) translate
// a vendor SDK's response into these shapes.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	CompleteStream(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error)
	SupportsTools() bool
}
