package anthropic

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/forgerun/core/internal/core"
)

// processStream consumes Anthropic's SSE event union and converts it into
// core.CompletionChunk values, grounded on AnthropicProvider.processStream's
// content_block_start/delta/stop accumulation.
func processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- core.CompletionChunk) {
	var currentCall *core.ToolCall
	var currentInput strings.Builder
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &core.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- core.CompletionChunk{DeltaText: delta.Text}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if currentCall != nil {
				currentCall.ArgumentsJSON = currentInput.String()
				out <- core.CompletionChunk{DeltaToolCalls: []core.ToolCall{*currentCall}}
				currentCall = nil
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}
			if stopReason := md.Delta.StopReason; stopReason != "" {
				out <- core.CompletionChunk{FinishReason: finishReasonOf(string(stopReason))}
			}

		case "message_stop":
			out <- core.CompletionChunk{Usage: &core.Usage{PromptTokens: inputTokens, CompletionTokens: outputTokens}}
			return

		case "error":
			out <- core.CompletionChunk{FinishReason: core.FinishError}
			return
		}
	}

	if stream.Err() != nil {
		out <- core.CompletionChunk{FinishReason: core.FinishError}
	}
}

func finishReasonOf(anthropicStop string) core.FinishReason {
	switch anthropicStop {
	case "tool_use":
		return core.FinishToolCalls
	case "max_tokens":
		return core.FinishLength
	case "end_turn", "stop_sequence":
		return core.FinishStop
	default:
		return core.FinishStop
	}
}
