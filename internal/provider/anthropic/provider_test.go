package anthropic

import (
	"testing"

	"github.com/forgerun/core/internal/core"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for missing API key")
	}
}

func TestConfigDefaults(t *testing.T) {
	p, err := New(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.cfg.DefaultModel != "claude-sonnet-4-20250514" {
		t.Fatalf("unexpected default model %q", p.cfg.DefaultModel)
	}
	if p.cfg.MaxTokens != 4096 {
		t.Fatalf("unexpected default max tokens %d", p.cfg.MaxTokens)
	}
	if p.cfg.MaxRetries != 3 {
		t.Fatalf("unexpected default max retries %d", p.cfg.MaxRetries)
	}
}

func TestConvertMessagesSeparatesSystemPrompt(t *testing.T) {
	messages := []core.Message{
		{Role: core.RoleSystem, Content: []core.ContentBlock{{Type: core.ContentText, Text: "be terse"}}},
		{Role: core.RoleUser, Content: []core.ContentBlock{{Type: core.ContentText, Text: "hi"}}},
	}
	converted, system, err := convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if system != "be terse" {
		t.Fatalf("expected system prompt extracted, got %q", system)
	}
	if len(converted) != 1 {
		t.Fatalf("expected one non-system message, got %d", len(converted))
	}
}

func TestConvertMessagesRejectsInvalidToolCallJSON(t *testing.T) {
	messages := []core.Message{
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{ID: "c1", Name: "bad", ArgumentsJSON: "{not json"}}},
	}
	if _, _, err := convertMessages(messages); err == nil {
		t.Fatalf("expected error for malformed tool call arguments")
	}
}

func TestConvertToolsAppliesDescription(t *testing.T) {
	tools := []core.ToolDefinition{
		{Name: "search", Description: "search the web", InputSchema: `{"type":"object"}`},
	}
	converted, err := convertTools(tools)
	if err != nil {
		t.Fatalf("convertTools: %v", err)
	}
	if len(converted) != 1 || converted[0].OfTool == nil {
		t.Fatalf("expected one converted tool with OfTool populated, got %+v", converted)
	}
}

func TestIsRetryableError(t *testing.T) {
	cases := map[string]bool{
		"rate_limit exceeded":       true,
		"503 service unavailable":   true,
		"request timeout":           true,
		"connection reset by peer":  true,
		"invalid request: 400":      false,
		"authentication error: 401": false,
	}
	for msg, want := range cases {
		got := isRetryableError(&testError{msg})
		if got != want {
			t.Errorf("isRetryableError(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestFinishReasonMapping(t *testing.T) {
	want := map[string]string{
		"tool_use":      "tool_calls",
		"max_tokens":    "length",
		"end_turn":      "stop",
		"stop_sequence": "stop",
		"unknown_stop":  "stop",
	}
	for k, v := range want {
		if got := string(finishReasonOf(k)); got != v {
			t.Errorf("finishReasonOf(%q) = %q, want %q", k, got, v)
		}
	}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestAnthropicMessageConversionIgnoresUnrelatedContentBlockTypes(t *testing.T) {
	messages := []core.Message{
		{Role: core.RoleUser, Content: []core.ContentBlock{{Type: core.ContentImage, MIMEType: "image/png"}}},
	}
	converted, _, err := convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(converted) != 0 {
		t.Fatalf("expected image-only message with no text/tool content to produce no converted message, got %d", len(converted))
	}
}
