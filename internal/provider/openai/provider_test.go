package openai

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
	if p.cfg.DefaultModel != "gpt-4o" {
		t.Fatalf("unexpected default model %q", p.cfg.DefaultModel)
	}
	if p.cfg.MaxRetries != 3 {
		t.Fatalf("unexpected default max retries %d", p.cfg.MaxRetries)
	}
}

func TestConvertMessagesRoles(t *testing.T) {
	messages := []core.Message{
		{Role: core.RoleSystem, Content: []core.ContentBlock{{Type: core.ContentText, Text: "be terse"}}},
		{Role: core.RoleUser, Content: []core.ContentBlock{{Type: core.ContentText, Text: "hi"}}},
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{ID: "c1", Name: "search", ArgumentsJSON: `{"q":"go"}`}}},
		{Role: core.RoleTool, Content: []core.ContentBlock{{Type: core.ContentToolResult, ToolResultUseID: "c1", ToolResult: "ok"}}},
	}
	converted, err := convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(converted) != 4 {
		t.Fatalf("expected 4 converted messages, got %d", len(converted))
	}
	if converted[2].ToolCalls[0].Function.Arguments != `{"q":"go"}` {
		t.Fatalf("expected tool call arguments to carry through, got %q", converted[2].ToolCalls[0].Function.Arguments)
	}
	if converted[3].ToolCallID != "c1" {
		t.Fatalf("expected tool result message to carry ToolCallID, got %q", converted[3].ToolCallID)
	}
}

func TestConvertToolsFallsBackToEmptySchemaOnInvalidJSON(t *testing.T) {
	tools := []core.ToolDefinition{{Name: "broken", InputSchema: "{not json"}}
	converted := convertTools(tools)
	if len(converted) != 1 {
		t.Fatalf("expected one converted tool, got %d", len(converted))
	}
	if converted[0].Function.Parameters == nil {
		t.Fatalf("expected a fallback schema, got nil")
	}
}

func TestIsRetryableError(t *testing.T) {
	cases := map[string]bool{
		"rate limit exceeded":      true,
		"503 service unavailable":  true,
		"request timeout":          true,
		"invalid request: 400":     false,
		"authentication error 401": false,
	}
	for msg, want := range cases {
		if got := isRetryableError(&testError{msg}); got != want {
			t.Errorf("isRetryableError(%q) = %v, want %v", msg, got, want)
		}
	}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
