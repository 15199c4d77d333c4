package gemini

import (
	"testing"

	"google.golang.org/genai"

	"github.com/forgerun/core/internal/core"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{APIKey: "test-key"}.sanitized()
	if cfg.DefaultModel != "gemini-2.0-flash" {
		t.Fatalf("unexpected default model %q", cfg.DefaultModel)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("unexpected default max retries %d", cfg.MaxRetries)
	}
	if cfg.RetryDelay <= 0 {
		t.Fatalf("expected a positive default retry delay")
	}
}

func TestConvertMessagesDropsSystemAndMapsRoles(t *testing.T) {
	messages := []core.Message{
		{Role: core.RoleSystem, Content: []core.ContentBlock{{Type: core.ContentText, Text: "be terse"}}},
		{Role: core.RoleUser, Content: []core.ContentBlock{{Type: core.ContentText, Text: "hi"}}},
		{Role: core.RoleAssistant, Content: []core.ContentBlock{{Type: core.ContentText, Text: "hello"}}},
	}
	converted, err := convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(converted) != 2 {
		t.Fatalf("expected system message dropped, got %d converted", len(converted))
	}
	if converted[0].Role != genai.RoleUser {
		t.Fatalf("expected user role, got %q", converted[0].Role)
	}
	if converted[1].Role != genai.RoleModel {
		t.Fatalf("expected assistant mapped to model role, got %q", converted[1].Role)
	}
}

func TestConvertMessagesRejectsInvalidToolCallJSON(t *testing.T) {
	messages := []core.Message{
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{ID: "c1", Name: "bad", ArgumentsJSON: "{not json"}}},
	}
	if _, err := convertMessages(messages); err == nil {
		t.Fatalf("expected error for malformed tool call arguments")
	}
}

func TestSystemPromptConcatenatesSystemMessages(t *testing.T) {
	messages := []core.Message{
		{Role: core.RoleSystem, Content: []core.ContentBlock{{Type: core.ContentText, Text: "be terse"}}},
		{Role: core.RoleUser, Content: []core.ContentBlock{{Type: core.ContentText, Text: "hi"}}},
	}
	if got := systemPrompt(messages); got != "be terse" {
		t.Fatalf("expected system prompt %q, got %q", "be terse", got)
	}
}

func TestSchemaToGenaiUppercasesType(t *testing.T) {
	schema := schemaToGenai(map[string]any{
		"type":     "object",
		"required": []any{"query"},
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
	})
	if schema.Type != genai.TypeObject {
		t.Fatalf("expected TypeObject, got %q", schema.Type)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "query" {
		t.Fatalf("expected required [query], got %v", schema.Required)
	}
	if schema.Properties["query"].Type != genai.TypeString {
		t.Fatalf("expected nested property type STRING, got %q", schema.Properties["query"].Type)
	}
}

func TestGenerateToolCallIDIsUnique(t *testing.T) {
	a := generateToolCallID("search")
	b := generateToolCallID("search")
	if a == b {
		t.Fatalf("expected distinct tool call IDs, got %q twice", a)
	}
}

func TestToolNameFromCallIDLooksUpPriorToolCalls(t *testing.T) {
	messages := []core.Message{
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{ID: "call_search_123", Name: "search"}}},
	}
	if got := toolNameFromCallID("call_search_123", messages); got != "search" {
		t.Fatalf("expected tool name %q, got %q", "search", got)
	}
}

func TestIsRetryableError(t *testing.T) {
	cases := map[string]bool{
		"resource exhausted: quota": true,
		"503 service unavailable":   true,
		"request timeout":           true,
		"invalid argument":          false,
		"permission denied: 403":    false,
	}
	for msg, want := range cases {
		if got := isRetryableError(&testError{msg}); got != want {
			t.Errorf("isRetryableError(%q) = %v, want %v", msg, got, want)
		}
	}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
