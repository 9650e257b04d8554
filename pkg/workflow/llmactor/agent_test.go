package llmactor

import "testing"

func TestParseResultAttributesPlainJSON(t *testing.T) {
	out, err := parseResultAttributes(`{"status":"approved","approver":"mgr-123"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["status"] != "approved" || out["approver"] != "mgr-123" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestParseResultAttributesFencedBlock(t *testing.T) {
	text := "Here is my answer:\n```json\n{\"status\": \"ok\"}\n```\nLet me know if you need anything else."
	out, err := parseResultAttributes(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["status"] != "ok" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestParseResultAttributesNestedObject(t *testing.T) {
	out, err := parseResultAttributes(`{"status":"ok","detail":{"reason":"fits policy"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	detail, ok := out["detail"].(map[string]interface{})
	if !ok || detail["reason"] != "fits policy" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestParseResultAttributesNoJSON(t *testing.T) {
	if _, err := parseResultAttributes("sorry, I can't help with that"); err == nil {
		t.Fatal("expected error for response with no JSON object")
	}
}

func TestParseResultAttributesMalformedJSON(t *testing.T) {
	if _, err := parseResultAttributes(`{"status": "ok"`); err == nil {
		t.Fatal("expected error for unterminated JSON object")
	}
}

func TestParseResultAttributesEmptyObject(t *testing.T) {
	out, err := parseResultAttributes("{}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty map, got %+v", out)
	}
}

func TestBuildMessagesIncludesSystemPromptAndAttributes(t *testing.T) {
	a := New(nil, nil, "actor-1", "role-1", WithSystemPrompt("be concise"))
	messages := a.buildMessages(map[string]interface{}{"amount": 1500}, map[string]interface{}{"invoice_limit": 500})

	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != RoleSystem || messages[0].Content != "be concise" {
		t.Fatalf("unexpected system message: %+v", messages[0])
	}
	if messages[1].Role != RoleUser {
		t.Fatalf("expected second message to be user role, got %q", messages[1].Role)
	}
}
