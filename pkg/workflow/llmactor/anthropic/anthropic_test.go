package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/llmactor"
)

type mockAnthropicClient struct {
	response     string
	toolCalls    []llmactor.ToolCall
	err          error
	callCount    int
	lastMessages []llmactor.Message
	systemPrompt string
}

func (m *mockAnthropicClient) createMessage(_ context.Context, systemPrompt string, messages []llmactor.Message, _ []llmactor.ToolSpec) (llmactor.ChatOut, error) {
	m.callCount++
	m.lastMessages = messages
	m.systemPrompt = systemPrompt

	if m.err != nil {
		return llmactor.ChatOut{}, m.err
	}
	return llmactor.ChatOut{Text: m.response, ToolCalls: m.toolCalls}, nil
}

func TestNewChatModelDefaultsModelName(t *testing.T) {
	m := NewChatModel("test-key", "")
	if m.modelName == "" {
		t.Fatal("expected a default model name")
	}
}

func TestChatSendsMessagesAndReturnsResponse(t *testing.T) {
	mock := &mockAnthropicClient{response: "Hello! I'm Claude."}
	m := &ChatModel{client: mock, modelName: "claude-3-opus-20240229"}

	out, err := m.Chat(context.Background(), []llmactor.Message{
		{Role: llmactor.RoleUser, Content: "Hi there!"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "Hello! I'm Claude." {
		t.Errorf("unexpected text: %q", out.Text)
	}
	if mock.callCount != 1 {
		t.Errorf("expected 1 call, got %d", mock.callCount)
	}
}

func TestChatExtractsSystemPromptFromMessages(t *testing.T) {
	mock := &mockAnthropicClient{response: "ok"}
	m := &ChatModel{client: mock, modelName: "claude-3-opus-20240229"}

	_, err := m.Chat(context.Background(), []llmactor.Message{
		{Role: llmactor.RoleSystem, Content: "You are terse."},
		{Role: llmactor.RoleUser, Content: "Hi"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.systemPrompt != "You are terse." {
		t.Errorf("expected system prompt extracted, got %q", mock.systemPrompt)
	}
	if len(mock.lastMessages) != 1 {
		t.Errorf("expected system message stripped from conversation, got %d messages", len(mock.lastMessages))
	}
}

func TestChatPropagatesClientError(t *testing.T) {
	mock := &mockAnthropicClient{err: errors.New("boom")}
	m := &ChatModel{client: mock, modelName: "claude-3-opus-20240229"}

	_, err := m.Chat(context.Background(), []llmactor.Message{{Role: llmactor.RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestChatRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &ChatModel{client: &mockAnthropicClient{}, modelName: "claude-3-opus-20240229"}
	if _, err := m.Chat(ctx, nil, nil); err == nil {
		t.Fatal("expected cancelled context to produce an error")
	}
}

func TestDefaultClientRejectsEmptyAPIKey(t *testing.T) {
	c := &defaultClient{modelName: "claude-3-opus-20240229"}
	if _, err := c.createMessage(context.Background(), "", nil, nil); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestConvertToolInputWrapsRawValues(t *testing.T) {
	if got := convertToolInput("raw-string"); got["_raw"] != "raw-string" {
		t.Fatalf("unexpected wrap: %+v", got)
	}
	if got := convertToolInput(map[string]interface{}{"a": 1}); got["a"] != 1 {
		t.Fatalf("expected passthrough map, got %+v", got)
	}
	if got := convertToolInput(nil); got != nil {
		t.Fatalf("expected nil passthrough, got %+v", got)
	}
}
