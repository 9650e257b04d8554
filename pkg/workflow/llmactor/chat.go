// Package llmactor lets an AI_AGENT actor (spec.md §3's Actor.Type ∈
// {HUMAN, AI_AGENT, SYSTEM}) drive checkout_work/submit_work through an LLM
// instead of a human hand. The provider-specific HTTP clients are the
// Non-goal thin adapters spec.md §1 carves out; this package only owns the
// prompt-building and checkout/submit loop around them. Grounded on the
// teacher's graph/model package (ChatModel interface, Message/ToolSpec/
// ChatOut/ToolCall shapes kept verbatim; provider selection trimmed down to
// the two SDKs this module vendors).
package llmactor

import "context"

// ChatModel abstracts the differences between LLM providers behind a single
// chat call.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn in an LLM conversation.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the LLM may call, in JSON Schema form.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is the LLM's response: free text, tool calls, or both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is a request from the LLM to invoke a named tool.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}
