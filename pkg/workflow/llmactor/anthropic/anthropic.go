// Package anthropic implements llmactor.ChatModel over Anthropic's Claude
// API, grounded on the teacher's graph/model/anthropic/anthropic.go (same
// client-interface seam for testability, same system-prompt extraction and
// error-translation shape).
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/llmactor"
)

// ChatModel implements llmactor.ChatModel for Claude.
type ChatModel struct {
	apiKey    string
	modelName string
	client    anthropicClient
}

// anthropicClient is the seam mocked by tests.
type anthropicClient interface {
	createMessage(ctx context.Context, systemPrompt string, messages []llmactor.Message, tools []llmactor.ToolSpec) (llmactor.ChatOut, error)
}

// NewChatModel builds a Claude-backed ChatModel. An empty modelName defaults
// to Claude Sonnet.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	return &ChatModel{
		apiKey:    apiKey,
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey, modelName: modelName},
	}
}

func (m *ChatModel) Chat(ctx context.Context, messages []llmactor.Message, tools []llmactor.ToolSpec) (llmactor.ChatOut, error) {
	if ctx.Err() != nil {
		return llmactor.ChatOut{}, ctx.Err()
	}

	systemPrompt, conversation := extractSystemPrompt(messages)

	out, err := m.client.createMessage(ctx, systemPrompt, conversation, tools)
	if err != nil {
		var apiErr *anthropicError
		if errors.As(err, &apiErr) {
			return llmactor.ChatOut{}, apiErr
		}
		return llmactor.ChatOut{}, err
	}
	return out, nil
}

// extractSystemPrompt separates system messages (Claude takes them as a
// dedicated parameter, not as part of the conversation array).
func extractSystemPrompt(messages []llmactor.Message) (string, []llmactor.Message) {
	var systemPrompt string
	var conversation []llmactor.Message

	for _, msg := range messages {
		if msg.Role == llmactor.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
			continue
		}
		conversation = append(conversation, msg)
	}
	return systemPrompt, conversation
}

type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) createMessage(ctx context.Context, systemPrompt string, messages []llmactor.Message, tools []llmactor.ToolSpec) (llmactor.ChatOut, error) {
	if c.apiKey == "" {
		return llmactor.ChatOut{}, errors.New("anthropic: API key is required")
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(c.apiKey))

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.modelName),
		Messages:  convertMessages(messages),
		MaxTokens: 4096,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return llmactor.ChatOut{}, fmt.Errorf("anthropic: %w", err)
	}
	return convertResponse(resp), nil
}

func convertMessages(messages []llmactor.Message) []anthropicsdk.MessageParam {
	result := make([]anthropicsdk.MessageParam, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case llmactor.RoleAssistant:
			result[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content))
		default:
			result[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content))
		}
	}
	return result
}

func convertTools(tools []llmactor.ToolSpec) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, tool := range tools {
		var properties any
		var required []string
		if tool.Schema != nil {
			if props, ok := tool.Schema["properties"]; ok {
				properties = props
			}
			if req, ok := tool.Schema["required"].([]string); ok {
				required = req
			} else if req, ok := tool.Schema["required"].([]interface{}); ok {
				required = make([]string, 0, len(req))
				for _, v := range req {
					if s, ok := v.(string); ok {
						required = append(required, s)
					}
				}
			}
		}
		result[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        tool.Name,
				Description: anthropicsdk.String(tool.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{Properties: properties, Required: required},
			},
		}
	}
	return result
}

func convertResponse(resp *anthropicsdk.Message) llmactor.ChatOut {
	out := llmactor.ChatOut{}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, llmactor.ToolCall{
				Name:  b.Name,
				Input: convertToolInput(b.Input),
			})
		}
	}
	return out
}

func convertToolInput(input interface{}) map[string]interface{} {
	if input == nil {
		return nil
	}
	if m, ok := input.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"_raw": input}
}

type anthropicError struct {
	Type    string
	Message string
}

func (e *anthropicError) Error() string { return e.Type + ": " + e.Message }
