// Package openai implements llmactor.ChatModel over OpenAI's chat
// completions API, grounded on the teacher's graph/model/openai/openai.go
// (same retry/backoff shape for transient errors, same client-interface
// testing seam).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/llmactor"
)

// ChatModel implements llmactor.ChatModel for OpenAI.
type ChatModel struct {
	apiKey     string
	modelName  string
	client     openaiClient
	maxRetries int
	retryDelay time.Duration
}

type openaiClient interface {
	createChatCompletion(ctx context.Context, messages []llmactor.Message, tools []llmactor.ToolSpec) (llmactor.ChatOut, error)
}

// NewChatModel builds an OpenAI-backed ChatModel with 3 retries on
// transient errors. An empty modelName defaults to gpt-4o.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &ChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		client:     &defaultClient{apiKey: apiKey, modelName: modelName},
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

func (m *ChatModel) Chat(ctx context.Context, messages []llmactor.Message, tools []llmactor.ToolSpec) (llmactor.ChatOut, error) {
	if ctx.Err() != nil {
		return llmactor.ChatOut{}, ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		out, err := m.client.createChatCompletion(ctx, messages, tools)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !isTransientError(err) || attempt >= m.maxRetries {
			return llmactor.ChatOut{}, err
		}

		delay := m.retryDelay
		if isRateLimitError(err) {
			delay = m.retryDelay * time.Duration(attempt+1)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return llmactor.ChatOut{}, ctx.Err()
		}
	}
	return llmactor.ChatOut{}, fmt.Errorf("openai: failed after %d retries: %w", m.maxRetries, lastErr)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	var rateLimitErr *rateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}
	msgLower := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "network", "connection", "temporary", "503", "502", "500"} {
		if strings.Contains(msgLower, pattern) {
			return true
		}
	}
	return false
}

func isRateLimitError(err error) bool {
	var rateLimitErr *rateLimitError
	return errors.As(err, &rateLimitErr)
}

type rateLimitError struct{ message string }

func (e *rateLimitError) Error() string { return e.message }

type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) createChatCompletion(ctx context.Context, messages []llmactor.Message, tools []llmactor.ToolSpec) (llmactor.ChatOut, error) {
	if c.apiKey == "" {
		return llmactor.ChatOut{}, errors.New("openai: API key is required")
	}

	client := openaisdk.NewClient(option.WithAPIKey(c.apiKey))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(c.modelName),
		Messages: convertMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llmactor.ChatOut{}, fmt.Errorf("openai: %w", err)
	}
	return convertResponse(resp), nil
}

func convertMessages(messages []llmactor.Message) []openaisdk.ChatCompletionMessageParamUnion {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case llmactor.RoleSystem:
			result[i] = openaisdk.SystemMessage(msg.Content)
		case llmactor.RoleAssistant:
			result[i] = openaisdk.AssistantMessage(msg.Content)
		default:
			result[i] = openaisdk.UserMessage(msg.Content)
		}
	}
	return result
}

func convertTools(tools []llmactor.ToolSpec) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, tool := range tools {
		result[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openaisdk.String(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Schema),
			},
		}
	}
	return result
}

func convertResponse(resp *openaisdk.ChatCompletion) llmactor.ChatOut {
	out := llmactor.ChatOut{}
	if len(resp.Choices) == 0 {
		return out
	}
	msg := resp.Choices[0].Message
	out.Text = msg.Content
	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = make([]llmactor.ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			out.ToolCalls[i] = llmactor.ToolCall{
				Name:  tc.Function.Name,
				Input: parseToolInput(tc.Function.Arguments),
			}
		}
	}
	return out
}

// parseToolInput decodes the JSON arguments string OpenAI returns for a
// function call into a plain map.
func parseToolInput(jsonStr string) map[string]interface{} {
	if jsonStr == "" {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return map[string]interface{}{"_raw": jsonStr}
	}
	return result
}
