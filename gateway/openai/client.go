// Package openai provides a gateway.Client implementation backed by the
// OpenAI Chat Completions API. It translates gateway requests into
// ChatCompletion calls using github.com/sashabaranov/go-openai and maps
// responses back into gateway types.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/toka-systems/toka/gateway"
)

// ChatClient captures the subset of the go-openai client used by the
// adapter.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Client implements gateway.Client via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-backed gateway client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai: client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: opts.Client, model: modelID}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.model
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role, err := encodeRole(m.Role)
		if err != nil {
			return nil, err
		}
		msg := openai.ChatCompletionMessage{Role: role, Content: m.Content}
		if m.Role == gateway.RoleTool {
			msg.ToolCallID = m.ToolCallID
		}
		messages = append(messages, msg)
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	request := openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       tools,
	}
	response, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	return translateResponse(response), nil
}

// Stream reports that OpenAI Chat Completions streaming is not yet
// supported by this adapter. Callers should fall back to Complete.
func (c *Client) Stream(context.Context, *gateway.Request) (gateway.Streamer, error) {
	return nil, gateway.ErrStreamingUnsupported
}

func encodeRole(r gateway.Role) (string, error) {
	switch r {
	case gateway.RoleSystem:
		return openai.ChatMessageRoleSystem, nil
	case gateway.RoleUser:
		return openai.ChatMessageRoleUser, nil
	case gateway.RoleAssistant:
		return openai.ChatMessageRoleAssistant, nil
	case gateway.RoleTool:
		return openai.ChatMessageRoleTool, nil
	default:
		return "", fmt.Errorf("openai: unsupported role %q", r)
	}
}

func encodeTools(defs []gateway.ToolDefinition) ([]openai.Tool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		params, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("openai: marshal tool %s schema: %w", def.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return tools, nil
}

func translateResponse(resp openai.ChatCompletionResponse) *gateway.Response {
	var text strings.Builder
	var toolCalls []gateway.ToolCall
	for _, choice := range resp.Choices {
		msg := choice.Message
		if strings.TrimSpace(msg.Content) != "" {
			text.WriteString(msg.Content)
		}
		for _, call := range msg.ToolCalls {
			toolCalls = append(toolCalls, gateway.ToolCall{
				ID:   call.ID,
				Name: call.Function.Name,
				Args: []byte(call.Function.Arguments),
			})
		}
	}
	stop := ""
	if len(resp.Choices) > 0 {
		stop = string(resp.Choices[0].FinishReason)
	}
	return &gateway.Response{
		Text:      text.String(),
		ToolCalls: toolCalls,
		Usage: gateway.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		StopReason: stop,
	}
}
