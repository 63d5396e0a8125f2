// Package bedrock provides a gateway.Client implementation backed by the AWS
// Bedrock Converse API. It encodes tool schemas into Bedrock's
// ToolConfiguration and translates Converse responses (text + tool_use
// blocks) back into gateway types.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/toka-systems/toka/gateway"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client
// required by the adapter, matching *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock client adapter.
type Options struct {
	// DefaultModel is the default model identifier (e.g. an Anthropic
	// Claude-on-Bedrock model ID).
	DefaultModel string

	// MaxTokens sets the completion cap used when a request does not
	// specify one.
	MaxTokens int

	// Temperature is used when a request does not specify Temperature.
	Temperature float32
}

// Client implements gateway.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTok       int
	temp         float32
}

// New builds a Bedrock-backed gateway client from the provided runtime
// client and options.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{runtime: runtime, defaultModel: opts.DefaultModel, maxTok: maxTokens, temp: opts.Temperature}, nil
}

// Complete issues a Converse request and translates the response into
// gateway types.
func (c *Client) Complete(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	input, err := c.buildInput(req)
	if err != nil {
		return nil, err
	}
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("bedrock: rate limited: %w", err)
		}
		return nil, fmt.Errorf("bedrock: converse: %w", err)
	}
	return translateResponse(output), nil
}

// Stream is not implemented by this adapter; callers fall back to Complete.
func (c *Client) Stream(context.Context, *gateway.Request) (gateway.Streamer, error) {
	return nil, gateway.ErrStreamingUnsupported
}

func (c *Client) buildInput(req *gateway.Request) (*bedrockruntime.ConverseInput, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message
	for _, m := range req.Messages {
		switch m.Role {
		case gateway.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		case gateway.RoleUser:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case gateway.RoleAssistant:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case gateway.RoleTool:
			if m.ToolCallID == "" {
				return nil, errors.New("bedrock: tool message missing ToolCallID")
			}
			messages = append(messages, brtypes.Message{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{
					Value: brtypes.ToolResultBlock{
						ToolUseId: &m.ToolCallID,
						Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: m.Content}},
					},
				}},
			})
		default:
			return nil, fmt.Errorf("bedrock: unsupported role %q", m.Role)
		}
	}
	maxTokens := int32(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = int32(c.maxTok)
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = c.temp
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  &modelID,
		Messages: messages,
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   &maxTokens,
			Temperature: &temp,
		},
	}
	if len(system) > 0 {
		input.System = system
	}
	toolConfig, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	input.ToolConfig = toolConfig
	return input, nil
}

func encodeTools(defs []gateway.ToolDefinition) (*brtypes.ToolConfiguration, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		var schema map[string]any
		raw, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("bedrock: marshal tool %s schema: %w", def.Name, err)
		}
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("bedrock: decode tool %s schema: %w", def.Name, err)
		}
		name := def.Name
		desc := def.Description
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        &name,
				Description: &desc,
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, nil
}

func translateResponse(output *bedrockruntime.ConverseOutput) *gateway.Response {
	resp := &gateway.Response{}
	msgOutput, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if ok {
		for _, block := range msgOutput.Value.Content {
			switch b := block.(type) {
			case *brtypes.ContentBlockMemberText:
				resp.Text += b.Value
			case *brtypes.ContentBlockMemberToolUse:
				var args []byte
				if b.Value.Input != nil {
					args, _ = b.Value.Input.MarshalSmithyDocument()
				}
				id := ""
				if b.Value.ToolUseId != nil {
					id = *b.Value.ToolUseId
				}
				name := ""
				if b.Value.Name != nil {
					name = *b.Value.Name
				}
				resp.ToolCalls = append(resp.ToolCalls, gateway.ToolCall{ID: id, Name: name, Args: args})
			}
		}
	}
	resp.StopReason = string(output.StopReason)
	if output.Usage != nil {
		in, out := 0, 0
		if output.Usage.InputTokens != nil {
			in = int(*output.Usage.InputTokens)
		}
		if output.Usage.OutputTokens != nil {
			out = int(*output.Usage.OutputTokens)
		}
		resp.Usage = gateway.TokenUsage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
	}
	return resp
}

func isRateLimited(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ThrottlingException"
	}
	return false
}
