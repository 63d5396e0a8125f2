// Package gateway provides a provider-agnostic client for language-model
// completions together with a composable middleware chain. It is the single
// point through which the agent executor (and any other caller) reaches an
// LLM, regardless of which vendor backs a given agent's model.
package gateway

import (
	"context"
	"errors"
)

type (
	// Role identifies the speaker for a message in a conversation.
	Role string

	// ToolDefinition describes a tool exposed to the model for a single
	// completion request.
	ToolDefinition struct {
		// Name is the tool identifier as seen by the model.
		Name string

		// Description is a concise summary presented to the model to decide
		// when to call the tool.
		Description string

		// InputSchema is a JSON Schema describing the tool input payload.
		InputSchema any
	}

	// ToolCall is a tool invocation requested by the model.
	ToolCall struct {
		// ID is a provider-issued identifier for the call, when available.
		ID string

		// Name is the tool identifier requested by the model.
		Name string

		// Args is the canonical JSON arguments supplied by the model.
		Args []byte
	}

	// Message is a single chat message in a completion request.
	Message struct {
		// Role identifies the speaker.
		Role Role

		// Content is the plain-text content of the message.
		Content string

		// ToolCallID correlates a tool-result message to a prior ToolCall.ID.
		ToolCallID string
	}

	// TokenUsage tracks token counts for a model call.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// Request captures the inputs for a single model invocation.
	Request struct {
		// Model selects a concrete provider model identifier. When empty, the
		// provider adapter falls back to its configured default.
		Model string

		// Messages is the ordered conversation transcript.
		Messages []Message

		// Tools lists the tool definitions available to the model for this
		// request.
		Tools []ToolDefinition

		// Temperature controls sampling when supported by the provider.
		Temperature float32

		// MaxTokens caps the number of output tokens when supported.
		MaxTokens int
	}

	// Response is the result of a non-streaming invocation.
	Response struct {
		// Text is the concatenated assistant text content.
		Text string

		// ToolCalls lists tool invocations requested by the model.
		ToolCalls []ToolCall

		// Usage reports token consumption for the request.
		Usage TokenUsage

		// StopReason records why generation stopped (provider-specific).
		StopReason string
	}

	// Chunk is a streaming event from the model.
	Chunk struct {
		// Type identifies the kind of streaming event ("text", "tool_call", "stop").
		Type string

		// TextDelta carries incremental assistant text for Type "text".
		TextDelta string

		// ToolCall carries a completed tool invocation for Type "tool_call".
		ToolCall *ToolCall

		// StopReason records why streaming stopped for Type "stop".
		StopReason string
	}

	// Streamer delivers incremental model output. Callers must drain the
	// stream until Recv returns io.EOF (or another terminal error), then
	// call Close.
	Streamer interface {
		Recv() (Chunk, error)
		Close() error
	}

	// Client is the provider-agnostic model client. Provider adapters
	// (anthropic, openai, bedrock) implement this over their respective SDKs.
	Client interface {
		// Complete performs a non-streaming model invocation.
		Complete(ctx context.Context, req *Request) (*Response, error)

		// Stream performs a streaming model invocation when supported.
		Stream(ctx context.Context, req *Request) (Streamer, error)
	}
)

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ErrStreamingUnsupported indicates the provider does not support streaming.
var ErrStreamingUnsupported = errors.New("gateway: streaming not supported by provider")

// ErrProviderRequired indicates that a provider Client must be supplied to
// NewServer.
var ErrProviderRequired = errors.New("gateway: provider is required")

type (
	// Server adapts a provider Client into a composable request handler with
	// middleware support for both unary and streaming completions.
	//
	// Middleware is applied in registration order: the first middleware
	// registered wraps all subsequent ones, forming an onion structure where
	// the innermost layer invokes the provider client.
	Server struct {
		provider Client
		unary    UnaryHandler
		stream   StreamHandler
	}

	// UnaryHandler processes a single unary completion request and returns
	// the complete response.
	UnaryHandler func(ctx context.Context, req *Request) (*Response, error)

	// StreamHandler processes a streaming completion request, invoking send
	// for each chunk produced by the model.
	StreamHandler func(ctx context.Context, req *Request, send func(Chunk) error) error

	// UnaryMiddleware wraps a UnaryHandler to add behavior before, after, or
	// around the handler invocation.
	UnaryMiddleware func(next UnaryHandler) UnaryHandler

	// StreamMiddleware wraps a StreamHandler to add behavior around a
	// streaming completion.
	StreamMiddleware func(next StreamHandler) StreamHandler

	// Option configures a Server during construction.
	Option func(*serverConfig)

	serverConfig struct {
		provider Client
		unaryMW  []UnaryMiddleware
		streamMW []StreamMiddleware
	}
)

// WithProvider sets the underlying model client used by the Server. Required;
// NewServer returns ErrProviderRequired without one.
func WithProvider(p Client) Option {
	return func(c *serverConfig) { c.provider = p }
}

// WithUnary appends UnaryMiddleware to the Server's unary completion chain.
// The first middleware registered forms the outermost layer.
func WithUnary(mw ...UnaryMiddleware) Option {
	return func(c *serverConfig) { c.unaryMW = append(c.unaryMW, mw...) }
}

// WithStream appends StreamMiddleware to the Server's streaming chain. The
// first middleware registered forms the outermost layer.
func WithStream(mw ...StreamMiddleware) Option {
	return func(c *serverConfig) { c.streamMW = append(c.streamMW, mw...) }
}

// NewServer constructs a Server with the provided options. Middleware chains
// are built once, here, in registration order: the first registered
// middleware becomes the outermost layer, wrapping all subsequent middleware
// and eventually the base provider handler.
func NewServer(opts ...Option) (*Server, error) {
	var cfg serverConfig
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.provider == nil {
		return nil, ErrProviderRequired
	}
	baseUnary := func(ctx context.Context, req *Request) (*Response, error) {
		return cfg.provider.Complete(ctx, req)
	}
	baseStream := func(ctx context.Context, req *Request, send func(Chunk) error) error {
		st, err := cfg.provider.Stream(ctx, req)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		for {
			ch, err := st.Recv()
			if err != nil {
				return err
			}
			if err := send(ch); err != nil {
				return err
			}
			if ch.Type == "stop" {
				return nil
			}
		}
	}
	unary := baseUnary
	for i := len(cfg.unaryMW) - 1; i >= 0; i-- {
		unary = cfg.unaryMW[i](unary)
	}
	stream := baseStream
	for i := len(cfg.streamMW) - 1; i >= 0; i-- {
		stream = cfg.streamMW[i](stream)
	}
	return &Server{provider: cfg.provider, unary: unary, stream: stream}, nil
}

// Complete processes a unary completion request through the configured
// middleware chain.
func (s *Server) Complete(ctx context.Context, req *Request) (*Response, error) {
	return s.unary(ctx, req)
}

// Stream processes a streaming completion request through the configured
// middleware chain, invoking send for each chunk produced.
func (s *Server) Stream(ctx context.Context, req *Request, send func(Chunk) error) error {
	return s.stream(ctx, req, send)
}

// CompleteText is a single-turn text-in, text-out completion built from a
// plain prompt string, independent of which provider is configured behind
// the Server.
func (s *Server) CompleteText(ctx context.Context, prompt string) (string, error) {
	resp, err := s.Complete(ctx, &Request{
		Messages: []Message{{Role: RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// TextGateway adapts a Server to the executor.Gateway interface, whose only
// requirement is a narrow prompt-in, text-out Complete method. It lets the
// agent executor drive LLM-assisted plan decomposition without depending on
// the richer Request/Response wire shape or any specific provider.
type TextGateway struct {
	Server *Server
}

// Complete satisfies executor.Gateway.
func (g TextGateway) Complete(ctx context.Context, prompt string) (string, error) {
	return g.Server.CompleteText(ctx, prompt)
}
