package gateway_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/gateway"
)

type stubStreamer struct{ sent bool }

func (s *stubStreamer) Recv() (gateway.Chunk, error) {
	if s.sent {
		return gateway.Chunk{}, errors.New("eof")
	}
	s.sent = true
	return gateway.Chunk{Type: "stop", StopReason: "end_turn"}, nil
}
func (s *stubStreamer) Close() error { return nil }

type stubProvider struct{}

func (stubProvider) Complete(_ context.Context, req *gateway.Request) (*gateway.Response, error) {
	return &gateway.Response{Text: "ok"}, nil
}

func (stubProvider) Stream(_ context.Context, _ *gateway.Request) (gateway.Streamer, error) {
	return &stubStreamer{}, nil
}

func TestNewServerRequiresProvider(t *testing.T) {
	_, err := gateway.NewServer()
	require.ErrorIs(t, err, gateway.ErrProviderRequired)
}

func TestNewServerBuildsMiddlewareChainsInRegistrationOrder(t *testing.T) {
	var order []string
	outer := func(next gateway.UnaryHandler) gateway.UnaryHandler {
		return func(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
			order = append(order, "outer")
			return next(ctx, req)
		}
	}
	inner := func(next gateway.UnaryHandler) gateway.UnaryHandler {
		return func(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
			order = append(order, "inner")
			return next(ctx, req)
		}
	}

	srv, err := gateway.NewServer(gateway.WithProvider(stubProvider{}), gateway.WithUnary(outer, inner))
	require.NoError(t, err)

	resp, err := srv.Complete(context.Background(), &gateway.Request{Model: "m"})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text)
	require.Equal(t, []string{"outer", "inner"}, order)
}

func TestServerStreamInvokesSendUntilStop(t *testing.T) {
	srv, err := gateway.NewServer(gateway.WithProvider(stubProvider{}))
	require.NoError(t, err)

	var chunks []gateway.Chunk
	err = srv.Stream(context.Background(), &gateway.Request{Model: "m"}, func(c gateway.Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "stop", chunks[0].Type)
}

func TestTextGatewayAdaptsServerForExecutor(t *testing.T) {
	srv, err := gateway.NewServer(gateway.WithProvider(stubProvider{}))
	require.NoError(t, err)

	tg := gateway.TextGateway{Server: srv}
	text, err := tg.Complete(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "ok", text)
}
