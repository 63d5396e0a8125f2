package tools_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/tools"
	"github.com/toka-systems/toka/tools/toolerrors"
)

func TestInvokeUnknownToolReturnsNotFound(t *testing.T) {
	r := tools.NewRegistry()
	_, err := r.Invoke(context.Background(), "missing", nil)
	var te *toolerrors.ToolError
	require.ErrorAs(t, err, &te)
	require.Equal(t, toolerrors.NotFound, te.Kind)
}

func TestInvokeRejectsOversizedArgs(t *testing.T) {
	r := tools.NewRegistry()
	r.Register("echo", tools.ToolFunc(func(ctx context.Context, args []byte) (tools.Result, error) {
		return tools.Result{Payload: args}, nil
	}))
	_, err := r.Invoke(context.Background(), "echo", make([]byte, tools.MaxArgsBytes+1))
	var te *toolerrors.ToolError
	require.ErrorAs(t, err, &te)
	require.Equal(t, toolerrors.InvalidArgs, te.Kind)
}

func TestInvokeSucceeds(t *testing.T) {
	r := tools.NewRegistry()
	r.Register("echo", tools.ToolFunc(func(ctx context.Context, args []byte) (tools.Result, error) {
		return tools.Result{Payload: args}, nil
	}))
	res, err := r.Invoke(context.Background(), "echo", []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), res.Payload)
}

func TestInvokeClassifiesDeadlineExceeded(t *testing.T) {
	r := tools.NewRegistry()
	r.Register("slow", tools.ToolFunc(func(ctx context.Context, args []byte) (tools.Result, error) {
		<-ctx.Done()
		return tools.Result{}, ctx.Err()
	}))
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	_, err := r.Invoke(ctx, "slow", nil)
	var te *toolerrors.ToolError
	require.ErrorAs(t, err, &te)
	require.Equal(t, toolerrors.Timeout, te.Kind)
}

func TestInvokePreservesToolErrorFromImplementation(t *testing.T) {
	r := tools.NewRegistry()
	r.Register("denied", tools.ToolFunc(func(ctx context.Context, args []byte) (tools.Result, error) {
		return tools.Result{}, toolerrors.New(toolerrors.PermissionDenied, "no access")
	}))
	_, err := r.Invoke(context.Background(), "denied", nil)
	require.True(t, errors.Is(err, &toolerrors.ToolError{Kind: toolerrors.PermissionDenied}))
}
