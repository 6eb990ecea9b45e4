package synthesis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/service/ai"
)

type stubCompleter struct {
	completeFunc func(ctx context.Context, req ai.Request) (string, error)
}

func (s *stubCompleter) Complete(ctx context.Context, req ai.Request) (string, error) {
	return s.completeFunc(ctx, req)
}

func (s *stubCompleter) CompleteStream(ctx context.Context, req ai.Request, _ func(string)) (string, error) {
	return s.completeFunc(ctx, req)
}

func (s *stubCompleter) CompleteJSON(context.Context, ai.Request, any) error {
	return errors.New("not used")
}

func TestCondenseSendsTopicAndTranscript(t *testing.T) {
	var seen ai.Request
	svc := New(&stubCompleter{completeFunc: func(_ context.Context, req ai.Request) (string, error) {
		seen = req
		return "  ## Plan\n- ship it  ", nil
	}})

	out, err := svc.Condense(context.Background(), "Critic: a\n\nHistorian: b", "a novel about Rome")
	require.NoError(t, err)
	assert.Equal(t, "## Plan\n- ship it", out)
	assert.Contains(t, seen.SystemInstruction, `"a novel about Rome"`)
	assert.Contains(t, seen.SystemInstruction, "Discard redundant")
	assert.Equal(t, "Critic: a\n\nHistorian: b", seen.Prompt)
}

func TestNoteCarriesStructuralContract(t *testing.T) {
	var seen ai.Request
	svc := New(&stubCompleter{completeFunc: func(_ context.Context, req ai.Request) (string, error) {
		seen = req
		return "> 💡 summary", nil
	}})

	_, err := svc.Note(context.Background(), "USER: explain X")
	require.NoError(t, err)
	assert.Contains(t, seen.SystemInstruction, "Mermaid")
	assert.Contains(t, seen.SystemInstruction, "comparison table")
	assert.Contains(t, seen.Prompt, "USER: explain X")
}

func TestCondensePropagatesGatewayError(t *testing.T) {
	svc := New(&stubCompleter{completeFunc: func(context.Context, ai.Request) (string, error) {
		return "", errs.ErrUpstream
	}})

	_, err := svc.Condense(context.Background(), "x", "y")
	assert.ErrorIs(t, err, errs.ErrUpstream)
}
