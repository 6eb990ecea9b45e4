package lens

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/model/artifact"
	"github.com/zhouzirui/z-think/backend/internal/service/ai"
)

type stubCompleter struct {
	last     ai.Request
	text     string
	jsonText string
	err      error
}

func (s *stubCompleter) Complete(_ context.Context, req ai.Request) (string, error) {
	s.last = req
	return s.text, s.err
}

func (s *stubCompleter) CompleteStream(ctx context.Context, req ai.Request, _ func(string)) (string, error) {
	return s.Complete(ctx, req)
}

func (s *stubCompleter) CompleteJSON(_ context.Context, req ai.Request, out any) error {
	s.last = req
	if s.err != nil {
		return s.err
	}
	return json.Unmarshal([]byte(s.jsonText), out)
}

func TestFirstPrinciplesHeaders(t *testing.T) {
	gateway := &stubCompleter{text: "\n## 🛑 Common Illusions\n...\n"}
	svc := New(gateway)

	out, err := svc.FirstPrinciples(context.Background(), "  rockets are expensive ")
	require.NoError(t, err)
	assert.Equal(t, "## 🛑 Common Illusions\n...", out)
	assert.Equal(t, "rockets are expensive", gateway.last.Prompt)
	for _, header := range []string{"Common Illusions", "Core Truths", "First Principles Solution"} {
		assert.Contains(t, gateway.last.SystemInstruction, header)
	}
}

func TestDevilsDictionary(t *testing.T) {
	gateway := &stubCompleter{jsonText: `{"word":"Meeting","definition":"A ritual.","usage":"We met."}`}
	svc := New(gateway)

	out, err := svc.DevilsDictionary(context.Background(), "meeting")
	require.NoError(t, err)
	assert.Equal(t, artifact.DevilsDefinition{Word: "Meeting", Definition: "A ritual.", Usage: "We met."}, out)
}

func TestLensErrors(t *testing.T) {
	svc := New(&stubCompleter{err: errs.ErrSchemaViolation})

	_, err := svc.DevilsDictionary(context.Background(), "hope")
	require.ErrorIs(t, err, errs.ErrSchemaViolation)

	_, err = svc.FirstPrinciples(context.Background(), " ")
	require.ErrorIs(t, err, errs.ErrPrecondition)
}
