package dialogue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/model/chat"
	"github.com/zhouzirui/z-think/backend/internal/model/persona"
	"github.com/zhouzirui/z-think/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/z-think/backend/internal/service/chat"
	"github.com/zhouzirui/z-think/backend/internal/service/synthesis"
)

type stubCompleter struct {
	mu       sync.Mutex
	requests []ai.Request

	completeFunc func(ctx context.Context, req ai.Request) (string, error)
	streamFunc   func(ctx context.Context, req ai.Request, onChunk func(string)) (string, error)
}

func (s *stubCompleter) record(req ai.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
}

func (s *stubCompleter) Complete(ctx context.Context, req ai.Request) (string, error) {
	s.record(req)
	if s.completeFunc == nil {
		return "Rust Ownership Basics", nil
	}
	return s.completeFunc(ctx, req)
}

func (s *stubCompleter) CompleteStream(ctx context.Context, req ai.Request, onChunk func(string)) (string, error) {
	s.record(req)
	return s.streamFunc(ctx, req, onChunk)
}

func (s *stubCompleter) CompleteJSON(context.Context, ai.Request, any) error {
	return errors.New("not used")
}

func chunked(parts ...string) func(context.Context, ai.Request, func(string)) (string, error) {
	return func(_ context.Context, _ ai.Request, onChunk func(string)) (string, error) {
		for _, part := range parts {
			onChunk(part)
		}
		return strings.Join(parts, ""), nil
	}
}

func newEngine(t *testing.T, gateway *stubCompleter) (*Engine, *chatservice.Service, chat.Session) {
	t.Helper()
	store := chatservice.NewService(nil)
	session, err := store.CreateSession(context.Background(), chat.ModeSocratic)
	require.NoError(t, err)

	engine := New(store, gateway, synthesis.New(gateway), persona.MustSeed(), zerolog.Nop())
	t.Cleanup(engine.Wait)
	return engine, store, session
}

func TestSendCommitsOneAgentTurn(t *testing.T) {
	gateway := &stubCompleter{streamFunc: chunked("What do ", "you already ", "know?")}
	engine, _, session := newEngine(t, gateway)

	var chunks []string
	out, err := engine.Send(context.Background(), session.ID, "explain Rust ownership", func(c string) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)

	require.Len(t, out.Turns, 3)
	assert.Equal(t, chat.WelcomeTurnID, out.Turns[0].ID)
	assert.Equal(t, chat.SpeakerUser, out.Turns[1].Speaker)
	assert.Equal(t, chat.SpeakerAgent, out.Turns[2].Speaker)
	assert.Equal(t, "What do you already know?", out.Turns[2].Content)
	assert.Equal(t, chat.KindDialogue, out.Turns[2].Kind)
	assert.Equal(t, []string{"What do ", "you already ", "know?"}, chunks)
	assert.Equal(t, StateIdle, engine.State(session.ID))
	assert.Empty(t, engine.InFlight(session.ID))
}

func TestSendExcludesWelcomeFromHistory(t *testing.T) {
	gateway := &stubCompleter{streamFunc: chunked("ok")}
	engine, _, session := newEngine(t, gateway)

	_, err := engine.Send(context.Background(), session.ID, "hello", nil)
	require.NoError(t, err)
	engine.Wait()

	var streamed ai.Request
	for _, req := range gateway.requests {
		if len(req.Messages) > 0 {
			streamed = req
		}
	}
	require.Len(t, streamed.Messages, 1)
	assert.Equal(t, ai.RoleUser, streamed.Messages[0].Role)
	assert.Equal(t, "hello", streamed.Messages[0].Content)
	assert.Contains(t, streamed.SystemInstruction, "Cognitive Note Assistant")
	require.NotNil(t, streamed.Temperature)
	assert.InDelta(t, 0.7, *streamed.Temperature, 1e-6)
}

func TestSendRejectsConcurrentCall(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gateway := &stubCompleter{streamFunc: func(_ context.Context, _ ai.Request, onChunk func(string)) (string, error) {
		onChunk("partial ")
		close(started)
		<-release
		return "partial answer", nil
	}}
	engine, store, session := newEngine(t, gateway)

	done := make(chan error, 1)
	go func() {
		_, err := engine.Send(context.Background(), session.ID, "first", nil)
		done <- err
	}()
	<-started

	assert.Equal(t, StateAwaiting, engine.State(session.ID))
	assert.Equal(t, "partial ", engine.InFlight(session.ID))

	_, err := engine.Send(context.Background(), session.ID, "second", nil)
	require.ErrorIs(t, err, errs.ErrConcurrentCall)
	_, err = engine.Synthesize(context.Background(), session.ID)
	require.ErrorIs(t, err, errs.ErrConcurrentCall)

	close(release)
	require.NoError(t, <-done)

	got, err := store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	var users, agents int
	for _, turn := range got.Turns[1:] {
		switch turn.Speaker {
		case chat.SpeakerUser:
			users++
		case chat.SpeakerAgent:
			agents++
		}
	}
	assert.Equal(t, 1, users)
	assert.Equal(t, 1, agents)
}

func TestSendThenSynthesizeScenario(t *testing.T) {
	gateway := &stubCompleter{
		streamFunc: chunked("Think of a library card."),
		completeFunc: func(_ context.Context, req ai.Request) (string, error) {
			if strings.Contains(req.SystemInstruction, "Mermaid") {
				return "> 💡 Ownership means one owner.", nil
			}
			return `"Rust Ownership"`, nil
		},
	}
	engine, store, session := newEngine(t, gateway)

	out, err := engine.Send(context.Background(), session.ID, "explain Rust ownership", nil)
	require.NoError(t, err)
	require.Len(t, out.Turns[1:], 2)

	out, err = engine.Synthesize(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, out.Turns[1:], 3)
	last := out.Turns[len(out.Turns)-1]
	assert.Equal(t, chat.KindArtifact, last.Kind)
	assert.Equal(t, "> 💡 Ownership means one owner.", last.Content)
	assert.Equal(t, "explain Rust ownership", out.Turns[1].Content)
	assert.Equal(t, "Think of a library card.", out.Turns[2].Content)

	engine.Wait()
	got, err := store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rust Ownership", got.Title)
}

func TestSendWithKeywordRoutesToSynthesis(t *testing.T) {
	gateway := &stubCompleter{
		streamFunc: func(context.Context, ai.Request, func(string)) (string, error) {
			t.Fatal("keyword message must not stream a dialogue reply")
			return "", nil
		},
		completeFunc: func(_ context.Context, req ai.Request) (string, error) {
			return "note", nil
		},
	}
	engine, _, session := newEngine(t, gateway)

	out, err := engine.Send(context.Background(), session.ID, "Please create note now", nil)
	require.NoError(t, err)
	last := out.Turns[len(out.Turns)-1]
	assert.Equal(t, chat.KindArtifact, last.Kind)
}

func TestSendIntentRequiresExchange(t *testing.T) {
	gateway := &stubCompleter{streamFunc: chunked("an analogy")}
	engine, _, session := newEngine(t, gateway)

	_, err := engine.SendIntent(context.Background(), session.ID, "analogy", nil)
	require.ErrorIs(t, err, errs.ErrPrecondition)

	_, err = engine.Send(context.Background(), session.ID, "what is a mutex", nil)
	require.NoError(t, err)

	out, err := engine.SendIntent(context.Background(), session.ID, "analogy", nil)
	require.NoError(t, err)
	require.Len(t, out.Turns, 5)
	assert.Contains(t, out.Turns[3].Content, "everyday analogy")

	_, err = engine.SendIntent(context.Background(), session.ID, "poem", nil)
	require.ErrorIs(t, err, errs.ErrPrecondition)
}

func TestGatewayFailureBecomesAgentTurn(t *testing.T) {
	gateway := &stubCompleter{streamFunc: func(context.Context, ai.Request, func(string)) (string, error) {
		return "", errs.ErrUpstream
	}}
	engine, _, session := newEngine(t, gateway)

	out, err := engine.Send(context.Background(), session.ID, "hi", nil)
	require.NoError(t, err)
	last := out.Turns[len(out.Turns)-1]
	assert.Equal(t, chat.SpeakerAgent, last.Speaker)
	assert.Equal(t, errorReply, last.Content)
	assert.Equal(t, StateIdle, engine.State(session.ID))
}

func TestMissingCredentialIsSurfaced(t *testing.T) {
	gateway := &stubCompleter{
		streamFunc: func(context.Context, ai.Request, func(string)) (string, error) {
			return "", errs.ErrMissingCredential
		},
		completeFunc: func(context.Context, ai.Request) (string, error) {
			return "", errs.ErrMissingCredential
		},
	}
	engine, store, session := newEngine(t, gateway)

	out, err := engine.Send(context.Background(), session.ID, "hi", nil)
	require.ErrorIs(t, err, errs.ErrMissingCredential)
	assert.Equal(t, missingCredentialReply, out.Turns[len(out.Turns)-1].Content)

	engine.Wait()
	got, err := store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, chatservice.DefaultTitle, got.Title)
}

func TestIsSynthesisRequest(t *testing.T) {
	assert.True(t, IsSynthesisRequest("Can you SYNTHESIZE this?"))
	assert.True(t, IsSynthesisRequest("tạo ghi chú giúp tôi"))
	assert.False(t, IsSynthesisRequest("what is synthesis"))
}

func TestHistoryMessagesSkipsArtifacts(t *testing.T) {
	msgs := historyMessages([]chat.Turn{
		{ID: chat.WelcomeTurnID, Speaker: chat.SpeakerAgent, Content: "hi"},
		{ID: "1", Speaker: chat.SpeakerUser, Content: "q"},
		{ID: "2", Speaker: chat.SpeakerAgent, Content: "a"},
		{ID: "3", Speaker: chat.SpeakerAgent, Content: "note", Kind: chat.KindArtifact},
	})
	assert.Equal(t, []ai.Message{
		{Role: ai.RoleUser, Content: "q"},
		{Role: ai.RoleAssistant, Content: "a"},
	}, msgs)
}
