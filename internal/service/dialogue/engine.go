// Package dialogue 驱动单一对话伙伴：流式回复、意图模板、笔记合成与标题生成。
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/semaphore"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/logging"
	"github.com/zhouzirui/z-think/backend/internal/model/chat"
	"github.com/zhouzirui/z-think/backend/internal/model/persona"
	"github.com/zhouzirui/z-think/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/z-think/backend/internal/service/chat"
)

// State of one session's dialogue.
type State string

const (
	StateIdle         State = "IDLE"
	StateAwaiting     State = "AWAITING_RESPONSE"
	StateSynthesizing State = "SYNTHESIZING"
)

const (
	errorReply             = "I encountered an error reaching the model. Please try again."
	missingCredentialReply = "No API key is configured. Add one in settings to continue."

	titlePrompt = `Generate a very short, concise title (max 4-5 words) for a note-taking session based on this initial user input. Input: %q. Return ONLY the title text, no quotes.`
)

var synthesisKeywords = []string{"synthesize", "finalize", "create note", "tạo ghi chú"}

// Store is the slice of the transcript store the engine needs.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	AppendTurn(ctx context.Context, sessionID string, turn chat.Turn) (chat.Session, error)
	SetTitle(ctx context.Context, sessionID, title string) (chat.Session, error)
}

// Synthesizer 生成结构化笔记。
type Synthesizer interface {
	Note(ctx context.Context, transcript string) (string, error)
}

type slot struct {
	sem *semaphore.Weighted

	mu       sync.Mutex
	state    State
	inflight strings.Builder
}

func (s *slot) set(state State) {
	s.mu.Lock()
	s.state = state
	if state == StateIdle {
		s.inflight.Reset()
	}
	s.mu.Unlock()
}

func (s *slot) write(chunk string) {
	s.mu.Lock()
	s.inflight.WriteString(chunk)
	s.mu.Unlock()
}

// Engine is the single-agent dialogue engine. At most one completion is in
// flight per session; a second call is rejected, never queued.
type Engine struct {
	store       Store
	gateway     ai.Completer
	synthesizer Synthesizer
	catalog     *persona.Catalog
	logger      zerolog.Logger
	temperature float32

	mu    sync.Mutex
	slots map[string]*slot

	background conc.WaitGroup
}

// New 创建对话引擎。
func New(store Store, gateway ai.Completer, synthesizer Synthesizer, catalog *persona.Catalog, logger zerolog.Logger) *Engine {
	return &Engine{
		store:       store,
		gateway:     gateway,
		synthesizer: synthesizer,
		catalog:     catalog,
		logger:      logging.Component(logger, "dialogue"),
		temperature: 0.7,
		slots:       make(map[string]*slot),
	}
}

// State returns the session's current dialogue state.
func (e *Engine) State(sessionID string) State {
	s := e.slot(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" {
		return StateIdle
	}
	return s.state
}

// InFlight 返回尚未提交的流式缓冲内容。
func (e *Engine) InFlight(sessionID string) string {
	s := e.slot(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight.String()
}

// Wait blocks until background title generation has finished.
func (e *Engine) Wait() {
	e.background.Wait()
}

// Send 追加用户发言并流式生成一条 AGENT 回复。包含合成关键词的消息改走笔记合成。
func (e *Engine) Send(ctx context.Context, sessionID, text string, onChunk func(string)) (chat.Session, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Session{}, fmt.Errorf("%w: empty message", errs.ErrPrecondition)
	}

	s, err := e.acquire(sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	defer e.release(s)

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}

	firstMessage := session.UserTurnCount() == 0
	session, err = e.store.AppendTurn(ctx, sessionID, chat.Turn{Speaker: chat.SpeakerUser, Content: text})
	if err != nil {
		return chat.Session{}, err
	}
	if firstMessage {
		e.generateTitle(ctx, sessionID, text)
	}

	if IsSynthesisRequest(text) {
		return e.synthesize(ctx, s, session)
	}
	return e.reply(ctx, s, session, onChunk)
}

// SendIntent fires a canned intent template as a user turn. It requires a
// real exchange beyond the welcome turn.
func (e *Engine) SendIntent(ctx context.Context, sessionID, templateID string, onChunk func(string)) (chat.Session, error) {
	intent, ok := e.catalog.Intent(templateID)
	if !ok {
		return chat.Session{}, fmt.Errorf("%w: unknown intent %q", errs.ErrPrecondition, templateID)
	}

	s, err := e.acquire(sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	defer e.release(s)

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	if !session.HasExchange() {
		return chat.Session{}, fmt.Errorf("%w: intent %q needs an exchange first", errs.ErrPrecondition, templateID)
	}

	session, err = e.store.AppendTurn(ctx, sessionID, chat.Turn{Speaker: chat.SpeakerUser, Content: intent.Prompt})
	if err != nil {
		return chat.Session{}, err
	}
	return e.reply(ctx, s, session, onChunk)
}

// Synthesize 将整段对话合成为一条 ARTIFACT 笔记，不修改已有的对话发言。
func (e *Engine) Synthesize(ctx context.Context, sessionID string) (chat.Session, error) {
	s, err := e.acquire(sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	defer e.release(s)

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	if session.UserTurnCount() == 0 {
		return chat.Session{}, fmt.Errorf("%w: nothing to synthesize", errs.ErrPrecondition)
	}
	return e.synthesize(ctx, s, session)
}

func (e *Engine) reply(ctx context.Context, s *slot, session chat.Session, onChunk func(string)) (chat.Session, error) {
	s.set(StateAwaiting)

	req := ai.Request{
		SystemInstruction: e.systemInstruction(session.Mode),
		Messages:          historyMessages(session.Turns),
		Temperature:       &e.temperature,
	}

	text, err := e.gateway.CompleteStream(ctx, req, func(chunk string) {
		s.write(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	})
	if err != nil {
		return e.commitError(ctx, session.ID, err)
	}

	return e.store.AppendTurn(ctx, session.ID, chat.Turn{Speaker: chat.SpeakerAgent, Content: text, Kind: chat.KindDialogue})
}

func (e *Engine) synthesize(ctx context.Context, s *slot, session chat.Session) (chat.Session, error) {
	s.set(StateSynthesizing)

	note, err := e.synthesizer.Note(ctx, chat.Flatten(session.Turns))
	if err != nil {
		return e.commitError(ctx, session.ID, err)
	}
	return e.store.AppendTurn(ctx, session.ID, chat.Turn{Speaker: chat.SpeakerAgent, Content: note, Kind: chat.KindArtifact})
}

// commitError 将网关错误转为一条可见的 AGENT 发言。缺少凭证时同时返回错误，供上层弹出配置提示。
func (e *Engine) commitError(ctx context.Context, sessionID string, cause error) (chat.Session, error) {
	e.logger.Warn().Err(cause).Str("session", sessionID).Str("kind", errs.Kind(cause)).Msg("dialogue turn failed")

	content := errorReply
	if errors.Is(cause, errs.ErrMissingCredential) {
		content = missingCredentialReply
	}

	session, err := e.store.AppendTurn(ctx, sessionID, chat.Turn{Speaker: chat.SpeakerAgent, Content: content})
	if err != nil {
		return chat.Session{}, err
	}
	if errors.Is(cause, errs.ErrMissingCredential) {
		return session, cause
	}
	return session, nil
}

func (e *Engine) generateTitle(ctx context.Context, sessionID, firstMessage string) {
	ctx = context.WithoutCancel(ctx)
	e.background.Go(func() {
		title := chatservice.DefaultTitle
		text, err := e.gateway.Complete(ctx, ai.Request{Prompt: fmt.Sprintf(titlePrompt, firstMessage)})
		if err != nil {
			e.logger.Debug().Err(err).Str("session", sessionID).Msg("title generation failed")
		} else if cleaned := cleanTitle(text); cleaned != "" {
			title = cleaned
		}
		if _, err := e.store.SetTitle(ctx, sessionID, title); err != nil {
			e.logger.Debug().Err(err).Str("session", sessionID).Msg("title not stored")
		}
	})
}

func (e *Engine) systemInstruction(mode chat.Mode) string {
	if p, ok := e.catalog.Mode(string(mode)); ok {
		return p.VoiceInstruction
	}
	p, _ := e.catalog.Mode(string(chat.ModeSocratic))
	return p.VoiceInstruction
}

func (e *Engine) slot(sessionID string) *slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[sessionID]
	if !ok {
		s = &slot{sem: semaphore.NewWeighted(1), state: StateIdle}
		e.slots[sessionID] = s
	}
	return s
}

func (e *Engine) acquire(sessionID string) (*slot, error) {
	s := e.slot(sessionID)
	if !s.sem.TryAcquire(1) {
		return nil, fmt.Errorf("%w: session %s is busy", errs.ErrConcurrentCall, sessionID)
	}
	return s, nil
}

func (e *Engine) release(s *slot) {
	s.set(StateIdle)
	s.sem.Release(1)
}

// IsSynthesisRequest 判断用户消息是否要求生成笔记。
func IsSynthesisRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range synthesisKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// historyMessages maps dialogue turns to model messages. The welcome turn and
// synthesized artifacts are not part of the model's context.
func historyMessages(turns []chat.Turn) []ai.Message {
	out := make([]ai.Message, 0, len(turns))
	for _, turn := range turns {
		if turn.ID == chat.WelcomeTurnID || turn.Kind == chat.KindArtifact {
			continue
		}
		role := ai.RoleUser
		if turn.Speaker == chat.SpeakerAgent {
			role = ai.RoleAssistant
		}
		out = append(out, ai.Message{Role: role, Content: turn.Content})
	}
	return out
}

func cleanTitle(text string) string {
	title := strings.TrimSpace(text)
	title = strings.Trim(title, `"'`)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	return strings.TrimSpace(title)
}
