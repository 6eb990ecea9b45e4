package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/model/chat"
	"github.com/zhouzirui/z-think/backend/internal/storage"
)

const (
	sessionKeyPrefix = "thinking-studio/sessions/"
	indexKey         = "thinking-studio/index"

	// DefaultTitle 是尚未生成标题的会话名称。
	DefaultTitle = "New Note"
)

var (
	ErrSessionNotFound = fmt.Errorf("session %w", errs.ErrNotFound)
	ErrTurnNotFound    = fmt.Errorf("turn %w", errs.ErrNotFound)
	ErrInvalidTurn     = errors.New("invalid turn")
)

// Service owns every session transcript. All reads and writes hand out deep
// copies; a value returned earlier is never mutated afterwards.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	active   string
	last     time.Time

	kv      storage.KV
	welcome string
	now     func() time.Time
	logger  zerolog.Logger
}

// Option 配置 Service。
type Option func(*Service)

// WithWelcome sets the text of the seeded welcome turn.
func WithWelcome(text string) Option {
	return func(s *Service) { s.welcome = text }
}

// WithClock 注入时钟，便于测试。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger.With().Str("component", "transcript").Logger() }
}

// NewService 创建会话存储，kv 为 nil 时使用内存存储。
func NewService(kv storage.KV, opts ...Option) *Service {
	if kv == nil {
		kv = storage.NewMemoryKV()
	}
	s := &Service{
		sessions: make(map[string]chat.Session),
		kv:       kv,
		welcome:  "Welcome. What are we thinking about today?",
		now:      func() time.Time { return time.Now().UTC() },
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession 创建会话并预置欢迎语，新会话成为活动会话。
func (s *Service) CreateSession(ctx context.Context, mode chat.Mode) (chat.Session, error) {
	if mode == "" {
		mode = chat.ModeSocratic
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(ctx, mode)
}

func (s *Service) createLocked(ctx context.Context, mode chat.Mode) (chat.Session, error) {
	now := s.stampLocked()
	session := chat.Session{
		ID:    uuid.NewString(),
		Title: DefaultTitle,
		Mode:  mode,
		Turns: []chat.Turn{{
			ID:        chat.WelcomeTurnID,
			Speaker:   chat.SpeakerAgent,
			Content:   s.welcome,
			Kind:      chat.KindDialogue,
			Timestamp: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.persistLocked(ctx, session); err != nil {
		return chat.Session{}, err
	}
	s.sessions[session.ID] = session
	if err := s.persistIndexLocked(ctx); err != nil {
		delete(s.sessions, session.ID)
		_ = s.kv.Remove(context.WithoutCancel(ctx), sessionKeyPrefix+session.ID)
		return chat.Session{}, err
	}
	s.active = session.ID
	return session.Clone(), nil
}

// AppendTurn appends turn to the session and returns the new snapshot. Missing
// ids and timestamps are filled in; an id already used in the session is
// rejected.
func (s *Service) AppendTurn(ctx context.Context, sessionID string, turn chat.Turn) (chat.Session, error) {
	if turn.Speaker != chat.SpeakerUser && turn.Speaker != chat.SpeakerAgent {
		return chat.Session{}, fmt.Errorf("%w: speaker %q", ErrInvalidTurn, turn.Speaker)
	}
	if turn.Kind == "" {
		turn.Kind = chat.KindDialogue
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	for _, existing := range session.Turns {
		if existing.ID == turn.ID {
			return chat.Session{}, fmt.Errorf("%w: duplicate id %q", ErrInvalidTurn, turn.ID)
		}
	}

	now := s.stampLocked()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}

	next := session.Clone()
	next.Turns = append(next.Turns, turn)
	next.UpdatedAt = now
	if err := s.persistLocked(ctx, next); err != nil {
		return chat.Session{}, err
	}
	s.sessions[sessionID] = next
	return next.Clone(), nil
}

// DeleteTurn 删除一条发言，其余发言的 ID 与顺序保持不变。
func (s *Service) DeleteTurn(ctx context.Context, sessionID, turnID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}

	idx := -1
	for i, turn := range session.Turns {
		if turn.ID == turnID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return chat.Session{}, ErrTurnNotFound
	}

	next := session
	next.Turns = make([]chat.Turn, 0, len(session.Turns)-1)
	next.Turns = append(next.Turns, session.Turns[:idx]...)
	next.Turns = append(next.Turns, session.Turns[idx+1:]...)
	next.UpdatedAt = s.stampLocked()
	if err := s.persistLocked(ctx, next); err != nil {
		return chat.Session{}, err
	}
	s.sessions[sessionID] = next
	return next.Clone(), nil
}

// SetTitle renames a session.
func (s *Service) SetTitle(ctx context.Context, sessionID, title string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}

	next := session.Clone()
	next.Title = title
	next.UpdatedAt = s.stampLocked()
	if err := s.persistLocked(ctx, next); err != nil {
		return chat.Session{}, err
	}
	s.sessions[sessionID] = next
	return next.Clone(), nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Snapshot 返回会话的角色标签文本。
func (s *Service) Snapshot(ctx context.Context, sessionID string) (string, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return chat.Flatten(session.Turns), nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *Service) ListSessions(_ context.Context) []chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

// Active 返回当前活动会话。
func (s *Service) Active(_ context.Context) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[s.active]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// SetActive selects the active session.
func (s *Service) SetActive(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	s.active = sessionID
	return nil
}

// DeleteSession 永久删除会话并返回新的活动会话：
// 删除的是活动会话时选取最近更新的剩余会话，若已无会话则新建一个。
func (s *Service) DeleteSession(ctx context.Context, sessionID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return chat.Session{}, ErrSessionNotFound
	}

	if err := s.kv.Remove(context.WithoutCancel(ctx), sessionKeyPrefix+sessionID); err != nil {
		s.logger.Error().Err(err).Str("session", sessionID).Msg("remove session snapshot failed")
		return chat.Session{}, fmt.Errorf("remove session %s: %w", sessionID, err)
	}
	delete(s.sessions, sessionID)

	if len(s.sessions) == 0 {
		return s.createLocked(ctx, chat.ModeSocratic)
	}

	if s.active == sessionID || s.active == "" {
		s.active = s.sortedLocked()[0].ID
	}
	if err := s.persistIndexLocked(ctx); err != nil {
		return chat.Session{}, err
	}
	return s.sessions[s.active].Clone(), nil
}

// LoadAll 从持久化存储恢复全部会话，最近更新的会话成为活动会话。
func (s *Service) LoadAll(ctx context.Context) error {
	raw, ok, err := s.kv.Get(ctx, indexKey)
	if err != nil {
		return fmt.Errorf("load session index: %w", err)
	}
	if !ok {
		return nil
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("decode session index: %w", err)
	}

	loaded := make(map[string]chat.Session, len(ids))
	for _, id := range ids {
		data, ok, err := s.kv.Get(ctx, sessionKeyPrefix+id)
		if err != nil {
			return fmt.Errorf("load session %s: %w", id, err)
		}
		if !ok {
			s.logger.Warn().Str("session", id).Msg("indexed session missing, skipping")
			continue
		}
		var session chat.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return fmt.Errorf("decode session %s: %w", id, err)
		}
		loaded[session.ID] = session
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = loaded
	s.active = ""
	for _, session := range loaded {
		if session.UpdatedAt.After(s.last) {
			s.last = session.UpdatedAt
		}
	}
	if sorted := s.sortedLocked(); len(sorted) > 0 {
		s.active = sorted[0].ID
	}
	s.logger.Info().Int("sessions", len(loaded)).Msg("sessions restored")
	return nil
}

func (s *Service) sortedLocked() []chat.Session {
	out := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// stampLocked 返回严格递增的时间戳，保证最近一次修改的会话排在最前。
func (s *Service) stampLocked() time.Time {
	now := s.now()
	if !now.After(s.last) {
		now = s.last.Add(time.Nanosecond)
	}
	s.last = now
	return now
}

// persistLocked 写入会话快照。写入与调用方的取消无关：
// 客户端断开后仍需落盘的错误发言不能因请求上下文而丢失。
func (s *Service) persistLocked(ctx context.Context, session chat.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	if err := s.kv.Set(context.WithoutCancel(ctx), sessionKeyPrefix+session.ID, data); err != nil {
		s.logger.Error().Err(err).Str("session", session.ID).Msg("persist session failed")
		return fmt.Errorf("persist session %s: %w", session.ID, err)
	}
	return nil
}

func (s *Service) persistIndexLocked(ctx context.Context) error {
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode session index: %w", err)
	}
	if err := s.kv.Set(context.WithoutCancel(ctx), indexKey, data); err != nil {
		s.logger.Error().Err(err).Msg("persist session index failed")
		return fmt.Errorf("persist session index: %w", err)
	}
	return nil
}
