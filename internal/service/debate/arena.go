// Package debate 实现辩论竞技场：AI 对手与用户（或使用第二把 Key 的 AI 盟友）轮流交锋，
// 结束后由裁判给出评分卡。
package debate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/logging"
	"github.com/zhouzirui/z-think/backend/internal/model/artifact"
	"github.com/zhouzirui/z-think/backend/internal/model/persona"
	"github.com/zhouzirui/z-think/backend/internal/service/ai"
	"github.com/zhouzirui/z-think/backend/internal/service/loop"
)

// Seat indexes.
const (
	OpponentSeat = 0
	UserSeat     = 1

	userSpeaker = "USER"
)

const (
	openingTask  = "TASK: Provide an opening statement opposing the user's view: %q.\nKeep it under 100 words. End with a provocative question."
	rebuttalTask = "TASK: Rebut the user's last point. Keep it under 80 words. End with a challenging question."

	judgeInstruction = `You are a debate judge. Analyze the transcript.
Topic: %s

winner: USER, AGENT or DRAW.
score: 0-100, rating the user's logic and persuasion.
commentary: a brief summary of the match.
strengths: the strongest arguments the user made.
weaknesses: what the user most needs to improve.`
)

// Setup 描述一场辩论的配置。
type Setup struct {
	Topic      string `json:"topic"`
	Difficulty string `json:"difficulty"`
	Ally       bool   `json:"ally"`
}

// Service creates arenas and keeps them in the room registry.
type Service struct {
	gateway        ai.Completer
	catalog        *persona.Catalog
	policy         loop.Policy
	allyCredential string
	language       string
	rooms          *loop.Registry
	logger         zerolog.Logger

	mu     sync.Mutex
	arenas map[string]*Arena
}

// Options configures the debate service.
type Options struct {
	Policy         loop.Policy
	AllyCredential string
	Language       string
	Rooms          *loop.Registry
	Logger         zerolog.Logger
}

// New 创建辩论服务。
func New(gateway ai.Completer, catalog *persona.Catalog, opts Options) *Service {
	if opts.Rooms == nil {
		opts.Rooms = loop.NewRegistry()
	}
	return &Service{
		gateway:        gateway,
		catalog:        catalog,
		policy:         opts.Policy,
		allyCredential: opts.AllyCredential,
		language:       opts.Language,
		rooms:          opts.Rooms,
		logger:         logging.Component(opts.Logger, "debate"),
		arenas:         make(map[string]*Arena),
	}
}

// Arena is one debate.
type Arena struct {
	ID       string
	Setup    Setup
	Language string
	Engine   *loop.Engine

	opponent persona.Persona
	ally     persona.Persona
	service  *Service

	mu        sync.Mutex
	scorecard *artifact.Scorecard
}

// Create 开始一场辩论。开启盟友时用户席位由 AI 代打，直到用户亲自发言。
func (s *Service) Create(ctx context.Context, setup Setup) (*Arena, error) {
	setup.Topic = strings.TrimSpace(setup.Topic)
	if setup.Difficulty == "" {
		setup.Difficulty = "EASY"
	}
	setup.Difficulty = strings.ToUpper(setup.Difficulty)
	opponent, ok := s.catalog.Difficulty(setup.Difficulty)
	if !ok {
		return nil, fmt.Errorf("%w: unknown difficulty %q", errs.ErrPrecondition, setup.Difficulty)
	}
	if setup.Ally && s.allyCredential == "" {
		return nil, fmt.Errorf("%w: ally needs a secondary API key", errs.ErrMissingCredential)
	}

	userKind := loop.SeatHuman
	if setup.Ally {
		userKind = loop.SeatAutoplay
	}

	a := &Arena{Setup: setup, Language: s.language, opponent: opponent, ally: s.catalog.Ally, service: s}
	a.Engine = loop.New(loop.Options{
		Seats: []loop.Seat{
			{Name: opponent.RoleName, Goal: opponent.Goal, Kind: loop.SeatGenerated},
			{Name: userSpeaker, Kind: userKind},
		},
		Generate:          a.turn,
		Finish:            a.judge,
		Policy:            s.policy,
		InterjectionLabel: "Moderator",
		Logger:            s.logger,
	})
	if err := a.Engine.Start(ctx, setup.Topic); err != nil {
		a.Engine.Close()
		return nil, err
	}

	a.ID = s.rooms.Add(a.Engine)
	s.mu.Lock()
	s.arenas[a.ID] = a
	s.mu.Unlock()
	s.logger.Info().Str("room", a.ID).Str("difficulty", setup.Difficulty).Bool("ally", setup.Ally).Msg("debate started")
	return a, nil
}

// Get looks up an arena. Arenas whose room was removed from the registry are
// forgotten here as well.
func (s *Service) Get(id string) (*Arena, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.arenas[id]
	if !ok {
		return nil, fmt.Errorf("debate %s: %w", id, errs.ErrNotFound)
	}
	if _, err := s.rooms.Get(id); err != nil {
		delete(s.arenas, id)
		return nil, fmt.Errorf("debate %s: %w", id, errs.ErrNotFound)
	}
	return a, nil
}

// Send 提交用户发言。若盟友正在代打，则立即接管并丢弃盟友的结果。
func (a *Arena) Send(text string) (loop.Turn, error) {
	return a.Engine.Submit(UserSeat, text)
}

// Scorecard returns the judge's verdict once the debate is done.
func (a *Arena) Scorecard() (artifact.Scorecard, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scorecard == nil {
		return artifact.Scorecard{}, false
	}
	return *a.scorecard, true
}

func (a *Arena) turn(ctx context.Context, req loop.TurnRequest) (string, error) {
	if req.Seat == OpponentSeat {
		return a.opponentTurn(ctx, req)
	}
	return a.allyTurn(ctx, req)
}

func (a *Arena) opponentTurn(ctx context.Context, req loop.TurnRequest) (string, error) {
	if req.Round == 1 {
		text, err := a.service.gateway.Complete(ctx, ai.Request{
			SystemInstruction: a.opponent.VoiceInstruction + "\n" + fmt.Sprintf(openingTask, req.Topic),
			Prompt:            "I believe: " + req.Topic,
		})
		return orDefault(text, "Ready to debate."), err
	}

	text, err := a.service.gateway.Complete(ctx, ai.Request{
		SystemInstruction: a.opponent.VoiceInstruction + "\n" + rebuttalTask,
		Messages:          HistoryFor(req.History, OpponentSeat),
	})
	return orDefault(text, "I disagree."), err
}

// allyTurn 使用第二把 Key，以用户一方的立场回应对手。
func (a *Arena) allyTurn(ctx context.Context, req loop.TurnRequest) (string, error) {
	text, err := a.service.gateway.Complete(ctx, ai.Request{
		SystemInstruction: a.ally.VoiceInstruction + fmt.Sprintf("\nTopic: %q", req.Topic),
		Messages:          HistoryFor(req.History, UserSeat),
		Credential:        a.service.allyCredential,
	})
	return orDefault(text, "I stand by my point."), err
}

// judge 只生成一次评分卡；重试收尾时复用已有结果。
func (a *Arena) judge(ctx context.Context, topic string, history []loop.Turn) (string, error) {
	a.mu.Lock()
	existing := a.scorecard
	a.mu.Unlock()

	if existing == nil {
		var card artifact.Scorecard
		req := ai.Request{SystemInstruction: fmt.Sprintf(judgeInstruction, topic), Prompt: judgeTranscript(history)}
		if err := a.service.gateway.CompleteJSON(ctx, req, &card); err != nil {
			return "", fmt.Errorf("judge debate: %w", err)
		}
		a.mu.Lock()
		if a.scorecard == nil {
			a.scorecard = &card
		}
		existing = a.scorecard
		a.mu.Unlock()
	}

	raw, err := json.Marshal(existing)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// HistoryFor maps the shared transcript to a role-tagged history from seat's
// point of view: its own turns are the assistant's, everything else is user.
func HistoryFor(history []loop.Turn, seat int) []ai.Message {
	out := make([]ai.Message, 0, len(history))
	for _, turn := range history {
		role := ai.RoleUser
		content := turn.Content
		if turn.Seat == seat {
			role = ai.RoleAssistant
		} else if turn.Interjection {
			content = turn.Speaker + ": " + content
		}
		out = append(out, ai.Message{Role: role, Content: content})
	}
	return out
}

func judgeTranscript(history []loop.Turn) string {
	lines := make([]string, 0, len(history))
	for _, turn := range history {
		speaker := turn.Speaker
		if turn.Seat == OpponentSeat {
			speaker = "AGENT"
		}
		lines = append(lines, speaker+": "+turn.Content)
	}
	return strings.Join(lines, "\n")
}

func orDefault(text, fallback string) string {
	if text = strings.TrimSpace(text); text != "" {
		return text
	}
	return fallback
}
