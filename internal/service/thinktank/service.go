// Package thinktank runs a two-expert brainstorming loop: a dispatcher picks
// two contrasting personas, they alternate until they converge, and the
// transcript is condensed into one plan.
package thinktank

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-think/backend/internal/logging"
	"github.com/zhouzirui/z-think/backend/internal/model/artifact"
	"github.com/zhouzirui/z-think/backend/internal/service/ai"
	"github.com/zhouzirui/z-think/backend/internal/service/loop"
)

const dispatchInstruction = `Role: You are an AI Manager. Analyze the user's request and assign 2 personas to discuss it.
IMPORTANT: the two personas must have CONTRASTING viewpoints, or complementary but distinct expertise, to foster deep discussion.
persona_a and persona_b each carry a role name (e.g. Literary Critic) and a primary goal (e.g. ensure plot logic).`

const (
	explorationHint = "Phase: EXPLORATION. Generate diverse ideas. Do not agree too early. Challenge assumptions. Offer new angles."
	critiqueHint    = "Phase: CRITIQUE & REFINE. Find flaws in the partner's ideas and propose fixes. Deepen the details."
	convergenceHint = "Phase: CONVERGENCE. Start wrapping up the main points. Work towards a consensus solution."

	managerOverride = `⚠️ CRITICAL OVERRIDE: THE MANAGER HAS SPOKEN.
The last message is from the "Manager" (the user).
You MUST acknowledge their feedback immediately and pivot the discussion to address their concern or direction.
Do not ignore the Manager.`
)

const turnInstruction = `# CONTEXT
You are participating in a deep brainstorming session.
Your role: %s
Your goal: %s
Your partner: %s
Current round: %d of %d
%s

# USER IDEA
%q

# INSTRUCTIONS
1. Analyze and expand: from your expertise, add ideas, point out flaws or suggest improvements to the idea.
2. Interact: read your partner's opinions in the history to counter or supplement them. Do not repeat what has been said.
3. Attitude: professional, constructive, insightful.
4. Stop condition (IMPORTANT):
   - You MUST keep discussing until at least round %d.
   - ONLY if you are in the final rounds AND the idea is fully mature, end with the token %s
   - Otherwise end with a provocative question or a new angle to keep the discussion alive.

# FORMAT
Present your opinion clearly using bullet points.`

// Condenser is the synthesis step used as the loop's finisher.
type Condenser interface {
	Condense(ctx context.Context, transcript, topic string) (string, error)
}

// Service 创建并登记思考团房间。
type Service struct {
	gateway   ai.Completer
	condenser Condenser
	policy    loop.Policy
	rooms     *loop.Registry
	logger    zerolog.Logger
}

// New creates the think tank service.
func New(gateway ai.Completer, condenser Condenser, policy loop.Policy, rooms *loop.Registry, logger zerolog.Logger) *Service {
	return &Service{
		gateway:   gateway,
		condenser: condenser,
		policy:    policy,
		rooms:     rooms,
		logger:    logging.Component(logger, "thinktank"),
	}
}

// Room is a started think tank.
type Room struct {
	ID     string
	Engine *loop.Engine
}

// Create dispatches personas for idea and starts the loop. The returned room
// drives itself; callers observe it through the engine.
func (s *Service) Create(ctx context.Context, idea string) (Room, error) {
	engine := loop.New(loop.Options{
		Dispatch:          s.dispatch,
		Generate:          s.turn,
		Finish:            s.finish,
		Policy:            s.policy,
		InterjectionLabel: "Manager",
		Logger:            s.logger,
	})

	if err := engine.Start(ctx, idea); err != nil {
		engine.Close()
		return Room{}, err
	}
	id := s.rooms.Add(engine)
	s.logger.Info().Str("room", id).Msg("think tank started")
	return Room{ID: id, Engine: engine}, nil
}

func (s *Service) dispatch(ctx context.Context, idea string) ([]loop.Seat, error) {
	var personas artifact.ThinkTankPersonas
	if err := s.gateway.CompleteJSON(ctx, ai.Request{SystemInstruction: dispatchInstruction, Prompt: idea}, &personas); err != nil {
		return nil, fmt.Errorf("dispatch personas: %w", err)
	}
	return []loop.Seat{
		{Name: personas.PersonaA.Role, Goal: personas.PersonaA.Goal, Kind: loop.SeatGenerated},
		{Name: personas.PersonaB.Role, Goal: personas.PersonaB.Goal, Kind: loop.SeatGenerated},
	}, nil
}

func (s *Service) turn(ctx context.Context, req loop.TurnRequest) (string, error) {
	me := req.Seats[req.Seat]
	partner := req.Seats[(req.Seat+1)%len(req.Seats)]

	text, err := s.gateway.Complete(ctx, ai.Request{
		SystemInstruction: TurnInstruction(req, me, partner, s.policy.StopToken),
		Prompt:            TurnPrompt(req.History, me.Name),
	})
	if err != nil {
		return "", err
	}
	if text = strings.TrimSpace(text); text == "" {
		return "...", nil
	}
	return text, nil
}

func (s *Service) finish(ctx context.Context, topic string, history []loop.Turn) (string, error) {
	return s.condenser.Condense(ctx, loop.Transcript(history), topic)
}

// TurnInstruction 组装单个席位的系统指令：角色、目标、搭档、轮次与阶段提示；
// 若本轮需回应插话，则以管理者覆盖指令替代阶段提示。
func TurnInstruction(req loop.TurnRequest, me, partner loop.Seat, stopToken string) string {
	phase := explorationHint
	switch req.Hint {
	case loop.HintCritique:
		phase = critiqueHint
	case loop.HintConvergence:
		phase = convergenceHint
	}
	if req.Interjection != nil {
		phase = managerOverride
	}
	return fmt.Sprintf(turnInstruction, me.Name, me.Goal, partner.Name, req.Round, req.MaxRounds, phase, req.Topic, req.MaxRounds-1, stopToken)
}

// TurnPrompt flattens the shared history for the speaking seat.
func TurnPrompt(history []loop.Turn, speaker string) string {
	return fmt.Sprintf("Conversation history so far:\n%s\n\nYour turn (%s):", loop.Transcript(history), speaker)
}
