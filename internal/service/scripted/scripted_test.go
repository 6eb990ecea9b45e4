package scripted

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/model/artifact"
	"github.com/zhouzirui/z-think/backend/internal/model/persona"
	"github.com/zhouzirui/z-think/backend/internal/service/ai"
)

type stubCompleter struct {
	last ai.Request
	text string
	err  error
}

func (s *stubCompleter) Complete(context.Context, ai.Request) (string, error) {
	return "", errors.New("not used")
}

func (s *stubCompleter) CompleteStream(context.Context, ai.Request, func(string)) (string, error) {
	return "", errors.New("not used")
}

func (s *stubCompleter) CompleteJSON(_ context.Context, req ai.Request, out any) error {
	s.last = req
	if s.err != nil {
		return s.err
	}
	if err := json.Unmarshal([]byte(s.text), out); err != nil {
		return err
	}
	if v, ok := out.(artifact.Validator); ok {
		if err := v.Validate(); err != nil {
			return errors.Join(errs.ErrSchemaViolation, err)
		}
	}
	return nil
}

func sampleDecision() artifact.Decision {
	return artifact.Decision{
		Reactions: []artifact.Reaction{
			{Persona: "Skeptic", Thought: "Too costly."},
			{Persona: "Visionary", Thought: "Think bigger."},
			{Persona: "Pragmatist", Thought: "Pilot first."},
			{Persona: "Innovator", Thought: "Flip the model."},
			{Persona: "Critic", Thought: "Mind the optics."},
		},
		Debate: []artifact.DebateLine{
			{From: "Skeptic", To: "Visionary", Argument: "Burn rate!"},
			{From: "Visionary", To: "Skeptic", Argument: "Market shift!"},
			{From: "Pragmatist", To: "Group", Argument: "Compromise."},
			{From: "Critic", To: "Innovator", Argument: "Ethics."},
		},
		Verdict: artifact.Verdict{Decision: "Pilot", VoteTally: "3-2", PreMortem: "Runs out of cash."},
	}
}

func noSleep(context.Context, time.Duration) bool { return true }

func TestRunDecisionLab(t *testing.T) {
	raw, err := json.Marshal(sampleDecision())
	require.NoError(t, err)
	gateway := &stubCompleter{text: string(raw)}
	o := New(gateway, persona.MustSeed(), zerolog.Nop())

	d, err := o.RunDecisionLab(context.Background(), "Should we expand to Japan?", "A: now, B: next year")
	require.NoError(t, err)
	assert.Len(t, d.Reactions, 5)
	assert.Contains(t, gateway.last.Prompt, "Should we expand to Japan?")
	for _, role := range artifact.Board {
		assert.Contains(t, gateway.last.SystemInstruction, role)
	}
}

func TestRunDecisionLabSchemaError(t *testing.T) {
	d := sampleDecision()
	d.Reactions[4].Persona = "Skeptic"
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	o := New(&stubCompleter{text: string(raw)}, persona.MustSeed(), zerolog.Nop())

	_, err = o.RunDecisionLab(context.Background(), "p", "")
	var schemaErr *ArtifactSchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "decision-lab", schemaErr.Tool)
	require.ErrorIs(t, err, errs.ErrSchemaViolation)
}

func TestRunDecisionLabUpstreamIsNotSchemaError(t *testing.T) {
	o := New(&stubCompleter{err: errs.ErrUpstream}, persona.MustSeed(), zerolog.Nop())

	_, err := o.RunDecisionLab(context.Background(), "p", "")
	require.ErrorIs(t, err, errs.ErrUpstream)
	var schemaErr *ArtifactSchemaError
	assert.False(t, errors.As(err, &schemaErr))
}

func TestRevealOrderAndCount(t *testing.T) {
	d := sampleDecision()
	var kinds []EventKind
	for ev := range Reveal(context.Background(), d, Pacing{Sleep: noSleep}) {
		kinds = append(kinds, ev.Kind)
	}

	require.Len(t, kinds, len(d.Reactions)+len(d.Debate)+1)
	for i := 0; i < 5; i++ {
		assert.Equal(t, EventReactionAdded, kinds[i])
	}
	for i := 5; i < 9; i++ {
		assert.Equal(t, EventDebateLineAdded, kinds[i])
	}
	assert.Equal(t, EventVerdictReady, kinds[9])
}

func TestPlanOffsets(t *testing.T) {
	events := Plan(sampleDecision(), DefaultPacing())

	assert.Equal(t, 800*time.Millisecond, events[0].Offset)
	assert.Equal(t, int64(800), events[0].OffsetMS)
	assert.Equal(t, 3000*time.Millisecond, events[5].Offset)
	assert.Equal(t, 1500*time.Millisecond, events[6].Offset)
	last := events[len(events)-1]
	assert.Equal(t, 2500*time.Millisecond, last.Offset)
	require.NotNil(t, last.Verdict)
	assert.Equal(t, "Pilot", last.Verdict.Decision)
	assert.Equal(t, "Group", events[7].Line.To)
}

func TestRevealStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	pacing := Pacing{Sleep: func(ctx context.Context, _ time.Duration) bool {
		calls++
		if calls == 3 {
			cancel()
		}
		return ctx.Err() == nil
	}}

	n := 0
	for range Reveal(ctx, sampleDecision(), pacing) {
		n++
	}
	assert.Equal(t, 2, n)
}

func TestRevealRealTimerHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	n := 0
	for range Reveal(ctx, sampleDecision(), Pacing{Reaction: time.Hour}) {
		n++
	}
	assert.Zero(t, n)
}

func TestSixHatsReveal(t *testing.T) {
	report := artifact.SixHats{
		White:  artifact.HatSection{Title: "Facts & Data", Content: "w"},
		Red:    artifact.HatSection{Title: "Feelings & Intuition", Content: "r"},
		Black:  artifact.HatSection{Title: "Risks & Caution", Content: "b"},
		Yellow: artifact.HatSection{Title: "Benefits & Optimism", Content: "y"},
		Green:  artifact.HatSection{Title: "Creativity & Solutions", Content: "g"},
		Blue:   artifact.HatSection{Title: "Action Plan", Content: "bl"},
	}
	raw, err := json.Marshal(report)
	require.NoError(t, err)
	gateway := &stubCompleter{text: string(raw)}
	o := New(gateway, persona.MustSeed(), zerolog.Nop())

	got, err := o.RunSixHats(context.Background(), "remote work")
	require.NoError(t, err)
	assert.Contains(t, gateway.last.SystemInstruction, `white_hat: title "Facts & Data"`)

	var ids []string
	for ev := range RevealSixHats(context.Background(), got, Pacing{Sleep: noSleep}) {
		if ev.Kind == EventHatRevealed {
			ids = append(ids, ev.Hat.ID)
		} else {
			assert.Equal(t, EventVerdictReady, ev.Kind)
		}
	}
	assert.Equal(t, []string{"white", "red", "black", "yellow", "green", "blue"}, ids)
}

func TestCatalogBoardMatchesArtifactBoard(t *testing.T) {
	assert.Equal(t, artifact.Board, persona.MustSeed().BoardRoles())
}
