package artifact

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDecision() Decision {
	reactions := make([]Reaction, 0, len(Board))
	for _, role := range Board {
		reactions = append(reactions, Reaction{Persona: role, Thought: role + " thinks"})
	}
	return Decision{
		Reactions: reactions,
		Debate: []DebateLine{
			{From: "Skeptic", To: "Visionary", Argument: "burn rate"},
			{From: "Visionary", To: "Skeptic", Argument: "market shift"},
			{From: "Pragmatist", To: GroupTarget, Argument: "phase it"},
			{From: "Critic", To: "Innovator", Argument: "reputation"},
		},
		Verdict: Verdict{Decision: "Option A", VoteTally: "3-2", PreMortem: "cash runs out"},
	}
}

func TestDecisionValidate(t *testing.T) {
	require.NoError(t, validDecision().Validate())

	dup := validDecision()
	dup.Reactions[1].Persona = "Skeptic"
	assert.ErrorContains(t, dup.Validate(), "Visionary is missing")

	self := validDecision()
	self.Debate[0].To = "Skeptic"
	assert.ErrorContains(t, self.Validate(), "addresses itself")
}

func TestScorecardValidate(t *testing.T) {
	require.NoError(t, Scorecard{Winner: WinnerDraw, Score: 50}.Validate())
	assert.Error(t, Scorecard{Winner: "AI", Score: 50}.Validate())
	assert.Error(t, Scorecard{Winner: WinnerUser, Score: 101}.Validate())
}

func TestThinkTankPersonasMustDiffer(t *testing.T) {
	p := ThinkTankPersonas{
		PersonaA: RoleGoal{Role: "Critic", Goal: "plot"},
		PersonaB: RoleGoal{Role: "critic ", Goal: "history"},
	}
	assert.Error(t, p.Validate())

	p.PersonaB.Role = "Historian"
	assert.NoError(t, p.Validate())
}

func TestSchemaForDecision(t *testing.T) {
	data, err := SchemaFor(&Decision{})
	require.NoError(t, err)

	var doc struct {
		Schema     string                     `json:"$schema"`
		Required   []string                   `json:"required"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, draft07, doc.Schema)
	assert.ElementsMatch(t, []string{"reactions", "debate", "verdict"}, doc.Required)
	assert.Contains(t, string(doc.Properties["reactions"]), `"minItems":5`)

	again, err := SchemaFor(&Decision{})
	require.NoError(t, err)
	assert.Equal(t, data, again)
}
