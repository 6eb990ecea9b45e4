package artifact

import (
	"errors"
	"fmt"
)

// Board 决策实验室的五位固定董事，顺序即揭示顺序的默认参考。
var Board = []string{"Skeptic", "Visionary", "Pragmatist", "Innovator", "Critic"}

// GroupTarget addresses a debate line to the whole board.
const GroupTarget = "Group"

// Reaction 是第一阶段某位董事的初始反应。
type Reaction struct {
	Persona string `json:"persona" jsonschema:"enum=Skeptic,enum=Visionary,enum=Pragmatist,enum=Innovator,enum=Critic"`
	Thought string `json:"thought" jsonschema:"minLength=1"`
}

// DebateLine 是第二阶段的一次交锋，必须显式指明发言者与对象。
type DebateLine struct {
	From     string `json:"from" jsonschema:"enum=Skeptic,enum=Visionary,enum=Pragmatist,enum=Innovator,enum=Critic"`
	To       string `json:"to" jsonschema:"enum=Skeptic,enum=Visionary,enum=Pragmatist,enum=Innovator,enum=Critic,enum=Group"`
	Argument string `json:"argument" jsonschema:"minLength=1"`
}

// Verdict closes the meeting.
type Verdict struct {
	Decision  string `json:"decision" jsonschema:"minLength=1"`
	VoteTally string `json:"vote_tally" jsonschema:"minLength=1"`
	PreMortem string `json:"pre_mortem" jsonschema:"minLength=1"`
}

// Decision 是决策实验室的完整三阶段记录。
type Decision struct {
	Reactions []Reaction   `json:"reactions" jsonschema:"minItems=5,maxItems=5"`
	Debate    []DebateLine `json:"debate" jsonschema:"minItems=4"`
	Verdict   Verdict      `json:"verdict"`
}

// Validate enforces that every board member reacts exactly once and that no
// debate line addresses its own speaker.
func (d Decision) Validate() error {
	seen := make(map[string]int, len(Board))
	for _, r := range d.Reactions {
		seen[r.Persona]++
	}
	for _, role := range Board {
		switch seen[role] {
		case 1:
		case 0:
			return fmt.Errorf("reactions: %s is missing", role)
		default:
			return fmt.Errorf("reactions: %s appears %d times", role, seen[role])
		}
	}
	if len(seen) != len(Board) {
		return errors.New("reactions: unknown persona")
	}

	for i, line := range d.Debate {
		if line.From == line.To {
			return fmt.Errorf("debate[%d]: %s addresses itself", i, line.From)
		}
	}
	return nil
}
