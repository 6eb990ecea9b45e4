package artifact

import "fmt"

// Winner 辩论的胜方。
type Winner string

const (
	WinnerUser  Winner = "USER"
	WinnerAgent Winner = "AGENT"
	WinnerDraw  Winner = "DRAW"
)

// Scorecard is the judge's verdict on a finished debate. Score rates the
// user's side.
type Scorecard struct {
	Winner     Winner   `json:"winner" jsonschema:"enum=USER,enum=AGENT,enum=DRAW"`
	Score      int      `json:"score" jsonschema:"minimum=0,maximum=100"`
	Commentary string   `json:"commentary"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
}

// Validate 校验胜方与分数范围。
func (s Scorecard) Validate() error {
	switch s.Winner {
	case WinnerUser, WinnerAgent, WinnerDraw:
	default:
		return fmt.Errorf("scorecard: unknown winner %q", s.Winner)
	}
	if s.Score < 0 || s.Score > 100 {
		return fmt.Errorf("scorecard: score %d out of range", s.Score)
	}
	return nil
}
