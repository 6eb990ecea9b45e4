package loop

import (
	"math"
	"strings"

	"github.com/zhouzirui/z-think/backend/internal/config"
)

// Hint 是根据轮次进度推导出的阶段提示。
type Hint string

const (
	HintExploration Hint = "exploration"
	HintCritique    Hint = "critique"
	HintConvergence Hint = "convergence"
)

// Policy holds the loop's stopping and phase constants.
type Policy struct {
	MaxRounds         int
	StopToken         string
	StopMinRounds     int
	StopMinRatio      float64
	ExplorationRounds int
	ConvergenceRounds int
}

// DefaultPolicy 返回默认策略：6 轮、[[DONE]] 停止词、至少完成一半轮次后才接受停止。
func DefaultPolicy() Policy {
	return Policy{
		MaxRounds:         6,
		StopToken:         "[[DONE]]",
		StopMinRounds:     2,
		StopMinRatio:      0.5,
		ExplorationRounds: 2,
		ConvergenceRounds: 2,
	}
}

// PolicyFromConfig maps the LOOP_* settings.
func PolicyFromConfig(cfg config.LoopConfig) Policy {
	return Policy{
		MaxRounds:         cfg.MaxRounds,
		StopToken:         cfg.StopToken,
		StopMinRounds:     cfg.StopMinRounds,
		StopMinRatio:      cfg.StopMinRatio,
		ExplorationRounds: cfg.ExplorationRounds,
		ConvergenceRounds: cfg.ConvergenceRounds,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxRounds <= 0 {
		p.MaxRounds = def.MaxRounds
	}
	if p.StopToken == "" {
		p.StopToken = def.StopToken
	}
	return p
}

// HintFor maps a 1-based round to its phase hint.
func (p Policy) HintFor(round int) Hint {
	switch {
	case round <= p.ExplorationRounds:
		return HintExploration
	case round > p.MaxRounds-p.ConvergenceRounds:
		return HintConvergence
	default:
		return HintCritique
	}
}

// StopFloor 是接受停止词所需的最少已完成轮数。
func (p Policy) StopFloor() int {
	return max(p.StopMinRounds, int(math.Floor(float64(p.MaxRounds)*p.StopMinRatio)))
}

// StripStopToken removes the sentinel and reports whether it was present.
func (p Policy) StripStopToken(content string) (string, bool) {
	if p.StopToken == "" || !strings.Contains(content, p.StopToken) {
		return content, false
	}
	return strings.TrimSpace(strings.ReplaceAll(content, p.StopToken, "")), true
}
