// Package scripted 运行“一次调用、完整产出、按节奏揭示”的多角色编排：决策实验室与六顶思考帽。
package scripted

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/logging"
	"github.com/zhouzirui/z-think/backend/internal/model/artifact"
	"github.com/zhouzirui/z-think/backend/internal/model/persona"
	"github.com/zhouzirui/z-think/backend/internal/service/ai"
)

// ArtifactSchemaError reports a structured artifact that failed to parse or
// validate. Nothing is revealed for such a run.
type ArtifactSchemaError struct {
	Tool string
	Err  error
}

func (e *ArtifactSchemaError) Error() string {
	return fmt.Sprintf("%s artifact rejected: %v", e.Tool, e.Err)
}

func (e *ArtifactSchemaError) Unwrap() error { return e.Err }

// Orchestrator issues the single structured call per scripted run.
type Orchestrator struct {
	gateway ai.Completer
	catalog *persona.Catalog
	logger  zerolog.Logger
}

// New 创建脚本编排器。
func New(gateway ai.Completer, catalog *persona.Catalog, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		gateway: gateway,
		catalog: catalog,
		logger:  logging.Component(logger, "scripted"),
	}
}

// RunDecisionLab 让五位董事对问题给出反应、相互辩论并形成裁决，一次结构化调用完成。
func (o *Orchestrator) RunDecisionLab(ctx context.Context, problem, options string) (artifact.Decision, error) {
	problem = strings.TrimSpace(problem)
	if problem == "" {
		return artifact.Decision{}, fmt.Errorf("%w: empty problem", errs.ErrPrecondition)
	}

	prompt := "Problem: " + problem + "\nCurrent options: " + strings.TrimSpace(options)

	var out artifact.Decision
	if err := o.run(ctx, "decision-lab", o.boardInstruction(), prompt, &out); err != nil {
		return artifact.Decision{}, err
	}
	o.logger.Info().Int("reactions", len(out.Reactions)).Int("debate", len(out.Debate)).Msg("decision lab artifact ready")
	return out, nil
}

// RunSixHats produces the six thinking hats report for topic.
func (o *Orchestrator) RunSixHats(ctx context.Context, topic string) (artifact.SixHats, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return artifact.SixHats{}, fmt.Errorf("%w: empty topic", errs.ErrPrecondition)
	}

	var out artifact.SixHats
	if err := o.run(ctx, "six-hats", o.hatsInstruction(), topic, &out); err != nil {
		return artifact.SixHats{}, err
	}
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, tool, instruction, prompt string, out any) error {
	err := o.gateway.CompleteJSON(ctx, ai.Request{SystemInstruction: instruction, Prompt: prompt}, out)
	if err == nil {
		return nil
	}
	if errors.Is(err, errs.ErrSchemaViolation) {
		o.logger.Warn().Err(err).Str("tool", tool).Msg("artifact failed validation")
		return &ArtifactSchemaError{Tool: tool, Err: err}
	}
	return fmt.Errorf("%s: %w", tool, err)
}

func (o *Orchestrator) boardInstruction() string {
	var b strings.Builder
	b.WriteString(`# ROLE
You are the "Board of Directors Engine". You simulate a high-stakes board meeting between FIVE distinct personas.
The meeting has 3 phases: Reaction, Conflict and Verdict.

# PERSONAS
`)
	for i, member := range o.catalog.Board {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, member.RoleName, member.Goal)
	}
	b.WriteString(`
# PHASES
reactions: everyone speaks exactly once. Short and punchy.
debate: the personas MUST talk TO each other, not to the user. At least 4 turns of back-and-forth.
Every line names its speaker in "from" and its target persona (or "Group") in "to". Nobody addresses themselves.
verdict: "decision" is the final advice, "vote_tally" summarizes the vote (e.g. 3 for option A, 2 for option B),
"pre_mortem" states how this fails if it fails.`)
	return b.String()
}

func (o *Orchestrator) hatsInstruction() string {
	var b strings.Builder
	b.WriteString(`# ROLE
You are a "Six Thinking Hats" analysis tool. You DO NOT chat. You accept data and output a report.

# SECTIONS
`)
	for _, hat := range o.catalog.Hats {
		fmt.Fprintf(&b, "%s_hat: title %q\n", hat.ID, hat.Title)
	}
	return b.String()
}
