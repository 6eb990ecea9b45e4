// Package synthesis 把完成的对话记录压缩为单一成品。
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhouzirui/z-think/backend/internal/service/ai"
)

const condenseInstruction = `# TASK
You have observed a discussion between two experts about the idea: %q.

Synthesize it into one complete plan.
Discard redundant and restated arguments. Keep only the converged solution and the key insights.
Use Markdown with H2 and H3 headings and bullet points.`

const noteInstruction = `Role: You are the "Synthesizer".
Task: Transform the conversation history into a finalized, structured note following these STRICT rules.

RULE 0: ENOUGH KNOWLEDGE. Capture all of the insight from the chat, cut the conversational filler.
RULE 1: CONTEXT FIRST. Never open with technical details. Start with the "Why" or the core concept, as a one-sentence blockquote summary (> 💡 ...).
RULE 2: VISUALIZE COMPLEXITY. If the chat discusses a process, flow or hierarchy you MUST include a Mermaid diagram (graph LR or sequenceDiagram) in a mermaid code block.
RULE 3: PRESERVE DEPTH. Keep specific technical details (numbers, config names, error codes). Use code blocks for data and bold for key terms.
RULE 4: CRITICAL THINKING. If the topic involves a choice you MUST include a comparison table or a pros/cons list.
RULE 5: ORGANIZE LOGICALLY. Use H2 (##) for main sections and H3 (###) for subsections. End with a "### Tags" section listing #tags.

Generate ONLY the Markdown content. Do not add a preamble.`

// Service issues the condensation calls. It holds no per-run state.
type Service struct {
	gateway ai.Completer
}

// New 创建合成服务。
func New(gateway ai.Completer) *Service {
	return &Service{gateway: gateway}
}

// Condense 将辩论或思考团的完整记录与原始主题压缩为收敛后的结论。
// 结果用于替换而非追加到展示中的工作记录。
func (s *Service) Condense(ctx context.Context, transcript, topic string) (string, error) {
	text, err := s.gateway.Complete(ctx, ai.Request{
		SystemInstruction: fmt.Sprintf(condenseInstruction, topic),
		Prompt:            transcript,
	})
	if err != nil {
		return "", fmt.Errorf("condense transcript: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Note turns a flattened dialogue into the structured study note.
func (s *Service) Note(ctx context.Context, transcript string) (string, error) {
	text, err := s.gateway.Complete(ctx, ai.Request{
		SystemInstruction: noteInstruction,
		Prompt:            "CONVERSATION HISTORY:\n" + transcript,
	})
	if err != nil {
		return "", fmt.Errorf("synthesize note: %w", err)
	}
	return strings.TrimSpace(text), nil
}
