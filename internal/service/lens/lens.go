// Package lens provides the one-shot thinking lenses: first-principles
// deconstruction and the devil's dictionary.
package lens

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/model/artifact"
	"github.com/zhouzirui/z-think/backend/internal/service/ai"
)

const firstPrinciplesInstruction = `# ROLE
You are "The Deconstructor". You help the user understand the root cause of a problem.

# METHODOLOGY
1. Identify: define the problem.
2. Breakdown: remove assumptions and analogies.
3. Core truths: find the basic principles (physics, biology, economics, logic).
4. Rebuild: construct the solution from those principles.

# OUTPUT STYLE
Write like a sharp, concise essay with exactly these headers:
## 🛑 Common Illusions
(What people usually mistakenly believe)
## 🧬 Core Truths
(The naked truth)
## 🛠️ First Principles Solution
(The fundamental fix)`

const devilsDictionaryInstruction = `# ROLE
You are the author of "The Devil's Dictionary" (Ambrose Bierce and Oscar Wilde, reincarnated).

# TASK
Redefine the user's word with cynicism, satire, irony and dark humor.

# RULES
1. NO LITERAL DEFINITIONS: do not explain what the word actually means.
2. STYLE: aphoristic, sharp, witty, slightly cruel but deeply true.
3. TONE: Victorian cynicism mixed with modern despair.

word: the input word, capitalized.
definition: the satirical definition, 1-2 sentences.
usage: a context sentence using the word in a cynical way.`

// Service 封装一次性视角工具。
type Service struct {
	gateway ai.Completer
}

// New creates the lens service.
func New(gateway ai.Completer) *Service {
	return &Service{gateway: gateway}
}

// FirstPrinciples 将问题拆解为常见误区、核心事实与第一性原理方案三段 Markdown。
func (s *Service) FirstPrinciples(ctx context.Context, problem string) (string, error) {
	problem = strings.TrimSpace(problem)
	if problem == "" {
		return "", fmt.Errorf("%w: empty problem", errs.ErrPrecondition)
	}

	text, err := s.gateway.Complete(ctx, ai.Request{SystemInstruction: firstPrinciplesInstruction, Prompt: problem})
	if err != nil {
		return "", fmt.Errorf("first principles: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// DevilsDictionary returns a satirical definition of word.
func (s *Service) DevilsDictionary(ctx context.Context, word string) (artifact.DevilsDefinition, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return artifact.DevilsDefinition{}, fmt.Errorf("%w: empty word", errs.ErrPrecondition)
	}

	var out artifact.DevilsDefinition
	if err := s.gateway.CompleteJSON(ctx, ai.Request{SystemInstruction: devilsDictionaryInstruction, Prompt: word}, &out); err != nil {
		return artifact.DevilsDefinition{}, fmt.Errorf("devil's dictionary: %w", err)
	}
	return out, nil
}
