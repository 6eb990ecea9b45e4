// Package fivewhys 实现“五问法”根因调查：逐层追问，最后输出结构化的根因分析。
package fivewhys

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/logging"
	"github.com/zhouzirui/z-think/backend/internal/model/artifact"
	"github.com/zhouzirui/z-think/backend/internal/service/ai"
)

const (
	// MaxLevels is the depth of a full investigation.
	MaxLevels = 5
	// MinLevelsForAnalysis 是允许提前分析的最少层数。
	MinLevelsForAnalysis = 2

	fallbackQuestion = "Why?"
)

const questionInstruction = `You are a "5 Whys" Investigator (Toyota Method).
Your goal: ask the next logical "Why?" question to dig deeper into the user's last answer.

Rules:
1. Be concise (max 15 words).
2. Do NOT solve the problem yet. Just probe.
3. Focus on process and system failures, not on blaming individuals.
4. Return ONLY the question.`

const analysisInstruction = `You are a "Root Cause Master". Analyze the 5 Whys chain.
root_cause: the fundamental systemic failure, not a symptom.
solution: a concrete, actionable fix for the root cause.
advice: one piece of wisdom about this type of problem.`

// Step is one answered level.
type Step struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Investigation 是一次五问调查的快照。
type Investigation struct {
	ID       string              `json:"id"`
	Problem  string              `json:"problem"`
	Steps    []Step              `json:"steps"`
	Question string              `json:"question,omitempty"`
	Result   *artifact.RootCause `json:"result,omitempty"`
}

func (inv Investigation) clone() Investigation {
	out := inv
	out.Steps = append([]Step(nil), inv.Steps...)
	if inv.Result != nil {
		result := *inv.Result
		out.Result = &result
	}
	return out
}

type entry struct {
	sem *semaphore.Weighted
	inv Investigation
}

// Service keeps investigations in memory, keyed by id.
type Service struct {
	gateway ai.Completer
	logger  zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New 创建五问服务。
func New(gateway ai.Completer, logger zerolog.Logger) *Service {
	return &Service{
		gateway: gateway,
		logger:  logging.Component(logger, "fivewhys"),
		entries: make(map[string]*entry),
	}
}

// Start opens an investigation and asks the first question.
func (s *Service) Start(ctx context.Context, problem string) (Investigation, error) {
	problem = strings.TrimSpace(problem)
	if problem == "" {
		return Investigation{}, fmt.Errorf("%w: empty problem", errs.ErrPrecondition)
	}

	question, err := s.nextQuestion(ctx, problem, nil)
	if err != nil {
		return Investigation{}, err
	}

	e := &entry{
		sem: semaphore.NewWeighted(1),
		inv: Investigation{ID: uuid.NewString(), Problem: problem, Question: question},
	}

	s.mu.Lock()
	s.entries[e.inv.ID] = e
	s.mu.Unlock()
	return e.inv.clone(), nil
}

// Answer 记录当前问题的回答。第五层回答后自动进入根因分析，否则生成下一问。
func (s *Service) Answer(ctx context.Context, id, text string) (Investigation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Investigation{}, fmt.Errorf("%w: empty answer", errs.ErrPrecondition)
	}

	e, err := s.acquire(id)
	if err != nil {
		return Investigation{}, err
	}
	defer e.sem.Release(1)

	if len(e.inv.Steps) >= MaxLevels || e.inv.Result != nil {
		return Investigation{}, fmt.Errorf("%w: investigation already has %d levels", errs.ErrPrecondition, len(e.inv.Steps))
	}

	next := e.inv.clone()
	next.Steps = append(next.Steps, Step{Question: next.Question, Answer: text})
	next.Question = ""

	if len(next.Steps) >= MaxLevels {
		result, err := s.analyze(ctx, next)
		if err != nil {
			return Investigation{}, err
		}
		next.Result = &result
	} else {
		question, err := s.nextQuestion(ctx, next.Problem, next.Steps)
		if err != nil {
			return Investigation{}, err
		}
		next.Question = question
	}

	s.commit(e, next)
	return next.clone(), nil
}

// Analyze ends the investigation early. At least two levels are required.
func (s *Service) Analyze(ctx context.Context, id string) (Investigation, error) {
	e, err := s.acquire(id)
	if err != nil {
		return Investigation{}, err
	}
	defer e.sem.Release(1)

	if e.inv.Result != nil {
		return e.inv.clone(), nil
	}
	if len(e.inv.Steps) < MinLevelsForAnalysis {
		return Investigation{}, fmt.Errorf("%w: need at least %d levels, have %d", errs.ErrPrecondition, MinLevelsForAnalysis, len(e.inv.Steps))
	}

	next := e.inv.clone()
	result, err := s.analyze(ctx, next)
	if err != nil {
		return Investigation{}, err
	}
	next.Result = &result
	next.Question = ""

	s.commit(e, next)
	return next.clone(), nil
}

// Get returns the investigation snapshot.
func (s *Service) Get(id string) (Investigation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Investigation{}, fmt.Errorf("investigation %s: %w", id, errs.ErrNotFound)
	}
	return e.inv.clone(), nil
}

func (s *Service) acquire(id string) (*entry, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("investigation %s: %w", id, errs.ErrNotFound)
	}
	if !e.sem.TryAcquire(1) {
		return nil, fmt.Errorf("%w: investigation %s is busy", errs.ErrConcurrentCall, id)
	}
	return e, nil
}

func (s *Service) commit(e *entry, inv Investigation) {
	s.mu.Lock()
	e.inv = inv
	s.mu.Unlock()
}

func (s *Service) nextQuestion(ctx context.Context, problem string, steps []Step) (string, error) {
	last := problem
	if len(steps) > 0 {
		last = steps[len(steps)-1].Answer
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Original problem: %q\nPast chain:\n", problem)
	for i, step := range steps {
		fmt.Fprintf(&b, "Why %d: %s\nAnswer %d: %s\n\n", i+1, step.Question, i+1, step.Answer)
	}
	fmt.Fprintf(&b, "User's last answer: %q\n\nGenerate the next \"Why?\" question:", last)

	text, err := s.gateway.Complete(ctx, ai.Request{SystemInstruction: questionInstruction, Prompt: b.String()})
	if err != nil {
		return "", fmt.Errorf("next why question: %w", err)
	}
	if q := strings.TrimSpace(text); q != "" {
		return q, nil
	}
	return fallbackQuestion, nil
}

func (s *Service) analyze(ctx context.Context, inv Investigation) (artifact.RootCause, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem: %s\nInvestigation chain:\n", inv.Problem)
	for i, step := range inv.Steps {
		fmt.Fprintf(&b, "Level %d: %s -> %s\n", i+1, step.Question, step.Answer)
	}

	var result artifact.RootCause
	if err := s.gateway.CompleteJSON(ctx, ai.Request{SystemInstruction: analysisInstruction, Prompt: b.String()}, &result); err != nil {
		s.logger.Warn().Err(err).Str("investigation", inv.ID).Msg("root cause analysis failed")
		return artifact.RootCause{}, fmt.Errorf("analyze root cause: %w", err)
	}
	return result, nil
}
