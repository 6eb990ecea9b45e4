package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/model/artifact"
	"github.com/zhouzirui/z-think/backend/internal/service/fivewhys"
	"github.com/zhouzirui/z-think/backend/internal/service/scripted"
)

type fakeOrchestrator struct {
	decision artifact.Decision
	hats     artifact.SixHats
	err      error
}

func (f *fakeOrchestrator) RunDecisionLab(context.Context, string, string) (artifact.Decision, error) {
	return f.decision, f.err
}

func (f *fakeOrchestrator) RunSixHats(context.Context, string) (artifact.SixHats, error) {
	return f.hats, f.err
}

type fakeFiveWhys struct {
	inv fivewhys.Investigation
	err error
}

func (f *fakeFiveWhys) Start(_ context.Context, problem string) (fivewhys.Investigation, error) {
	f.inv = fivewhys.Investigation{ID: "inv-1", Problem: problem, Question: "Why?"}
	return f.inv, f.err
}

func (f *fakeFiveWhys) Answer(_ context.Context, _ string, text string) (fivewhys.Investigation, error) {
	f.inv.Steps = append(f.inv.Steps, fivewhys.Step{Question: f.inv.Question, Answer: text})
	return f.inv, f.err
}

func (f *fakeFiveWhys) Analyze(context.Context, string) (fivewhys.Investigation, error) {
	return f.inv, f.err
}

func (f *fakeFiveWhys) Get(id string) (fivewhys.Investigation, error) {
	if id != f.inv.ID {
		return fivewhys.Investigation{}, fmt.Errorf("investigation %s: %w", id, errs.ErrNotFound)
	}
	return f.inv, nil
}

type fakeLens struct{}

func (fakeLens) FirstPrinciples(_ context.Context, problem string) (string, error) {
	if problem == "" {
		return "", errs.ErrPrecondition
	}
	return "### Core Truths\n- gravity", nil
}

func (fakeLens) DevilsDictionary(_ context.Context, word string) (artifact.DevilsDefinition, error) {
	return artifact.DevilsDefinition{Word: word, Definition: "a brief lie"}, nil
}

func sampleDecision() artifact.Decision {
	d := artifact.Decision{Verdict: artifact.Verdict{Decision: "Go", VoteTally: "3-2", PreMortem: "Burnout"}}
	for _, role := range artifact.Board {
		d.Reactions = append(d.Reactions, artifact.Reaction{Persona: role, Thought: role + " thinks"})
	}
	for i := 0; i < 4; i++ {
		d.Debate = append(d.Debate, artifact.DebateLine{From: "Skeptic", To: artifact.GroupTarget, Argument: "risky"})
	}
	return d
}

func setupRouter(o Orchestrator, f FiveWhys) *chi.Mux {
	r := chi.NewRouter()
	New(o, f, fakeLens{}, zerolog.Nop(), WithPacing(scripted.Pacing{})).RegisterRoutes(r)
	return r
}

func post(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data)))
	return resp
}

func eventNames(body string) []string {
	var names []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			names = append(names, name)
		}
	}
	return names
}

func TestDecisionLabRevealsInOrder(t *testing.T) {
	r := setupRouter(&fakeOrchestrator{decision: sampleDecision()}, &fakeFiveWhys{})

	resp := post(t, r, "/decision-lab", map[string]string{"problem": "quit my job?", "options": "stay, leave"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))

	want := []string{"artifact"}
	for range 5 {
		want = append(want, string(scripted.EventReactionAdded))
	}
	for range 4 {
		want = append(want, string(scripted.EventDebateLineAdded))
	}
	want = append(want, string(scripted.EventVerdictReady), "end")
	assert.Equal(t, want, eventNames(resp.Body.String()))
}

func TestSixHatsReveal(t *testing.T) {
	r := setupRouter(&fakeOrchestrator{}, &fakeFiveWhys{})

	resp := post(t, r, "/six-hats", map[string]string{"topic": "remote work"})
	require.Equal(t, http.StatusOK, resp.Code)

	names := eventNames(resp.Body.String())
	require.Len(t, names, 9)
	assert.Equal(t, string(scripted.EventHatRevealed), names[1])
	assert.Equal(t, string(scripted.EventVerdictReady), names[7])
}

func TestDecisionLabSchemaViolation(t *testing.T) {
	schemaErr := &scripted.ArtifactSchemaError{Tool: "decision lab", Err: fmt.Errorf("%w: verdict missing", errs.ErrSchemaViolation)}
	r := setupRouter(&fakeOrchestrator{err: schemaErr}, &fakeFiveWhys{})

	resp := post(t, r, "/decision-lab", map[string]string{"problem": "x"})
	assert.Equal(t, http.StatusBadGateway, resp.Code)
	assert.Contains(t, resp.Body.String(), "schema_violation")

	resp = post(t, r, "/decision-lab", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestFiveWhysRoutes(t *testing.T) {
	r := setupRouter(&fakeOrchestrator{}, &fakeFiveWhys{})

	resp := post(t, r, "/five-whys", map[string]string{"problem": "late deliveries"})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = post(t, r, "/five-whys/inv-1/answers", map[string]string{"answer": "trucks break"})
	require.Equal(t, http.StatusOK, resp.Code)
	var inv fivewhys.Investigation
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &inv))
	require.Len(t, inv.Steps, 1)
	assert.Equal(t, "trucks break", inv.Steps[0].Answer)

	get := httptest.NewRecorder()
	r.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/five-whys/nope", nil))
	assert.Equal(t, http.StatusNotFound, get.Code)
}

func TestLensRoutes(t *testing.T) {
	r := setupRouter(&fakeOrchestrator{}, &fakeFiveWhys{})

	resp := post(t, r, "/lens/first-principles", map[string]string{"problem": "rockets are expensive"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Core Truths")

	resp = post(t, r, "/lens/first-principles", map[string]string{})
	assert.Equal(t, http.StatusPreconditionFailed, resp.Code)

	resp = post(t, r, "/lens/devils-dictionary", map[string]string{"word": "meeting"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "a brief lie")
}
