package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/model/chat"
)

type fakeDialogue struct {
	chunks []string
	reply  chat.Session
	err    error
}

func (f *fakeDialogue) Send(_ context.Context, _ string, _ string, onChunk func(string)) (chat.Session, error) {
	for _, c := range f.chunks {
		onChunk(c)
	}
	return f.reply, f.err
}

func (f *fakeDialogue) SendIntent(ctx context.Context, id, _ string, onChunk func(string)) (chat.Session, error) {
	return f.Send(ctx, id, "", onChunk)
}

func (f *fakeDialogue) Synthesize(context.Context, string) (chat.Session, error) {
	return f.reply, f.err
}

func setupRouter(d Dialogue) *chi.Mux {
	r := chi.NewRouter()
	New(d, zerolog.Nop()).RegisterRoutes(r)
	return r
}

func readEvents(t *testing.T, body string) []StreamResponse {
	t.Helper()
	var events []StreamResponse
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev StreamResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestSendStreamsDeltasThenMessage(t *testing.T) {
	reply := chat.Session{ID: "s1", Turns: []chat.Turn{
		{ID: "u", Speaker: chat.SpeakerUser, Content: "hi"},
		{ID: "a", Speaker: chat.SpeakerAgent, Content: "Hello there"},
	}}
	r := setupRouter(&fakeDialogue{chunks: []string{"Hello ", "there"}, reply: reply})

	payload, _ := json.Marshal(map[string]string{"text": "hi"})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/sessions/s1/messages", bytes.NewReader(payload)))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := readEvents(t, resp.Body.String())
	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.Event)
	}
	want := "start,delta,delta,message,end"
	if got := strings.Join(kinds, ","); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if events[3].Content != "Hello there" {
		t.Fatalf("unexpected final content %q", events[3].Content)
	}
	if !events[4].Finished || events[4].Session == nil || len(events[4].Session.Turns) != 2 {
		t.Fatalf("unexpected end event %+v", events[4])
	}
}

func TestRejectedSendIsPlainJSON(t *testing.T) {
	r := setupRouter(&fakeDialogue{err: errs.ErrConcurrentCall})

	payload, _ := json.Marshal(map[string]string{"text": "hi"})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/sessions/s1/messages", bytes.NewReader(payload)))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "concurrent_call_rejected") {
		t.Fatalf("missing error kind in %s", resp.Body.String())
	}
}

func TestIntentPreconditionFailed(t *testing.T) {
	r := setupRouter(&fakeDialogue{err: errs.ErrPrecondition})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/sessions/s1/intents/analogy", nil))

	if resp.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d", resp.Code)
	}
}

func TestSynthesizeReturnsSession(t *testing.T) {
	reply := chat.Session{ID: "s1", Turns: []chat.Turn{{ID: "n", Speaker: chat.SpeakerAgent, Content: "note", Kind: chat.KindArtifact}}}
	r := setupRouter(&fakeDialogue{reply: reply})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/sessions/s1/synthesize", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got chat.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Turns[0].Kind != chat.KindArtifact {
		t.Fatalf("expected artifact turn, got %+v", got.Turns[0])
	}
}
