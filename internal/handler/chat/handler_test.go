package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-think/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/z-think/backend/internal/service/chat"
)

func setupRouter() (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService(nil)
	handler := New(chatSvc)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func TestCreateSessionSeedsWelcome(t *testing.T) {
	r, _ := setupRouter()
	payload, _ := json.Marshal(map[string]string{"mode": "shadow"})

	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var session chat.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.Mode != chat.ModeShadow {
		t.Fatalf("expected shadow mode, got %q", session.Mode)
	}
	if len(session.Turns) != 1 || session.Turns[0].ID != chat.WelcomeTurnID {
		t.Fatalf("expected seeded welcome turn, got %+v", session.Turns)
	}
}

func TestCreateSessionWithoutBody(t *testing.T) {
	r, _ := setupRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/sessions", nil))

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
}

func TestCreateSessionInvalidMode(t *testing.T) {
	r, _ := setupRouter()
	payload, _ := json.Marshal(map[string]string{"mode": "stoic"})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(payload)))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestGetUnknownSession(t *testing.T) {
	r, _ := setupRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/sessions/nope", nil))

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	var body struct {
		Kind string `json:"kind"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body.Kind != "not_found" {
		t.Fatalf("expected not_found kind, got %q", body.Kind)
	}
}

func TestDeleteLastSessionCreatesFresh(t *testing.T) {
	r, svc := setupRouter()
	session, err := svc.CreateSession(t.Context(), chat.ModeSocratic)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/sessions/"+session.ID, nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Active chat.Session `json:"active"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Active.ID == "" || body.Active.ID == session.ID {
		t.Fatalf("expected a fresh active session, got %q", body.Active.ID)
	}
	if got := len(svc.ListSessions(t.Context())); got != 1 {
		t.Fatalf("expected 1 session, got %d", got)
	}
}

func TestDeleteTurn(t *testing.T) {
	r, svc := setupRouter()
	session, _ := svc.CreateSession(t.Context(), chat.ModeSocratic)
	session, err := svc.AppendTurn(t.Context(), session.ID, chat.Turn{Speaker: chat.SpeakerUser, Content: "hi"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	turnID := session.Turns[1].ID

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/sessions/"+session.ID+"/turns/"+turnID, nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	got, _ := svc.GetSession(t.Context(), session.ID)
	if len(got.Turns) != 1 {
		t.Fatalf("expected the turn to be removed, got %d turns", len(got.Turns))
	}
}
