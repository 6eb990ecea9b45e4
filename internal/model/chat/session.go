package chat

import "time"

// Speaker 标识一条发言的作者。
type Speaker string

const (
	SpeakerUser  Speaker = "USER"
	SpeakerAgent Speaker = "AGENT"
)

// Kind 区分普通对话与生成的成品（笔记、评分卡等）。
type Kind string

const (
	KindDialogue Kind = "DIALOGUE"
	KindArtifact Kind = "ARTIFACT"
)

// Mode selects the dialogue partner a session talks to.
type Mode string

const (
	ModeSocratic Mode = "socratic"
	ModeShadow   Mode = "shadow"
)

// WelcomeTurnID 是新会话预置欢迎语的固定 ID。
const WelcomeTurnID = "welcome"

// Turn is one immutable contribution to a transcript.
type Turn struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Content   string    `json:"content"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Session 是一段有序、仅追加的对话记录。
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Mode      Mode      `json:"mode"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy that shares no mutable state with s.
func (s Session) Clone() Session {
	out := s
	out.Turns = append([]Turn(nil), s.Turns...)
	return out
}

// HasExchange 判断会话在欢迎语之外是否已经有过真实的一问一答。
func (s Session) HasExchange() bool {
	var user, agent bool
	for _, turn := range s.Turns {
		if turn.ID == WelcomeTurnID {
			continue
		}
		switch turn.Speaker {
		case SpeakerUser:
			user = true
		case SpeakerAgent:
			agent = true
		}
	}
	return user && agent
}

// UserTurnCount counts turns authored by the user.
func (s Session) UserTurnCount() int {
	n := 0
	for _, turn := range s.Turns {
		if turn.Speaker == SpeakerUser {
			n++
		}
	}
	return n
}
