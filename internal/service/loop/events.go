package loop

import (
	"context"
)

// EventType 事件类型。
type EventType string

const (
	EventTurnCommitted EventType = "turn_committed"
	EventPhaseChanged  EventType = "phase_changed"
	EventError         EventType = "error"
	EventFinal         EventType = "final"
)

// Event is pushed to subscribers after each state change.
type Event struct {
	Type  EventType `json:"type"`
	Phase Phase     `json:"phase,omitempty"`
	Turn  *Turn     `json:"turn,omitempty"`
	Error string    `json:"error,omitempty"`
	Final string    `json:"final,omitempty"`
}

const subscriberBuffer = 64

// Snapshot 是引擎状态的一致快照。
type Snapshot struct {
	Phase     Phase  `json:"phase"`
	Topic     string `json:"topic"`
	Seats     []Seat `json:"seats"`
	Active    int    `json:"active"`
	Rounds    int    `json:"rounds"`
	MaxRounds int    `json:"max_rounds"`
	History   []Turn `json:"history"`
	InFlight  bool   `json:"in_flight"`
	Error     string `json:"error,omitempty"`
	Final     string `json:"final,omitempty"`
}

// State returns a snapshot of the loop.
func (e *Engine) State() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// History returns a copy of the shared transcript.
func (e *Engine) History() []Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Turn(nil), e.history...)
}

// Err returns the error that parked the loop, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Subscribe 订阅事件流。慢订阅者会丢失事件，但随时可通过 State 取得完整快照。
func (e *Engine) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if e.base.Err() != nil {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			close(sub)
			delete(e.subs, id)
		}
	}
}

// Wait blocks until cond holds for the current snapshot or ctx ends.
func (e *Engine) Wait(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	for {
		e.mu.Lock()
		snap := e.snapshotLocked()
		changed := e.changed
		e.mu.Unlock()

		if cond(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changed:
		}
	}
}

// InPhase is a Wait condition.
func InPhase(phases ...Phase) func(Snapshot) bool {
	return func(s Snapshot) bool {
		for _, p := range phases {
			if s.Phase == p {
				return true
			}
		}
		return false
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:     e.phase,
		Topic:     e.topic,
		Seats:     append([]Seat(nil), e.seats...),
		Active:    e.active,
		Rounds:    e.rounds,
		MaxRounds: e.policy.MaxRounds,
		History:   append([]Turn(nil), e.history...),
		InFlight:  e.inflight != nil,
		Final:     e.final,
	}
	if e.lastErr != nil {
		snap.Error = e.lastErr.Error()
	}
	return snap
}

func (e *Engine) emitLocked(ev Event) {
	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.logger.Warn().Int("subscriber", id).Str("event", string(ev.Type)).Msg("subscriber lagging, event dropped")
		}
	}
	e.broadcastLocked()
}

func (e *Engine) broadcastLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}
