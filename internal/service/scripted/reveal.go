package scripted

import (
	"context"
	"iter"
	"time"

	"github.com/zhouzirui/z-think/backend/internal/model/artifact"
)

// EventKind 揭示事件类型。
type EventKind string

const (
	EventReactionAdded   EventKind = "reaction_added"
	EventDebateLineAdded EventKind = "debate_line_added"
	EventHatRevealed     EventKind = "hat_revealed"
	EventVerdictReady    EventKind = "verdict_ready"
)

// RevealEvent is one step of a paced reveal. Offset is the delay since the
// previous event.
type RevealEvent struct {
	Kind     EventKind            `json:"kind"`
	Index    int                  `json:"index"`
	Offset   time.Duration        `json:"-"`
	OffsetMS int64                `json:"offset_ms"`
	Reaction *artifact.Reaction   `json:"reaction,omitempty"`
	Line     *artifact.DebateLine `json:"line,omitempty"`
	Hat      *artifact.NamedHat   `json:"hat,omitempty"`
	Verdict  *artifact.Verdict    `json:"verdict,omitempty"`
}

// Pacing 控制揭示节奏。Sleep 为空时使用真实计时器。
type Pacing struct {
	Reaction      time.Duration
	BeforeDebate  time.Duration
	Line          time.Duration
	BeforeVerdict time.Duration

	Sleep func(ctx context.Context, d time.Duration) bool
}

// DefaultPacing returns the presentation delays of the board meeting.
func DefaultPacing() Pacing {
	return Pacing{
		Reaction:      800 * time.Millisecond,
		BeforeDebate:  1500 * time.Millisecond,
		Line:          1500 * time.Millisecond,
		BeforeVerdict: 2500 * time.Millisecond,
	}
}

// Plan 按产出顺序列出决策实验室的全部揭示事件：N 个反应、M 条辩论、1 个裁决。
func Plan(d artifact.Decision, p Pacing) []RevealEvent {
	events := make([]RevealEvent, 0, len(d.Reactions)+len(d.Debate)+1)
	for i := range d.Reactions {
		events = append(events, RevealEvent{Kind: EventReactionAdded, Index: i, Offset: p.Reaction, Reaction: &d.Reactions[i]})
	}
	for i := range d.Debate {
		offset := p.Line
		if i == 0 {
			offset += p.BeforeDebate
		}
		events = append(events, RevealEvent{Kind: EventDebateLineAdded, Index: i, Offset: offset, Line: &d.Debate[i]})
	}
	verdict := d.Verdict
	events = append(events, RevealEvent{Kind: EventVerdictReady, Offset: p.BeforeVerdict, Verdict: &verdict})
	return stamp(events)
}

// PlanSixHats lists six hat_revealed events in hat order and a closing
// verdict_ready.
func PlanSixHats(h artifact.SixHats, p Pacing) []RevealEvent {
	sections := h.Sections()
	events := make([]RevealEvent, 0, len(sections)+1)
	for i := range sections {
		events = append(events, RevealEvent{Kind: EventHatRevealed, Index: i, Offset: p.Reaction, Hat: &sections[i]})
	}
	events = append(events, RevealEvent{Kind: EventVerdictReady, Offset: p.BeforeVerdict})
	return stamp(events)
}

// Reveal 以固定节奏逐个产出决策实验室事件。不做任何网络调用，ctx 取消时提前结束。
func Reveal(ctx context.Context, d artifact.Decision, p Pacing) iter.Seq[RevealEvent] {
	return play(ctx, Plan(d, p), p)
}

// RevealSixHats paces the six hats report.
func RevealSixHats(ctx context.Context, h artifact.SixHats, p Pacing) iter.Seq[RevealEvent] {
	return play(ctx, PlanSixHats(h, p), p)
}

func stamp(events []RevealEvent) []RevealEvent {
	for i := range events {
		events[i].OffsetMS = events[i].Offset.Milliseconds()
	}
	return events
}

func play(ctx context.Context, events []RevealEvent, p Pacing) iter.Seq[RevealEvent] {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return func(yield func(RevealEvent) bool) {
		for _, ev := range events {
			if !sleep(ctx, ev.Offset) {
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
