// Package loop 实现通用的轮流发言引擎：多个席位共享一份记录，按回合交替发言，
// 支持暂停、插话、停止、人工席位与自动代打席位，最后交给收尾步骤产出成品。
package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/logging"
)

// Phase of a loop.
type Phase string

const (
	PhaseSetup        Phase = "SETUP"
	PhaseDispatching  Phase = "DISPATCHING"
	PhaseRunning      Phase = "RUNNING"
	PhasePaused       Phase = "PAUSED"
	PhaseSynthesizing Phase = "SYNTHESIZING"
	PhaseDone         Phase = "DONE"
)

// SeatKind 决定席位由谁发言。
type SeatKind string

const (
	SeatGenerated SeatKind = "generated"
	SeatHuman     SeatKind = "human"
	// SeatAutoplay is generated until a human takes it over.
	SeatAutoplay SeatKind = "autoplay"
)

// InterjectionSeat marks turns that do not belong to any seat.
const InterjectionSeat = -1

// Seat is one participant slot.
type Seat struct {
	Name string   `json:"name"`
	Kind SeatKind `json:"kind"`
	Goal string   `json:"goal,omitempty"`
}

// Turn 是共享记录中的一条发言。
type Turn struct {
	ID           string    `json:"id"`
	Seat         int       `json:"seat"`
	Speaker      string    `json:"speaker"`
	Content      string    `json:"content"`
	Interjection bool      `json:"interjection,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// TurnRequest is everything a generator needs to produce the next turn.
type TurnRequest struct {
	Topic     string
	Seats     []Seat
	Seat      int
	Round     int
	MaxRounds int
	Hint      Hint
	History   []Turn
	// Interjection 非空时，本轮必须优先回应这条插话。
	Interjection *Turn
}

// Generator produces the content of a generated seat's turn.
type Generator func(ctx context.Context, req TurnRequest) (string, error)

// Dispatcher 根据主题推导席位，只调用一次。
type Dispatcher func(ctx context.Context, topic string) ([]Seat, error)

// Finisher turns the finished transcript into the final artifact.
type Finisher func(ctx context.Context, topic string, history []Turn) (string, error)

// Options configures an Engine.
type Options struct {
	Seats             []Seat
	Dispatch          Dispatcher
	Generate          Generator
	Finish            Finisher
	Policy            Policy
	InterjectionLabel string
	Logger            zerolog.Logger
	Now               func() time.Time
}

type call struct {
	gen    uint64
	seat   int
	cancel context.CancelFunc
}

// Engine drives one loop. All methods are safe for concurrent use.
type Engine struct {
	dispatch Dispatcher
	generate Generator
	finish   Finisher
	policy   Policy
	label    string
	logger   zerolog.Logger
	now      func() time.Time

	mu           sync.Mutex
	phase        Phase
	topic        string
	seats        []Seat
	active       int
	rounds       int
	history      []Turn
	lastErr      error
	final        string
	inflight     *call
	finishing    bool
	finishFailed bool
	pending      *Turn
	gen          uint64
	changed      chan struct{}
	subs         map[int]chan Event
	nextSub      int

	base    context.Context
	stop    context.CancelFunc
	workers conc.WaitGroup
}

// New 创建处于 SETUP 阶段的引擎。
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.InterjectionLabel == "" {
		opts.InterjectionLabel = "Manager"
	}
	base, stop := context.WithCancel(context.Background())
	return &Engine{
		dispatch: opts.Dispatch,
		generate: opts.Generate,
		finish:   opts.Finish,
		policy:   opts.Policy.normalized(),
		label:    opts.InterjectionLabel,
		logger:   logging.Component(opts.Logger, "loop"),
		now:      opts.Now,
		phase:    PhaseSetup,
		seats:    append([]Seat(nil), opts.Seats...),
		changed:  make(chan struct{}),
		subs:     make(map[int]chan Event),
		base:     base,
		stop:     stop,
	}
}

// Start dispatches seats for topic and begins the loop.
func (e *Engine) Start(ctx context.Context, topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("%w: empty topic", errs.ErrPrecondition)
	}

	e.mu.Lock()
	if e.phase != PhaseSetup {
		phase := e.phase
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", errs.ErrPrecondition, phase)
	}
	e.topic = topic
	e.lastErr = nil
	e.setPhaseLocked(PhaseDispatching)
	e.mu.Unlock()

	seats := e.seatsSnapshot()
	if e.dispatch != nil {
		dispatched, err := e.dispatch(ctx, topic)
		if err == nil && len(dispatched) < 2 {
			err = fmt.Errorf("%w: dispatcher returned %d seats", errs.ErrSchemaViolation, len(dispatched))
		}
		if err != nil {
			e.mu.Lock()
			e.lastErr = err
			e.setPhaseLocked(PhaseSetup)
			e.emitLocked(Event{Type: EventError, Error: err.Error()})
			e.mu.Unlock()
			return err
		}
		seats = dispatched
	}
	if len(seats) < 2 {
		e.mu.Lock()
		e.setPhaseLocked(PhaseSetup)
		e.mu.Unlock()
		return fmt.Errorf("%w: a loop needs at least two seats", errs.ErrPrecondition)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.seats = seats
	e.active = 0
	e.rounds = 0
	e.setPhaseLocked(PhaseRunning)
	e.logger.Info().Str("topic", topic).Int("seats", len(seats)).Int("max_rounds", e.policy.MaxRounds).Msg("loop started")
	e.scheduleLocked()
	return nil
}

// Pause 暂停自动推进，不取消进行中的调用。
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.phase {
	case PhasePaused:
		return nil
	case PhaseRunning:
		e.setPhaseLocked(PhasePaused)
		return nil
	default:
		return fmt.Errorf("%w: cannot pause from %s", errs.ErrPrecondition, e.phase)
	}
}

// Resume continues a paused loop. A loop parked by a failed finisher retries
// the synthesis.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhasePaused {
		return fmt.Errorf("%w: cannot resume from %s", errs.ErrPrecondition, e.phase)
	}
	e.lastErr = nil
	if e.finishFailed {
		e.beginFinishLocked()
		return nil
	}
	e.setPhaseLocked(PhaseRunning)
	e.scheduleLocked()
	return nil
}

// Interject 注入一条人工插话；运行中会先暂停，提交后自动恢复。
func (e *Engine) Interject(text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, fmt.Errorf("%w: empty interjection", errs.ErrPrecondition)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.phase {
	case PhaseRunning:
		e.setPhaseLocked(PhasePaused)
	case PhasePaused:
		if e.finishFailed {
			return Turn{}, fmt.Errorf("%w: loop is waiting on synthesis", errs.ErrPrecondition)
		}
	default:
		return Turn{}, fmt.Errorf("%w: cannot interject in %s", errs.ErrPrecondition, e.phase)
	}

	turn := Turn{
		ID:           uuid.NewString(),
		Seat:         InterjectionSeat,
		Speaker:      e.label,
		Content:      text,
		Interjection: true,
		Timestamp:    e.now(),
	}
	e.history = append(e.history, turn)
	e.pending = &turn
	e.emitLocked(Event{Type: EventTurnCommitted, Turn: &turn})

	e.lastErr = nil
	e.setPhaseLocked(PhaseRunning)
	e.scheduleLocked()
	return turn, nil
}

// Stop ends the loop early and hands the transcript to the finisher. An
// in-flight generated turn is cancelled and discarded.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.phase {
	case PhaseRunning, PhasePaused:
	case PhaseSynthesizing, PhaseDone:
		return nil
	default:
		return fmt.Errorf("%w: cannot stop from %s", errs.ErrPrecondition, e.phase)
	}
	e.cancelInflightLocked()
	e.lastErr = nil
	e.beginFinishLocked()
	return nil
}

// Submit commits a human turn for seat. It is rejected unless it is that
// seat's turn. Submitting on an autoplay seat takes it over for good, even
// when the turn itself is rejected.
func (e *Engine) Submit(seat int, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, fmt.Errorf("%w: empty turn", errs.ErrPrecondition)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseRunning && e.phase != PhasePaused {
		return Turn{}, fmt.Errorf("%w: cannot submit in %s", errs.ErrPrecondition, e.phase)
	}
	if seat < 0 || seat >= len(e.seats) {
		return Turn{}, fmt.Errorf("%w: no seat %d", errs.ErrPrecondition, seat)
	}
	if e.seats[seat].Kind == SeatGenerated {
		return Turn{}, fmt.Errorf("%w: seat %d is not human", errs.ErrPrecondition, seat)
	}

	// 接管发生在轮次检查之前：即使本次发言被拒绝，代打也已停止。
	if e.seats[seat].Kind == SeatAutoplay {
		e.seats[seat].Kind = SeatHuman
		if e.inflight != nil && e.inflight.seat == seat {
			e.cancelInflightLocked()
		}
		e.logger.Debug().Int("seat", seat).Msg("autoplay taken over")
		e.broadcastLocked()
	}

	if seat != e.active || e.rounds >= e.policy.MaxRounds {
		return Turn{}, fmt.Errorf("%w: not seat %d's turn", errs.ErrConcurrentCall, seat)
	}

	return e.commitLocked(seat, text), nil
}

// SetAutoplay toggles generation for a seat that is not generated.
func (e *Engine) SetAutoplay(seat int, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seat < 0 || seat >= len(e.seats) || e.seats[seat].Kind == SeatGenerated {
		return fmt.Errorf("%w: seat %d cannot toggle autoplay", errs.ErrPrecondition, seat)
	}
	if enabled {
		e.seats[seat].Kind = SeatAutoplay
		e.scheduleLocked()
	} else {
		e.seats[seat].Kind = SeatHuman
		if e.inflight != nil && e.inflight.seat == seat {
			e.cancelInflightLocked()
		}
	}
	e.broadcastLocked()
	return nil
}

// Close cancels any outstanding work and waits for it to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	e.stop()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.mu.Unlock()
	e.workers.Wait()
}

// scheduleLocked 在每次状态变化后重新评估，满足条件时发起下一次生成。
func (e *Engine) scheduleLocked() {
	if e.phase != PhaseRunning || e.inflight != nil || e.base.Err() != nil {
		return
	}
	if e.rounds >= e.policy.MaxRounds {
		e.beginFinishLocked()
		return
	}
	seat := e.seats[e.active]
	if seat.Kind == SeatHuman {
		return
	}
	if last, ok := e.lastSeatTurnLocked(); ok && last.Seat == e.active {
		return
	}

	e.gen++
	ctx, cancel := context.WithCancel(e.base)
	c := &call{gen: e.gen, seat: e.active, cancel: cancel}
	e.inflight = c

	round := e.rounds + 1
	req := TurnRequest{
		Topic:        e.topic,
		Seats:        append([]Seat(nil), e.seats...),
		Seat:         e.active,
		Round:        round,
		MaxRounds:    e.policy.MaxRounds,
		Hint:         e.policy.HintFor(round),
		History:      append([]Turn(nil), e.history...),
		Interjection: e.pending,
	}
	e.pending = nil
	e.broadcastLocked()

	e.workers.Go(func() {
		defer cancel()
		content, err := e.generate(ctx, req)
		e.resolve(c, content, err)
	})
}

func (e *Engine) resolve(c *call, content string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inflight != c {
		e.logger.Debug().Uint64("gen", c.gen).Int("seat", c.seat).Msg("discarding stale turn")
		return
	}
	e.inflight = nil

	if err != nil {
		if errors.Is(err, context.Canceled) && e.base.Err() != nil {
			return
		}
		e.lastErr = err
		e.logger.Warn().Err(err).Int("seat", c.seat).Str("kind", errs.Kind(err)).Msg("turn failed, pausing")
		if e.phase == PhaseRunning {
			e.setPhaseLocked(PhasePaused)
		}
		e.emitLocked(Event{Type: EventError, Error: err.Error()})
		return
	}

	e.commitLocked(c.seat, content)
}

// commitLocked 追加一条席位发言，切换发言席位并累计轮次，随后决定是否进入收尾。
func (e *Engine) commitLocked(seat int, content string) Turn {
	roundsBefore := e.rounds
	content, stopRequested := e.policy.StripStopToken(content)

	turn := Turn{
		ID:        uuid.NewString(),
		Seat:      seat,
		Speaker:   e.seats[seat].Name,
		Content:   content,
		Timestamp: e.now(),
	}
	e.history = append(e.history, turn)
	e.active = (seat + 1) % len(e.seats)
	e.rounds++
	e.emitLocked(Event{Type: EventTurnCommitted, Turn: &turn})

	switch {
	case e.rounds >= e.policy.MaxRounds:
		e.beginFinishLocked()
	case stopRequested && roundsBefore >= e.policy.StopFloor():
		e.logger.Info().Int("round", e.rounds).Msg("stop token honoured")
		e.cancelInflightLocked()
		e.beginFinishLocked()
	default:
		if stopRequested {
			e.logger.Debug().Int("round", e.rounds).Int("floor", e.policy.StopFloor()).Msg("stop token ignored")
		}
		e.scheduleLocked()
	}
	return turn
}

func (e *Engine) beginFinishLocked() {
	if e.finishing || e.base.Err() != nil {
		return
	}
	e.finishing = true
	e.finishFailed = false
	e.setPhaseLocked(PhaseSynthesizing)

	topic := e.topic
	history := append([]Turn(nil), e.history...)
	ctx := e.base
	e.workers.Go(func() {
		var (
			final string
			err   error
		)
		if e.finish != nil {
			final, err = e.finish(ctx, topic, history)
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		e.finishing = false
		if err != nil {
			if e.base.Err() != nil {
				return
			}
			e.finishFailed = true
			e.lastErr = err
			e.logger.Warn().Err(err).Msg("synthesis failed, pausing")
			e.setPhaseLocked(PhasePaused)
			e.emitLocked(Event{Type: EventError, Error: err.Error()})
			return
		}
		e.finishFailed = false
		e.final = final
		e.setPhaseLocked(PhaseDone)
		e.emitLocked(Event{Type: EventFinal, Final: final})
	})
}

func (e *Engine) cancelInflightLocked() {
	if e.inflight == nil {
		return
	}
	e.inflight.cancel()
	e.inflight = nil
}

func (e *Engine) lastSeatTurnLocked() (Turn, bool) {
	for i := len(e.history) - 1; i >= 0; i-- {
		if !e.history[i].Interjection {
			return e.history[i], true
		}
	}
	return Turn{}, false
}

func (e *Engine) setPhaseLocked(phase Phase) {
	if e.phase == phase {
		return
	}
	e.phase = phase
	e.emitLocked(Event{Type: EventPhaseChanged, Phase: phase})
}

func (e *Engine) seatsSnapshot() []Seat {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Seat(nil), e.seats...)
}
