// Package countdown implements the per-turn delay window during which a user
// may jump in with a comment before the next turn is generated.
//
// A Timer is a one-shot task: it resolves exactly once, either because the
// countdown ran out (Expired) or because the user engaged the jump-in control
// twice (Interrupted), unless it is cancelled first. All state transitions
// happen on the timer's own goroutine, so the expiry tick and the resume
// signal race inside a single select with one winner.
package countdown

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
)

// Outcome is how a timer left the counting state.
type Outcome int

const (
	Pending Outcome = iota
	Expired
	Interrupted
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Expired:
		return "expired"
	case Interrupted:
		return "interrupted"
	case Cancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// Phase is what the jump-in control should look like.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseCounting Phase = "counting"
	PhaseArmed    Phase = "armed"
)

// Result is the single resolution of a timer.
type Result struct {
	Outcome      Outcome
	Interjection string
}

// HasInterjection reports whether the user resumed with non-empty text.
func (r Result) HasInterjection() bool {
	return r.Outcome == Interrupted && r.Interjection != ""
}

const (
	stateRunning int32 = iota
	stateFinished
	stateCancelled
)

// Option configures a Timer before it starts.
type Option func(*Timer)

// WithTickInterval overrides the one-second tick. Non-positive values are ignored.
func WithTickInterval(d time.Duration) Option {
	return func(t *Timer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// OnTick registers a callback receiving the remaining seconds, once when
// counting begins and after every unpaused tick.
func OnTick(fn func(remaining int)) Option {
	return func(t *Timer) { t.onTick = fn }
}

// OnPhase registers a callback for jump-in control changes.
func OnPhase(fn func(Phase)) Option {
	return func(t *Timer) { t.onPhase = fn }
}

// OnComplete registers the completion callback. It fires at most once, from
// the timer goroutine, and never after Cancel has won.
func OnComplete(fn func(Result)) Option {
	return func(t *Timer) { t.onComplete = fn }
}

// Timer is a cancellable countdown with a two-phase jump-in control.
// Callbacks run on the timer goroutine and must not call back into the Timer.
type Timer struct {
	interval   time.Duration
	onTick     func(int)
	onPhase    func(Phase)
	onComplete func(Result)

	engage chan string
	cancel chan struct{}
	done   chan struct{}
	state  atomic.Int32
	result Result
}

// Start begins counting down from seconds (negative is treated as zero).
// Resolution always happens after at least one tick or an explicit resume.
func Start(seconds int, opts ...Option) *Timer {
	if seconds < 0 {
		seconds = 0
	}
	t := &Timer{
		interval: time.Second,
		engage:   make(chan string),
		cancel:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	go t.run(seconds)
	return t
}

func (t *Timer) run(remaining int) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.tick(remaining)
	t.phase(PhaseCounting)

	armed := false
	for {
		select {
		case <-t.cancel:
			return
		case text := <-t.engage:
			if !armed {
				armed = true
				t.phase(PhaseArmed)
				continue
			}
			t.finish(Result{Outcome: Interrupted, Interjection: strings.TrimSpace(text)})
			return
		case <-ticker.C:
			if armed {
				continue
			}
			remaining--
			if remaining < 0 {
				remaining = 0
			}
			t.tick(remaining)
			if remaining == 0 {
				t.finish(Result{Outcome: Expired})
				return
			}
		}
	}
}

func (t *Timer) finish(r Result) {
	if !t.state.CompareAndSwap(stateRunning, stateFinished) {
		return
	}
	t.result = r
	t.phase(PhaseIdle)
	if t.onComplete != nil {
		t.onComplete(r)
	}
}

func (t *Timer) tick(remaining int) {
	if t.onTick != nil && t.state.Load() == stateRunning {
		t.onTick(remaining)
	}
}

func (t *Timer) phase(p Phase) {
	if t.onPhase != nil {
		t.onPhase(p)
	}
}

// Engage is the jump-in toggle. The first call pauses the countdown and arms
// the input; the second resumes, capturing text as the interjection. It
// returns false once the timer has resolved or been cancelled.
func (t *Timer) Engage(text string) bool {
	select {
	case t.engage <- text:
		return true
	case <-t.done:
		return false
	}
}

// Cancel stops the timer without firing the completion callback. It reports
// whether the cancellation won against a concurrent resolution.
func (t *Timer) Cancel() bool {
	if !t.state.CompareAndSwap(stateRunning, stateCancelled) {
		return false
	}
	close(t.cancel)
	<-t.done
	return true
}

// Done is closed when the timer goroutine has exited.
func (t *Timer) Done() <-chan struct{} {
	return t.done
}

// Result returns the resolution; it is only meaningful after Done is closed.
func (t *Timer) Result() Result {
	select {
	case <-t.done:
	default:
		return Result{Outcome: Pending}
	}
	if t.state.Load() == stateCancelled {
		return Result{Outcome: Cancelled}
	}
	return t.result
}

// Wait blocks until the timer resolves. If ctx ends first the timer is
// cancelled and ctx's error returned.
func (t *Timer) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.Result(), nil
	case <-ctx.Done():
		t.Cancel()
		<-t.done
		// The timer may have resolved just before cancellation.
		if r := t.Result(); r.Outcome != Cancelled {
			return r, nil
		}
		return Result{Outcome: Cancelled}, ctx.Err()
	}
}
