package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/latestcomment/expert-dialogue/internal/models"
	"github.com/latestcomment/expert-dialogue/internal/prompt"
	"github.com/latestcomment/expert-dialogue/internal/scholar"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	backend models.Backend
	prompt  string
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []call
	fail  map[int]error
	block bool
}

func (f *fakeGenerator) Generate(ctx context.Context, backend models.Backend, p string) (string, error) {
	f.mu.Lock()
	idx := len(f.calls)
	f.calls = append(f.calls, call{backend: backend, prompt: p})
	block := f.block
	err := f.fail[idx]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("reply %d from %s", idx, backend), nil
}

func (f *fakeGenerator) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeValidator map[string]int

func (f fakeValidator) Validate(_ context.Context, a, b string) (scholar.Result, error) {
	return scholar.Result{Experts: [2]scholar.ExpertCount{{Name: a, Count: f[a]}, {Name: b, Count: f[b]}}}, nil
}

type failingValidator struct{}

func (failingValidator) Validate(context.Context, string, string) (scholar.Result, error) {
	return scholar.Result{}, errors.New("search down")
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingSink) Publish(ev models.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Type == models.EventStatus {
			out = append(out, ev.Text)
		}
	}
	return out
}

func (r *recordingSink) count(t models.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

var published = fakeValidator{"Ada": 5, "Bob": 7}

func testSettings(tick time.Duration) Settings {
	return Settings{
		DefaultTurns:        10,
		DefaultDelaySeconds: 5,
		MaxTurns:            50,
		MaxDelaySeconds:     300,
		TickInterval:        tick,
	}
}

func newValidatedSession(t *testing.T, gen Generator, tick time.Duration) (*Session, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	sess := NewSession(gen, published, sink, testSettings(tick), zap.NewNop())
	_, err := sess.Validate(context.Background(), "Ada", "Bob")
	require.NoError(t, err)
	require.Equal(t, models.StateReady, sess.State())
	return sess, sink
}

func waitDone(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("conversation did not finish")
	}
}

func TestSession_ThreeTurnScenario(t *testing.T) {
	gen := &fakeGenerator{}
	sess, sink := newValidatedSession(t, gen, 2*time.Millisecond)

	require.NoError(t, sess.Start("Ada", "Bob", "T", 3, 0))
	waitDone(t, sess)

	turns := sess.Transcript()
	require.Len(t, turns, 3)
	assert.Equal(t, models.Persona{Name: "Ada", Backend: models.BackendOpenAI}, turns[0].Speaker)
	assert.Equal(t, models.Persona{Name: "Bob", Backend: models.BackendClaude}, turns[1].Speaker)
	assert.Equal(t, models.Persona{Name: "Ada", Backend: models.BackendOpenAI}, turns[2].Speaker)
	for i, turn := range turns {
		assert.Equal(t, i, turn.Index)
	}

	calls := gen.snapshot()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[0].prompt, "Begin the discussion by:")
	assert.Contains(t, calls[0].prompt, prompt.NoPreviousMessage)
	assert.Contains(t, calls[0].prompt, "You are impersonating the expert: Ada.")
	assert.Contains(t, calls[1].prompt, "You are impersonating the expert: Bob.")
	assert.Contains(t, calls[1].prompt, "Respond now")
	assert.Contains(t, calls[1].prompt, turns[0].Text)
	assert.Contains(t, calls[2].prompt, turns[1].Text)

	assert.Equal(t, models.StateFinished, sess.State())
	assert.False(t, sess.IsRunning())
	assert.Equal(t, models.Backend(""), sess.Active())
	assert.Contains(t, sink.statuses(), StatusRunning)
	assert.Equal(t, StatusFinished, sink.statuses()[len(sink.statuses())-1])
	assert.Equal(t, 1, sink.count(models.EventFinished))
}

func TestSession_StrictAlternation(t *testing.T) {
	for total := 1; total <= 6; total++ {
		t.Run(fmt.Sprintf("turns=%d", total), func(t *testing.T) {
			gen := &fakeGenerator{}
			sess, _ := newValidatedSession(t, gen, time.Millisecond)

			require.NoError(t, sess.Start("Ada", "Bob", "T", total, 0))
			waitDone(t, sess)

			turns := sess.Transcript()
			require.Len(t, turns, total)
			assert.Equal(t, "Ada", turns[0].Speaker.Name)
			for i := 1; i < len(turns); i++ {
				assert.NotEqual(t, turns[i-1].Speaker, turns[i].Speaker)
			}
			for i, turn := range turns {
				want := models.BackendOpenAI
				if i%2 == 1 {
					want = models.BackendClaude
				}
				assert.Equal(t, want, turn.Speaker.Backend, "turn %d", i)
			}
			for i, c := range gen.snapshot() {
				assert.Equal(t, turns[i].Speaker.Backend, c.backend)
			}
		})
	}
}

func TestSession_InterjectionIsSingleUse(t *testing.T) {
	gen := &fakeGenerator{}
	sess, _ := newValidatedSession(t, gen, time.Second)

	require.NoError(t, sess.Start("Ada", "Bob", "T", 3, 30))

	// Delay before turn 1: arm, then resume with a question.
	require.Eventually(t, func() bool { return sess.JumpIn("") }, 3*time.Second, 5*time.Millisecond)
	require.True(t, sess.JumpIn("  What about replication?  "))

	// Delay before turn 2: arm and resume with nothing.
	require.Eventually(t, func() bool { return len(sess.Transcript()) == 2 }, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return sess.JumpIn("") }, 3*time.Second, 5*time.Millisecond)
	require.True(t, sess.JumpIn(""))

	waitDone(t, sess)

	calls := gen.snapshot()
	require.Len(t, calls, 3)
	assert.NotContains(t, calls[0].prompt, "The user adds")
	assert.Contains(t, calls[1].prompt, "The user adds")
	assert.Contains(t, calls[1].prompt, `"What about replication?"`)
	assert.NotContains(t, calls[2].prompt, "The user adds")
	assert.NotContains(t, calls[2].prompt, "replication")

	turns := sess.Transcript()
	assert.Equal(t, "What about replication?", turns[1].Interjection)
	assert.Empty(t, turns[2].Interjection)
}

func TestSession_StopMidDelay(t *testing.T) {
	gen := &fakeGenerator{}
	sess, sink := newValidatedSession(t, gen, time.Second)

	require.NoError(t, sess.Start("Ada", "Bob", "T", 5, 60))
	require.Eventually(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.timer != nil
	}, 3*time.Second, 5*time.Millisecond)
	before := sess.Transcript()
	require.Len(t, before, 1)

	assert.True(t, sess.Stop())
	assert.False(t, sess.Stop(), "stopping twice is a no-op")
	waitDone(t, sess)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, sess.Transcript())
	assert.Len(t, gen.snapshot(), 1)
	assert.Equal(t, models.StateFinished, sess.State())
	assert.False(t, sess.JumpIn("late"))
	assert.Contains(t, sink.statuses(), StatusStopped)
}

func TestSession_StopDuringGenerationDiscardsTurn(t *testing.T) {
	gen := &fakeGenerator{block: true}
	sess, _ := newValidatedSession(t, gen, time.Millisecond)

	require.NoError(t, sess.Start("Ada", "Bob", "T", 3, 0))
	require.Eventually(t, func() bool { return len(gen.snapshot()) == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.BackendOpenAI, sess.Active())

	require.True(t, sess.Stop())
	assert.Empty(t, sess.Transcript())
	assert.Len(t, gen.snapshot(), 1)
}

func TestSession_BackendErrorRecordsEmptyTurn(t *testing.T) {
	gen := &fakeGenerator{fail: map[int]error{0: errors.New("openai: 500")}}
	sess, _ := newValidatedSession(t, gen, time.Millisecond)

	require.NoError(t, sess.Start("Ada", "Bob", "T", 2, 0))
	waitDone(t, sess)

	turns := sess.Transcript()
	require.Len(t, turns, 2)
	assert.Equal(t, "", turns[0].Text)
	assert.True(t, turns[0].Failed)
	assert.Equal(t, "Bob", turns[1].Speaker.Name)
	assert.False(t, turns[1].Failed)
	assert.NotEmpty(t, turns[1].Text)

	calls := gen.snapshot()
	assert.Contains(t, calls[1].prompt, prompt.NoPreviousMessage)
	assert.Contains(t, calls[1].prompt, "Respond now")
}

func TestSession_BackendTimeout(t *testing.T) {
	gen := &fakeGenerator{block: true}
	settings := testSettings(time.Millisecond)
	settings.BackendTimeout = 10 * time.Millisecond
	sess := NewSession(gen, published, nil, settings, nil)
	_, err := sess.Validate(context.Background(), "Ada", "Bob")
	require.NoError(t, err)

	require.NoError(t, sess.Start("Ada", "Bob", "T", 2, 0))
	waitDone(t, sess)

	turns := sess.Transcript()
	require.Len(t, turns, 2)
	assert.True(t, turns[0].Failed)
	assert.True(t, turns[1].Failed)
}

func TestSession_ValidationZeroCountBlocksStart(t *testing.T) {
	sink := &recordingSink{}
	sess := NewSession(&fakeGenerator{}, fakeValidator{"Ada": 3}, sink, testSettings(time.Millisecond), nil)

	res, err := sess.Validate(context.Background(), "Ada", "Bob")
	require.ErrorIs(t, err, ErrNoPublications)
	assert.Equal(t, []string{"Bob"}, res.Rejected())
	assert.Equal(t, models.StateIdle, sess.State())

	statuses := sink.statuses()
	last := statuses[len(statuses)-1]
	assert.True(t, strings.HasPrefix(last, StatusNoPublications), last)
	assert.Contains(t, last, "Bob: 0")
	assert.Equal(t, 1, sink.count(models.EventValidation))

	require.ErrorIs(t, sess.Start("Ada", "Bob", "T", 3, 0), ErrNotValidated)
	assert.Nil(t, sess.Done())
}

func TestSession_ValidationGatewayError(t *testing.T) {
	sink := &recordingSink{}
	sess := NewSession(&fakeGenerator{}, failingValidator{}, sink, testSettings(time.Millisecond), nil)

	_, err := sess.Validate(context.Background(), "Ada", "Bob")
	require.Error(t, err)
	assert.Equal(t, models.StateIdle, sess.State())
	assert.Contains(t, sink.statuses(), StatusValidationErr)
}

func TestSession_InputErrors(t *testing.T) {
	sink := &recordingSink{}
	sess := NewSession(&fakeGenerator{}, published, sink, testSettings(time.Millisecond), nil)

	_, err := sess.Validate(context.Background(), "Ada", "  ")
	require.ErrorIs(t, err, ErrMissingFields)
	assert.Equal(t, models.StateIdle, sess.State())
	assert.Contains(t, sink.statuses(), StatusEnterExperts)

	require.ErrorIs(t, sess.Start("Ada", "Bob", "", 3, 0), ErrMissingFields)
	assert.Contains(t, sink.statuses(), StatusFillFields)

	require.ErrorIs(t, sess.Start("Ada", "Bob", "T", 3, 0), ErrNotValidated)

	_, err = sess.Validate(context.Background(), "Ada", "Bob")
	require.NoError(t, err)
	require.ErrorIs(t, sess.Start("Ada", "Carol", "T", 3, 0), ErrNotValidated, "names changed since validation")
	require.ErrorIs(t, sess.Start("Ada", "Bob", "T", 0, 0), ErrOutOfRange)
	require.ErrorIs(t, sess.Start("Ada", "Bob", "T", 51, 0), ErrOutOfRange)
	require.ErrorIs(t, sess.Start("Ada", "Bob", "T", 3, -1), ErrOutOfRange)
	require.ErrorIs(t, sess.Start("Ada", "Bob", "T", 3, 301), ErrOutOfRange)
	assert.Equal(t, models.StateReady, sess.State())
}

func TestSession_RejectsWhileRunningAndRestartsAfterFinish(t *testing.T) {
	gen := &fakeGenerator{}
	sess, _ := newValidatedSession(t, gen, time.Second)

	require.NoError(t, sess.Start("Ada", "Bob", "T", 3, 60))
	require.ErrorIs(t, sess.Start("Ada", "Bob", "T", 3, 60), ErrAlreadyRunning)
	_, err := sess.Validate(context.Background(), "Ada", "Bob")
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.True(t, sess.Stop())

	require.NoError(t, sess.Start("Ada", "Bob", "U", 1, 0))
	waitDone(t, sess)
	turns := sess.Transcript()
	require.Len(t, turns, 1, "a new run resets the transcript")
	assert.Equal(t, "Ada", turns[0].Speaker.Name)
}

// slowSink delays every write the way a congested socket would.
type slowSink struct {
	recordingSink
	delay time.Duration
}

func (s *slowSink) Publish(ev models.Event) error {
	time.Sleep(s.delay)
	return s.recordingSink.Publish(ev)
}

func TestSession_RestartAfterFinishKeepsRunsApart(t *testing.T) {
	sink := &slowSink{delay: 2 * time.Millisecond}
	sess := NewSession(&fakeGenerator{}, published, sink, testSettings(time.Millisecond), zap.NewNop())
	_, err := sess.Validate(context.Background(), "Ada", "Bob")
	require.NoError(t, err)

	require.NoError(t, sess.Start("Ada", "Bob", "T", 1, 0))
	require.Eventually(t, func() bool {
		return sess.State() == models.StateFinished
	}, 5*time.Second, 100*time.Microsecond)
	require.NoError(t, sess.Start("Ada", "Bob", "U", 1, 0))
	waitDone(t, sess)

	sink.mu.Lock()
	events := append([]models.Event(nil), sink.events...)
	sink.mu.Unlock()

	second := -1
	for i, ev := range events {
		if ev.Type == models.EventStatus && ev.Text == StatusRunning {
			second = i
		}
	}
	require.Positive(t, second)
	first, rest := events[:second], events[second:]

	count := func(evs []models.Event, typ models.EventType) int {
		n := 0
		for _, ev := range evs {
			if ev.Type == typ {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, count(first, models.EventFinished), "first run closes before the second starts")
	assert.Equal(t, 1, count(rest, models.EventFinished))

	for _, ev := range rest {
		if ev.Type == models.EventActive {
			assert.Equal(t, models.BackendOpenAI, ev.Active, "no stale clear of the active backend")
			break
		}
	}

	last := events[len(events)-1]
	require.Equal(t, models.EventFinished, last.Type)
	require.Len(t, last.Transcript, 1)
	assert.Equal(t, "reply 1 from openai", last.Transcript[0].Text)
}

func TestSession_BoundsMessageWithoutLimits(t *testing.T) {
	settings := testSettings(time.Millisecond)
	settings.MaxTurns, settings.MaxDelaySeconds = 0, 0
	sess := NewSession(&fakeGenerator{}, published, nil, settings, nil)

	err := sess.checkBounds(0, 0)
	require.ErrorIs(t, err, ErrOutOfRange)
	assert.Contains(t, err.Error(), "turns must be at least 1")

	err = sess.checkBounds(1, -1)
	require.ErrorIs(t, err, ErrOutOfRange)
	assert.Contains(t, err.Error(), "delay must not be negative")

	require.NoError(t, sess.checkBounds(500, 5000))

	sess = NewSession(&fakeGenerator{}, published, nil, testSettings(time.Millisecond), nil)
	assert.Contains(t, sess.checkBounds(51, 0).Error(), "between 1 and 50")
}

func TestSession_CountdownEvents(t *testing.T) {
	gen := &fakeGenerator{}
	sess, sink := newValidatedSession(t, gen, 2*time.Millisecond)

	require.NoError(t, sess.Start("Ada", "Bob", "T", 2, 2))
	waitDone(t, sess)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	var texts []string
	for _, ev := range sink.events {
		if ev.Type == models.EventCountdown && ev.Remaining != nil {
			texts = append(texts, ev.Text)
		}
	}
	assert.Equal(t, []string{"Next in: 2s", "Next in: 1s", "Next in: 0s"}, texts)
}

func TestSettings_Parse(t *testing.T) {
	st := testSettings(time.Second)

	n, err := st.ParseTurns("")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	n, err = st.ParseTurns("0")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	n, err = st.ParseTurns(" 4 ")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	_, err = st.ParseTurns("four")
	require.ErrorIs(t, err, ErrInvalidNumber)

	d, err := st.ParseDelay("")
	require.NoError(t, err)
	assert.Equal(t, 5, d)
	d, err = st.ParseDelay("0")
	require.NoError(t, err)
	assert.Equal(t, 0, d)
	_, err = st.ParseDelay("1.5")
	require.ErrorIs(t, err, ErrInvalidNumber)
}

func TestSessionService_Lifecycle(t *testing.T) {
	svc := NewSessionService(&fakeGenerator{}, published, testSettings(time.Second), nil)

	sess := svc.CreateSession(nil)
	got, err := svc.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	_, err = sess.Validate(context.Background(), "Ada", "Bob")
	require.NoError(t, err)
	require.NoError(t, sess.Start("Ada", "Bob", "T", 3, 60))

	svc.RemoveSession(sess.ID)
	assert.False(t, sess.IsRunning())
	_, err = svc.GetSession(sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	other := svc.CreateSession(nil)
	_, err = other.Validate(context.Background(), "Ada", "Bob")
	require.NoError(t, err)
	require.NoError(t, other.Start("Ada", "Bob", "T", 3, 60))
	svc.Shutdown()
	assert.False(t, other.IsRunning())
}
