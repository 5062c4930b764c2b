package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/latestcomment/expert-dialogue/internal/countdown"
	"github.com/latestcomment/expert-dialogue/internal/logging"
	"github.com/latestcomment/expert-dialogue/internal/models"
	"github.com/latestcomment/expert-dialogue/internal/prompt"
	"github.com/latestcomment/expert-dialogue/internal/scholar"
)

// User-facing status lines.
const (
	StatusEnterExperts   = "Please enter both experts."
	StatusValidating     = "Validating experts..."
	StatusValidated      = "Experts validated. You can start the conversation."
	StatusNoPublications = "One or both experts have no published papers."
	StatusValidationErr  = "Validation failed."
	StatusFillFields     = "Please fill in experts and topic."
	StatusNotValidated   = "Please validate the experts first."
	StatusRunning        = "Conversation running..."
	StatusFinished       = "Conversation finished."
	StatusStopped        = "Conversation stopped."
)

var (
	ErrMissingFields   = errors.New("missing required field")
	ErrNotValidated    = errors.New("experts not validated")
	ErrNoPublications  = errors.New("expert has no published papers")
	ErrAlreadyRunning  = errors.New("conversation already running")
	ErrBusy            = errors.New("validation in progress")
	ErrOutOfRange      = errors.New("value out of range")
	ErrInvalidNumber   = errors.New("not a whole number")
	ErrSessionNotFound = errors.New("session not found")
)

// Generator dispatches a prompt to the backend bound to a persona.
type Generator interface {
	Generate(ctx context.Context, backend models.Backend, prompt string) (string, error)
}

// Validator checks that both expert names are published authors.
type Validator interface {
	Validate(ctx context.Context, expertA, expertB string) (scholar.Result, error)
}

// Sink renders a session's events. Publish may be called from the turn loop
// and the countdown goroutine, so implementations serialise their writes.
type Sink interface {
	Publish(ev models.Event) error
}

type nopSink struct{}

func (nopSink) Publish(models.Event) error { return nil }

// Settings bound the inputs of a run.
type Settings struct {
	DefaultTurns        int
	DefaultDelaySeconds int
	MaxTurns            int
	MaxDelaySeconds     int
	TickInterval        time.Duration
	BackendTimeout      time.Duration
}

// Session owns one conversation's lifecycle: validation, the alternating
// turn loop, the jump-in window and stopping. Conversation state is written
// only by the session's run goroutine; other callers read snapshots.
type Session struct {
	ID uuid.UUID

	gen      Generator
	val      Validator
	sink     Sink
	settings Settings
	logger   *zap.Logger

	mu        sync.Mutex
	state     models.State
	validated [2]string
	conv      *models.Conversation
	timer     *countdown.Timer
	cancel    context.CancelFunc
	done      chan struct{}
	active    models.Backend
}

func NewSession(gen Generator, val Validator, sink Sink, settings Settings, logger *zap.Logger) *Session {
	if sink == nil {
		sink = nopSink{}
	}
	if settings.TickInterval <= 0 {
		settings.TickInterval = time.Second
	}
	id := uuid.New()
	return &Session{
		ID:       id,
		gen:      gen,
		val:      val,
		sink:     sink,
		settings: settings,
		logger:   logging.Session(logger, id.String()),
		state:    models.StateIdle,
	}
}

// State returns the lifecycle state.
func (s *Session) State() models.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether a turn loop is active.
func (s *Session) IsRunning() bool {
	return s.State() == models.StateRunning
}

// Active is the backend currently generating or last dispatched in this run.
func (s *Session) Active() models.Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Transcript returns a copy of the recorded turns of the current or last run.
func (s *Session) Transcript() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return nil
	}
	return s.conv.Snapshot()
}

// Done is closed when the current run's loop has exited. It is nil before
// the first Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Validate checks both names against the publication search and unlocks
// Start on success.
func (s *Session) Validate(ctx context.Context, expertA, expertB string) (scholar.Result, error) {
	expertA, expertB = strings.TrimSpace(expertA), strings.TrimSpace(expertB)
	if expertA == "" || expertB == "" {
		s.status(StatusEnterExperts, models.LevelError)
		return scholar.Result{}, ErrMissingFields
	}

	s.mu.Lock()
	switch s.state {
	case models.StateRunning:
		s.mu.Unlock()
		return scholar.Result{}, ErrAlreadyRunning
	case models.StateValidating:
		s.mu.Unlock()
		return scholar.Result{}, ErrBusy
	}
	s.state = models.StateValidating
	s.validated = [2]string{}
	s.mu.Unlock()
	s.status(StatusValidating, models.LevelInfo)

	res, err := s.val.Validate(ctx, expertA, expertB)
	if err != nil {
		s.setState(models.StateIdle)
		s.logger.Warn("expert validation failed", zap.Error(err))
		s.status(StatusValidationErr, models.LevelError)
		return scholar.Result{}, fmt.Errorf("validate experts: %w", err)
	}

	s.publish(models.Event{Type: models.EventValidation, Counts: res.Details()})
	if !res.Valid() {
		s.setState(models.StateIdle)
		s.status(StatusNoPublications+" "+formatCounts(res), models.LevelError)
		return res, fmt.Errorf("%w: %s", ErrNoPublications, strings.Join(res.Rejected(), ", "))
	}

	s.mu.Lock()
	s.state = models.StateReady
	s.validated = [2]string{expertA, expertB}
	s.mu.Unlock()
	s.status(StatusValidated, models.LevelInfo)
	return res, nil
}

func formatCounts(res scholar.Result) string {
	parts := make([]string, 0, len(res.Experts))
	for _, e := range res.Experts {
		parts = append(parts, fmt.Sprintf("%s: %d", e.Name, e.Count))
	}
	sort.Strings(parts)
	return "(" + strings.Join(parts, ", ") + ")"
}

// Start launches a run for the validated pair. Turn 0 is generated
// immediately by expert A; every later turn waits out the jump-in window.
func (s *Session) Start(expertA, expertB, topic string, totalTurns, delaySeconds int) error {
	expertA, expertB, topic = strings.TrimSpace(expertA), strings.TrimSpace(expertB), strings.TrimSpace(topic)
	if expertA == "" || expertB == "" || topic == "" {
		s.status(StatusFillFields, models.LevelError)
		return ErrMissingFields
	}
	if err := s.checkBounds(totalTurns, delaySeconds); err != nil {
		s.status(err.Error(), models.LevelError)
		return err
	}

	s.mu.Lock()
	if s.state == models.StateRunning {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	prev := s.done
	s.mu.Unlock()

	// The previous loop publishes its closing events after the state flips
	// to finished; they must not interleave with the new run's.
	if prev != nil {
		<-prev
	}

	s.mu.Lock()
	if s.state == models.StateRunning {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ready :=s.state == models.StateReady || s.state == models.StateFinished
	if !ready || s.validated != [2]string{expertA, expertB} {
		s.mu.Unlock()
		s.status(StatusNotValidated, models.LevelError)
		return ErrNotValidated
	}

	ctx, cancel := context.WithCancel(context.Background())
	conv := models.NewConversation(expertA, expertB, topic, totalTurns, delaySeconds)
	done := make(chan struct{})
	s.conv = conv
	s.cancel = cancel
	s.done = done
	s.timer = nil
	s.active = ""
	s.state = models.StateRunning
	s.mu.Unlock()

	s.logger.Info("conversation started",
		zap.String("conversation", conv.ID.String()),
		zap.String("expert_a", expertA),
		zap.String("expert_b", expertB),
		zap.String("topic", topic),
		zap.Int("turns", totalTurns),
		zap.Int("delay_seconds", delaySeconds))
	s.status(StatusRunning, models.LevelInfo)

	go s.run(ctx, conv, done)
	return nil
}

func (s *Session) checkBounds(totalTurns, delaySeconds int) error {
	maxTurns, maxDelay := s.settings.MaxTurns, s.settings.MaxDelaySeconds
	switch {
	case totalTurns < 1 && maxTurns <= 0:
		return fmt.Errorf("%w: turns must be at least 1", ErrOutOfRange)
	case totalTurns < 1 || (maxTurns > 0 && totalTurns > maxTurns):
		return fmt.Errorf("%w: turns must be between 1 and %d", ErrOutOfRange, maxTurns)
	case delaySeconds < 0 && maxDelay <= 0:
		return fmt.Errorf("%w: delay must not be negative", ErrOutOfRange)
	case delaySeconds < 0 || (maxDelay > 0 && delaySeconds > maxDelay):
		return fmt.Errorf("%w: delay must be between 0 and %d seconds", ErrOutOfRange, maxDelay)
	}
	return nil
}

// Stop ends a running conversation: the jump-in window is cancelled without
// completing, no further backend call is made and recorded turns are kept.
// It returns once the turn loop has exited.
func (s *Session) Stop() bool {
	s.mu.Lock()
	if s.state != models.StateRunning {
		s.mu.Unlock()
		return false
	}
	s.cancel()
	timer, done := s.timer, s.done
	s.mu.Unlock()

	if timer != nil {
		timer.Cancel()
	}
	<-done
	return true
}

// JumpIn drives the two-phase jump-in control of the open delay window:
// the first call pauses the countdown, the second resumes with text.
func (s *Session) JumpIn(text string) bool {
	s.mu.Lock()
	timer := s.timer
	s.mu.Unlock()
	if timer == nil {
		return false
	}
	return timer.Engage(text)
}

func (s *Session) run(ctx context.Context, conv *models.Conversation, done chan struct{}) {
	defer close(done)
	defer s.finish(ctx, conv)

	for !conv.Complete() {
		role := prompt.RoleInitial
		var interjection string
		if len(conv.Turns) > 0 {
			role = prompt.RoleReply
			res, err := s.delay(ctx, conv.DelaySeconds)
			if err != nil {
				return
			}
			if res.HasInterjection() {
				interjection = res.Interjection
			}
		}

		speaker, opponent := conv.Current(), conv.Opponent()
		p := prompt.Build(prompt.Params{
			Persona:      speaker.Name,
			Opponent:     opponent.Name,
			Role:         role,
			Topic:        conv.Topic,
			LastMessage:  conv.LastText(),
			Interjection: interjection,
		})

		s.setActive(speaker.Backend)
		text, failed := s.generate(ctx, speaker.Backend, p)
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		turn := conv.Append(text, interjection, failed)
		transcript := conv.Snapshot()
		s.mu.Unlock()

		s.logger.Debug("turn recorded",
			zap.Int("index", turn.Index),
			zap.String("speaker", turn.Speaker.Name),
			zap.String("backend", string(turn.Speaker.Backend)),
			zap.Bool("interjection", interjection != ""),
			zap.Bool("failed", failed))
		s.publish(models.Event{Type: models.EventTurn, Turn: &turn, Transcript: transcript})
	}
}

// delay runs one jump-in window and exposes its timer to JumpIn and Stop.
func (s *Session) delay(ctx context.Context, seconds int) (countdown.Result, error) {
	timer := countdown.Start(seconds,
		countdown.WithTickInterval(s.settings.TickInterval),
		countdown.OnTick(func(remaining int) {
			r := remaining
			s.publish(models.Event{
				Type:      models.EventCountdown,
				Text:      fmt.Sprintf("Next in: %ds", remaining),
				Remaining: &r,
			})
		}),
		countdown.OnPhase(func(p countdown.Phase) {
			s.publish(models.Event{Type: models.EventJump, Phase: string(p)})
		}),
	)

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		timer.Cancel()
		return countdown.Result{Outcome: countdown.Cancelled}, ctx.Err()
	}
	s.timer = timer
	s.mu.Unlock()

	res, err := timer.Wait(ctx)

	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()
	s.publish(models.Event{Type: models.EventCountdown})

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil {
		s.logger.Debug("delay window closed",
			zap.String("outcome", res.Outcome.String()),
			zap.Bool("interjection", res.HasInterjection()))
	}
	return res, err
}

// generate never fails the run: an error becomes an empty, flagged turn.
func (s *Session) generate(ctx context.Context, backend models.Backend, p string) (string, bool) {
	callCtx := ctx
	if s.settings.BackendTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.settings.BackendTimeout)
		defer cancel()
	}

	started := time.Now()
	text, err := s.gen.Generate(callCtx, backend, p)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("backend call failed, recording empty turn",
				zap.String("backend", string(backend)),
				zap.Duration("elapsed", time.Since(started)),
				zap.Error(err))
		}
		return "", true
	}
	return text, false
}

func (s *Session) finish(ctx context.Context, conv *models.Conversation) {
	stopped := ctx.Err() != nil

	s.mu.Lock()
	s.state = models.StateFinished
	s.timer = nil
	s.active = ""
	s.cancel()
	transcript := conv.Snapshot()
	s.mu.Unlock()

	s.publish(models.Event{Type: models.EventActive})
	s.publish(models.Event{Type: models.EventJump, Phase: string(countdown.PhaseIdle)})
	s.publish(models.Event{Type: models.EventCountdown})

	msg := StatusFinished
	if stopped {
		msg = StatusStopped
	}
	s.logger.Info("conversation ended",
		zap.String("conversation", conv.ID.String()),
		zap.Int("turns", len(transcript)),
		zap.Bool("stopped", stopped))
	s.status(msg, models.LevelInfo)
	s.publish(models.Event{Type: models.EventFinished, Transcript: transcript})
}

func (s *Session) setActive(b models.Backend) {
	s.mu.Lock()
	s.active = b
	s.mu.Unlock()
	s.publish(models.Event{Type: models.EventActive, Active: b})
}

func (s *Session) setState(st models.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) status(text string, level models.StatusLevel) {
	s.publish(models.Event{Type: models.EventStatus, Text: text, Level: level, State: s.State()})
}

func (s *Session) publish(ev models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if err := s.sink.Publish(ev); err != nil {
		s.logger.Debug("publish failed", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}
