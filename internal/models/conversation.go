package models

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle of a conversation session.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateReady      State = "ready"
	StateRunning    State = "running"
	StateFinished   State = "finished"
)

// Turn is one generated message. Turns are never modified once appended.
type Turn struct {
	Index        int       `json:"index"`
	Speaker      Persona   `json:"speaker"`
	Text         string    `json:"text"`
	Interjection string    `json:"interjection,omitempty"`
	Failed       bool      `json:"failed,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Conversation is the state of one run. Only the session's turn loop writes it.
type Conversation struct {
	ID           uuid.UUID  `json:"id"`
	Topic        string     `json:"topic"`
	Personas     [2]Persona `json:"personas"`
	TotalTurns   int        `json:"totalTurns"`
	DelaySeconds int        `json:"delaySeconds"`
	Turns        []Turn     `json:"turns"`
	Next         int        `json:"next"` // index into Personas
	StartedAt    time.Time  `json:"startedAt"`
}

// NewConversation returns a fresh conversation with persona A speaking first.
func NewConversation(a, b, topic string, totalTurns, delaySeconds int) *Conversation {
	return &Conversation{
		ID:    uuid.New(),
		Topic: topic,
		Personas: [2]Persona{
			{Name: a, Backend: BackendOpenAI},
			{Name: b, Backend: BackendClaude},
		},
		TotalTurns:   totalTurns,
		DelaySeconds: delaySeconds,
		Turns:        make([]Turn, 0, totalTurns),
		StartedAt:    time.Now(),
	}
}

// Current is the persona whose turn is next.
func (c *Conversation) Current() Persona { return c.Personas[c.Next] }

// Opponent is the persona waiting for the current one.
func (c *Conversation) Opponent() Persona { return c.Personas[1-c.Next] }

// LastText is the most recent turn's text, or "" before the first turn.
func (c *Conversation) LastText() string {
	if len(c.Turns) == 0 {
		return ""
	}
	return c.Turns[len(c.Turns)-1].Text
}

// Complete reports whether the turn budget is exhausted.
func (c *Conversation) Complete() bool { return len(c.Turns) >= c.TotalTurns }

// Append records a turn for the current persona and hands the floor over.
func (c *Conversation) Append(text, interjection string, failed bool) Turn {
	t := Turn{
		Index:        len(c.Turns),
		Speaker:      c.Current(),
		Text:         text,
		Interjection: interjection,
		Failed:       failed,
		Timestamp:    time.Now(),
	}
	c.Turns = append(c.Turns, t)
	c.Next = 1 - c.Next
	return t
}

// Snapshot copies the transcript so readers never share the backing array.
func (c *Conversation) Snapshot() []Turn {
	out := make([]Turn, len(c.Turns))
	copy(out, c.Turns)
	return out
}
