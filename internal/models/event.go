package models

import "time"

// EventType tags a server-to-browser event.
type EventType string

const (
	EventStatus     EventType = "status"
	EventValidation EventType = "validation"
	EventCountdown  EventType = "countdown"
	EventJump       EventType = "jump"
	EventTurn       EventType = "turn"
	EventActive     EventType = "active"
	EventFinished   EventType = "finished"
	EventSession    EventType = "session"
)

// StatusLevel colours the status line.
type StatusLevel string

const (
	LevelInfo  StatusLevel = "info"
	LevelError StatusLevel = "error"
)

type Event struct {
	Type       EventType      `json:"type"`
	Text       string         `json:"text,omitempty"`
	Level      StatusLevel    `json:"level,omitempty"`
	Remaining  *int           `json:"remaining,omitempty"`
	Phase      string         `json:"phase,omitempty"`
	Active     Backend        `json:"active,omitempty"`
	Turn       *Turn          `json:"turn,omitempty"`
	Transcript []Turn         `json:"transcript,omitempty"`
	Counts     map[string]int `json:"counts,omitempty"`
	State      State          `json:"state,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Command is a browser-to-server request on the session socket.
type Command struct {
	Type    string `json:"type"` // "validate", "start", "jump", "stop"
	ExpertA string `json:"expertA"`
	ExpertB string `json:"expertB"`
	Topic   string `json:"topic"`
	Turns   string `json:"turns"`
	Delay   string `json:"delay"`
	Text    string `json:"text"`
}
