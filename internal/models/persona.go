package models

// Backend identifies which text-generation endpoint impersonates a persona.
type Backend string

const (
	BackendOpenAI Backend = "openai"
	BackendClaude Backend = "claude"
)

// Persona is one simulated expert bound to one backend for a whole run.
type Persona struct {
	Name    string  `json:"name"`
	Backend Backend `json:"backend"`
}
