package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks ranges and cross-field constraints
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Server.Addr) == "" {
		problems = append(problems, "server.addr must not be empty")
	}
	if c.Conversation.MaxTurns < 1 {
		problems = append(problems, "conversation.max_turns must be at least 1")
	}
	if c.Conversation.DefaultTurns < 1 || c.Conversation.DefaultTurns > c.Conversation.MaxTurns {
		problems = append(problems, fmt.Sprintf("conversation.default_turns must be between 1 and %d", c.Conversation.MaxTurns))
	}
	if c.Conversation.MaxDelaySeconds < 0 {
		problems = append(problems, "conversation.max_delay_seconds must not be negative")
	}
	if c.Conversation.DefaultDelaySeconds < 0 || c.Conversation.DefaultDelaySeconds > c.Conversation.MaxDelaySeconds {
		problems = append(problems, fmt.Sprintf("conversation.default_delay_seconds must be between 0 and %d", c.Conversation.MaxDelaySeconds))
	}
	if c.Conversation.TickInterval <= 0 {
		problems = append(problems, "conversation.tick_interval must be positive")
	}
	if c.Conversation.BackendTimeout < 0 {
		problems = append(problems, "conversation.backend_timeout must not be negative")
	}
	for name, b := range map[string]BackendConfig{"openai": c.OpenAI, "claude": c.Claude} {
		if b.Temperature < 0 || b.Temperature > 2 {
			problems = append(problems, name+".temperature must be between 0 and 2")
		}
		if b.MaxRetries < 0 {
			problems = append(problems, name+".max_retries must not be negative")
		}
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		problems = append(problems, "logging.level must be one of debug, info, warn, error")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
