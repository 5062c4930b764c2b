// Package gateway wraps the two chat-completion vendors that impersonate the
// experts. Each backend takes one opaque prompt and returns generated text.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/latestcomment/expert-dialogue/internal/models"
)

var (
	// ErrMissingAPIKey means the backend has no credential configured.
	ErrMissingAPIKey = errors.New("api key not configured")
	// ErrUnknownBackend is returned for a backend id outside the fixed pair.
	ErrUnknownBackend = errors.New("unknown backend")
)

// Backend generates text for a single prompt.
type Backend interface {
	ID() models.Backend
	Generate(ctx context.Context, prompt string) (string, error)
}

// Set routes a persona's backend id to its implementation.
type Set map[models.Backend]Backend

// NewSet indexes backends by their id.
func NewSet(backends ...Backend) Set {
	s := make(Set, len(backends))
	for _, b := range backends {
		if b != nil {
			s[b.ID()] = b
		}
	}
	return s
}

// Generate dispatches prompt to the backend registered for id.
func (s Set) Generate(ctx context.Context, id models.Backend, prompt string) (string, error) {
	b, ok := s[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}
	return b.Generate(ctx, prompt)
}
