// Package uuid issues identifiers for update runs and fetch log rows.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 strings.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID v7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// RunID returns an identifier for one invocation, falling back to a random
// v4 UUID if the clock-based generator fails.
func (g Generator) RunID() string {
	if id, err := g.NewID(); err == nil {
		return id
	}
	return uuid.NewString()
}
