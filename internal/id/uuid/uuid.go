// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/prowlkit/prowl/internal/scrape"
)

// Generator creates UUID v7 strings. V7 IDs sort by creation time, which
// keeps session and frontier keys roughly chronological in the stores.
type Generator struct{}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

var _ scrape.IDGenerator = Generator{}
