package etc

import (
	"github.com/nrednav/cuid2"
)

// NewFreshID returns a collision-resistant id for sessions and envelopes.
func NewFreshID() string {
	return cuid2.Generate()
}
