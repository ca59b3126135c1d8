// Package besteffort centralizes the "never fail the primary operation"
// wrapper used for event emission and timeline appends. Failures are logged
// and counted so operators can see them on /health instead of the errors
// being swallowed silently at call sites.
package besteffort

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/logger"
)

// Counter counts best-effort failures.
type Counter struct {
	failures atomic.Int64
}

// NewCounter returns a zeroed counter.
func NewCounter() *Counter {
	return &Counter{}
}

// Do runs fn; on error it logs at warn and increments the counter.
func (c *Counter) Do(log *logger.Logger, op string, fn func() error) {
	if err := fn(); err != nil {
		c.failures.Add(1)
		log.Warn("best-effort operation failed",
			zap.String("op", op),
			zap.Error(err))
	}
}

// Failures returns the number of failures observed so far.
func (c *Counter) Failures() int64 {
	return c.failures.Load()
}
