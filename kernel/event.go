package kernel

import (
	"time"

	"github.com/toka-systems/toka/ids"
)

// KernelEvent is the immutable record produced by Reduce for every accepted
// operation. It carries the same shape as the originating Operation plus a
// UTC timestamp and a monotonic per-kernel sequence number (§3).
type KernelEvent struct {
	Kind      OperationKind
	Sequence  uint64
	Timestamp time.Time

	Operation Operation

	// OverflowWarning is set when a ReportResource operation saturated a
	// counter instead of failing (§4.4 numeric semantics).
	OverflowWarning bool
}

// Clock abstracts the monotonic time source Reduce reads from. Implementers
// must return non-decreasing values within a single kernel so that
// KernelEvent.Timestamp is monotonically non-decreasing (I5, P1).
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock backed by time.Now, adjusted to never
// return an earlier instant than the previous call.
type SystemClock struct {
	last time.Time
}

// Now returns the current time, clamped to be no earlier than the previous
// call's result.
func (c *SystemClock) Now() time.Time {
	now := time.Now().UTC()
	if !c.last.IsZero() && now.Before(c.last) {
		now = c.last
	}
	c.last = now
	return now
}

// NewSystemClock returns a ready-to-use SystemClock.
func NewSystemClock() *SystemClock { return &SystemClock{} }
