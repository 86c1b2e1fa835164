package jobqueue

import (
	"time"

	vgbackoff "github.com/vgarvardt/backoff"
)

// ReconnectBackoff computes the delay before retrying a dropped peer dial.
// It wraps github.com/vgarvardt/backoff's exponential implementation — the
// same dependency the teacher library carries for job-retry backoff — but
// repurposed here for connection-retry backoff, since this spec's job model
// has no retry-with-backoff of its own: a domain DoWork failure deletes the
// job outright (spec.md §4.1), and re-running is the work author's job.
type ReconnectBackoff struct {
	inner vgbackoff.Backoff
}

// NewReconnectBackoff builds a ReconnectBackoff bounded between min and max.
func NewReconnectBackoff(min, max time.Duration) *ReconnectBackoff {
	return &ReconnectBackoff{inner: vgbackoff.NewExponentialBackoff(min, max, 2, 0.2)}
}

// Next returns the delay to wait before the given retry attempt (0-based).
func (b *ReconnectBackoff) Next(attempt int) time.Duration {
	return b.inner.Backoff(attempt)
}
