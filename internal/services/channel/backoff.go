package channel

import "time"

const (
	// DefaultReconnectInitial is the first reconnect delay.
	DefaultReconnectInitial = 1500 * time.Millisecond
	// DefaultReconnectMax caps the reconnect delay.
	DefaultReconnectMax = 5 * time.Minute
)

// Backoff yields exponentially growing reconnect delays: Initial, then
// doubling on every call up to Max. Reset starts over.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	next time.Duration
}

// NewBackoff returns a Backoff, substituting the defaults for non-positive
// arguments.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultReconnectInitial
	}
	if max < initial {
		max = DefaultReconnectMax
		if max < initial {
			max = initial
		}
	}
	return &Backoff{Initial: initial, Max: max, next: initial}
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	d := b.next
	if b.next < b.Max {
		b.next *= 2
		if b.next > b.Max {
			b.next = b.Max
		}
	}
	return d
}

// Reset makes the next delay Initial again.
func (b *Backoff) Reset() { b.next = b.Initial }
