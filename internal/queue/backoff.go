package queue

import "time"

const (
	minReconnectTimeout = 1 * time.Second
	maxReconnectTimeout = 300 * time.Second
)

// backoff is the reconnect timeout ladder: it doubles on every attempt up
// to the cap and resets only once consumers are running again.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: minReconnectTimeout}
}

// Next returns the timeout to sleep before the coming attempt and doubles
// the stored value.
func (b *backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > maxReconnectTimeout {
		b.current = maxReconnectTimeout
	}
	return d
}

func (b *backoff) Reset() {
	b.current = minReconnectTimeout
}
