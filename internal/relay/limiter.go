package relay

import "time"

// rateWindow is the length of one accounting window.
const rateWindow = time.Second

// Limiter enforces a byte budget per fixed one-second window.
//
// A Limiter belongs to a single read loop and is not safe for concurrent use.
type Limiter struct {
	max         uint
	windowStart time.Time
	windowBytes uint
}

// NewLimiter returns a limiter admitting at most maxBytesPerSecond bytes per
// window. A zero budget admits everything.
func NewLimiter(maxBytesPerSecond uint) *Limiter {
	return &Limiter{max: maxBytesPerSecond}
}

// Admit reports whether n more bytes fit in the window containing now and,
// if so, charges them. A rejected packet is not charged. The window restarts
// once now is more than one second past its start.
func (l *Limiter) Admit(n uint, now time.Time) bool {
	if l == nil || l.max == 0 {
		return true
	}

	if l.windowStart.IsZero() || now.Sub(l.windowStart) > rateWindow {
		l.windowStart = now
		l.windowBytes = 0
	}

	if l.windowBytes+n > l.max {
		return false
	}
	l.windowBytes += n
	return true
}

// Usage returns the bytes charged in the current window.
func (l *Limiter) Usage() uint {
	if l == nil {
		return 0
	}
	return l.windowBytes
}
