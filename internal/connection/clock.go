package connection

import "time"

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing. Returns false if it already fired or was stopped.
	Stop() bool
}

// Clock schedules the manager's keep-alive and reconnect timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Backoff returns the reconnect delay for a zero-based attempt:
// min(base * 2^attempt, max).
func Backoff(base, max time.Duration, attempt int) time.Duration {
	wait := base
	for i := 0; i < attempt; i++ {
		wait *= 2
		if wait >= max {
			return max
		}
	}
	if wait > max {
		wait = max
	}
	return wait
}
