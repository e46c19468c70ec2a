package mqtt5

import "time"

// ReconnectStrategy decides how long to wait before the next reconnect
// attempt, and whether another attempt should be made at all.
//
// NextDelay is called once per failed connection attempt with the 1-based
// attempt number and the error from that attempt (nil before the first
// attempt). It returns the delay to wait before trying again, and a bool
// reporting whether reconnection should continue. Returning false stops the
// reconnect loop, the same as exhausting a maximum attempt count.
type ReconnectStrategy interface {
	NextDelay(attempt int, cause error) (time.Duration, bool)
}

// ExponentialBackoff doubles the delay after every failed attempt, capped at
// Max, up to an optional attempt limit.
type ExponentialBackoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int // 0 means unlimited
}

// NewExponentialBackoff creates an ExponentialBackoff with no attempt limit.
func NewExponentialBackoff(initial, max time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{Initial: initial, Max: max}
}

func (b *ExponentialBackoff) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt > b.MaxAttempts {
		return 0, false
	}
	delay := b.Initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Max {
			delay = b.Max
			break
		}
	}
	if delay > b.Max {
		delay = b.Max
	}
	return delay, true
}

// ConstantBackoff waits a fixed delay between every attempt.
type ConstantBackoff struct {
	Delay       time.Duration
	MaxAttempts int
}

// NewConstantBackoff creates a ConstantBackoff with no attempt limit.
func NewConstantBackoff(delay time.Duration) *ConstantBackoff {
	return &ConstantBackoff{Delay: delay}
}

func (b *ConstantBackoff) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt > b.MaxAttempts {
		return 0, false
	}
	return b.Delay, true
}

// LinearBackoff increases the delay by a fixed step after every attempt, capped at Max.
type LinearBackoff struct {
	Initial     time.Duration
	Step        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// NewLinearBackoff creates a LinearBackoff with no attempt limit.
func NewLinearBackoff(initial, step, max time.Duration) *LinearBackoff {
	return &LinearBackoff{Initial: initial, Step: step, Max: max}
}

func (b *LinearBackoff) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt > b.MaxAttempts {
		return 0, false
	}
	delay := b.Initial + b.Step*time.Duration(attempt-1)
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay, true
}

// NoReconnect rejects every attempt, disabling reconnection outright.
type NoReconnect struct{}

func (NoReconnect) NextDelay(_ int, _ error) (time.Duration, bool) {
	return 0, false
}

// legacyReconnectStrategy adapts the older reconnectBackoff/maxBackoff/
// maxReconnects/backoffStrategy knobs to the ReconnectStrategy interface, so
// client.go has a single reconnect-decision code path regardless of which
// set of options the caller used.
type legacyReconnectStrategy struct {
	initial     time.Duration
	max         time.Duration
	maxAttempts int
	custom      BackoffStrategy

	current time.Duration
}

func newLegacyReconnectStrategy(o *clientOptions) *legacyReconnectStrategy {
	return &legacyReconnectStrategy{
		initial:     o.reconnectBackoff,
		max:         o.maxBackoff,
		maxAttempts: o.maxReconnects,
		custom:      o.backoffStrategy,
		current:     o.reconnectBackoff,
	}
}

func (s *legacyReconnectStrategy) NextDelay(attempt int, cause error) (time.Duration, bool) {
	if s.maxAttempts > 0 && attempt > s.maxAttempts {
		return 0, false
	}

	if attempt == 1 {
		s.current = s.initial
		return s.current, true
	}

	if s.custom != nil {
		s.current = s.custom(attempt, s.current, cause)
	} else {
		s.current *= 2
	}
	if s.current > s.max {
		s.current = s.max
	}
	return s.current, true
}
