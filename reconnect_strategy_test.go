package mqtt5

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	b := NewExponentialBackoff(time.Second, 8*time.Second)

	delays := make([]time.Duration, 5)
	for i := range delays {
		d, ok := b.NextDelay(i+1, nil)
		assert.True(t, ok)
		delays[i] = d
	}

	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second,
	}, delays)
}

func TestExponentialBackoffMaxAttempts(t *testing.T) {
	b := &ExponentialBackoff{Initial: time.Second, Max: time.Minute, MaxAttempts: 2}

	_, ok := b.NextDelay(1, nil)
	assert.True(t, ok)
	_, ok = b.NextDelay(2, nil)
	assert.True(t, ok)
	_, ok = b.NextDelay(3, nil)
	assert.False(t, ok)
}

func TestConstantBackoff(t *testing.T) {
	b := NewConstantBackoff(5 * time.Second)

	for attempt := 1; attempt <= 3; attempt++ {
		d, ok := b.NextDelay(attempt, nil)
		assert.True(t, ok)
		assert.Equal(t, 5*time.Second, d)
	}
}

func TestLinearBackoff(t *testing.T) {
	b := NewLinearBackoff(time.Second, 2*time.Second, 7*time.Second)

	d1, _ := b.NextDelay(1, nil)
	d2, _ := b.NextDelay(2, nil)
	d3, _ := b.NextDelay(3, nil)
	d4, _ := b.NextDelay(4, nil)

	assert.Equal(t, time.Second, d1)
	assert.Equal(t, 3*time.Second, d2)
	assert.Equal(t, 5*time.Second, d3)
	assert.Equal(t, 7*time.Second, d4) // capped at Max
}

func TestNoReconnect(t *testing.T) {
	var s NoReconnect
	_, ok := s.NextDelay(1, nil)
	assert.False(t, ok)
}

func TestLegacyReconnectStrategyMatchesOldDoubling(t *testing.T) {
	opts := defaultOptions()
	opts.reconnectBackoff = time.Second
	opts.maxBackoff = 10 * time.Second
	opts.maxReconnects = 4

	s := newLegacyReconnectStrategy(opts)

	d1, ok := s.NextDelay(1, nil)
	assert.True(t, ok)
	assert.Equal(t, time.Second, d1)

	d2, ok := s.NextDelay(2, errors.New("boom"))
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d2)

	d3, ok := s.NextDelay(3, errors.New("boom"))
	assert.True(t, ok)
	assert.Equal(t, 4*time.Second, d3)

	_, ok = s.NextDelay(5, errors.New("boom"))
	assert.False(t, ok)
}

func TestLegacyReconnectStrategyCustomBackoff(t *testing.T) {
	opts := defaultOptions()
	opts.reconnectBackoff = time.Second
	opts.maxBackoff = time.Minute
	opts.backoffStrategy = func(attempt int, current time.Duration, _ error) time.Duration {
		return current + time.Duration(attempt)*time.Second
	}

	s := newLegacyReconnectStrategy(opts)

	d1, _ := s.NextDelay(1, nil)
	d2, _ := s.NextDelay(2, nil)

	assert.Equal(t, time.Second, d1)
	assert.Equal(t, 3*time.Second, d2) // 1s + attempt(2)*1s
}
