package mqtt5

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowControllerInitialState(t *testing.T) {
	cases := map[string]struct {
		requested    uint16
		wantReceiveMax uint16
	}{
		"explicit limit":  {10, 10},
		"zero defaults to max uint16": {0, 65535},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			fc := NewFlowController(tc.requested)
			assert.Equal(t, tc.wantReceiveMax, fc.ReceiveMaximum())
			assert.Equal(t, tc.wantReceiveMax, fc.Available())
			assert.Equal(t, uint16(0), fc.InFlight())
			assert.True(t, fc.CanSend())
		})
	}
}

func TestFlowControllerAcquireRelease(t *testing.T) {
	fc := NewFlowController(3)

	for range 3 {
		require.NoError(t, fc.Acquire())
	}
	assert.Equal(t, uint16(0), fc.Available())
	assert.False(t, fc.CanSend())

	err := fc.Acquire()
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	fc.Release()
	assert.Equal(t, uint16(1), fc.Available())
	assert.True(t, fc.CanSend())
}

func TestFlowControllerTryAcquire(t *testing.T) {
	fc := NewFlowController(2)

	assert.True(t, fc.TryAcquire())
	assert.True(t, fc.TryAcquire())
	assert.False(t, fc.TryAcquire())

	fc.Release()
	assert.True(t, fc.TryAcquire())
}

func TestFlowControllerReset(t *testing.T) {
	fc := NewFlowController(5)

	for range 3 {
		require.NoError(t, fc.Acquire())
	}
	assert.Equal(t, uint16(3), fc.InFlight())

	fc.Reset()
	assert.Equal(t, uint16(0), fc.InFlight())
	assert.Equal(t, uint16(5), fc.Available())
}

func TestFlowControllerSetReceiveMaximum(t *testing.T) {
	fc := NewFlowController(10)

	require.NoError(t, fc.Acquire())
	require.NoError(t, fc.Acquire())

	fc.SetReceiveMaximum(5)
	assert.Equal(t, uint16(5), fc.ReceiveMaximum())
	assert.Equal(t, uint16(3), fc.Available())

	fc.SetReceiveMaximum(0)
	assert.Equal(t, uint16(65535), fc.ReceiveMaximum())
}

func TestFlowControllerReleaseUnderflowProtection(t *testing.T) {
	fc := NewFlowController(5)

	fc.Release()
	assert.Equal(t, uint16(0), fc.InFlight())
}

func TestFlowControllerRespectsServerReceiveMaximum(t *testing.T) {
	fc := NewFlowController(2)

	assert.True(t, fc.TryAcquire())
	assert.True(t, fc.TryAcquire())
	assert.False(t, fc.TryAcquire(), "should not exceed receive maximum")

	fc.Release()
	assert.True(t, fc.TryAcquire())
}

func TestFlowControllerConcurrentAcquireRelease(t *testing.T) {
	fc := NewFlowController(100)
	var wg sync.WaitGroup

	const workers, iterationsPerWorker = 50, 10
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range iterationsPerWorker {
				if fc.TryAcquire() {
					fc.Release()
				}
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, uint16(0), fc.InFlight())
}

func BenchmarkFlowController(b *testing.B) {
	b.Run("acquire_release", func(b *testing.B) {
		fc := NewFlowController(65535)
		b.ReportAllocs()
		for b.Loop() {
			_ = fc.Acquire()
			fc.Release()
		}
	})

	b.Run("try_acquire", func(b *testing.B) {
		fc := NewFlowController(65535)
		b.ReportAllocs()
		for b.Loop() {
			if fc.TryAcquire() {
				fc.Release()
			}
		}
	})
}
