package mqtt5

import (
	"errors"
	"sync/atomic"
)

var ErrQuotaExceeded = errors.New("receive quota exceeded")

// FlowController enforces one direction's Receive Maximum, per MQTT
// v5.0 section 4.9: the number of QoS 1/2 PUBLISH packets that may be
// outstanding (sent but not yet fully acknowledged) at once. A client
// keeps two of these — one bounding what it sends by the server's
// advertised maximum, one bounding what it accepts by its own.
type FlowController struct {
	maximum  atomic.Uint32
	inFlight atomic.Uint32
}

const defaultReceiveMaximum = 65535

// NewFlowController builds a controller capped at receiveMaximum
// outstanding packets. A zero value means "not specified," which MQTT
// v5.0 defines as unlimited and this implementation treats as the
// protocol's hard ceiling of 65535.
func NewFlowController(receiveMaximum uint16) *FlowController {
	f := &FlowController{}
	f.SetReceiveMaximum(receiveMaximum)
	return f
}

func normalizeReceiveMaximum(maximum uint16) uint32 {
	if maximum == 0 {
		return defaultReceiveMaximum
	}
	return uint32(maximum)
}

// ReceiveMaximum returns the configured cap.
func (f *FlowController) ReceiveMaximum() uint16 {
	return uint16(f.maximum.Load())
}

// SetReceiveMaximum changes the cap without touching the current
// in-flight count, so quota already in use stays accounted for.
func (f *FlowController) SetReceiveMaximum(maximum uint16) {
	f.maximum.Store(normalizeReceiveMaximum(maximum))
}

// Available returns how many more packets may be sent before the cap
// is hit.
func (f *FlowController) Available() uint16 {
	max, inFlight := f.maximum.Load(), f.inFlight.Load()
	if inFlight >= max {
		return 0
	}
	return uint16(max - inFlight)
}

// InFlight returns the current outstanding count.
func (f *FlowController) InFlight() uint16 {
	return uint16(f.inFlight.Load())
}

// CanSend reports whether quota remains without reserving any.
func (f *FlowController) CanSend() bool {
	return f.inFlight.Load() < f.maximum.Load()
}

// Acquire reserves one unit of quota, or returns ErrQuotaExceeded if
// none remains.
func (f *FlowController) Acquire() error {
	if !f.TryAcquire() {
		return ErrQuotaExceeded
	}
	return nil
}

// TryAcquire reserves one unit of quota and reports whether it
// succeeded, using a compare-and-swap loop so concurrent callers never
// oversubscribe the cap.
func (f *FlowController) TryAcquire() bool {
	for {
		inFlight := f.inFlight.Load()
		max := f.maximum.Load()
		if inFlight >= max {
			return false
		}
		if f.inFlight.CompareAndSwap(inFlight, inFlight+1) {
			return true
		}
	}
}

// Release returns one unit of quota, for example after a PUBACK or
// PUBCOMP completes a QoS 1/2 exchange.
func (f *FlowController) Release() {
	for {
		inFlight := f.inFlight.Load()
		if inFlight == 0 {
			return
		}
		if f.inFlight.CompareAndSwap(inFlight, inFlight-1) {
			return
		}
	}
}

// Reset clears the in-flight count to zero, used when a connection
// drops and whatever was outstanding on it no longer applies.
func (f *FlowController) Reset() {
	f.inFlight.Store(0)
}
