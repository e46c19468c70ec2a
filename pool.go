package mqtt5

import "sync"

const maxPooledBufferCap = 65536

// resettablePool is a typed wrapper around sync.Pool. It does not reset
// values itself; the get/put helpers for bytesReader and bytesBuffer
// below clear each value before handing it out or returning it.
type resettablePool[T any] struct {
	pool sync.Pool
}

func newResettablePool[T any](newFn func() T) *resettablePool[T] {
	return &resettablePool[T]{pool: sync.Pool{New: func() any { return newFn() }}}
}

func (p *resettablePool[T]) get() T {
	return p.pool.Get().(T)
}

func (p *resettablePool[T]) put(v T) {
	p.pool.Put(v)
}

var (
	readerPool = newResettablePool(func() *bytesReader { return &bytesReader{} })
	bufferPool = newResettablePool(func() *bytesBuffer { return &bytesBuffer{} })
)

// getBytesReader returns a pooled bytesReader positioned at the start
// of data.
func getBytesReader(data []byte) *bytesReader {
	r := readerPool.get()
	r.data = data
	r.pos = 0
	return r
}

// putBytesReader clears r and returns it to the pool.
func putBytesReader(r *bytesReader) {
	if r == nil {
		return
	}
	r.data = nil
	r.pos = 0
	readerPool.put(r)
}

// getBytesBuffer returns a pooled, empty bytesBuffer.
func getBytesBuffer() *bytesBuffer {
	b := bufferPool.get()
	b.data = b.data[:0]
	return b
}

// putBytesBuffer empties b and returns it to the pool, unless its
// backing array has grown past maxPooledBufferCap — an outsized buffer
// is more useful garbage-collected than held open for the next caller.
func putBytesBuffer(b *bytesBuffer) {
	if b == nil {
		return
	}
	if cap(b.data) > maxPooledBufferCap {
		return
	}
	b.data = b.data[:0]
	bufferPool.put(b)
}
