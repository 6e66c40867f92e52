package mfhttp

import "sync/atomic"

// SharedBuffer is a reference-counted, read-only byte container (spec Data
// model §3). Once handed to the engine it must not be mutated; Retain/
// Release let the engine and its observers share ownership without
// copying.
type SharedBuffer struct {
	data []byte
	refs int32
}

// NewSharedBuffer wraps data (not copied) with an initial refcount of 1.
func NewSharedBuffer(data []byte) *SharedBuffer {
	return &SharedBuffer{data: data, refs: 1}
}

// Bytes returns the underlying bytes. Callers must not modify them.
func (b *SharedBuffer) Bytes() []byte { return b.data }

// Len returns len(Bytes()).
func (b *SharedBuffer) Len() int { return len(b.data) }

// Retain increments the refcount and returns b for chaining.
func (b *SharedBuffer) Retain() *SharedBuffer {
	atomic.AddInt32(&b.refs, 1)
	return b
}

// Release decrements the refcount. It is advisory bookkeeping only (Go's
// GC reclaims data regardless); it exists so components that need to know
// "is anyone else still looking at this" (e.g. pooled buffer reuse) can
// ask via Refs.
func (b *SharedBuffer) Release() {
	atomic.AddInt32(&b.refs, -1)
}

// Refs returns the current reference count.
func (b *SharedBuffer) Refs() int32 { return atomic.LoadInt32(&b.refs) }

// BodyChunkFunc produces the next chunk of a pull-based request body; it
// returns (nil, nil) when exhausted, or an error of category
// CodePostInterfaceReadFailure when the source can't produce the next
// chunk.
type BodyChunkFunc func() (*SharedBuffer, error)

// Body is a request body: either a single owned buffer, or a pull-based
// pipe of known total size.
type Body struct {
	Buffer    *SharedBuffer
	PipeSize  int64 // total size of a pull-based body; ignored if Buffer != nil
	PipeNext  BodyChunkFunc
}

// Size returns the total body size: the buffer's own length, or PipeSize
// for a pull-based body. A nil Body has size 0.
func (b *Body) Size() int64 {
	if b == nil {
		return 0
	}
	if b.Buffer != nil {
		return int64(b.Buffer.Len())
	}
	return b.PipeSize
}
