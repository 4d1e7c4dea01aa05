package speech

import "bytes"

// ChunkBuffer re-slices inbound chunks of arbitrary size into outbound chunks
// of a fixed target size and gates playback until enough audio is held.
//
// A ChunkBuffer belongs to one streaming session. It is not safe for
// concurrent use; callers that push and pop from different goroutines must
// synchronize externally.
type ChunkBuffer struct {
	target    int
	threshold int

	segments [][]byte
	// offset is how much of segments[0] has already been popped.
	offset   int
	buffered int
	complete bool
}

// NewChunkBuffer creates a buffer that pops targetOutboundChunkBytes at a time
// and reports readiness once minPlaybackThresholdBytes are held.
func NewChunkBuffer(targetOutboundChunkBytes, minPlaybackThresholdBytes int) *ChunkBuffer {
	return &ChunkBuffer{
		target:    max(targetOutboundChunkBytes, 0),
		threshold: max(minPlaybackThresholdBytes, 0),
	}
}

// NewChunkBufferFor sizes a buffer from streaming parameters.
func NewChunkBufferFor(p StreamingParameters) *ChunkBuffer {
	return NewChunkBuffer(p.PreferredChunkSize().Bytes(), p.BufferStrategy().MinPlaybackBytes())
}

// Push appends a copy of the chunk's data, so the caller may reuse its slice.
// A terminal chunk marks the buffer complete.
func (b *ChunkBuffer) Push(chunk AudioChunk) {
	if len(chunk.Data) > 0 {
		b.segments = append(b.segments, bytes.Clone(chunk.Data))
		b.buffered += len(chunk.Data)
	}
	if chunk.IsLast {
		b.complete = true
	}
}

// HasEnoughDataForPlayback reports whether playback may start or continue.
func (b *ChunkBuffer) HasEnoughDataForPlayback() bool {
	return b.buffered >= b.threshold || b.complete
}

// PopPlaybackChunk removes min(target, buffered) bytes from the front. It
// returns false when nothing is buffered.
func (b *ChunkBuffer) PopPlaybackChunk() ([]byte, bool) {
	n := min(b.target, b.buffered)
	if n == 0 {
		return nil, false
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		front := b.segments[0][b.offset:]
		take := min(len(front), n-len(out))
		out = append(out, front[:take]...)
		if take == len(front) {
			b.segments[0] = nil
			b.segments = b.segments[1:]
			b.offset = 0
		} else {
			b.offset += take
		}
	}
	b.buffered -= n
	return out, true
}

// DrainAll removes and returns everything buffered, in order.
func (b *ChunkBuffer) DrainAll() []byte {
	out := make([]byte, 0, b.buffered)
	for i, seg := range b.segments {
		if i == 0 {
			seg = seg[b.offset:]
		}
		out = append(out, seg...)
	}
	b.segments = nil
	b.offset = 0
	b.buffered = 0
	return out
}

// BufferedBytes is the number of bytes not yet popped.
func (b *ChunkBuffer) BufferedBytes() int { return b.buffered }

// SegmentCount is the number of queued segments, including a partially
// consumed front segment.
func (b *ChunkBuffer) SegmentCount() int { return len(b.segments) }

// IsEmpty reports whether no bytes are buffered.
func (b *ChunkBuffer) IsEmpty() bool { return b.buffered == 0 }

// IsComplete reports whether the terminal chunk has been pushed.
func (b *ChunkBuffer) IsComplete() bool { return b.complete }
