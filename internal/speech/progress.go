package speech

import (
	"context"
	"io"
	"iter"
	"sync"
	"time"
)

// ProgressStream delivers StreamProgress snapshots derived from an audio
// stream. Its queue is unbounded so a slow reader never stalls the audio
// consumer. It ends with io.EOF when the audio stream completes or is closed,
// or with the audio stream's error.
type ProgressStream struct {
	mu     sync.Mutex
	queue  []StreamProgress
	closed bool
	err    error
	// signal is closed and replaced on every state change.
	signal chan struct{}
}

func newProgressStream() *ProgressStream {
	return &ProgressStream{signal: make(chan struct{})}
}

// closedProgressStream is returned when tracking is disabled.
func closedProgressStream() *ProgressStream {
	p := newProgressStream()
	p.finish(nil)
	return p
}

func (p *ProgressStream) publish(sp StreamProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue = append(p.queue, sp)
	p.wake()
}

func (p *ProgressStream) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.err = err
	p.wake()
}

// wake must be called with mu held.
func (p *ProgressStream) wake() {
	close(p.signal)
	p.signal = make(chan struct{})
}

// Next blocks until a snapshot is available, the stream ends, or ctx is done.
// Snapshots queued before the end are always delivered first.
func (p *ProgressStream) Next(ctx context.Context) (StreamProgress, error) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			sp := p.queue[0]
			p.queue[0] = StreamProgress{}
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return sp, nil
		}
		if p.closed {
			err := p.err
			p.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return StreamProgress{}, err
		}
		wait := p.signal
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return StreamProgress{}, ctx.Err()
		}
	}
}

// Updates iterates snapshots until the stream ends. A terminal error other
// than io.EOF is yielded once.
func (p *ProgressStream) Updates(ctx context.Context) iter.Seq2[StreamProgress, error] {
	return func(yield func(StreamProgress, error) bool) {
		for {
			sp, err := p.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(StreamProgress{}, err)
				return
			}
			if !yield(sp, nil) {
				return
			}
		}
	}
}

// Err returns the mirrored audio stream error once the stream has ended.
func (p *ProgressStream) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// progressTracker is the tee: it rides on the audio stream's single read
// loop and never reads the body itself. Only non-empty chunks count toward
// ChunksReceived; the terminal marker sets IsComplete.
type progressTracker struct {
	out   *ProgressStream
	start time.Time
	now   func() time.Time
	total *int64

	bytes  int64
	chunks int
}

func (t *progressTracker) chunk(c AudioChunk) {
	if len(c.Data) > 0 {
		t.bytes += int64(len(c.Data))
		t.chunks++
	}
	t.out.publish(StreamProgress{
		BytesReceived:       t.bytes,
		ChunksReceived:      t.chunks,
		TotalEstimatedBytes: t.total,
		ElapsedTime:         t.now().Sub(t.start),
		IsComplete:          c.IsLast,
	})
}

func (t *progressTracker) finish(err error) {
	t.out.finish(err)
}

// TrackProgress attaches a progress tee to an audio stream that has not been
// read yet. total may be nil.
func TrackProgress(audio *AudioStream, total *int64) *ProgressStream {
	out := newProgressStream()
	audio.observe(&progressTracker{
		out:   out,
		start: audio.now(),
		now:   audio.now,
		total: total,
	})
	return out
}
