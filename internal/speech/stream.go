package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"sync/atomic"
	"time"
)

// maxEmptyReads bounds consecutive (0, nil) reads before giving up.
const maxEmptyReads = 100

// streamObserver sees every chunk before the consumer does and is told once
// how the stream ended. A nil error means normal completion or cancellation.
type streamObserver interface {
	chunk(c AudioChunk)
	finish(err error)
}

// AudioStream turns a byte source into sequenced AudioChunks. It is pulled by
// a single consumer with Recv or Chunks; reads happen only when the consumer
// asks, so a slow consumer engages the connection's flow control instead of
// growing a buffer. Close may be called from any goroutine.
type AudioStream struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	buf    []byte
	now    func() time.Time

	seq        int
	pendingEnd bool
	pendingErr error
	done       bool
	err        error

	observers   []streamObserver
	closed      atomic.Bool
	closeOnce   sync.Once
	releaseOnce sync.Once
	finishOnce  sync.Once
	releaseErr  error
}

// NewAudioStream wraps any audio byte source; readSize bounds each chunk.
func NewAudioStream(body io.ReadCloser, readSize int) *AudioStream {
	return newAudioStream(body, readSize, time.Now)
}

func newAudioStream(body io.ReadCloser, readSize int, now func() time.Time) *AudioStream {
	if readSize <= 0 {
		readSize = ChunkSizeMedium.Bytes()
	}
	return &AudioStream{
		body: body,
		buf:  make([]byte, readSize),
		now:  now,
	}
}

func (s *AudioStream) observe(o streamObserver) {
	s.observers = append(s.observers, o)
}

// Recv returns the next chunk. After the terminal chunk it returns io.EOF;
// after Close it returns ErrStreamClosed. Transport failures are returned as
// *Error of KindNetwork and are sticky. Cancelling the request context is
// reported the same way as before the response arrived: KindNetwork wrapping
// context.Canceled. Progress still completes normally in that case.
func (s *AudioStream) Recv() (AudioChunk, error) {
	if s.closed.Load() {
		return AudioChunk{}, ErrStreamClosed
	}
	if s.done {
		return AudioChunk{}, s.err
	}
	if s.pendingEnd {
		return s.terminate(), nil
	}
	if s.pendingErr != nil {
		return AudioChunk{}, s.fail(s.pendingErr)
	}

	for empty := 0; ; empty++ {
		n, err := s.body.Read(s.buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, s.buf[:n])
			if err == io.EOF {
				s.pendingEnd = true
			} else if err != nil {
				// Deliver what arrived; the failure surfaces on the next Recv.
				s.pendingErr = err
			}
			return s.emit(AudioChunk{Data: data, SequenceNumber: s.seq, Timestamp: s.now()}), nil
		}
		switch {
		case err == io.EOF:
			return s.terminate(), nil
		case err != nil:
			return AudioChunk{}, s.fail(err)
		case empty >= maxEmptyReads:
			return AudioChunk{}, s.fail(io.ErrNoProgress)
		}
	}
}

// Chunks adapts Recv to a range-over-func iterator. The stream is closed
// when iteration ends, including when the loop body breaks early.
func (s *AudioStream) Chunks() iter.Seq2[AudioChunk, error] {
	return func(yield func(AudioChunk, error) bool) {
		defer s.Close()
		for {
			c, err := s.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(AudioChunk{}, err)
				return
			}
			if !yield(c, nil) {
				return
			}
		}
	}
}

// Close abandons the stream and releases the connection. Observers see a
// normal completion. Closing an already finished stream is a no-op.
func (s *AudioStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.release()
		s.notifyFinish(nil)
	})
	return s.releaseErr
}

func (s *AudioStream) release() {
	s.releaseOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.releaseErr = s.body.Close()
	})
}

func (s *AudioStream) emit(c AudioChunk) AudioChunk {
	s.seq++
	for _, o := range s.observers {
		o.chunk(c)
	}
	return c
}

func (s *AudioStream) terminate() AudioChunk {
	c := s.emit(AudioChunk{SequenceNumber: s.seq, Timestamp: s.now(), IsLast: true})
	s.done = true
	s.err = io.EOF
	s.release()
	s.notifyFinish(nil)
	return c
}

// fail records a terminal read error and returns what the consumer sees.
func (s *AudioStream) fail(err error) error {
	s.done = true
	defer s.release()
	switch {
	case s.closed.Load():
		s.err = ErrStreamClosed
		s.notifyFinish(nil)
	case errors.Is(err, context.Canceled):
		s.err = wrapError(KindNetwork, "stream", fmt.Errorf("audio stream canceled after %d chunks: %w", s.seq, err))
		s.notifyFinish(nil)
	default:
		s.err = wrapError(KindNetwork, "stream", fmt.Errorf("audio stream interrupted after %d chunks: %w", s.seq, err))
		s.notifyFinish(s.err)
	}
	return s.err
}

func (s *AudioStream) notifyFinish(err error) {
	s.finishOnce.Do(func() {
		for _, o := range s.observers {
			o.finish(err)
		}
	})
}
