package speech

import "time"

// AudioChunk is one unit of streamed audio. Sequence numbers start at 0 and
// are contiguous; exactly one chunk per stream has IsLast set and it carries
// no data.
type AudioChunk struct {
	Data           []byte
	SequenceNumber int
	// Timestamp is when the client received the bytes.
	Timestamp time.Time
	IsLast    bool
}

// StreamProgress is a snapshot of one stream's delivery so far.
type StreamProgress struct {
	BytesReceived  int64
	ChunksReceived int
	// TotalEstimatedBytes is nil when the service did not report a length.
	TotalEstimatedBytes *int64
	ElapsedTime         time.Duration
	IsComplete          bool
}

// PercentComplete returns the received fraction in [0,1]; ok is false when no
// total is known.
func (p StreamProgress) PercentComplete() (float64, bool) {
	if p.TotalEstimatedBytes == nil || *p.TotalEstimatedBytes <= 0 {
		return 0, false
	}
	f := float64(p.BytesReceived) / float64(*p.TotalEstimatedBytes)
	return min(max(f, 0), 1), true
}

// BytesPerSecond is the average receive rate, or 0 before any time has elapsed.
func (p StreamProgress) BytesPerSecond() float64 {
	secs := p.ElapsedTime.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(p.BytesReceived) / secs
}

// ChunksPerSecond is the average chunk rate, or 0 before any time has elapsed.
func (p StreamProgress) ChunksPerSecond() float64 {
	secs := p.ElapsedTime.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(p.ChunksReceived) / secs
}
