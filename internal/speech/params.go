package speech

import (
	"fmt"
	"time"
	"unicode/utf16"
)

const (
	MaxTextLength = 10000
	MinRate       = 0.5
	MaxRate       = 3.0
	DefaultRate   = 1.0
	MinMaxLatency = 50 * time.Millisecond
)

// ChunkSize is a hint for the granularity of chunks read from the network.
type ChunkSize int

const (
	ChunkSizeMedium ChunkSize = iota
	ChunkSizeSmall
	ChunkSizeLarge
)

// String returns small, medium or large.
func (c ChunkSize) String() string {
	switch c {
	case ChunkSizeSmall:
		return "small"
	case ChunkSizeMedium:
		return "medium"
	case ChunkSizeLarge:
		return "large"
	default:
		return fmt.Sprintf("ChunkSize(%d)", int(c))
	}
}

// Bytes is the transport read size for the hint.
func (c ChunkSize) Bytes() int {
	switch c {
	case ChunkSizeSmall:
		return 1024
	case ChunkSizeLarge:
		return 16 * 1024
	default:
		return 4 * 1024
	}
}

// ParseChunkSize accepts the String form.
func ParseChunkSize(s string) (ChunkSize, error) {
	switch s {
	case "small":
		return ChunkSizeSmall, nil
	case "", "medium":
		return ChunkSizeMedium, nil
	case "large":
		return ChunkSizeLarge, nil
	}
	return ChunkSizeMedium, validationError("unknown chunk size %q", s)
}

// BufferStrategy controls how much audio is held before playback starts.
type BufferStrategy int

const (
	BufferBalanced BufferStrategy = iota
	BufferLowLatency
	BufferHighQuality
)

// String returns low-latency, balanced or high-quality.
func (b BufferStrategy) String() string {
	switch b {
	case BufferLowLatency:
		return "low-latency"
	case BufferBalanced:
		return "balanced"
	case BufferHighQuality:
		return "high-quality"
	default:
		return fmt.Sprintf("BufferStrategy(%d)", int(b))
	}
}

// MinPlaybackBytes is the amount buffered before playback may begin.
func (b BufferStrategy) MinPlaybackBytes() int {
	switch b {
	case BufferLowLatency:
		return 2 * 1024
	case BufferHighQuality:
		return 32 * 1024
	default:
		return 8 * 1024
	}
}

// ParseBufferStrategy accepts the String form.
func ParseBufferStrategy(s string) (BufferStrategy, error) {
	switch s {
	case "low-latency":
		return BufferLowLatency, nil
	case "", "balanced":
		return BufferBalanced, nil
	case "high-quality":
		return BufferHighQuality, nil
	}
	return BufferBalanced, validationError("unknown buffer strategy %q", s)
}

// StreamingParameters is an immutable streaming request. Build one with
// StreamingParametersBuilder.
type StreamingParameters struct {
	voice          Voice
	text           string
	audioFormat    string
	rate           float64
	style          string
	role           string
	chunkSize      ChunkSize
	bufferStrategy BufferStrategy
	progress       bool
	maxLatency     time.Duration
	hasMaxLatency  bool
}

// Voice returns a copy of the voice.
func (p StreamingParameters) Voice() Voice { return p.voice.clone() }

// Text returns the text to speak.
func (p StreamingParameters) Text() string { return p.text }

// AudioFormat returns the output format identifier.
func (p StreamingParameters) AudioFormat() string { return p.audioFormat }

// Rate returns the speaking rate multiplier.
func (p StreamingParameters) Rate() float64 { return p.rate }

// Style returns the speaking style, or "".
func (p StreamingParameters) Style() string { return p.style }

// Role returns the role-play role, or "".
func (p StreamingParameters) Role() string { return p.role }

// PreferredChunkSize returns the read granularity hint.
func (p StreamingParameters) PreferredChunkSize() ChunkSize { return p.chunkSize }

// BufferStrategy returns the playback buffering strategy.
func (p StreamingParameters) BufferStrategy() BufferStrategy { return p.bufferStrategy }

// EnableProgressTracking reports whether progress snapshots are produced.
func (p StreamingParameters) EnableProgressTracking() bool { return p.progress }

// MaxLatency returns the first-chunk latency bound, if one was set.
func (p StreamingParameters) MaxLatency() (time.Duration, bool) {
	return p.maxLatency, p.hasMaxLatency
}

// Equal reports field-wise equality.
func (p StreamingParameters) Equal(o StreamingParameters) bool {
	return p.voice.equal(o.voice) &&
		p.text == o.text &&
		p.audioFormat == o.audioFormat &&
		p.rate == o.rate &&
		p.style == o.style &&
		p.role == o.role &&
		p.chunkSize == o.chunkSize &&
		p.bufferStrategy == o.bufferStrategy &&
		p.progress == o.progress &&
		p.maxLatency == o.maxLatency &&
		p.hasMaxLatency == o.hasMaxLatency
}

// StreamingParametersBuilder accumulates fields and validates on Build.
// A rejected setter value is remembered per field until the field is set
// again with a valid value; Build reports the first one in field order.
type StreamingParametersBuilder struct {
	params   StreamingParameters
	voiceSet bool
	policy   CompatibilityPolicy
	errs     map[string]error
}

var builderFields = []string{"text", "rate", "maxLatency"}

// NewStreamingParametersBuilder returns a builder seeded with the defaults.
func NewStreamingParametersBuilder() *StreamingParametersBuilder {
	return &StreamingParametersBuilder{
		params: StreamingParameters{
			rate:           DefaultRate,
			chunkSize:      ChunkSizeMedium,
			bufferStrategy: BufferBalanced,
			progress:       true,
		},
		policy: DefaultCompatibilityPolicy(),
	}
}

// ForRealtime favors time-to-first-audio.
func ForRealtime() *StreamingParametersBuilder {
	return NewStreamingParametersBuilder().
		PreferredChunkSize(ChunkSizeSmall).
		BufferStrategy(BufferLowLatency).
		MaxLatency(300 * time.Millisecond)
}

// ForHighQuality favors uninterrupted playback.
func ForHighQuality() *StreamingParametersBuilder {
	return NewStreamingParametersBuilder().
		PreferredChunkSize(ChunkSizeLarge).
		BufferStrategy(BufferHighQuality)
}

// Balanced is the default trade-off.
func Balanced() *StreamingParametersBuilder {
	return NewStreamingParametersBuilder().
		PreferredChunkSize(ChunkSizeMedium).
		BufferStrategy(BufferBalanced)
}

// Preset returns the builder for a named preset: realtime, high-quality or balanced.
func Preset(name string) (*StreamingParametersBuilder, error) {
	switch name {
	case "realtime":
		return ForRealtime(), nil
	case "high-quality":
		return ForHighQuality(), nil
	case "balanced", "":
		return Balanced(), nil
	}
	return nil, validationError("unknown preset %q", name)
}

func (b *StreamingParametersBuilder) fail(field string, err error) *StreamingParametersBuilder {
	if b.errs == nil {
		b.errs = make(map[string]error)
	}
	b.errs[field] = err
	return b
}

func (b *StreamingParametersBuilder) ok(field string) {
	delete(b.errs, field)
}

// Voice sets the voice.
func (b *StreamingParametersBuilder) Voice(v Voice) *StreamingParametersBuilder {
	b.params.voice = v.clone()
	b.voiceSet = v.ID() != ""
	return b
}

// Text sets the text; it must be non-blank and within the length limit.
func (b *StreamingParametersBuilder) Text(s string) *StreamingParametersBuilder {
	if err := checkText(s); err != nil {
		return b.fail("text", err)
	}
	b.ok("text")
	b.params.text = s
	return b
}

// AudioFormat sets the output format. Client.ValidateStreamingParams
// rejects formats that cannot be streamed.
func (b *StreamingParametersBuilder) AudioFormat(f string) *StreamingParametersBuilder {
	b.params.audioFormat = f
	return b
}

// Rate sets the speaking rate, between MinRate and MaxRate.
func (b *StreamingParametersBuilder) Rate(r float64) *StreamingParametersBuilder {
	if err := checkRate(r); err != nil {
		return b.fail("rate", err)
	}
	b.ok("rate")
	b.params.rate = r
	return b
}

// Style sets a speaking style the voice must support.
func (b *StreamingParametersBuilder) Style(s string) *StreamingParametersBuilder {
	b.params.style = s
	return b
}

// Role sets a role-play role the voice must support.
func (b *StreamingParametersBuilder) Role(r string) *StreamingParametersBuilder {
	b.params.role = r
	return b
}

// PreferredChunkSize sets the read granularity hint.
func (b *StreamingParametersBuilder) PreferredChunkSize(c ChunkSize) *StreamingParametersBuilder {
	b.params.chunkSize = c
	return b
}

// BufferStrategy sets the playback buffering strategy.
func (b *StreamingParametersBuilder) BufferStrategy(s BufferStrategy) *StreamingParametersBuilder {
	b.params.bufferStrategy = s
	return b
}

// EnableProgressTracking turns progress snapshots on or off.
func (b *StreamingParametersBuilder) EnableProgressTracking(on bool) *StreamingParametersBuilder {
	b.params.progress = on
	return b
}

// MaxLatency bounds the time to first chunk; at least MinMaxLatency.
func (b *StreamingParametersBuilder) MaxLatency(d time.Duration) *StreamingParametersBuilder {
	if d < 0 {
		return b.fail("maxLatency", validationError("max latency must not be negative, got %s", d))
	}
	if d < MinMaxLatency {
		return b.fail("maxLatency", validationError("max latency must be at least %s, got %s", MinMaxLatency, d))
	}
	b.ok("maxLatency")
	b.params.maxLatency = d
	b.params.hasMaxLatency = true
	return b
}

// Policy replaces the compatibility rules used by Build.
func (b *StreamingParametersBuilder) Policy(p CompatibilityPolicy) *StreamingParametersBuilder {
	b.policy = p
	return b
}

// Build validates every field and returns the immutable parameters.
func (b *StreamingParametersBuilder) Build() (StreamingParameters, error) {
	for _, field := range builderFields {
		if err, ok := b.errs[field]; ok {
			return StreamingParameters{}, err
		}
	}
	p := b.params
	if !b.voiceSet {
		return StreamingParameters{}, validationError("voice is required")
	}
	if p.text == "" {
		return StreamingParameters{}, validationError("text is required")
	}
	if p.audioFormat == "" {
		return StreamingParameters{}, validationError("audio format is required")
	}
	if err := checkVoiceCapabilities(p); err != nil {
		return StreamingParameters{}, err
	}
	if err := b.policy.Check(p); err != nil {
		return StreamingParameters{}, err
	}
	return p, nil
}

func checkText(s string) error {
	if s == "" {
		return validationError("text must not be empty")
	}
	if n := textLength(s); n > MaxTextLength {
		return validationError("text is %d code units, the limit is %d", n, MaxTextLength)
	}
	return nil
}

// textLength counts UTF-16 code units, which is how the service measures input.
func textLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func checkRate(r float64) error {
	if r < MinRate || r > MaxRate {
		return validationError("rate must be within [%.1f, %.1f], got %g", MinRate, MaxRate, r)
	}
	return nil
}

func checkVoiceCapabilities(p StreamingParameters) error {
	if p.style != "" && !p.voice.SupportsStyle(p.style) {
		return validationError("voice %s does not support style %q", p.voice.ID(), p.style)
	}
	if p.role != "" && !p.voice.SupportsRole(p.role) {
		return validationError("voice %s does not support role %q", p.voice.ID(), p.role)
	}
	return nil
}
