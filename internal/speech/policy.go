package speech

import "time"

// CompatibilityRule rejects one combination of streaming options.
type CompatibilityRule struct {
	Name     string
	Violated func(p StreamingParameters) bool
	Message  string
}

// CompatibilityPolicy is evaluated in order; the first violated rule is reported.
type CompatibilityPolicy []CompatibilityRule

// DefaultCompatibilityPolicy returns the product defaults for option combinations.
func DefaultCompatibilityPolicy() CompatibilityPolicy {
	return CompatibilityPolicy{
		{
			Name: "large-chunks-low-latency",
			Violated: func(p StreamingParameters) bool {
				return p.chunkSize == ChunkSizeLarge && p.bufferStrategy == BufferLowLatency
			},
			Message: "large chunk size is incompatible with the low latency buffer strategy",
		},
		{
			Name: "high-quality-tight-latency",
			Violated: func(p StreamingParameters) bool {
				d, ok := p.MaxLatency()
				return ok && p.bufferStrategy == BufferHighQuality && d < time.Second
			},
			Message: "high quality buffering requires a max latency of at least 1s",
		},
		{
			Name: "low-latency-loose-latency",
			Violated: func(p StreamingParameters) bool {
				d, ok := p.MaxLatency()
				return ok && p.bufferStrategy == BufferLowLatency && d > 5*time.Second
			},
			Message: "low latency buffering does not allow a max latency above 5s",
		},
		{
			Name: "large-chunks-tight-latency",
			Violated: func(p StreamingParameters) bool {
				d, ok := p.MaxLatency()
				return ok && p.chunkSize == ChunkSizeLarge && d < 500*time.Millisecond
			},
			Message: "large chunk size requires a max latency of at least 500ms",
		},
	}
}

// Check returns a validation error for the first violated rule.
func (cp CompatibilityPolicy) Check(p StreamingParameters) error {
	for _, rule := range cp {
		if rule.Violated != nil && rule.Violated(p) {
			return validationError("%s", rule.Message)
		}
	}
	return nil
}
