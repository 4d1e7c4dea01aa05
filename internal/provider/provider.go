// Package provider adapts third-party synthesis services to the speech
// chunk pipeline.
package provider

import (
	"context"
	"io"

	"github.com/daikw/speechstream/internal/speech"
)

// Provider is an alternate synthesis backend.
type Provider interface {
	// Name returns the provider name
	Name() string

	// ListVoices returns available voices for this provider
	ListVoices(ctx context.Context) ([]speech.Voice, error)

	// Synthesize generates audio from text and returns an audio stream.
	// Errors are *speech.Error values.
	Synthesize(ctx context.Context, text string, options SynthesizeOptions) (io.ReadCloser, error)
}

// SynthesizeOptions contains options for text synthesis
type SynthesizeOptions struct {
	Voice      string  `json:"voice"`
	Speed      float64 `json:"speed,omitempty"`    // Speed multiplier (0.25-4.0)
	Format     string  `json:"format,omitempty"`   // mp3, ogg, pcm, wav
	Language   string  `json:"language,omitempty"` // Language code
	Model      string  `json:"model,omitempty"`    // Model to use (tts-1, tts-1-hd)
	Engine     string  `json:"engine,omitempty"`   // Polly engine
	SampleRate string  `json:"sampleRate,omitempty"`

	// ElevenLabs voice settings, 0 means the provider default
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarityBoost,omitempty"`
}

// Stream synthesizes text and sequences the audio into chunks the same way
// the streaming service's responses are.
func Stream(ctx context.Context, p Provider, text string, options SynthesizeOptions, chunkSize speech.ChunkSize) (*speech.AudioStream, error) {
	body, err := p.Synthesize(ctx, text, options)
	if err != nil {
		return nil, err
	}
	return speech.NewAudioStream(body, chunkSize.Bytes()), nil
}

func validationError(op, message string) error {
	return &speech.Error{Kind: speech.KindValidation, Op: op, Message: message}
}
