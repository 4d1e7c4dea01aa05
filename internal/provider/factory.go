package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/daikw/speechstream/internal/config"
	"github.com/daikw/speechstream/internal/speech"
)

// Names lists the providers CreateProvider knows about.
var Names = []string{"openai", "elevenlabs", "polly", "gcp"}

// CreateProvider builds the named provider from its configuration section.
// A nil cfg is treated as empty.
func CreateProvider(ctx context.Context, name string, cfg *config.ProviderConfig) (Provider, error) {
	if cfg == nil {
		cfg = &config.ProviderConfig{}
	}

	switch name {
	case "openai":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, &speech.Error{
				Kind:    speech.KindInitialization,
				Op:      "openai",
				Message: "API key not found in config or OPENAI_API_KEY environment variable",
			}
		}
		return NewOpenAIProvider(apiKey)
	case "elevenlabs":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ELEVENLABS_API_KEY")
		}
		if apiKey == "" {
			return nil, &speech.Error{
				Kind:    speech.KindInitialization,
				Op:      "elevenlabs",
				Message: "API key not found in config or ELEVENLABS_API_KEY environment variable",
			}
		}
		return NewElevenLabsProvider(apiKey)
	case "polly":
		region := cfg.Region
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		return NewPollyProvider(ctx, region)
	case "gcp":
		var opts []GCPProviderOption
		if cfg.ProjectID != "" {
			opts = append(opts, WithGCPProjectID(cfg.ProjectID))
		}
		if cfg.Voice != "" {
			opts = append(opts, WithGCPVoice(cfg.Voice))
		}
		if cfg.Language != "" {
			opts = append(opts, WithGCPLanguage(cfg.Language))
		}
		return NewGCPProvider(ctx, opts...)
	default:
		return nil, &speech.Error{Kind: speech.KindInitialization, Op: "provider", Message: fmt.Sprintf("unknown provider: %s", name)}
	}
}

// Options returns the synthesis options configured for a provider.
func Options(cfg *config.ProviderConfig) SynthesizeOptions {
	if cfg == nil {
		return SynthesizeOptions{}
	}
	return SynthesizeOptions{
		Voice:      cfg.Voice,
		Speed:      cfg.Speed,
		Format:     cfg.Format,
		Language:   cfg.Language,
		Model:      cfg.Model,
		Engine:     cfg.Engine,
		SampleRate: cfg.SampleRate,

		Stability:       cfg.Stability,
		SimilarityBoost: cfg.SimilarityBoost,
	}
}
