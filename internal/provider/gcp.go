package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/daikw/speechstream/internal/speech"
)

// GCPClient is the subset of the Cloud Text-to-Speech client we call.
type GCPClient interface {
	ListVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest, opts ...grpc.CallOption) (*texttospeechpb.ListVoicesResponse, error)
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...grpc.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
	Close() error
}

// gcpClient drops per-call gRPC options; the generated client takes gax
// options instead.
type gcpClient struct {
	c *texttospeech.Client
}

func (g gcpClient) ListVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest, _ ...grpc.CallOption) (*texttospeechpb.ListVoicesResponse, error) {
	return g.c.ListVoices(ctx, req)
}

func (g gcpClient) SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, _ ...grpc.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error) {
	return g.c.SynthesizeSpeech(ctx, req)
}

func (g gcpClient) Close() error {
	return g.c.Close()
}

// GCPProvider synthesizes with Google Cloud Text-to-Speech.
type GCPProvider struct {
	client    GCPClient
	projectID string
	voice     string
	language  string
}

// GCPProviderOption is a functional option for configuring GCPProvider
type GCPProviderOption func(*GCPProvider)

// WithGCPProjectID sets the Google Cloud project ID
func WithGCPProjectID(projectID string) GCPProviderOption {
	return func(p *GCPProvider) {
		p.projectID = projectID
	}
}

// WithGCPVoice sets the default voice
func WithGCPVoice(voice string) GCPProviderOption {
	return func(p *GCPProvider) {
		p.voice = voice
	}
}

// WithGCPLanguage sets the default language code
func WithGCPLanguage(language string) GCPProviderOption {
	return func(p *GCPProvider) {
		p.language = language
	}
}

// WithGCPClient replaces the gRPC client.
func WithGCPClient(client GCPClient) GCPProviderOption {
	return func(p *GCPProvider) {
		p.client = client
	}
}

// NewGCPProvider creates a Cloud TTS provider. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS or Application Default Credentials.
func NewGCPProvider(ctx context.Context, opts ...GCPProviderOption) (*GCPProvider, error) {
	p := &GCPProvider{
		voice:    "en-US-Neural2-F",
		language: "en-US",
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		client, err := texttospeech.NewClient(ctx)
		if err != nil {
			return nil, &speech.Error{Kind: speech.KindInitialization, Op: "gcp", Err: fmt.Errorf("failed to create GCP TTS client: %w", err)}
		}
		p.client = gcpClient{c: client}
	}

	return p, nil
}

func (p *GCPProvider) Name() string {
	return "gcp"
}

// ListVoices returns one entry per voice and language code.
func (p *GCPProvider) ListVoices(ctx context.Context) ([]speech.Voice, error) {
	resp, err := p.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{})
	if err != nil {
		return nil, gcpError("list voices", err)
	}

	var voices []speech.Voice
	for _, v := range resp.Voices {
		gender := "Unknown"
		switch v.SsmlGender {
		case texttospeechpb.SsmlVoiceGender_MALE:
			gender = "Male"
		case texttospeechpb.SsmlVoiceGender_FEMALE:
			gender = "Female"
		case texttospeechpb.SsmlVoiceGender_NEUTRAL:
			gender = "Neutral"
		}

		for _, langCode := range v.LanguageCodes {
			voices = append(voices, speech.Voice{
				Name:            v.Name,
				ShortName:       v.Name,
				Locale:          langCode,
				Gender:          gender,
				VoiceType:       detectEngineType(v.Name),
				SampleRateHertz: int(v.NaturalSampleRateHertz),
			})
		}
	}

	log.Debug().Int("count", len(voices)).Msg("Listed GCP TTS voices")
	return voices, nil
}

func detectEngineType(voiceName string) string {
	name := strings.ToLower(voiceName)
	switch {
	case strings.Contains(name, "wavenet"):
		return "WaveNet"
	case strings.Contains(name, "neural2"):
		return "Neural2"
	case strings.Contains(name, "studio"):
		return "Studio"
	case strings.Contains(name, "chirp"):
		return "Chirp"
	case strings.Contains(name, "polyglot"):
		return "Polyglot"
	case strings.Contains(name, "news"):
		return "News"
	default:
		return "Standard"
	}
}

// Synthesize returns the whole response as a reader; Cloud TTS does not
// stream unary responses.
func (p *GCPProvider) Synthesize(ctx context.Context, text string, options SynthesizeOptions) (io.ReadCloser, error) {
	if text == "" {
		return nil, validationError("gcp", "text cannot be empty")
	}

	voice := p.voice
	if options.Voice != "" {
		voice = options.Voice
	}

	// ja-JP-Neural2-B -> ja-JP
	language := p.language
	if options.Language != "" {
		language = options.Language
	} else if parts := strings.Split(voice, "-"); len(parts) >= 2 {
		language = parts[0] + "-" + parts[1]
	}

	encoding, err := audioEncoding(options.Format)
	if err != nil {
		return nil, err
	}

	input := &texttospeechpb.SynthesisInput{
		InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
	}
	if isSSML(text) {
		input.InputSource = &texttospeechpb.SynthesisInput_Ssml{Ssml: text}
	}

	log.Debug().
		Str("voice", voice).
		Str("language", language).
		Str("format", options.Format).
		Float64("speed", options.Speed).
		Msg("Making GCP TTS synthesis request")

	resp, err := p.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: input,
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: language,
			Name:         voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   encoding,
			SpeakingRate:    speakingRate(options.Speed),
			SampleRateHertz: sampleRate(options.SampleRate),
		},
	})
	if err != nil {
		return nil, gcpError("synthesize", err)
	}

	log.Debug().Int("audio_bytes", len(resp.AudioContent)).Msg("GCP TTS synthesis successful")
	return io.NopCloser(bytes.NewReader(resp.AudioContent)), nil
}

// Close closes the GCP client
func (p *GCPProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func isSSML(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "<speak")
}

func audioEncoding(format string) (texttospeechpb.AudioEncoding, error) {
	switch strings.ToLower(format) {
	case "", "mp3":
		return texttospeechpb.AudioEncoding_MP3, nil
	case "wav", "linear16", "pcm":
		return texttospeechpb.AudioEncoding_LINEAR16, nil
	case "ogg", "ogg_opus":
		return texttospeechpb.AudioEncoding_OGG_OPUS, nil
	case "mulaw":
		return texttospeechpb.AudioEncoding_MULAW, nil
	case "alaw":
		return texttospeechpb.AudioEncoding_ALAW, nil
	default:
		return texttospeechpb.AudioEncoding_AUDIO_ENCODING_UNSPECIFIED,
			validationError("gcp", fmt.Sprintf("unsupported audio format: %s", format))
	}
}

// speakingRate clamps speed to 0.25-4.0; zero means normal speed.
func speakingRate(speed float64) float64 {
	if speed <= 0 {
		return 1.0
	}
	return min(max(speed, 0.25), 4.0)
}

func sampleRate(rate string) int32 {
	switch rate {
	case "8000":
		return 8000
	case "16000":
		return 16000
	case "22050":
		return 22050
	case "24000":
		return 24000
	case "44100":
		return 44100
	case "48000":
		return 48000
	default:
		return 0
	}
}

func gcpError(op string, err error) error {
	kind := speech.KindNetwork
	switch status.Code(err) {
	case codes.InvalidArgument, codes.OutOfRange, codes.FailedPrecondition, codes.NotFound:
		kind = speech.KindValidation
	case codes.Unauthenticated, codes.PermissionDenied:
		kind = speech.KindAuthentication
	case codes.ResourceExhausted:
		kind = speech.KindRateLimit
	case codes.Unavailable, codes.Internal:
		kind = speech.KindServiceUnavailable
	}
	return &speech.Error{Kind: kind, Op: "gcp " + op, Err: err}
}
