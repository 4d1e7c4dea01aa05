package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/daikw/speechstream/internal/speech"
)

// PollyClient interface defines the methods we need from the Polly client
type PollyClient interface {
	DescribeVoices(ctx context.Context, params *polly.DescribeVoicesInput, optFns ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyProvider synthesizes with Amazon Polly.
type PollyProvider struct {
	client PollyClient
	region string
}

// NewPollyProvider loads the default AWS configuration for region.
func NewPollyProvider(ctx context.Context, region string) (*PollyProvider, error) {
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, &speech.Error{Kind: speech.KindInitialization, Op: "polly", Err: fmt.Errorf("failed to load AWS config: %w", err)}
	}

	return &PollyProvider{client: polly.NewFromConfig(cfg), region: region}, nil
}

func (p *PollyProvider) Name() string {
	return "polly"
}

// ListVoices returns Polly voices. Supported engines are reported as the
// voice type.
func (p *PollyProvider) ListVoices(ctx context.Context) ([]speech.Voice, error) {
	result, err := p.client.DescribeVoices(ctx, &polly.DescribeVoicesInput{})
	if err != nil {
		return nil, pollyError("list voices", err)
	}

	title := cases.Title(language.English)
	voices := make([]speech.Voice, 0, len(result.Voices))
	for _, v := range result.Voices {
		voices = append(voices, speech.Voice{
			Name:        aws.ToString(v.Name),
			ShortName:   string(v.Id),
			DisplayName: aws.ToString(v.Name),
			Locale:      string(v.LanguageCode),
			Gender:      title.String(strings.ToLower(string(v.Gender))),
			VoiceType:   formatSupportedEngines(v.SupportedEngines),
		})
	}
	return voices, nil
}

// Synthesize returns Polly's audio stream without buffering it.
func (p *PollyProvider) Synthesize(ctx context.Context, text string, options SynthesizeOptions) (io.ReadCloser, error) {
	if text == "" {
		return nil, validationError("polly", "text cannot be empty")
	}

	voiceID := options.Voice
	if voiceID == "" {
		voiceID = "Joanna"
	}

	format := options.Format
	if format == "" {
		format = "mp3"
	}

	var pollyFormat types.OutputFormat
	switch strings.ToLower(format) {
	case "mp3":
		pollyFormat = types.OutputFormatMp3
	case "ogg":
		pollyFormat = types.OutputFormatOggVorbis
	case "pcm":
		pollyFormat = types.OutputFormatPcm
	default:
		return nil, validationError("polly", fmt.Sprintf("unsupported audio format: %s", format))
	}

	engine := types.EngineNeural
	switch strings.ToLower(options.Engine) {
	case "", "neural":
	case "standard":
		engine = types.EngineStandard
	case "long-form":
		engine = types.EngineLongForm
	case "generative":
		engine = types.EngineGenerative
	default:
		log.Warn().Str("engine", options.Engine).Msg("Unknown engine, using neural")
	}

	input := &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		VoiceId:      types.VoiceId(voiceID),
		OutputFormat: pollyFormat,
		Engine:       engine,
		TextType:     types.TextTypeText,
	}

	switch options.SampleRate {
	case "":
	case "8000", "16000", "22050", "24000":
		input.SampleRate = aws.String(options.SampleRate)
	default:
		log.Warn().Str("sample_rate", options.SampleRate).Msg("Invalid sample rate, using default")
	}

	if strings.HasPrefix(strings.TrimSpace(text), "<speak") {
		input.TextType = types.TextTypeSsml
	}

	log.Debug().
		Str("voice_id", voiceID).
		Str("output_format", string(pollyFormat)).
		Str("engine", string(engine)).
		Str("text_type", string(input.TextType)).
		Msg("Making Polly synthesis request")

	result, err := p.client.SynthesizeSpeech(ctx, input)
	if err != nil {
		return nil, pollyError("synthesize", err)
	}

	log.Debug().
		Str("content_type", aws.ToString(result.ContentType)).
		Msg("Polly synthesis request successful")

	return result.AudioStream, nil
}

// pollyError classifies AWS API errors by their error code.
func pollyError(op string, err error) error {
	kind := speech.KindNetwork
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			kind = speech.KindRateLimit
		case "ServiceFailureException", "ServiceUnavailableException":
			kind = speech.KindServiceUnavailable
		case "UnrecognizedClientException", "InvalidSignatureException", "AccessDeniedException",
			"ExpiredTokenException", "MissingAuthenticationTokenException":
			kind = speech.KindAuthentication
		default:
			if apiErr.ErrorFault() == smithy.FaultServer {
				kind = speech.KindServiceUnavailable
			} else {
				kind = speech.KindValidation
			}
		}
	}
	return &speech.Error{Kind: kind, Op: "polly " + op, Err: err}
}

func formatSupportedEngines(engines []types.Engine) string {
	if len(engines) == 0 {
		return "unknown"
	}
	names := make([]string, len(engines))
	for i, e := range engines {
		names[i] = string(e)
	}
	return strings.Join(names, ", ")
}
