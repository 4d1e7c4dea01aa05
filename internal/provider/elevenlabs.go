package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/daikw/speechstream/internal/speech"
)

const (
	ElevenLabsBaseURL        = "https://api.elevenlabs.io/v1"
	ElevenLabsTTSEndpoint    = "/text-to-speech"
	ElevenLabsVoicesEndpoint = "/voices"

	// Rachel, a pre-built voice available to every account.
	elevenLabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM"
	elevenLabsDefaultModel = "eleven_multilingual_v2"
)

// ElevenLabsProvider synthesizes with the ElevenLabs streaming endpoint.
// Audio is returned as the response body arrives.
type ElevenLabsProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// ElevenLabsOption configures an ElevenLabsProvider.
type ElevenLabsOption func(*ElevenLabsProvider)

// WithElevenLabsBaseURL overrides the API base URL.
func WithElevenLabsBaseURL(baseURL string) ElevenLabsOption {
	return func(p *ElevenLabsProvider) {
		p.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithElevenLabsHTTPClient replaces the HTTP client.
func WithElevenLabsHTTPClient(c *http.Client) ElevenLabsOption {
	return func(p *ElevenLabsProvider) {
		p.httpClient = c
	}
}

// NewElevenLabsProvider creates a new ElevenLabs TTS provider
func NewElevenLabsProvider(apiKey string, opts ...ElevenLabsOption) (*ElevenLabsProvider, error) {
	if apiKey == "" {
		return nil, &speech.Error{Kind: speech.KindInitialization, Op: "elevenlabs", Message: "api key is required"}
	}
	p := &ElevenLabsProvider{
		apiKey:  apiKey,
		baseURL: ElevenLabsBaseURL,
		// no overall timeout: the body is read while streaming
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 60 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider name
func (p *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

type elevenLabsVoice struct {
	VoiceID         string            `json:"voice_id"`
	Name            string            `json:"name"`
	Category        string            `json:"category"`
	Labels          map[string]string `json:"labels"`
	Description     string            `json:"description"`
	AvailableForTTS *bool             `json:"available_for_tts"`
	FineTuning      struct {
		Language string `json:"language"`
	} `json:"fine_tuning"`
}

type elevenLabsVoicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// ListVoices returns the account's voices that can be used for synthesis.
func (p *ElevenLabsProvider) ListVoices(ctx context.Context) ([]speech.Voice, error) {
	endpoint := p.baseURL + ElevenLabsVoicesEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &speech.Error{Kind: speech.KindNetwork, Op: "elevenlabs", Err: fmt.Errorf("failed to create voices request: %w", err)}
	}
	req.Header.Set("xi-api-key", p.apiKey)

	log.Debug().
		Str("endpoint", endpoint).
		Msg("Making ElevenLabs voices request")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &speech.Error{Kind: speech.KindNetwork, Op: "elevenlabs", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, elevenLabsStatusError(resp, body)
	}

	var voicesResp elevenLabsVoicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&voicesResp); err != nil {
		return nil, &speech.Error{Kind: speech.KindNetwork, Op: "elevenlabs", Err: fmt.Errorf("failed to decode voices response: %w", err)}
	}

	title := cases.Title(language.English)
	voices := make([]speech.Voice, 0, len(voicesResp.Voices))
	for _, v := range voicesResp.Voices {
		if v.AvailableForTTS != nil && !*v.AvailableForTTS {
			continue
		}
		locale := "multilingual"
		if v.FineTuning.Language != "" {
			locale = v.FineTuning.Language
		}
		voices = append(voices, speech.Voice{
			Name:        v.Name,
			ShortName:   v.VoiceID,
			DisplayName: v.Name,
			Locale:      locale,
			Gender:      title.String(strings.ToLower(v.Labels["gender"])),
			VoiceType:   v.Category,
		})
	}

	log.Debug().
		Int("voice_count", len(voices)).
		Msg("ElevenLabs voices retrieved successfully")

	return voices, nil
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	LanguageCode  string                  `json:"language_code,omitempty"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

// Synthesize streams audio for text. Options.Voice is a voice ID.
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text string, options SynthesizeOptions) (io.ReadCloser, error) {
	if text == "" {
		return nil, validationError("elevenlabs", "text cannot be empty")
	}

	outputFormat, err := elevenLabsFormat(options.Format)
	if err != nil {
		return nil, err
	}

	voice := options.Voice
	if voice == "" {
		voice = elevenLabsDefaultVoice
	}

	reqBody := elevenLabsRequest{
		Text:         text,
		ModelID:      options.Model,
		LanguageCode: options.Language,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	}
	if reqBody.ModelID == "" {
		reqBody.ModelID = elevenLabsDefaultModel
	}
	if options.Stability > 0 {
		reqBody.VoiceSettings.Stability = options.Stability
	}
	if options.SimilarityBoost > 0 {
		reqBody.VoiceSettings.SimilarityBoost = options.SimilarityBoost
	}
	if options.Speed != 0 {
		reqBody.VoiceSettings.Speed = min(max(options.Speed, 0.7), 1.2)
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s%s/%s/stream?%s", p.baseURL, ElevenLabsTTSEndpoint, url.PathEscape(voice),
		url.Values{"output_format": {outputFormat}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, &speech.Error{Kind: speech.KindNetwork, Op: "elevenlabs", Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/*")
	req.Header.Set("xi-api-key", p.apiKey)

	log.Debug().
		Str("endpoint", endpoint).
		Str("voice", voice).
		Str("model", reqBody.ModelID).
		Str("format", outputFormat).
		Msg("Making ElevenLabs TTS request")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &speech.Error{Kind: speech.KindNetwork, Op: "elevenlabs", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, elevenLabsStatusError(resp, body)
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Str("content_type", resp.Header.Get("Content-Type")).
		Msg("ElevenLabs TTS request successful")

	return resp.Body, nil
}

// elevenLabsFormat maps common format names to ElevenLabs output formats.
// Native names such as mp3_22050_32 pass through.
func elevenLabsFormat(format string) (string, error) {
	format = strings.ToLower(format)
	switch format {
	case "", "mp3", "mpeg":
		return "mp3_44100_128", nil
	case "pcm":
		return "pcm_24000", nil
	case "ulaw":
		return "ulaw_8000", nil
	}
	for _, prefix := range []string{"mp3_", "pcm_", "ulaw_", "opus_"} {
		if strings.HasPrefix(format, prefix) {
			return format, nil
		}
	}
	return "", validationError("elevenlabs", fmt.Sprintf("unsupported audio format: %s", format))
}

// elevenLabsStatusError maps a non-success response into the error
// taxonomy. 422 is the API's request validation failure.
func elevenLabsStatusError(resp *http.Response, body []byte) *speech.Error {
	msg := elevenLabsMessage(body)
	if resp.StatusCode == http.StatusUnprocessableEntity {
		return &speech.Error{Kind: speech.KindValidation, Op: "elevenlabs", StatusCode: resp.StatusCode, Message: msg}
	}
	return speech.ErrorFromStatus("elevenlabs", resp, []byte(msg))
}

type elevenLabsError struct {
	Detail any `json:"detail"`
}

// elevenLabsMessage extracts the message from an API error body. The detail
// field is a string, an object with a message, or a list of validation
// errors; anything else falls back to the raw body.
func elevenLabsMessage(body []byte) string {
	var e elevenLabsError
	if err := json.Unmarshal(body, &e); err != nil || e.Detail == nil {
		return string(body)
	}
	switch detail := e.Detail.(type) {
	case string:
		return detail
	case map[string]any:
		if msg, ok := detail["message"].(string); ok {
			return msg
		}
	case []any:
		if len(detail) > 0 {
			if first, ok := detail[0].(map[string]any); ok {
				if msg, ok := first["msg"].(string); ok {
					return msg
				}
			}
		}
	}
	return string(body)
}
