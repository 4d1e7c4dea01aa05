package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/daikw/speechstream/internal/speech"
)

const (
	OpenAIBaseURL     = "https://api.openai.com/v1"
	OpenAITTSEndpoint = "/audio/speech"
)

// OpenAIProvider synthesizes with the OpenAI Audio API. The response body
// is returned as it arrives.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithOpenAIBaseURL overrides the API base URL.
func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithOpenAIHTTPClient replaces the HTTP client.
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.httpClient = c
	}
}

// NewOpenAIProvider creates a new OpenAI TTS provider
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, &speech.Error{Kind: speech.KindInitialization, Op: "openai", Message: "api key is required"}
	}
	p := &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: OpenAIBaseURL,
		// no overall timeout: the body is read while streaming
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// ListVoices returns the fixed OpenAI voice set.
func (p *OpenAIProvider) ListVoices(ctx context.Context) ([]speech.Voice, error) {
	voices := []speech.Voice{
		{Name: "Alloy", ShortName: "alloy", Locale: "en", Gender: "Neutral"},
		{Name: "Ash", ShortName: "ash", Locale: "en", Gender: "Male"},
		{Name: "Coral", ShortName: "coral", Locale: "en", Gender: "Female"},
		{Name: "Echo", ShortName: "echo", Locale: "en", Gender: "Male"},
		{Name: "Fable", ShortName: "fable", Locale: "en", Gender: "Neutral"},
		{Name: "Onyx", ShortName: "onyx", Locale: "en", Gender: "Male"},
		{Name: "Nova", ShortName: "nova", Locale: "en", Gender: "Female"},
		{Name: "Sage", ShortName: "sage", Locale: "en", Gender: "Female"},
		{Name: "Shimmer", ShortName: "shimmer", Locale: "en", Gender: "Female"},
	}
	for i := range voices {
		voices[i].DisplayName = voices[i].Name
		voices[i].VoiceType = "Neural"
	}
	return voices, nil
}

type openAIRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

// Synthesize generates audio from text using OpenAI Audio API
func (p *OpenAIProvider) Synthesize(ctx context.Context, text string, options SynthesizeOptions) (io.ReadCloser, error) {
	if text == "" {
		return nil, validationError("openai", "text cannot be empty")
	}

	reqBody := openAIRequest{
		Model:          options.Model,
		Input:          text,
		Voice:          options.Voice,
		ResponseFormat: options.Format,
		Speed:          speakingRate(options.Speed),
	}
	if reqBody.Voice == "" {
		reqBody.Voice = "alloy"
	}
	if reqBody.Model == "" {
		reqBody.Model = "tts-1"
	}
	if reqBody.ResponseFormat == "" {
		reqBody.ResponseFormat = "mp3"
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := p.baseURL + OpenAITTSEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, &speech.Error{Kind: speech.KindNetwork, Op: "openai", Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	log.Debug().
		Str("endpoint", endpoint).
		Str("voice", reqBody.Voice).
		Str("model", reqBody.Model).
		Str("format", reqBody.ResponseFormat).
		Float64("speed", reqBody.Speed).
		Msg("Making OpenAI TTS request")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &speech.Error{Kind: speech.KindNetwork, Op: "openai", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, speech.ErrorFromStatus("openai", resp, []byte(openAIMessage(body)))
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Str("content_type", resp.Header.Get("Content-Type")).
		Msg("OpenAI TTS request successful")

	return resp.Body, nil
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// openAIMessage extracts the message from an API error body, falling back
// to the raw body.
func openAIMessage(body []byte) string {
	var e openAIError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return string(body)
}
