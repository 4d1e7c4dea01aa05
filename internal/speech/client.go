package speech

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
)

// Token is a bearer token and the instant it stops being accepted.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// IsExpired reports whether the token is unusable at now. A zero ExpiresAt
// means the token never expires.
func (t Token) IsExpired(now time.Time) bool {
	if t.Value == "" {
		return true
	}
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// TokenSource hands out the current valid token. Implementations are shared
// across requests and must be safe for concurrent use.
type TokenSource interface {
	GetValidToken(ctx context.Context) (Token, error)
}

// BodyBuilder renders the request markup for one synthesis call.
type BodyBuilder func(voice Voice, text string, rate float64, style, role string) (string, error)

// Config holds the service location.
type Config struct {
	Region string
	// Endpoint overrides the region-derived synthesis URL.
	Endpoint string
}

// SynthesisEndpoint returns the synthesis URL for a region.
func SynthesisEndpoint(region string) string {
	return fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region)
}

// Client is the entry point for application code. It validates parameters,
// attaches credentials, renders the request body and hands the request to
// the transport.
type Client struct {
	endpoint  string
	tokens    TokenSource
	body      BodyBuilder
	policy    CompatibilityPolicy
	transport *Transport
	now       func() time.Time
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient    *http.Client
	userAgent     string
	policy        CompatibilityPolicy
	now           func() time.Time
	meterProvider metric.MeterProvider
}

// WithHTTPClient sets the HTTP client used for synthesis requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *clientOptions) {
		o.userAgent = ua
	}
}

// WithPolicy replaces the default cross-field compatibility rules.
func WithPolicy(p CompatibilityPolicy) Option {
	return func(o *clientOptions) {
		o.policy = p
	}
}

// WithClock sets the time source used for token expiry and chunk timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		o.now = now
	}
}

// WithMeterProvider sets where stream metrics are recorded. The global
// provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *clientOptions) {
		o.meterProvider = mp
	}
}

// NewClient creates a client. It fails with an initialization error when the
// service location or a collaborator is missing.
func NewClient(cfg Config, tokens TokenSource, body BodyBuilder, opts ...Option) (*Client, error) {
	o := clientOptions{
		policy: DefaultCompatibilityPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		if strings.TrimSpace(cfg.Region) == "" {
			return nil, newError(KindInitialization, "new client", "region or endpoint is required")
		}
		endpoint = SynthesisEndpoint(cfg.Region)
	}
	if tokens == nil {
		return nil, newError(KindInitialization, "new client", "token source is required")
	}
	if body == nil {
		return nil, newError(KindInitialization, "new client", "body builder is required")
	}

	transport := NewTransport(o.httpClient, o.userAgent)
	transport.now = o.now
	transport.metrics = newStreamMetrics(o.meterProvider)

	return &Client{
		endpoint:  endpoint,
		tokens:    tokens,
		body:      body,
		policy:    o.policy,
		transport: transport,
		now:       o.now,
	}, nil
}

// Endpoint is the synthesis URL requests are sent to.
func (c *Client) Endpoint() string { return c.endpoint }

// ValidateStreamingParams re-checks parameters before any network activity.
// Parameters built elsewhere, or with a different policy, are held to this
// client's rules.
func (c *Client) ValidateStreamingParams(p StreamingParameters) error {
	if p.voice.ID() == "" {
		return validationError("voice is required")
	}
	if err := checkText(p.text); err != nil {
		return err
	}
	if err := checkRate(p.rate); err != nil {
		return err
	}
	if err := checkVoiceCapabilities(p); err != nil {
		return err
	}
	if !SupportsStreaming(p.audioFormat) {
		return validationError("audio format %q is not supported for streaming", p.audioFormat)
	}
	if d, ok := p.MaxLatency(); ok && d < MinMaxLatency {
		return validationError("max latency must be at least %s", MinMaxLatency)
	}
	return c.policy.Check(p)
}

// GetAudioStream starts a streaming synthesis. The caller owns the returned
// audio stream and must drain or Close it.
func (c *Client) GetAudioStream(ctx context.Context, p StreamingParameters) (*StreamEnvelope, error) {
	if err := c.ValidateStreamingParams(p); err != nil {
		return nil, err
	}

	token, err := c.validToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := c.body(p.voice, p.text, p.rate, p.style, p.role)
	if err != nil {
		return nil, wrapError(KindValidation, "build request", err)
	}

	log.Debug().
		Str("voice", p.voice.ID()).
		Str("format", p.audioFormat).
		Str("chunk_size", p.chunkSize.String()).
		Str("buffer_strategy", p.bufferStrategy.String()).
		Msg("Starting audio stream")

	return c.transport.StreamRequest(ctx, StreamRequest{
		Endpoint:     c.endpoint,
		Body:         body,
		AuthHeader:   "Bearer " + token.Value,
		OutputFormat: p.audioFormat,
		ReadSize:     p.chunkSize.Bytes(),
	})
}

// GetAudioStreamWithProgress is GetAudioStream plus a progress stream derived
// from the chunks the caller receives. When progress tracking is disabled
// the progress stream is already closed and never yields.
func (c *Client) GetAudioStreamWithProgress(ctx context.Context, p StreamingParameters) (*StreamEnvelope, *ProgressStream, error) {
	env, err := c.GetAudioStream(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	if !p.progress {
		return env, closedProgressStream(), nil
	}
	return env, TrackProgress(env.Audio, env.EstimatedTotalBytes), nil
}

func (c *Client) validToken(ctx context.Context) (Token, error) {
	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		var se *Error
		if errors.As(err, &se) && se.Kind == KindAuthentication {
			return Token{}, err
		}
		return Token{}, wrapError(KindAuthentication, "token", err)
	}
	if token.IsExpired(c.now()) {
		return Token{}, newError(KindAuthentication, "token", "no valid token available")
	}
	return token, nil
}
