package speech

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	headerOutputFormat = "X-Microsoft-OutputFormat"
	contentTypeSSML    = "application/ssml+xml"
	defaultUserAgent   = "speechstream"

	// maxErrorBody caps how much of a failed response is read into the error.
	maxErrorBody = 64 * 1024
)

// StreamRequest is everything the transport needs for one synthesis call.
type StreamRequest struct {
	Endpoint string
	Body     string
	// AuthHeader is the full Authorization value, e.g. "Bearer <token>".
	AuthHeader   string
	OutputFormat string
	// ReadSize is the preferred chunk granularity; it bounds each network read.
	ReadSize int
}

// StreamEnvelope is the result of a successful streaming request.
type StreamEnvelope struct {
	Audio       *AudioStream
	ContentType string
	// EstimatedTotalBytes is nil unless the service sent a Content-Length.
	EstimatedTotalBytes *int64
}

// Transport talks HTTP to the synthesis endpoint.
type Transport struct {
	httpClient *http.Client
	userAgent  string
	now        func() time.Time
	metrics    *streamMetrics
}

// NewTransport creates a transport. A nil client gets one without an overall
// timeout, since a streamed body may legitimately take long to arrive.
func NewTransport(httpClient *http.Client, userAgent string) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Transport{
		httpClient: httpClient,
		userAgent:  userAgent,
		now:        time.Now,
		metrics:    newStreamMetrics(nil),
	}
}

// StreamRequest opens the request and returns the audio as a chunk stream.
// Non-success responses are returned as errors and no stream is created.
func (t *Transport) StreamRequest(ctx context.Context, req StreamRequest) (*StreamEnvelope, error) {
	started := t.now()
	streamCtx, cancel := context.WithCancel(ctx)

	resp, err := t.open(streamCtx, "stream", req)
	if err != nil {
		cancel()
		t.metrics.failed(ctx, err)
		return nil, err
	}

	env := &StreamEnvelope{ContentType: resp.Header.Get("Content-Type")}
	if resp.ContentLength >= 0 {
		n := resp.ContentLength
		env.EstimatedTotalBytes = &n
	}

	audio := newAudioStream(resp.Body, req.ReadSize, t.now)
	audio.cancel = cancel
	audio.observe(t.metrics.observer(ctx, started, t.now))
	env.Audio = audio

	log.Debug().
		Str("endpoint", req.Endpoint).
		Str("format", req.OutputFormat).
		Str("content_type", env.ContentType).
		Int64("content_length", resp.ContentLength).
		Msg("Speech stream opened")

	return env, nil
}

// Fetch performs the request and reads the whole body.
func (t *Transport) Fetch(ctx context.Context, req StreamRequest) ([]byte, string, error) {
	resp, err := t.open(ctx, "synthesize", req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", wrapError(KindNetwork, "synthesize", fmt.Errorf("failed to read audio: %w", err))
	}

	log.Debug().
		Int("audio_bytes", len(data)).
		Str("content_type", resp.Header.Get("Content-Type")).
		Msg("Speech synthesis successful")

	return data, resp.Header.Get("Content-Type"), nil
}

func (t *Transport) open(ctx context.Context, op string, req StreamRequest) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, strings.NewReader(req.Body))
	if err != nil {
		return nil, wrapError(KindInitialization, op, fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", contentTypeSSML)
	httpReq.Header.Set("Accept", "audio/*")
	httpReq.Header.Set("User-Agent", t.userAgent)
	httpReq.Header.Set(headerOutputFormat, req.OutputFormat)
	if req.AuthHeader != "" {
		httpReq.Header.Set("Authorization", req.AuthHeader)
	}

	log.Debug().
		Str("endpoint", req.Endpoint).
		Str("format", req.OutputFormat).
		Int("body_bytes", len(req.Body)).
		Msg("Making speech request")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, wrapError(KindNetwork, op, fmt.Errorf("failed to make request: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := ErrorFromStatus(op, resp, body)
		log.Debug().
			Int("status", resp.StatusCode).
			Str("kind", serr.Kind.String()).
			Msg("Speech request rejected")
		return nil, serr
	}

	return resp, nil
}
