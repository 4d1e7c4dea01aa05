package speech

import (
	"context"
	"time"
)

// SynthesisRequest describes a one-shot synthesis whose audio is returned
// whole. Unlike streaming, container formats such as RIFF are allowed.
type SynthesisRequest struct {
	Voice  Voice
	Text   string
	Format string
	Rate   float64
	Style  string
	Role   string
}

// SynthesisResult is the complete audio of a batch synthesis.
type SynthesisResult struct {
	Audio       []byte
	ContentType string
	Format      string
	Elapsed     time.Duration
}

// Synthesize performs a batch synthesis. It applies the same validation,
// credentials and error mapping as streaming but does not retry; wrap it
// with a retry policy where transient failures should be retried.
func (c *Client) Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error) {
	if req.Format == "" {
		req.Format = DefaultFormat
	}
	if req.Rate == 0 {
		req.Rate = DefaultRate
	}
	if err := validateSynthesis(req); err != nil {
		return nil, err
	}

	token, err := c.validToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := c.body(req.Voice, req.Text, req.Rate, req.Style, req.Role)
	if err != nil {
		return nil, wrapError(KindValidation, "build request", err)
	}

	started := c.now()
	data, contentType, err := c.transport.Fetch(ctx, StreamRequest{
		Endpoint:     c.endpoint,
		Body:         body,
		AuthHeader:   "Bearer " + token.Value,
		OutputFormat: req.Format,
	})
	if err != nil {
		c.transport.metrics.failed(ctx, err)
		return nil, err
	}

	if contentType == "" {
		contentType = ContentTypeForFormat(req.Format)
	}
	return &SynthesisResult{
		Audio:       data,
		ContentType: contentType,
		Format:      req.Format,
		Elapsed:     c.now().Sub(started),
	}, nil
}

func validateSynthesis(req SynthesisRequest) error {
	if req.Voice.ID() == "" {
		return validationError("voice is required")
	}
	if err := checkText(req.Text); err != nil {
		return err
	}
	if err := checkRate(req.Rate); err != nil {
		return err
	}
	if !IsKnownFormat(req.Format) {
		return validationError("unknown audio format %q", req.Format)
	}
	return checkVoiceCapabilities(StreamingParameters{voice: req.Voice, style: req.Style, role: req.Role})
}
