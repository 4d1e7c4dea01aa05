package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/daikw/speechstream/internal/speech"
)

const (
	// TokenLifetime is how long an issued token is accepted by the service.
	TokenLifetime = 10 * time.Minute
	// RefreshMargin is how long before expiry a token is replaced.
	RefreshMargin = time.Minute

	subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"
)

// IssueTokenEndpoint returns the token exchange URL for a region.
func IssueTokenEndpoint(region string) string {
	return fmt.Sprintf("https://%s.api.cognitive.microsoft.com/sts/v1.0/issueToken", region)
}

// TokenProvider exchanges a subscription key for short-lived bearer tokens.
// It is shared by concurrent requests: reads are lock-free and at most one
// refresh is in flight.
type TokenProvider struct {
	key        string
	endpoint   string
	httpClient *http.Client
	now        func() time.Time

	current atomic.Pointer[speech.Token]
	mu      sync.Mutex
}

// Option configures a TokenProvider.
type Option func(*TokenProvider)

// WithHTTPClient sets the HTTP client used for token exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(p *TokenProvider) {
		p.httpClient = c
	}
}

// WithEndpoint overrides the region-derived token URL.
func WithEndpoint(url string) Option {
	return func(p *TokenProvider) {
		p.endpoint = url
	}
}

// WithClock sets the time source for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(p *TokenProvider) {
		p.now = now
	}
}

// NewTokenProvider creates a provider for a subscription key and region.
func NewTokenProvider(key, region string, opts ...Option) (*TokenProvider, error) {
	p := &TokenProvider{
		key:        strings.TrimSpace(key),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.key == "" {
		return nil, &speech.Error{Kind: speech.KindInitialization, Op: "new token provider", Message: "subscription key is required"}
	}
	if p.endpoint == "" {
		if strings.TrimSpace(region) == "" {
			return nil, &speech.Error{Kind: speech.KindInitialization, Op: "new token provider", Message: "region is required"}
		}
		p.endpoint = IssueTokenEndpoint(region)
	}
	return p, nil
}

// GetValidToken returns a token that stays valid for at least RefreshMargin,
// issuing a new one when needed.
func (p *TokenProvider) GetValidToken(ctx context.Context) (speech.Token, error) {
	if t := p.current.Load(); t != nil && p.fresh(*t) {
		return *t, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another caller may have refreshed while we waited.
	if t := p.current.Load(); t != nil && p.fresh(*t) {
		return *t, nil
	}

	t, err := p.issue(ctx)
	if err != nil {
		return speech.Token{}, err
	}
	p.current.Store(&t)
	return t, nil
}

// Invalidate drops the cached token, e.g. after the service rejected it.
func (p *TokenProvider) Invalidate() {
	p.current.Store(nil)
}

func (p *TokenProvider) fresh(t speech.Token) bool {
	return !t.IsExpired(p.now().Add(RefreshMargin))
}

func (p *TokenProvider) issue(ctx context.Context) (speech.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, http.NoBody)
	if err != nil {
		return speech.Token{}, authError(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set(subscriptionKeyHeader, p.key)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	log.Debug().Str("endpoint", p.endpoint).Msg("Issuing speech token")

	issuedAt := p.now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return speech.Token{}, authError(fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return speech.Token{}, authError(fmt.Errorf("failed to read token: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		serr := speech.ErrorFromStatus("issue token", resp, body)
		serr.Kind = speech.KindAuthentication
		log.Debug().Int("status", resp.StatusCode).Msg("Token request rejected")
		return speech.Token{}, serr
	}

	value := strings.TrimSpace(string(body))
	if value == "" {
		return speech.Token{}, &speech.Error{Kind: speech.KindAuthentication, Op: "issue token", Message: "empty token in response"}
	}

	log.Debug().Time("expires_at", issuedAt.Add(TokenLifetime)).Msg("Speech token issued")
	return speech.Token{Value: value, ExpiresAt: issuedAt.Add(TokenLifetime)}, nil
}

func authError(err error) error {
	return &speech.Error{Kind: speech.KindAuthentication, Op: "issue token", Err: err}
}

// StaticToken is a pre-issued token that is never refreshed.
type StaticToken string

// GetValidToken returns the token, or an authentication error when empty.
func (s StaticToken) GetValidToken(context.Context) (speech.Token, error) {
	if strings.TrimSpace(string(s)) == "" {
		return speech.Token{}, &speech.Error{Kind: speech.KindAuthentication, Op: "static token", Message: "no token configured"}
	}
	return speech.Token{Value: string(s)}, nil
}
