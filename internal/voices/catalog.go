// Package voices retrieves and searches the service's voice list.
package voices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/daikw/speechstream/internal/cache"
	"github.com/daikw/speechstream/internal/speech"
)

// DefaultTTL is how long a fetched voice list is reused.
const DefaultTTL = 24 * time.Hour

// ListEndpoint returns the voice list URL for a region.
func ListEndpoint(region string) string {
	return fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/voices/list", region)
}

// ListEndpointFor derives the voice list URL from a synthesis endpoint,
// keeping its scheme and host.
func ListEndpointFor(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no scheme or host", endpoint)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/cognitiveservices/voices/list"}).String(), nil
}

// apiVoice is one entry of the service's voice list.
type apiVoice struct {
	Name            string   `json:"Name"`
	DisplayName     string   `json:"DisplayName"`
	ShortName       string   `json:"ShortName"`
	Gender          string   `json:"Gender"`
	Locale          string   `json:"Locale"`
	SampleRateHertz string   `json:"SampleRateHertz"`
	VoiceType       string   `json:"VoiceType"`
	Status          string   `json:"Status"`
	StyleList       []string `json:"StyleList"`
	RolePlayList    []string `json:"RolePlayList"`
}

func (v apiVoice) toVoice() speech.Voice {
	rate, _ := strconv.Atoi(v.SampleRateHertz)
	return speech.Voice{
		Name:            v.Name,
		ShortName:       v.ShortName,
		DisplayName:     v.DisplayName,
		Locale:          v.Locale,
		Gender:          v.Gender,
		VoiceType:       v.VoiceType,
		Status:          v.Status,
		SampleRateHertz: rate,
		Styles:          v.StyleList,
		Roles:           v.RolePlayList,
	}
}

// Catalog fetches voices and caches the result.
type Catalog struct {
	endpoint   string
	tokens     speech.TokenSource
	httpClient *http.Client
	cache      *cache.TTL[string, []speech.Voice]
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cat *Catalog) {
		cat.httpClient = c
	}
}

// WithEndpoint overrides the region-derived voice list URL.
func WithEndpoint(url string) Option {
	return func(cat *Catalog) {
		cat.endpoint = url
	}
}

// WithTTL sets how long a fetched list is reused.
func WithTTL(ttl time.Duration) Option {
	return func(cat *Catalog) {
		cat.cache = cache.NewTTL[string, []speech.Voice](1, ttl)
	}
}

// NewCatalog creates a catalog for a region.
func NewCatalog(region string, tokens speech.TokenSource, opts ...Option) *Catalog {
	c := &Catalog{
		endpoint:   ListEndpoint(region),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      cache.NewTTL[string, []speech.Voice](1, DefaultTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint is the voice list URL the catalog fetches.
func (c *Catalog) Endpoint() string { return c.endpoint }

// List returns every voice the service offers.
func (c *Catalog) List(ctx context.Context) ([]speech.Voice, error) {
	if cached, ok := c.cache.Get(c.endpoint); ok {
		log.Debug().Int("count", len(cached)).Msg("Using cached voice list")
		return slices.Clone(cached), nil
	}

	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)

	log.Debug().Str("endpoint", c.endpoint).Msg("Fetching voice list")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &speech.Error{Kind: speech.KindNetwork, Op: "list voices", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, speech.ErrorFromStatus("list voices", resp, body)
	}

	var raw []apiVoice
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &speech.Error{Kind: speech.KindNetwork, Op: "list voices", Err: fmt.Errorf("failed to decode voice list: %w", err)}
	}

	voices := make([]speech.Voice, 0, len(raw))
	for _, v := range raw {
		voices = append(voices, v.toVoice())
	}
	c.cache.Set(c.endpoint, voices)

	log.Debug().Int("count", len(voices)).Msg("Voice list fetched")
	return slices.Clone(voices), nil
}

// Search lists voices and applies f.
func (c *Catalog) Search(ctx context.Context, f Filter) ([]speech.Voice, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	return f.Apply(all), nil
}

// FindByName returns the voice whose short or full name matches,
// case-insensitively.
func (c *Catalog) FindByName(ctx context.Context, name string) (speech.Voice, error) {
	all, err := c.List(ctx)
	if err != nil {
		return speech.Voice{}, err
	}
	if v, ok := FindByName(all, name); ok {
		return v, nil
	}
	return speech.Voice{}, &speech.Error{Kind: speech.KindValidation, Op: "find voice", Message: fmt.Sprintf("voice %q not found", name)}
}

// Refresh drops the cached list.
func (c *Catalog) Refresh() { c.cache.Purge() }

// FindByName searches voices without fetching.
func FindByName(voices []speech.Voice, name string) (speech.Voice, bool) {
	for _, v := range voices {
		if strings.EqualFold(v.ShortName, name) || strings.EqualFold(v.Name, name) {
			return v, true
		}
	}
	return speech.Voice{}, false
}

// Filter selects voices. Empty fields match everything. Locale matches
// either an exact locale ("en-US") or a language prefix ("en").
type Filter struct {
	Locale    string
	Gender    string
	Style     string
	Role      string
	VoiceType string
}

// Match reports whether v satisfies every set field.
func (f Filter) Match(v speech.Voice) bool {
	if f.Locale != "" && !matchLocale(v.Locale, f.Locale) {
		return false
	}
	if f.Gender != "" && !strings.EqualFold(v.Gender, f.Gender) {
		return false
	}
	if f.Style != "" && !v.SupportsStyle(f.Style) {
		return false
	}
	if f.Role != "" && !v.SupportsRole(f.Role) {
		return false
	}
	if f.VoiceType != "" && !strings.EqualFold(v.VoiceType, f.VoiceType) {
		return false
	}
	return true
}

// Apply returns the matching voices in their original order.
func (f Filter) Apply(voices []speech.Voice) []speech.Voice {
	var out []speech.Voice
	for _, v := range voices {
		if f.Match(v) {
			out = append(out, v)
		}
	}
	return out
}

func matchLocale(locale, want string) bool {
	if strings.EqualFold(locale, want) {
		return true
	}
	return len(locale) > len(want) &&
		strings.EqualFold(locale[:len(want)], want) &&
		locale[len(want)] == '-'
}
