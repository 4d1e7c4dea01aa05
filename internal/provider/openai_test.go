package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daikw/speechstream/internal/config"
	"github.com/daikw/speechstream/internal/speech"
	"github.com/daikw/speechstream/internal/voices"
)

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewOpenAIProvider("sk-test", WithOpenAIBaseURL(server.URL+"/"), WithOpenAIHTTPClient(server.Client()))
	require.NoError(t, err)
	return p
}

func TestNewOpenAIProvider(t *testing.T) {
	_, err := NewOpenAIProvider("")
	assert.True(t, errors.Is(err, speech.ErrInitialization))

	p, err := NewOpenAIProvider("sk-test")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, OpenAIBaseURL, p.baseURL)
}

func TestOpenAIProvider_ListVoices(t *testing.T) {
	p, err := NewOpenAIProvider("sk-test")
	require.NoError(t, err)

	vs, err := p.ListVoices(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, vs)

	v, ok := voices.FindByName(vs, "nova")
	require.True(t, ok)
	assert.Equal(t, "Female", v.Gender)
	assert.Equal(t, "Nova", v.DisplayName)
}

func TestOpenAIProvider_Synthesize(t *testing.T) {
	t.Run("sends request and streams body", func(t *testing.T) {
		p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, OpenAITTSEndpoint, r.URL.Path)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

			var req openAIRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, openAIRequest{
				Model:          "tts-1",
				Input:          "Hello",
				Voice:          "alloy",
				ResponseFormat: "mp3",
				Speed:          1.0,
			}, req)

			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write([]byte("mp3-bytes"))
		})

		rc, err := p.Synthesize(context.Background(), "Hello", SynthesizeOptions{})
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "mp3-bytes", string(data))
	})

	t.Run("API error message", func(t *testing.T) {
		p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit"}}`))
		})

		_, err := p.Synthesize(context.Background(), "Hello", SynthesizeOptions{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, speech.ErrRateLimit))
		assert.Contains(t, err.Error(), "slow down")
	})

	t.Run("unauthorized", func(t *testing.T) {
		p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := p.Synthesize(context.Background(), "Hello", SynthesizeOptions{})
		assert.True(t, errors.Is(err, speech.ErrAuthentication))
	})

	t.Run("empty text", func(t *testing.T) {
		p, err := NewOpenAIProvider("sk-test")
		require.NoError(t, err)
		_, err = p.Synthesize(context.Background(), "", SynthesizeOptions{})
		assert.True(t, errors.Is(err, speech.ErrValidation))
	})
}

func TestStream(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2500))
	})

	s, err := Stream(context.Background(), p, "Hello", SynthesizeOptions{}, speech.ChunkSizeSmall)
	require.NoError(t, err)

	var total, last int
	for c, err := range s.Chunks() {
		require.NoError(t, err)
		assert.Equal(t, last, c.SequenceNumber)
		last++
		total += len(c.Data)
		if c.IsLast {
			assert.Empty(t, c.Data)
		}
	}
	assert.Equal(t, 2500, total)
}

func TestCreateProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("openai from config", func(t *testing.T) {
		p, err := CreateProvider(ctx, "openai", &config.ProviderConfig{APIKey: "sk-config"})
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name())
	})

	t.Run("openai from environment", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-env")
		p, err := CreateProvider(ctx, "openai", nil)
		require.NoError(t, err)
		assert.Equal(t, "sk-env", p.(*OpenAIProvider).apiKey)
	})

	t.Run("openai without key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		_, err := CreateProvider(ctx, "openai", &config.ProviderConfig{})
		assert.True(t, errors.Is(err, speech.ErrInitialization))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := CreateProvider(ctx, "espeak", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown provider: espeak")
	})
}

func TestOptions(t *testing.T) {
	assert.Equal(t, SynthesizeOptions{}, Options(nil))
	assert.Equal(t, SynthesizeOptions{Voice: "Joanna", Engine: "neural", SampleRate: "16000"},
		Options(&config.ProviderConfig{Voice: "Joanna", Engine: "neural", SampleRate: "16000", Region: "us-west-2"}))
}
