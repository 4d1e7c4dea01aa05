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

func newElevenLabsTestServer(t *testing.T, handler http.HandlerFunc) *ElevenLabsProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewElevenLabsProvider("xi-test", WithElevenLabsBaseURL(server.URL+"/"), WithElevenLabsHTTPClient(server.Client()))
	require.NoError(t, err)
	return p
}

func TestNewElevenLabsProvider(t *testing.T) {
	_, err := NewElevenLabsProvider("")
	assert.True(t, errors.Is(err, speech.ErrInitialization))

	p, err := NewElevenLabsProvider("xi-test")
	require.NoError(t, err)
	assert.Equal(t, "elevenlabs", p.Name())
	assert.Equal(t, ElevenLabsBaseURL, p.baseURL)
}

func TestElevenLabsProvider_ListVoices(t *testing.T) {
	p := newElevenLabsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, ElevenLabsVoicesEndpoint, r.URL.Path)
		assert.Equal(t, "xi-test", r.Header.Get("xi-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"voices": [
			{"voice_id": "21m00Tcm4TlvDq8ikWAM", "name": "Rachel", "category": "premade", "labels": {"gender": "female"}, "available_for_tts": true},
			{"voice_id": "abc", "name": "Clone", "category": "cloned", "labels": {"gender": "MALE"}, "fine_tuning": {"language": "ja"}},
			{"voice_id": "off", "name": "Disabled", "available_for_tts": false}
		]}`))
	})

	vs, err := p.ListVoices(context.Background())
	require.NoError(t, err)
	require.Len(t, vs, 2)

	rachel, ok := voices.FindByName(vs, "21m00Tcm4TlvDq8ikWAM")
	require.True(t, ok)
	assert.Equal(t, "Rachel", rachel.DisplayName)
	assert.Equal(t, "Female", rachel.Gender)
	assert.Equal(t, "multilingual", rachel.Locale)
	assert.Equal(t, "premade", rachel.VoiceType)

	clone, ok := voices.FindByName(vs, "abc")
	require.True(t, ok)
	assert.Equal(t, "Male", clone.Gender)
	assert.Equal(t, "ja", clone.Locale)
}

func TestElevenLabsProvider_Synthesize(t *testing.T) {
	t.Run("sends request and streams body", func(t *testing.T) {
		p := newElevenLabsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, ElevenLabsTTSEndpoint+"/"+elevenLabsDefaultVoice+"/stream", r.URL.Path)
			assert.Equal(t, "mp3_44100_128", r.URL.Query().Get("output_format"))
			assert.Equal(t, "xi-test", r.Header.Get("xi-api-key"))

			var req elevenLabsRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, elevenLabsRequest{
				Text:    "Hello",
				ModelID: elevenLabsDefaultModel,
				VoiceSettings: elevenLabsVoiceSettings{
					Stability:       0.5,
					SimilarityBoost: 0.75,
				},
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

	t.Run("options", func(t *testing.T) {
		p := newElevenLabsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, ElevenLabsTTSEndpoint+"/voice-1/stream", r.URL.Path)
			assert.Equal(t, "pcm_24000", r.URL.Query().Get("output_format"))

			var req elevenLabsRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "eleven_flash_v2_5", req.ModelID)
			assert.Equal(t, "de", req.LanguageCode)
			assert.Equal(t, 0.3, req.VoiceSettings.Stability)
			assert.Equal(t, 0.9, req.VoiceSettings.SimilarityBoost)
			assert.Equal(t, 1.2, req.VoiceSettings.Speed)
		})

		rc, err := p.Synthesize(context.Background(), "Hallo", SynthesizeOptions{
			Voice:           "voice-1",
			Format:          "pcm",
			Model:           "eleven_flash_v2_5",
			Language:        "de",
			Speed:           2.0,
			Stability:       0.3,
			SimilarityBoost: 0.9,
		})
		require.NoError(t, err)
		rc.Close()
	})

	t.Run("status errors", func(t *testing.T) {
		tests := []struct {
			name    string
			status  int
			body    string
			want    error
			message string
		}{
			{"unauthorized", http.StatusUnauthorized, `{"detail": {"status": "invalid_api_key", "message": "Invalid API key"}}`, speech.ErrAuthentication, "Invalid API key"},
			{"rate limited", http.StatusTooManyRequests, `{"detail": "too many concurrent requests"}`, speech.ErrRateLimit, "too many concurrent requests"},
			{"unprocessable", http.StatusUnprocessableEntity, `{"detail": [{"loc": ["body", "text"], "msg": "field required"}]}`, speech.ErrValidation, "field required"},
			{"server", http.StatusServiceUnavailable, `overloaded`, speech.ErrServiceUnavailable, "overloaded"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				p := newElevenLabsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(tt.body))
				})

				_, err := p.Synthesize(context.Background(), "Hello", SynthesizeOptions{})
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.want))
				assert.Contains(t, err.Error(), tt.message)
			})
		}
	})

	t.Run("validation", func(t *testing.T) {
		p, err := NewElevenLabsProvider("xi-test")
		require.NoError(t, err)

		_, err = p.Synthesize(context.Background(), "", SynthesizeOptions{})
		assert.True(t, errors.Is(err, speech.ErrValidation))

		_, err = p.Synthesize(context.Background(), "Hello", SynthesizeOptions{Format: "flac"})
		assert.True(t, errors.Is(err, speech.ErrValidation))
	})
}

func TestElevenLabsFormat(t *testing.T) {
	tests := map[string]string{
		"":              "mp3_44100_128",
		"MP3":           "mp3_44100_128",
		"pcm":           "pcm_24000",
		"ulaw":          "ulaw_8000",
		"mp3_22050_32":  "mp3_22050_32",
		"opus_48000_64": "opus_48000_64",
	}
	for in, want := range tests {
		got, err := elevenLabsFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := elevenLabsFormat("ogg")
	assert.Error(t, err)
}

func TestElevenLabsStream(t *testing.T) {
	p := newElevenLabsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 5; i++ {
			_, _ = w.Write(make([]byte, 700))
			flusher.Flush()
		}
	})

	audio, err := Stream(context.Background(), p, "Hello", SynthesizeOptions{}, speech.ChunkSizeSmall)
	require.NoError(t, err)
	total := int64(3500)
	progress := speech.TrackProgress(audio, &total)

	buf := speech.NewChunkBuffer(speech.ChunkSizeSmall.Bytes(), 0)
	var popped int
	for c, err := range audio.Chunks() {
		require.NoError(t, err)
		buf.Push(c)
		for buf.HasEnoughDataForPlayback() {
			out, ok := buf.PopPlaybackChunk()
			if !ok {
				break
			}
			popped += len(out)
		}
	}
	popped += len(buf.DrainAll())
	assert.Equal(t, 3500, popped)

	var last speech.StreamProgress
	for sp, err := range progress.Updates(context.Background()) {
		require.NoError(t, err)
		last = sp
	}
	assert.True(t, last.IsComplete)
	assert.Equal(t, int64(3500), last.BytesReceived)
}

func TestCreateProvider_ElevenLabs(t *testing.T) {
	ctx := context.Background()
	assert.Contains(t, Names, "elevenlabs")

	t.Run("from config", func(t *testing.T) {
		p, err := CreateProvider(ctx, "elevenlabs", &config.ProviderConfig{APIKey: "xi-config"})
		require.NoError(t, err)
		assert.Equal(t, "elevenlabs", p.Name())
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("ELEVENLABS_API_KEY", "xi-env")
		p, err := CreateProvider(ctx, "elevenlabs", nil)
		require.NoError(t, err)
		assert.Equal(t, "xi-env", p.(*ElevenLabsProvider).apiKey)
	})

	t.Run("without key", func(t *testing.T) {
		t.Setenv("ELEVENLABS_API_KEY", "")
		_, err := CreateProvider(ctx, "elevenlabs", &config.ProviderConfig{})
		assert.True(t, errors.Is(err, speech.ErrInitialization))
	})

	t.Run("voice settings reach options", func(t *testing.T) {
		opts := Options(&config.ProviderConfig{Stability: 0.4, SimilarityBoost: 0.8})
		assert.Equal(t, 0.4, opts.Stability)
		assert.Equal(t, 0.8, opts.SimilarityBoost)
	})
}
