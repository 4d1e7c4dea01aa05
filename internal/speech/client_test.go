package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type mockTokenSource struct {
	mock.Mock
}

func (m *mockTokenSource) GetValidToken(ctx context.Context) (Token, error) {
	args := m.Called(ctx)
	return args.Get(0).(Token), args.Error(1)
}

func validToken() Token {
	return Token{Value: "tok", ExpiresAt: time.Now().Add(10 * time.Minute)}
}

func stubBody(voice Voice, text string, rate float64, style, role string) (string, error) {
	return "<speak>" + text + "</speak>", nil
}

func newTestClient(t *testing.T, httpClient *http.Client, opts ...Option) (*Client, *mockTokenSource) {
	t.Helper()
	tokens := &mockTokenSource{}
	tokens.On("GetValidToken", mock.Anything).Return(validToken(), nil).Maybe()
	opts = append([]Option{WithHTTPClient(httpClient)}, opts...)
	c, err := NewClient(Config{Endpoint: "https://example.invalid/cognitiveservices/v1"}, tokens, stubBody, opts...)
	require.NoError(t, err)
	return c, tokens
}

func mustParams(t *testing.T, b *StreamingParametersBuilder) StreamingParameters {
	t.Helper()
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func TestNewClient(t *testing.T) {
	tokens := &mockTokenSource{}

	t.Run("derives endpoint from region", func(t *testing.T) {
		c, err := NewClient(Config{Region: "westus2"}, tokens, stubBody)
		require.NoError(t, err)
		assert.Equal(t, "https://westus2.tts.speech.microsoft.com/cognitiveservices/v1", c.Endpoint())
	})

	t.Run("missing configuration", func(t *testing.T) {
		_, err := NewClient(Config{}, tokens, stubBody)
		assert.True(t, errors.Is(err, ErrInitialization))

		_, err = NewClient(Config{Region: "westus2"}, nil, stubBody)
		assert.True(t, errors.Is(err, ErrInitialization))

		_, err = NewClient(Config{Region: "westus2"}, tokens, nil)
		assert.True(t, errors.Is(err, ErrInitialization))
	})
}

func TestClient_ValidateStreamingParams(t *testing.T) {
	c, _ := newTestClient(t, nil)

	assert.NoError(t, c.ValidateStreamingParams(mustParams(t, validBuilder())))

	t.Run("rejects batch-only formats", func(t *testing.T) {
		p := mustParams(t, validBuilder().AudioFormat(FormatWAVAt24kHz))
		err := c.ValidateStreamingParams(p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not supported for streaming")
	})

	t.Run("rejects zero value", func(t *testing.T) {
		err := c.ValidateStreamingParams(StreamingParameters{})
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("applies the client policy", func(t *testing.T) {
		p := mustParams(t, validBuilder().
			PreferredChunkSize(ChunkSizeLarge).
			BufferStrategy(BufferLowLatency).
			Policy(nil))
		assert.Error(t, c.ValidateStreamingParams(p))

		lenient, _ := newTestClient(t, nil, WithPolicy(CompatibilityPolicy{}))
		assert.NoError(t, lenient.ValidateStreamingParams(p))
	})
}

func TestClient_GetAudioStream(t *testing.T) {
	t.Run("streams fragments", func(t *testing.T) {
		var seen *http.Request
		httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			seen = r
			return &http.Response{
				StatusCode:    http.StatusOK,
				Header:        http.Header{"Content-Type": {"audio/mpeg"}},
				Body:          &fragmentReader{frags: fragments(3, 100)},
				ContentLength: 300,
			}, nil
		})}
		c, tokens := newTestClient(t, httpClient)

		env, err := c.GetAudioStream(context.Background(), mustParams(t, validBuilder()))
		require.NoError(t, err)
		assert.Equal(t, "Bearer tok", seen.Header.Get("Authorization"))
		assert.Equal(t, FormatMP3At24kHz, seen.Header.Get("X-Microsoft-OutputFormat"))

		chunks, err := collect(t, env.Audio)
		require.NoError(t, err)
		assert.Len(t, chunks, 4)
		tokens.AssertExpectations(t)
	})

	t.Run("rate limited", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		tokens := &mockTokenSource{}
		tokens.On("GetValidToken", mock.Anything).Return(validToken(), nil)
		c, err := NewClient(Config{Endpoint: server.URL}, tokens, stubBody, WithHTTPClient(server.Client()))
		require.NoError(t, err)

		env, err := c.GetAudioStream(context.Background(), mustParams(t, validBuilder()))
		require.Error(t, err)
		assert.Nil(t, env)
		assert.True(t, errors.Is(err, ErrRateLimit))
		d, ok := RetryAfterOf(err)
		assert.True(t, ok)
		assert.Equal(t, 2*time.Second, d)
	})

	t.Run("validation happens before any request", func(t *testing.T) {
		calls := 0
		httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls++
			return nil, errors.New("unreachable")
		})}
		c, tokens := newTestClient(t, httpClient)

		_, err := c.GetAudioStream(context.Background(), mustParams(t, validBuilder().AudioFormat(FormatWAVAt16kHz)))
		assert.True(t, errors.Is(err, ErrValidation))
		assert.Zero(t, calls)
		tokens.AssertNotCalled(t, "GetValidToken", mock.Anything)
	})

	t.Run("token failure", func(t *testing.T) {
		tokens := &mockTokenSource{}
		tokens.On("GetValidToken", mock.Anything).Return(Token{}, errors.New("sts unreachable"))
		c, err := NewClient(Config{Region: "westus2"}, tokens, stubBody)
		require.NoError(t, err)

		_, err = c.GetAudioStream(context.Background(), mustParams(t, validBuilder()))
		assert.True(t, errors.Is(err, ErrAuthentication))
		assert.Contains(t, err.Error(), "sts unreachable")
	})

	t.Run("expired token", func(t *testing.T) {
		tokens := &mockTokenSource{}
		tokens.On("GetValidToken", mock.Anything).
			Return(Token{Value: "old", ExpiresAt: time.Now().Add(-time.Second)}, nil)
		c, err := NewClient(Config{Region: "westus2"}, tokens, stubBody)
		require.NoError(t, err)

		_, err = c.GetAudioStream(context.Background(), mustParams(t, validBuilder()))
		assert.True(t, errors.Is(err, ErrAuthentication))
	})

	t.Run("body builder failure", func(t *testing.T) {
		tokens := &mockTokenSource{}
		tokens.On("GetValidToken", mock.Anything).Return(validToken(), nil)
		failing := func(Voice, string, float64, string, string) (string, error) {
			return "", errors.New("bad locale")
		}
		c, err := NewClient(Config{Region: "westus2"}, tokens, failing)
		require.NoError(t, err)

		_, err = c.GetAudioStream(context.Background(), mustParams(t, validBuilder()))
		assert.True(t, errors.Is(err, ErrValidation))
	})
}

func TestClient_GetAudioStreamWithProgress(t *testing.T) {
	serve := func(body io.ReadCloser, length int64) *http.Client {
		return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: body, ContentLength: length}, nil
		})}
	}

	t.Run("progress follows the audio stream", func(t *testing.T) {
		c, _ := newTestClient(t, serve(&fragmentReader{frags: fragments(3, 100)}, 300))
		env, progress, err := c.GetAudioStreamWithProgress(context.Background(), mustParams(t, validBuilder()))
		require.NoError(t, err)

		_, err = collect(t, env.Audio)
		require.NoError(t, err)

		var updates []StreamProgress
		for sp, err := range progress.Updates(context.Background()) {
			require.NoError(t, err)
			updates = append(updates, sp)
		}
		require.Len(t, updates, 4)

		for i := 1; i < len(updates); i++ {
			assert.GreaterOrEqual(t, updates[i].BytesReceived, updates[i-1].BytesReceived)
			assert.GreaterOrEqual(t, updates[i].ChunksReceived, updates[i-1].ChunksReceived)
			assert.False(t, updates[i-1].IsComplete)
		}
		final := updates[3]
		assert.True(t, final.IsComplete)
		assert.Equal(t, int64(300), final.BytesReceived)
		assert.Equal(t, 3, final.ChunksReceived)
		pct, ok := final.PercentComplete()
		assert.True(t, ok)
		assert.Equal(t, 1.0, pct)
		assert.NoError(t, progress.Err())
	})

	t.Run("progress is observed no later than the chunk", func(t *testing.T) {
		c, _ := newTestClient(t, serve(&fragmentReader{frags: fragments(2, 10)}, -1))
		env, progress, err := c.GetAudioStreamWithProgress(context.Background(), mustParams(t, validBuilder()))
		require.NoError(t, err)

		chunk, err := env.Audio.Recv()
		require.NoError(t, err)
		sp, err := progress.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(len(chunk.Data)), sp.BytesReceived)
		assert.Nil(t, sp.TotalEstimatedBytes)
		env.Audio.Close()
	})

	t.Run("mid-stream error is mirrored", func(t *testing.T) {
		body := &fragmentReader{frags: fragments(1, 10), err: errors.New("connection reset")}
		c, _ := newTestClient(t, serve(body, -1))
		env, progress, err := c.GetAudioStreamWithProgress(context.Background(), mustParams(t, validBuilder()))
		require.NoError(t, err)

		_, streamErr := collect(t, env.Audio)
		require.Error(t, streamErr)

		sp, err := progress.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(10), sp.BytesReceived)

		_, err = progress.Next(context.Background())
		assert.True(t, errors.Is(err, ErrNetwork))
		assert.Equal(t, streamErr, progress.Err())
	})

	t.Run("closing the audio completes progress", func(t *testing.T) {
		c, _ := newTestClient(t, serve(&fragmentReader{frags: fragments(5, 10)}, -1))
		env, progress, err := c.GetAudioStreamWithProgress(context.Background(), mustParams(t, validBuilder()))
		require.NoError(t, err)

		_, err = env.Audio.Recv()
		require.NoError(t, err)
		require.NoError(t, env.Audio.Close())

		_, err = progress.Next(context.Background())
		require.NoError(t, err)
		_, err = progress.Next(context.Background())
		assert.Equal(t, io.EOF, err)
	})

	t.Run("tracking disabled", func(t *testing.T) {
		c, _ := newTestClient(t, serve(&fragmentReader{frags: fragments(1, 10)}, -1))
		env, progress, err := c.GetAudioStreamWithProgress(context.Background(),
			mustParams(t, validBuilder().EnableProgressTracking(false)))
		require.NoError(t, err)
		defer env.Audio.Close()

		_, err = progress.Next(context.Background())
		assert.Equal(t, io.EOF, err)
	})

	t.Run("failure before streaming returns no progress", func(t *testing.T) {
		httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}, Body: io.NopCloser(http.NoBody)}, nil
		})}
		c, _ := newTestClient(t, httpClient)
		env, progress, err := c.GetAudioStreamWithProgress(context.Background(), mustParams(t, validBuilder()))
		assert.True(t, errors.Is(err, ErrRateLimit))
		assert.Nil(t, env)
		assert.Nil(t, progress)
	})
}

func TestProgressStream_NextHonorsContext(t *testing.T) {
	p := newProgressStream()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProgressStream_SlowReaderDoesNotBlock(t *testing.T) {
	p := newProgressStream()
	for i := 0; i < 10000; i++ {
		p.publish(StreamProgress{ChunksReceived: i})
	}
	p.finish(nil)
	p.publish(StreamProgress{ChunksReceived: -1})

	count := 0
	for sp, err := range p.Updates(context.Background()) {
		require.NoError(t, err)
		assert.Equal(t, count, sp.ChunksReceived)
		count++
	}
	assert.Equal(t, 10000, count)
}

func TestClient_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: &fragmentReader{frags: fragments(3, 100)}, ContentLength: -1}, nil
	})}
	c, _ := newTestClient(t, httpClient, WithMeterProvider(mp))

	env, err := c.GetAudioStream(context.Background(), mustParams(t, validBuilder()))
	require.NoError(t, err)
	_, err = collect(t, env.Audio)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	var sawLatency bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					sawLatency = sawLatency || dp.Count > 0
				}
			}
		}
	}
	assert.Equal(t, int64(1), sums["speech.stream.started"])
	assert.Equal(t, int64(3), sums["speech.stream.chunks"])
	assert.Equal(t, int64(300), sums["speech.stream.bytes"])
	assert.True(t, sawLatency)
}

// contextBody yields one fragment, then blocks until the request context ends.
type contextBody struct {
	ctx  context.Context
	sent bool
}

func (b *contextBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, make([]byte, 64)), nil
	}
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *contextBody) Close() error { return nil }

func TestClient_CancellationKind(t *testing.T) {
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if err := r.Context().Err(); err != nil {
			return nil, err
		}
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: &contextBody{ctx: r.Context()}, ContentLength: -1}, nil
	})}
	c, _ := newTestClient(t, httpClient)
	params := mustParams(t, validBuilder())

	t.Run("before the response", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := c.GetAudioStreamWithProgress(ctx, params)
		assert.Equal(t, KindNetwork, KindOf(err))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("while streaming", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		env, progress, err := c.GetAudioStreamWithProgress(ctx, params)
		require.NoError(t, err)

		chunk, err := env.Audio.Recv()
		require.NoError(t, err)
		assert.Len(t, chunk.Data, 64)

		cancel()
		_, err = env.Audio.Recv()
		assert.Equal(t, KindNetwork, KindOf(err))
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, errors.Is(err, ErrNetwork))

		for {
			_, err := progress.Next(context.Background())
			if err != nil {
				assert.Equal(t, io.EOF, err)
				break
			}
		}
		assert.NoError(t, progress.Err())
	})
}
