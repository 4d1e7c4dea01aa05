package provider

import (
	"context"
	"errors"
	"io"
	"testing"

	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/daikw/speechstream/internal/speech"
)

// MockGCPClient is a mock for the GCP TTS client
type MockGCPClient struct {
	mock.Mock
}

func (m *MockGCPClient) ListVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest, opts ...grpc.CallOption) (*texttospeechpb.ListVoicesResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*texttospeechpb.ListVoicesResponse), args.Error(1)
}

func (m *MockGCPClient) SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...grpc.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*texttospeechpb.SynthesizeSpeechResponse), args.Error(1)
}

func (m *MockGCPClient) Close() error {
	return m.Called().Error(0)
}

func newGCPTestProvider(t *testing.T, client *MockGCPClient, opts ...GCPProviderOption) *GCPProvider {
	t.Helper()
	p, err := NewGCPProvider(context.Background(), append([]GCPProviderOption{WithGCPClient(client)}, opts...)...)
	require.NoError(t, err)
	return p
}

func TestGCPProvider_Name(t *testing.T) {
	assert.Equal(t, "gcp", (&GCPProvider{}).Name())
}

func TestDetectEngineType(t *testing.T) {
	tests := []struct {
		voiceName string
		expected  string
	}{
		{"ja-JP-Wavenet-A", "WaveNet"},
		{"ja-JP-Neural2-B", "Neural2"},
		{"en-US-Studio-O", "Studio"},
		{"en-US-Chirp3-HD-Puck", "Chirp"},
		{"en-US-Polyglot-1", "Polyglot"},
		{"en-US-News-K", "News"},
		{"ja-JP-Standard-A", "Standard"},
	}
	for _, tt := range tests {
		t.Run(tt.voiceName, func(t *testing.T) {
			assert.Equal(t, tt.expected, detectEngineType(tt.voiceName))
		})
	}
}

func TestAudioEncoding(t *testing.T) {
	tests := []struct {
		format   string
		expected texttospeechpb.AudioEncoding
	}{
		{"", texttospeechpb.AudioEncoding_MP3},
		{"MP3", texttospeechpb.AudioEncoding_MP3},
		{"wav", texttospeechpb.AudioEncoding_LINEAR16},
		{"ogg", texttospeechpb.AudioEncoding_OGG_OPUS},
		{"mulaw", texttospeechpb.AudioEncoding_MULAW},
		{"alaw", texttospeechpb.AudioEncoding_ALAW},
	}
	for _, tt := range tests {
		got, err := audioEncoding(tt.format)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, got, tt.format)
	}

	_, err := audioEncoding("flac")
	assert.True(t, errors.Is(err, speech.ErrValidation))
}

func TestSpeakingRate(t *testing.T) {
	assert.Equal(t, 1.0, speakingRate(0))
	assert.Equal(t, 0.25, speakingRate(0.1))
	assert.Equal(t, 4.0, speakingRate(9))
	assert.Equal(t, 1.5, speakingRate(1.5))
}

func TestGCPProvider_ListVoices(t *testing.T) {
	client := new(MockGCPClient)
	client.On("ListVoices", mock.Anything, mock.Anything).Return(&texttospeechpb.ListVoicesResponse{
		Voices: []*texttospeechpb.Voice{
			{
				Name:                   "en-US-Neural2-F",
				LanguageCodes:          []string{"en-US"},
				SsmlGender:             texttospeechpb.SsmlVoiceGender_FEMALE,
				NaturalSampleRateHertz: 24000,
			},
			{
				Name:          "en-US-Polyglot-1",
				LanguageCodes: []string{"en-US", "es-US"},
				SsmlGender:    texttospeechpb.SsmlVoiceGender_MALE,
			},
		},
	}, nil)

	voices, err := newGCPTestProvider(t, client).ListVoices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 3)
	assert.Equal(t, "Female", voices[0].Gender)
	assert.Equal(t, "Neural2", voices[0].VoiceType)
	assert.Equal(t, 24000, voices[0].SampleRateHertz)
	assert.Equal(t, "es-US", voices[2].Locale)
}

func TestGCPProvider_Synthesize(t *testing.T) {
	t.Run("derives language from voice", func(t *testing.T) {
		client := new(MockGCPClient)
		client.On("SynthesizeSpeech", mock.Anything, mock.MatchedBy(func(req *texttospeechpb.SynthesizeSpeechRequest) bool {
			return req.GetInput().GetText() == "Hello" &&
				req.GetVoice().GetName() == "ja-JP-Neural2-B" &&
				req.GetVoice().GetLanguageCode() == "ja-JP" &&
				req.GetAudioConfig().GetAudioEncoding() == texttospeechpb.AudioEncoding_LINEAR16 &&
				req.GetAudioConfig().GetSpeakingRate() == 1.25 &&
				req.GetAudioConfig().GetSampleRateHertz() == 24000
		})).Return(&texttospeechpb.SynthesizeSpeechResponse{AudioContent: []byte("pcm")}, nil)

		p := newGCPTestProvider(t, client)
		rc, err := p.Synthesize(context.Background(), "Hello", SynthesizeOptions{
			Voice:      "ja-JP-Neural2-B",
			Format:     "wav",
			Speed:      1.25,
			SampleRate: "24000",
		})
		require.NoError(t, err)
		data, _ := io.ReadAll(rc)
		assert.Equal(t, "pcm", string(data))
		client.AssertExpectations(t)
	})

	t.Run("SSML and configured defaults", func(t *testing.T) {
		client := new(MockGCPClient)
		client.On("SynthesizeSpeech", mock.Anything, mock.MatchedBy(func(req *texttospeechpb.SynthesizeSpeechRequest) bool {
			return req.GetInput().GetSsml() == "<speak>Hi</speak>" &&
				req.GetVoice().GetName() == "de-DE-Wavenet-A" &&
				req.GetVoice().GetLanguageCode() == "de-AT"
		})).Return(&texttospeechpb.SynthesizeSpeechResponse{}, nil)

		p := newGCPTestProvider(t, client, WithGCPVoice("de-DE-Wavenet-A"))
		_, err := p.Synthesize(context.Background(), "<speak>Hi</speak>", SynthesizeOptions{Language: "de-AT"})
		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("maps gRPC status", func(t *testing.T) {
		tests := []struct {
			code codes.Code
			want speech.Kind
		}{
			{codes.InvalidArgument, speech.KindValidation},
			{codes.Unauthenticated, speech.KindAuthentication},
			{codes.PermissionDenied, speech.KindAuthentication},
			{codes.ResourceExhausted, speech.KindRateLimit},
			{codes.Unavailable, speech.KindServiceUnavailable},
			{codes.DeadlineExceeded, speech.KindNetwork},
		}
		for _, tt := range tests {
			t.Run(tt.code.String(), func(t *testing.T) {
				client := new(MockGCPClient)
				client.On("SynthesizeSpeech", mock.Anything, mock.Anything).Return(nil, status.Error(tt.code, "boom"))

				_, err := newGCPTestProvider(t, client).Synthesize(context.Background(), "Hi", SynthesizeOptions{})
				assert.Equal(t, tt.want, speech.KindOf(err))
			})
		}
	})

	t.Run("empty text", func(t *testing.T) {
		client := new(MockGCPClient)
		_, err := newGCPTestProvider(t, client).Synthesize(context.Background(), "", SynthesizeOptions{})
		assert.True(t, errors.Is(err, speech.ErrValidation))
		client.AssertNotCalled(t, "SynthesizeSpeech", mock.Anything, mock.Anything)
	})
}

func TestGCPProvider_Close(t *testing.T) {
	client := new(MockGCPClient)
	client.On("Close").Return(nil).Once()

	require.NoError(t, newGCPTestProvider(t, client).Close())
	client.AssertExpectations(t)
	assert.NoError(t, (&GCPProvider{}).Close())
}
