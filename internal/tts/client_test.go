// Package tts_test tests the speech synthesis service client.
package tts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yheihei/pdf-to-podcast/internal/core"
	"github.com/yheihei/pdf-to-podcast/internal/tts"
)

const testTimeout = 10 * time.Second

func TestClient_Synthesize_Success(t *testing.T) {
	t.Parallel()

	wantAudio := []byte("RIFF-fake-wav-data")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/generate/speech", r.URL.Path)

		var req tts.SpeechRequest

		decodeErr := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, decodeErr)
		require.Equal(t, "こんにちは。", req.Text)
		require.Equal(t, "Kore", req.Voice)
		require.Equal(t, "ja", req.Language)

		w.Header().Set("Content-Type", "audio/wav")

		_, _ = w.Write(wantAudio)
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	client := tts.New(server.URL, testTimeout)

	audio, err := client.Synthesize(context.Background(), "こんにちは。", "Kore")
	require.NoError(t, err)
	require.Equal(t, wantAudio, audio)
}

func TestClient_Synthesize_DefaultVoice(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tts.SpeechRequest

		decodeErr := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, decodeErr)
		require.Equal(t, "Kore", req.Voice)

		w.Header().Set("Content-Type", "audio/wav")

		_, _ = w.Write([]byte("audio"))
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	client := tts.New(server.URL, testTimeout)

	_, err := client.Synthesize(context.Background(), "テスト", "")
	require.NoError(t, err)
}

func TestClient_Synthesize_EmptyText(t *testing.T) {
	t.Parallel()

	client := tts.New("http://localhost:8000", testTimeout)

	_, err := client.Synthesize(context.Background(), "", "Kore")
	require.ErrorIs(t, err, tts.ErrTextEmpty)
}

func TestClient_Synthesize_RateLimitClass(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)

		_ = json.NewEncoder(w).Encode(tts.ErrorResponse{Detail: "quota exceeded"})
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	client := tts.New(server.URL, testTimeout)

	_, err := client.Synthesize(context.Background(), "テスト", "Kore")
	require.Error(t, err)
	require.Equal(t, core.ClassRateLimit, core.ClassOf(err))
}

func TestClient_Synthesize_TransientClass(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	client := tts.New(server.URL, testTimeout)

	_, err := client.Synthesize(context.Background(), "テスト", "Kore")
	require.Error(t, err)
	require.Equal(t, core.ClassTransient, core.ClassOf(err))
}

func TestClient_Synthesize_TimeoutClass(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)

		w.Header().Set("Content-Type", "audio/wav")

		_, _ = w.Write([]byte("audio"))
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	client := tts.New(server.URL, testTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Synthesize(ctx, "テスト", "Kore")
	require.Error(t, err)
	require.Equal(t, core.ClassTimeout, core.ClassOf(err))
}

func TestClient_Synthesize_WrongContentType(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")

		_, _ = w.Write([]byte("not audio"))
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	client := tts.New(server.URL, testTimeout)

	_, err := client.Synthesize(context.Background(), "テスト", "Kore")
	require.ErrorIs(t, err, tts.ErrWrongContentType)
}

func TestClient_Synthesize_EmptyAudio(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	client := tts.New(server.URL, testTimeout)

	_, err := client.Synthesize(context.Background(), "テスト", "Kore")
	require.ErrorIs(t, err, tts.ErrReceivedEmptyWAV)
}

func TestClient_HealthCheck(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)

		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	client := tts.New(server.URL, testTimeout)

	require.NoError(t, client.HealthCheck(context.Background()))
}

func TestClient_HealthCheck_ServiceDown(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	client := tts.New(server.URL, testTimeout)

	err := client.HealthCheck(context.Background())
	require.ErrorIs(t, err, tts.ErrHealthCheckFailed)
}
