// Package llm_test tests the text-generation service client.
package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/require"

	"github.com/yheihei/pdf-to-podcast/internal/core"
	"github.com/yheihei/pdf-to-podcast/internal/llm"
)

const testTimeout = 10 * time.Second

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func completionServer(t *testing.T, text string) *httptest.Server {
	t.Helper()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var req llm.GenerateRequest

		decodeErr := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, decodeErr)
		require.NotEmpty(t, req.Prompt)
		require.NotEmpty(t, req.Model)

		w.Header().Set("Content-Type", "application/json")

		encodeErr := json.NewEncoder(w).Encode(llm.GenerateResponse{Text: text})
		require.NoError(t, encodeErr)
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return server
}

func statusServer(t *testing.T, status int) *httptest.Server {
	t.Helper()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)

		_ = json.NewEncoder(w).Encode(llm.ErrorResponse{
			Detail:    "nope",
			ErrorCode: "test",
		})
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return server
}

func TestClient_Detect_FencedJSON(t *testing.T) {
	t.Parallel()

	completion := "```json\n" +
		`{"chapters": [` +
		`{"title": "序章", "start_page": 1, "end_page": 10},` +
		`{"title": "第1章", "start_page": 11, "end_page": 42}` +
		"]}\n```"

	server := completionServer(t, completion)
	client := llm.New(server.URL, "test-model", testTimeout, newTestLogger(t))

	chapters, err := client.Detect(context.Background(), "sample text", 42)
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	require.Equal(t, core.ChapterSpec{Title: "序章", StartPage: 1, EndPage: 10}, chapters[0])
	require.Equal(t, core.ChapterSpec{Title: "第1章", StartPage: 11, EndPage: 42}, chapters[1])
}

func TestClient_Detect_BareJSON(t *testing.T) {
	t.Parallel()

	completion := `{"chapters": [{"title": "全文", "start_page": 1, "end_page": 5}]}`

	server := completionServer(t, completion)
	client := llm.New(server.URL, "test-model", testTimeout, newTestLogger(t))

	chapters, err := client.Detect(context.Background(), "sample text", 5)
	require.NoError(t, err)
	require.Len(t, chapters, 1)
	require.Equal(t, "全文", chapters[0].Title)
}

func TestClient_Detect_UnparseableFallsBack(t *testing.T) {
	t.Parallel()

	server := completionServer(t, "I could not find any chapters, sorry.")
	client := llm.New(server.URL, "test-model", testTimeout, newTestLogger(t))

	chapters, err := client.Detect(context.Background(), "sample text", 30)
	require.NoError(t, err)
	require.Len(t, chapters, 1)
	require.Equal(t, 1, chapters[0].StartPage)
	require.Equal(t, 30, chapters[0].EndPage)
}

func TestClient_Detect_EmptyListFallsBack(t *testing.T) {
	t.Parallel()

	server := completionServer(t, `{"chapters": []}`)
	client := llm.New(server.URL, "test-model", testTimeout, newTestLogger(t))

	chapters, err := client.Detect(context.Background(), "sample text", 12)
	require.NoError(t, err)
	require.Len(t, chapters, 1)
	require.Equal(t, 12, chapters[0].EndPage)
}

func TestClient_Detect_InvalidTotalPages(t *testing.T) {
	t.Parallel()

	client := llm.New("http://localhost:1", "test-model", testTimeout, newTestLogger(t))

	_, err := client.Detect(context.Background(), "sample text", 0)
	require.Error(t, err)
}

func TestClient_Generate_StripsFences(t *testing.T) {
	t.Parallel()

	server := completionServer(t, "```\n本日は第一章について解説します。\n```")
	client := llm.New(server.URL, "test-model", testTimeout, newTestLogger(t))

	item := core.WorkItem{ID: "第1章", Ordinal: 1, StartPage: 1, EndPage: 10, Text: "本文"}

	script, err := client.Generate(context.Background(), item, core.GenerationContext{})
	require.NoError(t, err)
	require.Equal(t, "本日は第一章について解説します。", script)
}

func TestClient_Generate_RateLimitClass(t *testing.T) {
	t.Parallel()

	server := statusServer(t, http.StatusTooManyRequests)
	client := llm.New(server.URL, "test-model", testTimeout, newTestLogger(t))

	item := core.WorkItem{ID: "第1章", Text: "本文"}

	_, err := client.Generate(context.Background(), item, core.GenerationContext{})
	require.Error(t, err)
	require.Equal(t, core.ClassRateLimit, core.ClassOf(err))
}

func TestClient_Generate_TransientClass(t *testing.T) {
	t.Parallel()

	server := statusServer(t, http.StatusInternalServerError)
	client := llm.New(server.URL, "test-model", testTimeout, newTestLogger(t))

	item := core.WorkItem{ID: "第1章", Text: "本文"}

	_, err := client.Generate(context.Background(), item, core.GenerationContext{})
	require.Error(t, err)
	require.Equal(t, core.ClassTransient, core.ClassOf(err))
}

func TestClient_Generate_FatalClass(t *testing.T) {
	t.Parallel()

	server := statusServer(t, http.StatusBadRequest)
	client := llm.New(server.URL, "test-model", testTimeout, newTestLogger(t))

	item := core.WorkItem{ID: "第1章", Text: "本文"}

	_, err := client.Generate(context.Background(), item, core.GenerationContext{})
	require.Error(t, err)
	require.Equal(t, core.ClassFatal, core.ClassOf(err))
}

func TestClient_Generate_ContextHints(t *testing.T) {
	t.Parallel()

	var gotPrompt string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req llm.GenerateRequest

		decodeErr := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, decodeErr)

		gotPrompt = req.Prompt

		w.Header().Set("Content-Type", "application/json")

		_ = json.NewEncoder(w).Encode(llm.GenerateResponse{Text: "台本です。"})
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	client := llm.New(server.URL, "test-model", testTimeout, newTestLogger(t))

	item := core.WorkItem{ID: "第2章", Text: "本文"}
	genCtx := core.GenerationContext{
		SeriesTitle:   "実践ガイド",
		PreviousTitle: "第1章",
		NextTitle:     "第3章",
	}

	_, err := client.Generate(context.Background(), item, genCtx)
	require.NoError(t, err)
	require.Contains(t, gotPrompt, "実践ガイド")
	require.Contains(t, gotPrompt, "第1章")
	require.Contains(t, gotPrompt, "第3章")
}
