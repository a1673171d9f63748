package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
)

func newTestOllamaClient() InferenceClient {
	return NewOllamaClient(logger.NewNop(), 2*time.Second, 5*time.Second)
}

func ndjsonHandler(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range lines {
			_, _ = io.WriteString(w, l+"\n")
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

func drain(t *testing.T, s FragmentStream) ([]string, error) {
	t.Helper()
	var out []string
	for {
		frag, err := s.Next()
		if err != nil {
			if IsStreamEnd(err) {
				return out, nil
			}
			return out, err
		}
		out = append(out, frag)
	}
}

func TestStreamChatYieldsFragments(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		ndjsonHandler(
			`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
			``,
			`{"message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"eval_count":7}`,
		)(w, r)
	}))
	defer srv.Close()

	temp := 0.3
	stream, err := newTestOllamaClient().StreamChat(context.Background(), srv.URL+"/", "mistral:7b",
		[]ChatMessage{{Role: "user", Content: "hi"}}, ChatOptions{Temperature: &temp, NumCtx: 1024})
	require.NoError(t, err)
	defer stream.Close()

	frags, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, frags)
	require.Implements(t, (*TokenReporter)(nil), stream)
	assert.Equal(t, 7, stream.(TokenReporter).TokensUsed())

	assert.True(t, got.Stream)
	assert.Equal(t, "mistral:7b", got.Model)
	require.NotNil(t, got.Options)
	assert.Equal(t, 1024, got.Options.NumCtx)

	// Exhausted streams keep returning EOF.
	_, err = stream.Next()
	assert.True(t, IsStreamEnd(err))
}

func TestStreamChatModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"ghost\" not found, try pulling it first"}`)
	}))
	defer srv.Close()

	_, err := newTestOllamaClient().StreamChat(context.Background(), srv.URL, "ghost", nil, ChatOptions{})
	require.Error(t, err)
	var mnf *ModelNotFoundError
	require.ErrorAs(t, err, &mnf)
	assert.Equal(t, "ghost", mnf.Model)
}

func TestStreamChatErrorLine(t *testing.T) {
	srv := httptest.NewServer(ndjsonHandler(
		`{"message":{"content":"par"},"done":false}`,
		`{"error":"llama runner process has terminated"}`,
	))
	defer srv.Close()

	stream, err := newTestOllamaClient().StreamChat(context.Background(), srv.URL, "m", nil, ChatOptions{})
	require.NoError(t, err)
	defer stream.Close()

	frags, err := drain(t, stream)
	assert.Equal(t, []string{"par"}, frags)
	assert.True(t, IsConnectionError(err))
}

func TestStreamChatTruncatedIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(ndjsonHandler(`{"message":{"content":"a"},"done":false}`))
	defer srv.Close()

	stream, err := newTestOllamaClient().StreamChat(context.Background(), srv.URL, "m", nil, ChatOptions{})
	require.NoError(t, err)
	defer stream.Close()

	_, err = drain(t, stream)
	assert.True(t, IsConnectionError(err))
}

func TestUnreachableBackendIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := newTestOllamaClient()
	err := client.CheckHealth(context.Background(), url)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, url, ce.URL)

	_, err = client.StreamChat(context.Background(), url, "m", nil, ChatOptions{})
	assert.True(t, IsConnectionError(err))
}

func TestCheckHealthAndListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"models":[{"name":"mistral:7b","size":1},{"name":"llama3:8b","size":2}]}`)
	}))
	defer srv.Close()

	client := newTestOllamaClient()
	require.NoError(t, client.CheckHealth(context.Background(), srv.URL))

	models, err := client.ListModels(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "mistral:7b", models[0].Name)
}

func TestCheckHealthNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := newTestOllamaClient().CheckHealth(context.Background(), srv.URL)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "HTTP 500", ce.Detail)
}

func TestCheckHealthTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewOllamaClient(logger.NewNop(), 50*time.Millisecond, time.Second)
	err := client.CheckHealth(context.Background(), srv.URL)
	assert.True(t, IsConnectionError(err))
}

func TestChatReturnsContent(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"Weather Chat"},"done":true}`)
	}))
	defer srv.Close()

	out, err := newTestOllamaClient().Chat(context.Background(), srv.URL, "summ", []ChatMessage{{Role: "user", Content: "x"}}, ChatOptions{NumPredict: 50})
	require.NoError(t, err)
	assert.Equal(t, "Weather Chat", out)
	assert.False(t, got.Stream)
	assert.Equal(t, 50, got.Options.NumPredict)
}
