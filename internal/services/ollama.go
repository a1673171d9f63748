package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"resty.dev/v3"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
)

const (
	streamScannerInitialBuffer = 64 * 1024
	streamScannerMaxBuffer     = 4 * 1024 * 1024
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions is the ollama "options" bag. Zero values are omitted.
type ChatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumCtx      int      `json:"num_ctx,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ModelDetails struct {
	Format            string `json:"format,omitempty"`
	Family            string `json:"family,omitempty"`
	ParameterSize     string `json:"parameter_size,omitempty"`
	QuantizationLevel string `json:"quantization_level,omitempty"`
}

type ModelInfo struct {
	Name       string       `json:"name"`
	Model      string       `json:"model,omitempty"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest,omitempty"`
	Details    ModelDetails `json:"details"`
}

// FragmentStream is a pull-based sequence of generated text. Next returns io.EOF
// once the backend signals completion. A stream cannot be restarted.
type FragmentStream interface {
	Next() (string, error)
	Close() error
}

// TokenReporter is implemented by streams that learn the generated token count
// from the backend. The count is only meaningful after the stream has ended.
type TokenReporter interface {
	TokensUsed() int
}

// InferenceClient talks to an ollama compatible server. Every call names the
// server it targets so a single client can serve all registered backends.
type InferenceClient interface {
	CheckHealth(ctx context.Context, baseURL string) error
	ListModels(ctx context.Context, baseURL string) ([]ModelInfo, error)
	Chat(ctx context.Context, baseURL, model string, messages []ChatMessage, opts ChatOptions) (string, error)
	StreamChat(ctx context.Context, baseURL, model string, messages []ChatMessage, opts ChatOptions) (FragmentStream, error)
}

type ollamaClient struct {
	client        *resty.Client
	log           *logger.Logger
	healthTimeout time.Duration
	chatTimeout   time.Duration
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *ChatOptions  `json:"options,omitempty"`
}

type chatChunk struct {
	Message   ChatMessage `json:"message"`
	Done      bool        `json:"done"`
	Error     string      `json:"error,omitempty"`
	EvalCount int         `json:"eval_count,omitempty"`
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

type startedAtKey struct{}

func NewOllamaClient(log *logger.Logger, healthTimeout, chatTimeout time.Duration) InferenceClient {
	clientLog := log.With("service", "OllamaClient")
	client := resty.New()
	client.AddRequestMiddleware(func(c *resty.Client, r *resty.Request) error {
		r.SetContext(context.WithValue(r.Context(), startedAtKey{}, time.Now()))
		return nil
	})
	client.AddResponseMiddleware(func(c *resty.Client, r *resty.Response) error {
		if r.Request == nil || r.Request.RawRequest == nil {
			return nil
		}
		startedAt, _ := r.Request.Context().Value(startedAtKey{}).(time.Time)
		clientLog.Debug("ollama request",
			"method", r.Request.RawRequest.Method,
			"url", r.Request.RawRequest.URL.String(),
			"status", r.StatusCode(),
			"latency", time.Since(startedAt),
		)
		return nil
	})
	return &ollamaClient{
		client:        client,
		log:           clientLog,
		healthTimeout: healthTimeout,
		chatTimeout:   chatTimeout,
	}
}

func endpoint(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + path
}

// CheckHealth probes /api/tags with the short health timeout. A nil error means healthy.
func (oc *ollamaClient) CheckHealth(ctx context.Context, baseURL string) error {
	checkCtx, cancel := context.WithTimeout(ctx, oc.healthTimeout)
	defer cancel()

	resp, err := oc.client.R().SetContext(checkCtx).Get(endpoint(baseURL, "/api/tags"))
	if err != nil {
		return oc.transportError(ctx, baseURL, err)
	}
	if resp.IsError() {
		return &ConnectionError{URL: baseURL, Detail: fmt.Sprintf("HTTP %d", resp.StatusCode())}
	}
	return nil
}

func (oc *ollamaClient) ListModels(ctx context.Context, baseURL string) ([]ModelInfo, error) {
	listCtx, cancel := context.WithTimeout(ctx, oc.healthTimeout)
	defer cancel()

	var out tagsResponse
	resp, err := oc.client.R().SetContext(listCtx).SetResult(&out).Get(endpoint(baseURL, "/api/tags"))
	if err != nil {
		return nil, oc.transportError(ctx, baseURL, err)
	}
	if resp.IsError() {
		return nil, oc.responseError(baseURL, "", resp.StatusCode(), resp.String())
	}
	if out.Models == nil {
		out.Models = []ModelInfo{}
	}
	return out.Models, nil
}

// Chat runs a non-streaming completion and returns the assistant content.
func (oc *ollamaClient) Chat(ctx context.Context, baseURL, model string, messages []ChatMessage, opts ChatOptions) (string, error) {
	chatCtx, cancel := context.WithTimeout(ctx, oc.chatTimeout)
	defer cancel()

	var out chatChunk
	resp, err := oc.client.R().
		SetContext(chatCtx).
		SetHeader("Content-Type", "application/json").
		SetBody(chatRequest{Model: model, Messages: messages, Stream: false, Options: &opts}).
		SetResult(&out).
		Post(endpoint(baseURL, "/api/chat"))
	if err != nil {
		return "", oc.transportError(ctx, baseURL, err)
	}
	if resp.IsError() {
		return "", oc.responseError(baseURL, model, resp.StatusCode(), resp.String())
	}
	if out.Error != "" {
		return "", oc.chunkError(baseURL, model, out.Error)
	}
	return out.Message.Content, nil
}

// StreamChat opens a streaming completion. The caller must Close the stream.
func (oc *ollamaClient) StreamChat(ctx context.Context, baseURL, model string, messages []ChatMessage, opts ChatOptions) (FragmentStream, error) {
	resp, err := oc.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept-Encoding", "identity").
		SetBody(chatRequest{Model: model, Messages: messages, Stream: true, Options: &opts}).
		SetDoNotParseResponse(true).
		Post(endpoint(baseURL, "/api/chat"))
	if err != nil {
		return nil, oc.transportError(ctx, baseURL, err)
	}
	if resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return nil, &ConnectionError{URL: baseURL, Detail: "empty response body"}
	}
	if resp.IsError() {
		defer resp.RawResponse.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.RawResponse.Body, 64*1024))
		return nil, oc.responseError(baseURL, model, resp.StatusCode(), string(body))
	}

	scanner := bufio.NewScanner(resp.RawResponse.Body)
	scanner.Buffer(make([]byte, 0, streamScannerInitialBuffer), streamScannerMaxBuffer)
	return &ndjsonStream{
		ctx:     ctx,
		body:    resp.RawResponse.Body,
		scanner: scanner,
		baseURL: baseURL,
		model:   model,
		client:  oc,
	}, nil
}

func (oc *ollamaClient) transportError(ctx context.Context, baseURL string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &ConnectionError{URL: baseURL, Detail: err.Error()}
}

func (oc *ollamaClient) responseError(baseURL, model string, status int, body string) error {
	msg := strings.TrimSpace(body)
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(msg), &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if model != "" && (status == 404 || looksLikeMissingModel(msg)) {
		return &ModelNotFoundError{Model: model}
	}
	return &ConnectionError{URL: baseURL, Detail: fmt.Sprintf("HTTP %d: %s", status, msg)}
}

func (oc *ollamaClient) chunkError(baseURL, model, msg string) error {
	if looksLikeMissingModel(msg) {
		return &ModelNotFoundError{Model: model}
	}
	return &ConnectionError{URL: baseURL, Detail: msg}
}

type ndjsonStream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	baseURL string
	model   string
	client  *ollamaClient

	done      bool
	evalCount int
	closeOnce sync.Once
	closeErr  error
}

func (s *ndjsonStream) Next() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		if !s.scanner.Scan() {
			s.done = true
			if s.ctx.Err() != nil {
				return "", s.ctx.Err()
			}
			if err := s.scanner.Err(); err != nil {
				return "", &ConnectionError{URL: s.baseURL, Detail: err.Error()}
			}
			return "", &ConnectionError{URL: s.baseURL, Detail: "stream ended before completion"}
		}
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			s.done = true
			return "", &ConnectionError{URL: s.baseURL, Detail: fmt.Sprintf("malformed stream chunk: %v", err)}
		}
		if chunk.Error != "" {
			s.done = true
			return "", s.client.chunkError(s.baseURL, s.model, chunk.Error)
		}
		if chunk.Done {
			s.done = true
			s.evalCount = chunk.EvalCount
			if chunk.Message.Content != "" {
				return chunk.Message.Content, nil
			}
			return "", io.EOF
		}
		if chunk.Message.Content == "" {
			continue
		}
		return chunk.Message.Content, nil
	}
}

func (s *ndjsonStream) TokensUsed() int {
	return s.evalCount
}

func (s *ndjsonStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// IsStreamEnd reports whether err marks normal completion of a FragmentStream.
func IsStreamEnd(err error) bool {
	return errors.Is(err, io.EOF)
}
