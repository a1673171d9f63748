package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/db"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.NewTestDatabase("services_" + strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	return gdb
}

type chatCall struct {
	BaseURL  string
	Model    string
	Messages []ChatMessage
	Opts     ChatOptions
}

type chatReply struct {
	text string
	err  error
}

// fakeInference scripts backend behavior per base URL.
type fakeInference struct {
	mu sync.Mutex

	health      map[string]error
	healthPanic map[string]bool
	models      map[string][]ModelInfo
	modelsErr   map[string]error

	chatReplies []chatReply
	chatCalls   []chatCall

	fragments    []string
	streamErr    error
	streamEndErr error
	streamPanic  string
	streamCalls  []chatCall
	tokens       int
	lastStream   *fakeStream
}

func newFakeInference() *fakeInference {
	return &fakeInference{
		health:      map[string]error{},
		healthPanic: map[string]bool{},
		models:      map[string][]ModelInfo{},
		modelsErr:   map[string]error{},
	}
}

func (f *fakeInference) CheckHealth(ctx context.Context, baseURL string) error {
	f.mu.Lock()
	panicking := f.healthPanic[baseURL]
	err := f.health[baseURL]
	f.mu.Unlock()
	if panicking {
		panic("boom")
	}
	return err
}

func (f *fakeInference) ListModels(ctx context.Context, baseURL string) ([]ModelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.modelsErr[baseURL]; err != nil {
		return nil, err
	}
	return f.models[baseURL], nil
}

func (f *fakeInference) Chat(ctx context.Context, baseURL, model string, messages []ChatMessage, opts ChatOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls = append(f.chatCalls, chatCall{BaseURL: baseURL, Model: model, Messages: messages, Opts: opts})
	if len(f.chatReplies) == 0 {
		return "", &ConnectionError{URL: baseURL, Detail: "no scripted reply"}
	}
	r := f.chatReplies[0]
	f.chatReplies = f.chatReplies[1:]
	return r.text, r.err
}

func (f *fakeInference) StreamChat(ctx context.Context, baseURL, model string, messages []ChatMessage, opts ChatOptions) (FragmentStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCalls = append(f.streamCalls, chatCall{BaseURL: baseURL, Model: model, Messages: messages, Opts: opts})
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	s := &fakeStream{
		fragments: append([]string(nil), f.fragments...),
		endErr:    f.streamEndErr,
		panicMsg:  f.streamPanic,
		tokens:    f.tokens,
	}
	f.lastStream = s
	return s, nil
}

func (f *fakeInference) chatCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chatCalls)
}

type fakeStream struct {
	mu        sync.Mutex
	fragments []string
	endErr    error
	panicMsg  string
	tokens    int
	pulled    int
	closed    bool
}

func (s *fakeStream) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pulled < len(s.fragments) {
		frag := s.fragments[s.pulled]
		s.pulled++
		return frag, nil
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.endErr != nil {
		return "", s.endErr
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) TokensUsed() int {
	return s.tokens
}

func (s *fakeStream) state() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulled, s.closed
}

type publishedEvent struct {
	Channel string
	Type    string
	Payload interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, channel, eventType string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Channel: channel, Type: eventType, Payload: payload})
}

func (p *recordingPublisher) ofType(eventType string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

var errUnexpected = errors.New("unexpected backend failure")
