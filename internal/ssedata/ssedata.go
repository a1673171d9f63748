package ssedata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

type EventKind int

const (
	KindContent EventKind = iota
	KindDone
	KindError
)

// Event is one message of the turn stream. On the wire it is a JSON object:
// {"content":"...","done":false}, {"content":"","done":true} or {"error":"...","detail":"..."}.
type Event struct {
	Kind    EventKind
	Content string
	Error   string
	Detail  string
}

func Content(fragment string) Event {
	return Event{Kind: KindContent, Content: fragment}
}

func Done() Event {
	return Event{Kind: KindDone}
}

func Error(msg, detail string) Event {
	return Event{Kind: KindError, Error: msg, Detail: detail}
}

// Terminal reports whether no further events may follow e.
func (e Event) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

type contentPayload struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

type errorPayload struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindError:
		return json.Marshal(errorPayload{Error: e.Error, Detail: e.Detail})
	case KindDone:
		return json.Marshal(contentPayload{Content: "", Done: true})
	default:
		return json.Marshal(contentPayload{Content: e.Content, Done: false})
	}
}

// Encode frames e as a server-sent event.
func Encode(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("data: %s\n\n", payload)), nil
}

var sseDataKey = struct{}{}

// SSEData records what a streaming request sent so request logging can report it.
type SSEData struct {
	mu      sync.Mutex
	Events  int
	Outcome string
}

func WithSSEData(ctx context.Context) context.Context {
	return context.WithValue(ctx, sseDataKey, &SSEData{})
}

func GetSSEData(ctx context.Context) *SSEData {
	val := ctx.Value(sseDataKey)
	ssd, ok := val.(*SSEData)
	if !ok {
		return nil
	}
	return ssd
}

func (d *SSEData) Record(e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Events++
	switch e.Kind {
	case KindDone:
		d.Outcome = "done"
	case KindError:
		d.Outcome = "error"
	}
}

func (d *SSEData) Snapshot() (int, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Events, d.Outcome
}
