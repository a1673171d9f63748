package ssedata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"content", Content("Hel"), "data: {\"content\":\"Hel\",\"done\":false}\n\n"},
		{"done", Done(), "data: {\"content\":\"\",\"done\":true}\n\n"},
		{"error with detail", Error("Unable to connect to Ollama", "Please ensure Ollama is running"),
			"data: {\"error\":\"Unable to connect to Ollama\",\"detail\":\"Please ensure Ollama is running\"}\n\n"},
		{"error without detail", Error("Chat x not found", ""), "data: {\"error\":\"Chat x not found\"}\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Encode(tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, Content("x").Terminal())
	assert.True(t, Done().Terminal())
	assert.True(t, Error("e", "").Terminal())
}

func TestSSEDataRecord(t *testing.T) {
	ctx := WithSSEData(context.Background())
	d := GetSSEData(ctx)
	require.NotNil(t, d)
	d.Record(Content("a"))
	d.Record(Done())
	n, outcome := d.Snapshot()
	assert.Equal(t, 2, n)
	assert.Equal(t, "done", outcome)

	assert.Nil(t, GetSSEData(context.Background()))
}
