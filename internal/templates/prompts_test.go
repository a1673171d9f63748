package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTitleSystemPrompt(t *testing.T) {
	p, err := TitleSystemPrompt(filepath.Join(t.TempDir(), "missing.md"))
	require.NoError(t, err)
	assert.Equal(t, TitleFallbackPrompt, p)

	path := filepath.Join(t.TempDir(), "prompt.md")
	require.NoError(t, os.WriteFile(path, []byte("\n  Title it.  \n"), 0o644))
	p, err = TitleSystemPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "Title it.", p)

	require.NoError(t, os.WriteFile(path, []byte("   "), 0o644))
	p, err = TitleSystemPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, TitleFallbackPrompt, p)
}
