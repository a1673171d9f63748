package templates

import (
	"os"
	"strings"
)

const (
	TitleFallbackPrompt = "Summarize the content from this chat in 3 to 5 words."
	TitleInstruction    = "Generate a short title for this conversation."
)

// TitleSystemPrompt reads the title prompt from path, falling back to
// TitleFallbackPrompt when the file is missing or empty. The file is re-read on
// every call so edits apply without a restart.
func TitleSystemPrompt(path string) (string, error) {
	if path == "" {
		return TitleFallbackPrompt, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return TitleFallbackPrompt, nil
		}
		return TitleFallbackPrompt, err
	}
	prompt := strings.TrimSpace(string(raw))
	if prompt == "" {
		return TitleFallbackPrompt, nil
	}
	return prompt, nil
}
