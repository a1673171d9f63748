package services

import (
	"fmt"
	"strings"

	"github.com/slotter-org/ollama-chat-backend/internal/config"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

// TurnContext is everything the assembler needs for one turn. Loading is the
// caller's job; Assemble does no I/O.
type TurnContext struct {
	Project *types.Project
	History []*types.Message
	// Files holds every project file under the auto policy, or only the files
	// attached to this turn under the explicit policy.
	Files        []*types.ProjectFile
	SystemPrompt *string
	UserText     string
}

// ContextAssembler builds the message list sent to the inference backend.
// Exactly one attachment policy is active per assembler.
type ContextAssembler struct {
	policy string
}

func NewContextAssembler(policy string) *ContextAssembler {
	if policy != config.ContextPolicyExplicit {
		policy = config.ContextPolicyAuto
	}
	return &ContextAssembler{policy: policy}
}

func (a *ContextAssembler) Policy() string {
	return a.policy
}

func (a *ContextAssembler) Assemble(tc TurnContext) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(tc.History)+3)

	if a.policy == config.ContextPolicyExplicit {
		if instructions := projectInstructions(tc.Project); instructions != "" {
			msgs = append(msgs, ChatMessage{Role: types.RoleSystem, Content: "Project Context:\n" + instructions})
		}
		if tc.SystemPrompt != nil && strings.TrimSpace(*tc.SystemPrompt) != "" {
			msgs = append(msgs, ChatMessage{Role: types.RoleSystem, Content: *tc.SystemPrompt})
		}
	} else if system := autoSystemSegment(tc.Project, tc.Files); system != "" {
		msgs = append(msgs, ChatMessage{Role: types.RoleSystem, Content: system})
	}

	for _, m := range tc.History {
		msgs = append(msgs, ChatMessage{Role: m.Role, Content: m.Content})
	}

	userText := tc.UserText
	if a.policy == config.ContextPolicyExplicit && len(tc.Files) > 0 {
		userText = fmt.Sprintf("%s\n\n[User Message]\n%s", fileBlocks(tc.Files), tc.UserText)
	}
	msgs = append(msgs, ChatMessage{Role: types.RoleUser, Content: userText})
	return msgs
}

// autoSystemSegment renders project instructions and all project files into a
// single system prompt. Empty parts are left out entirely.
func autoSystemSegment(project *types.Project, files []*types.ProjectFile) string {
	var parts []string
	if instructions := projectInstructions(project); instructions != "" {
		parts = append(parts, "Project Context:", instructions, "")
	}
	if project != nil && len(files) > 0 {
		parts = append(parts, "Project Files:", fileBlocks(files), "")
	}
	return strings.Join(parts, "\n")
}

func projectInstructions(project *types.Project) string {
	if project == nil || project.CustomInstructions == nil {
		return ""
	}
	if strings.TrimSpace(*project.CustomInstructions) == "" {
		return ""
	}
	return *project.CustomInstructions
}

func fileBlocks(files []*types.ProjectFile) string {
	blocks := make([]string, 0, len(files))
	for _, f := range files {
		blocks = append(blocks, fmt.Sprintf("[File: %s]\n%s\n[End of File]", f.Filename, f.Content))
	}
	return strings.Join(blocks, "\n\n")
}
