package services

import (
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

// GenerationParams are the effective settings used for one turn.
type GenerationParams struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt *string
}

// ResolveTemperature returns the first non-nil candidate, chat before project before
// global, falling back to 0.7.
func ResolveTemperature(chat, project, global *float64) float64 {
	for _, v := range []*float64{chat, project, global} {
		if v != nil {
			return *v
		}
	}
	return types.FallbackTemperature
}

// ResolveMaxTokens works like ResolveTemperature with a fallback of 2048.
func ResolveMaxTokens(chat, project, global *int) int {
	for _, v := range []*int{chat, project, global} {
		if v != nil {
			return *v
		}
	}
	return types.FallbackMaxTokens
}

// ResolveParams applies the precedence cascade to the loaded records. Any of them may be nil.
func ResolveParams(chat *types.Chat, overrides *types.ChatSettings, project *types.Project, settings *types.Settings) GenerationParams {
	var (
		chatTemp, projectTemp, globalTemp *float64
		chatMax, projectMax, globalMax    *int
		systemPrompt                      *string
	)
	if overrides != nil {
		chatTemp = overrides.Temperature
		chatMax = overrides.MaxTokens
		systemPrompt = overrides.SystemPrompt
	}
	if project != nil {
		projectTemp = project.Temperature
		projectMax = project.MaxTokens
	}
	if settings != nil {
		globalTemp = &settings.DefaultTemperature
		globalMax = &settings.DefaultMaxTokens
	}

	model := ""
	if chat != nil {
		model = chat.Model
	}
	if model == "" && project != nil && project.DefaultModel != nil {
		model = *project.DefaultModel
	}
	if model == "" && settings != nil {
		model = settings.DefaultModel
	}

	return GenerationParams{
		Model:        model,
		Temperature:  ResolveTemperature(chatTemp, projectTemp, globalTemp),
		MaxTokens:    ResolveMaxTokens(chatMax, projectMax, globalMax),
		SystemPrompt: systemPrompt,
	}
}

func ValidateTemperature(v *float64) error {
	if v != nil && (*v < 0 || *v > 2) {
		return newValidationError("temperature", "must be between 0.0 and 2.0")
	}
	return nil
}

func ValidateMaxTokens(v *int) error {
	if v != nil && *v <= 0 {
		return newValidationError("max_tokens", "must be greater than 0")
	}
	return nil
}
