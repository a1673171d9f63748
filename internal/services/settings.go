package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/repos"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

type SettingsDefaults struct {
	DefaultModel       string
	SummarizationModel string
}

type SettingsPatch struct {
	DefaultModel       *string  `json:"default_model"`
	SummarizationModel *string  `json:"conversation_summarization_model"`
	DefaultTemperature *float64 `json:"default_temperature" binding:"omitempty,gte=0,lte=2"`
	DefaultMaxTokens   *int     `json:"default_max_tokens" binding:"omitempty,gt=0"`
	NumCtx             *int     `json:"num_ctx" binding:"omitempty,gt=0"`
	Theme              *string  `json:"theme" binding:"omitempty,oneof=dark light"`
}

type ChatSettingsPatch struct {
	Temperature  *float64 `json:"temperature" binding:"omitempty,gte=0,lte=2"`
	MaxTokens    *int     `json:"max_tokens" binding:"omitempty,gt=0"`
	SystemPrompt *string  `json:"system_prompt"`
}

type SettingsService interface {
	Get(ctx context.Context) (*types.Settings, error)
	GetWithTransaction(ctx context.Context, tx *gorm.DB) (*types.Settings, error)
	Update(ctx context.Context, patch SettingsPatch) (*types.Settings, error)
	GetChatSettings(ctx context.Context, chatID uuid.UUID) (*types.ChatSettings, error)
	UpdateChatSettings(ctx context.Context, chatID uuid.UUID, patch ChatSettingsPatch) (*types.ChatSettings, error)
}

type settingsService struct {
	db           *gorm.DB
	log          *logger.Logger
	defaults     SettingsDefaults
	settingsRepo repos.SettingsRepo
	chatRepo     repos.ChatRepo
}

func NewSettingsService(
	db *gorm.DB,
	log *logger.Logger,
	defaults SettingsDefaults,
	settingsRepo repos.SettingsRepo,
	chatRepo repos.ChatRepo,
) SettingsService {
	return &settingsService{
		db:           db,
		log:          log.With("service", "SettingsService"),
		defaults:     defaults,
		settingsRepo: settingsRepo,
		chatRepo:     chatRepo,
	}
}

// Get returns the settings row, creating it with defaults on first use. The row is
// always read from the database so several instances agree.
func (ss *settingsService) Get(ctx context.Context) (*types.Settings, error) {
	return ss.GetWithTransaction(ctx, ss.db)
}

func (ss *settingsService) GetWithTransaction(ctx context.Context, tx *gorm.DB) (*types.Settings, error) {
	if tx == nil {
		tx = ss.db
	}
	settings, err := ss.settingsRepo.Get(ctx, tx)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	ss.log.Info("Settings not found, creating defaults now...")
	return ss.settingsRepo.Create(ctx, tx, &types.Settings{
		DefaultModel:       ss.defaults.DefaultModel,
		SummarizationModel: ss.defaults.SummarizationModel,
		DefaultTemperature: types.FallbackTemperature,
		DefaultMaxTokens:   types.FallbackMaxTokens,
		NumCtx:             types.FallbackNumCtx,
		Theme:              types.ThemeDark,
	})
}

func (ss *settingsService) Update(ctx context.Context, patch SettingsPatch) (*types.Settings, error) {
	if err := ValidateTemperature(patch.DefaultTemperature); err != nil {
		return nil, err
	}
	if err := ValidateMaxTokens(patch.DefaultMaxTokens); err != nil {
		return nil, err
	}
	if err := ValidateMaxTokens(patch.NumCtx); err != nil {
		return nil, newValidationError("num_ctx", "must be greater than 0")
	}
	if patch.Theme != nil && *patch.Theme != types.ThemeDark && *patch.Theme != types.ThemeLight {
		return nil, newValidationError("theme", "must be dark or light")
	}

	var out *types.Settings
	err := ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings, err := ss.GetWithTransaction(ctx, tx)
		if err != nil {
			return err
		}
		if patch.DefaultModel != nil {
			settings.DefaultModel = *patch.DefaultModel
		}
		if patch.SummarizationModel != nil {
			settings.SummarizationModel = *patch.SummarizationModel
		}
		if patch.DefaultTemperature != nil {
			settings.DefaultTemperature = *patch.DefaultTemperature
		}
		if patch.DefaultMaxTokens != nil {
			settings.DefaultMaxTokens = *patch.DefaultMaxTokens
		}
		if patch.NumCtx != nil {
			settings.NumCtx = *patch.NumCtx
		}
		if patch.Theme != nil {
			settings.Theme = *patch.Theme
		}
		out, err = ss.settingsRepo.Update(ctx, tx, settings)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetChatSettings returns the chat's overrides, or an empty record when none are stored.
func (ss *settingsService) GetChatSettings(ctx context.Context, chatID uuid.UUID) (*types.ChatSettings, error) {
	if _, err := ss.chatRepo.GetByID(ctx, nil, chatID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("chat")
		}
		return nil, err
	}
	cs, err := ss.settingsRepo.GetChatSettings(ctx, nil, chatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &types.ChatSettings{ChatID: chatID}, nil
	}
	return cs, err
}

func (ss *settingsService) UpdateChatSettings(ctx context.Context, chatID uuid.UUID, patch ChatSettingsPatch) (*types.ChatSettings, error) {
	if err := ValidateTemperature(patch.Temperature); err != nil {
		return nil, err
	}
	if err := ValidateMaxTokens(patch.MaxTokens); err != nil {
		return nil, err
	}
	var out *types.ChatSettings
	err := ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ss.chatRepo.GetByID(ctx, tx, chatID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("chat")
			}
			return err
		}
		cs, err := ss.settingsRepo.GetChatSettings(ctx, tx, chatID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cs = &types.ChatSettings{ChatID: chatID}
		} else if err != nil {
			return err
		}
		if patch.Temperature != nil {
			cs.Temperature = patch.Temperature
		}
		if patch.MaxTokens != nil {
			cs.MaxTokens = patch.MaxTokens
		}
		if patch.SystemPrompt != nil {
			cs.SystemPrompt = patch.SystemPrompt
		}
		out, err = ss.settingsRepo.UpsertChatSettings(ctx, tx, cs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
