package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

type SettingsRepo interface {
	Get(ctx context.Context, tx *gorm.DB) (*types.Settings, error)
	Create(ctx context.Context, tx *gorm.DB, settings *types.Settings) (*types.Settings, error)
	Update(ctx context.Context, tx *gorm.DB, settings *types.Settings) (*types.Settings, error)

	GetChatSettings(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) (*types.ChatSettings, error)
	UpsertChatSettings(ctx context.Context, tx *gorm.DB, cs *types.ChatSettings) (*types.ChatSettings, error)
	DeleteChatSettings(ctx context.Context, tx *gorm.DB, chatIDs []uuid.UUID) error
}

type settingsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSettingsRepo(db *gorm.DB, baseLog *logger.Logger) SettingsRepo {
	return &settingsRepo{
		db:  db,
		log: baseLog.With("repo", "SettingsRepo"),
	}
}

func (sr *settingsRepo) Get(ctx context.Context, tx *gorm.DB) (*types.Settings, error) {
	if tx == nil {
		tx = sr.db
	}
	var settings types.Settings
	if err := tx.WithContext(ctx).Where("id = ?", types.SettingsSingletonID).First(&settings).Error; err != nil {
		return nil, err
	}
	return &settings, nil
}

// Create inserts the singleton row; a concurrent insert of the same row is ignored.
func (sr *settingsRepo) Create(ctx context.Context, tx *gorm.DB, settings *types.Settings) (*types.Settings, error) {
	if tx == nil {
		tx = sr.db
	}
	settings.ID = types.SettingsSingletonID
	if err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(settings).Error; err != nil {
		sr.log.Error("failed to create settings", "error", err)
		return nil, err
	}
	return sr.Get(ctx, tx)
}

func (sr *settingsRepo) Update(ctx context.Context, tx *gorm.DB, settings *types.Settings) (*types.Settings, error) {
	if tx == nil {
		tx = sr.db
	}
	settings.ID = types.SettingsSingletonID
	if err := tx.WithContext(ctx).Save(settings).Error; err != nil {
		sr.log.Error("failed to update settings", "error", err)
		return nil, err
	}
	return settings, nil
}

func (sr *settingsRepo) GetChatSettings(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) (*types.ChatSettings, error) {
	if tx == nil {
		tx = sr.db
	}
	var cs types.ChatSettings
	if err := tx.WithContext(ctx).Where("chat_id = ?", chatID).First(&cs).Error; err != nil {
		return nil, err
	}
	return &cs, nil
}

func (sr *settingsRepo) UpsertChatSettings(ctx context.Context, tx *gorm.DB, cs *types.ChatSettings) (*types.ChatSettings, error) {
	if tx == nil {
		tx = sr.db
	}
	err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"temperature", "max_tokens", "system_prompt", "updated_at"}),
	}).Create(cs).Error
	if err != nil {
		sr.log.Error("failed to upsert chat settings", "error", err)
		return nil, err
	}
	return cs, nil
}

func (sr *settingsRepo) DeleteChatSettings(ctx context.Context, tx *gorm.DB, chatIDs []uuid.UUID) error {
	if tx == nil {
		tx = sr.db
	}
	if len(chatIDs) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Where("chat_id IN ?", chatIDs).Delete(&types.ChatSettings{}).Error
}
