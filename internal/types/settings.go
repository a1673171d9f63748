package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	SettingsSingletonID = 1

	FallbackTemperature = 0.7
	FallbackMaxTokens   = 2048
	FallbackNumCtx      = 2048

	ThemeDark  = "dark"
	ThemeLight = "light"
)

// Settings is the process-wide singleton row (id = 1).
type Settings struct {
	ID                 int     `gorm:"primaryKey;autoIncrement:false" json:"-"`
	DefaultModel       string  `gorm:"column:default_model;size:100;not null" json:"default_model"`
	SummarizationModel string  `gorm:"column:conversation_summarization_model;size:100;not null" json:"conversation_summarization_model"`
	DefaultTemperature float64 `gorm:"column:default_temperature;not null" json:"default_temperature"`
	DefaultMaxTokens   int     `gorm:"column:default_max_tokens;not null" json:"default_max_tokens"`
	NumCtx             int     `gorm:"column:num_ctx;not null" json:"num_ctx"`
	Theme              string  `gorm:"column:theme;size:20;not null" json:"theme"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Settings) TableName() string { return "settings" }

// ChatSettings optionally overrides generation settings for a single chat.
type ChatSettings struct {
	ChatID       uuid.UUID `gorm:"type:uuid;primaryKey;column:chat_id" json:"chat_id"`
	Temperature  *float64  `gorm:"column:temperature" json:"temperature"`
	MaxTokens    *int      `gorm:"column:max_tokens" json:"max_tokens"`
	SystemPrompt *string   `gorm:"column:system_prompt;type:text" json:"system_prompt"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ChatSettings) TableName() string { return "chat_settings" }
