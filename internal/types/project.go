package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Project struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name               string    `gorm:"column:name;size:255;not null" json:"name"`
	CustomInstructions *string   `gorm:"column:custom_instructions;type:text" json:"custom_instructions,omitempty"`
	IsArchived         bool      `gorm:"column:is_archived;not null" json:"is_archived"`

	// Per-project overrides of the global defaults.
	DefaultModel *string  `gorm:"column:default_model;size:100" json:"default_model,omitempty"`
	Temperature  *float64 `gorm:"column:temperature" json:"temperature,omitempty"`
	MaxTokens    *int     `gorm:"column:max_tokens" json:"max_tokens,omitempty"`

	AvatarBucketKey string `gorm:"column:avatar_bucket_key" json:"-"`
	AvatarURL       string `gorm:"column:avatar_url" json:"avatar_url,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Project) TableName() string { return "project" }

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
