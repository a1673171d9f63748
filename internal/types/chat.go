package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultChatTitle is the placeholder title. A chat whose title equals it is considered untitled.
const DefaultChatTitle = "New Chat"

type Chat struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Title      string     `gorm:"column:title;size:255;not null" json:"title"`
	Model      string     `gorm:"column:model;size:100;not null" json:"model"`
	IsArchived bool       `gorm:"column:is_archived;not null" json:"is_archived"`
	ProjectID  *uuid.UUID `gorm:"type:uuid;column:project_id;index" json:"project_id,omitempty"`
	BackendID  *uuid.UUID `gorm:"type:uuid;column:backend_id;index" json:"backend_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Chat) TableName() string { return "chat" }

func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Title == "" {
		c.Title = DefaultChatTitle
	}
	return nil
}

// HasPlaceholderTitle reports whether the title was never set by a user or by title generation.
func (c *Chat) HasPlaceholderTitle() bool {
	return c.Title == DefaultChatTitle
}
