package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Message struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID     uuid.UUID `gorm:"type:uuid;column:chat_id;not null;index" json:"chat_id"`
	Role       string    `gorm:"column:role;size:20;not null" json:"role"`
	Content    string    `gorm:"column:content;type:text;not null" json:"content"`
	TokensUsed *int      `gorm:"column:tokens_used" json:"tokens_used,omitempty"`
	Seq        int64     `gorm:"column:seq;not null;default:0" json:"-"`

	AttachedFiles []*ProjectFile `gorm:"many2many:message_files;joinForeignKey:MessageID;joinReferences:FileID" json:"attached_files"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Message) TableName() string { return "message" }

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
