package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	BackendStatusOnline  = "online"
	BackendStatusOffline = "offline"
	BackendStatusUnknown = "unknown"
	BackendStatusError   = "error"
)

// BackendEndpoint is a registered inference server. Health fields are written by the
// health monitor and by manual checks only.
type BackendEndpoint struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"column:name;size:255;not null;uniqueIndex" json:"name"`
	URL         string    `gorm:"column:url;size:512;not null" json:"url"`
	Description *string   `gorm:"column:description;type:text" json:"description,omitempty"`
	IsActive    bool      `gorm:"column:is_active;not null" json:"is_active"`

	Status                string         `gorm:"column:status;size:20;not null" json:"status"`
	LastCheckedAt         *time.Time     `gorm:"column:last_checked_at" json:"last_checked_at,omitempty"`
	LastError             *string        `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	ModelsCount           int            `gorm:"column:models_count;not null" json:"models_count"`
	AverageResponseTimeMs *int           `gorm:"column:average_response_time_ms" json:"average_response_time_ms,omitempty"`
	Models                datatypes.JSON `gorm:"column:models" json:"models,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (BackendEndpoint) TableName() string { return "backend_endpoint" }

func (b *BackendEndpoint) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = BackendStatusUnknown
	}
	return nil
}

// ModelNames decodes the stored model inventory.
func (b *BackendEndpoint) ModelNames() []string {
	var names []string
	if len(b.Models) == 0 {
		return names
	}
	_ = json.Unmarshal(b.Models, &names)
	return names
}

func (b *BackendEndpoint) SetModelNames(names []string) {
	if names == nil {
		names = []string{}
	}
	raw, _ := json.Marshal(names)
	b.Models = datatypes.JSON(raw)
}

func ValidBackendStatus(status string) bool {
	switch status {
	case BackendStatusOnline, BackendStatusOffline, BackendStatusUnknown, BackendStatusError:
		return true
	}
	return false
}
