package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const ContentPreviewLength = 200

var AllowedFileTypes = map[string]bool{
	"txt":  true,
	"json": true,
	"csv":  true,
}

type ProjectFile struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID      uuid.UUID `gorm:"type:uuid;column:project_id;not null;index" json:"project_id"`
	Filename       string    `gorm:"column:filename;size:255;not null" json:"filename"`
	FilePath       string    `gorm:"column:file_path;size:512;not null" json:"file_path"`
	FileType       string    `gorm:"column:file_type;size:20;not null" json:"file_type"`
	FileSize       int       `gorm:"column:file_size;not null" json:"file_size"`
	ContentPreview *string   `gorm:"column:content_preview;type:text" json:"content_preview,omitempty"`
	Content        string    `gorm:"column:content;type:text;not null" json:"content,omitempty"`
	BucketKey      string    `gorm:"column:bucket_key" json:"-"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ProjectFile) TableName() string { return "project_file" }

func (f *ProjectFile) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// Preview returns the first ContentPreviewLength characters of content.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= ContentPreviewLength {
		return content
	}
	return string(runes[:ContentPreviewLength])
}
