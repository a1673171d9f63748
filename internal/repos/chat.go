package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

type ChatFilter struct {
	ProjectID *uuid.UUID
	Archived  *bool
	Limit     int
	Offset    int
}

type ChatRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chat *types.Chat) (*types.Chat, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Chat, error)
	List(ctx context.Context, tx *gorm.DB, filter ChatFilter) ([]*types.Chat, error)
	GetIDsByProjectID(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) ([]uuid.UUID, error)
	Update(ctx context.Context, tx *gorm.DB, chat *types.Chat) (*types.Chat, error)
	UpdateTitleIfPlaceholder(ctx context.Context, tx *gorm.DB, id uuid.UUID, title string) (bool, error)
	Touch(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	ClearBackend(ctx context.Context, tx *gorm.DB, backendID uuid.UUID) error
	DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, baseLog *logger.Logger) ChatRepo {
	return &chatRepo{
		db:  db,
		log: baseLog.With("repo", "ChatRepo"),
	}
}

func (cr *chatRepo) Create(ctx context.Context, tx *gorm.DB, chat *types.Chat) (*types.Chat, error) {
	if tx == nil {
		tx = cr.db
	}
	if err := tx.WithContext(ctx).Create(chat).Error; err != nil {
		cr.log.Error("failed to create chat", "error", err)
		return nil, err
	}
	return chat, nil
}

func (cr *chatRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Chat, error) {
	if tx == nil {
		tx = cr.db
	}
	var chat types.Chat
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&chat).Error; err != nil {
		return nil, err
	}
	return &chat, nil
}

// List returns chats most recently updated first.
func (cr *chatRepo) List(ctx context.Context, tx *gorm.DB, filter ChatFilter) ([]*types.Chat, error) {
	if tx == nil {
		tx = cr.db
	}
	q := tx.WithContext(ctx).Model(&types.Chat{})
	if filter.ProjectID != nil {
		q = q.Where("project_id = ?", *filter.ProjectID)
	}
	if filter.Archived != nil {
		q = q.Where("is_archived = ?", *filter.Archived)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var chats []*types.Chat
	if err := q.Order("updated_at DESC").Order("id ASC").Find(&chats).Error; err != nil {
		cr.log.Error("failed to list chats", "error", err)
		return nil, err
	}
	return chats, nil
}

func (cr *chatRepo) GetIDsByProjectID(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) ([]uuid.UUID, error) {
	if tx == nil {
		tx = cr.db
	}
	var ids []uuid.UUID
	if err := tx.WithContext(ctx).Model(&types.Chat{}).Where("project_id = ?", projectID).Pluck("id", &ids).Error; err != nil {
		cr.log.Error("failed to get chat ids by project", "error", err)
		return nil, err
	}
	return ids, nil
}

func (cr *chatRepo) Update(ctx context.Context, tx *gorm.DB, chat *types.Chat) (*types.Chat, error) {
	if tx == nil {
		tx = cr.db
	}
	if err := tx.WithContext(ctx).Save(chat).Error; err != nil {
		cr.log.Error("failed to update chat", "error", err)
		return nil, err
	}
	return chat, nil
}

// UpdateTitleIfPlaceholder sets the title only while the chat still carries the
// placeholder, so a title set by the user in the meantime is never overwritten.
func (cr *chatRepo) UpdateTitleIfPlaceholder(ctx context.Context, tx *gorm.DB, id uuid.UUID, title string) (bool, error) {
	if tx == nil {
		tx = cr.db
	}
	res := tx.WithContext(ctx).Model(&types.Chat{}).
		Where("id = ? AND title = ?", id, types.DefaultChatTitle).
		Updates(map[string]interface{}{"title": title, "updated_at": nowUTC()})
	if res.Error != nil {
		cr.log.Error("failed to update chat title", "error", res.Error)
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (cr *chatRepo) Touch(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	if tx == nil {
		tx = cr.db
	}
	return tx.WithContext(ctx).Model(&types.Chat{}).Where("id = ?", id).Update("updated_at", nowUTC()).Error
}

func (cr *chatRepo) ClearBackend(ctx context.Context, tx *gorm.DB, backendID uuid.UUID) error {
	if tx == nil {
		tx = cr.db
	}
	if err := tx.WithContext(ctx).Model(&types.Chat{}).Where("backend_id = ?", backendID).Update("backend_id", nil).Error; err != nil {
		cr.log.Error("failed to clear chat backend binding", "error", err)
		return err
	}
	return nil
}

func (cr *chatRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	if tx == nil {
		tx = cr.db
	}
	if len(ids) == 0 {
		return nil
	}
	if err := tx.WithContext(ctx).Where("id IN ?", ids).Delete(&types.Chat{}).Error; err != nil {
		cr.log.Error("failed to delete chats", "error", err)
		return err
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
