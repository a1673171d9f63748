package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

// Columns owned by the health checker. User edits never touch them.
var healthColumns = []string{
	"status",
	"last_checked_at",
	"last_error",
	"models_count",
	"average_response_time_ms",
	"models",
}

var configColumns = []string{
	"name",
	"url",
	"description",
	"is_active",
	"updated_at",
}

type BackendRepo interface {
	Create(ctx context.Context, tx *gorm.DB, backend *types.BackendEndpoint) (*types.BackendEndpoint, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BackendEndpoint, error)
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.BackendEndpoint, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.BackendEndpoint, error)
	ListActive(ctx context.Context, tx *gorm.DB) ([]*types.BackendEndpoint, error)
	FirstActiveOnline(ctx context.Context, tx *gorm.DB) (*types.BackendEndpoint, error)
	Count(ctx context.Context, tx *gorm.DB) (int64, error)
	UpdateConfig(ctx context.Context, tx *gorm.DB, backend *types.BackendEndpoint) (*types.BackendEndpoint, error)
	UpdateHealth(ctx context.Context, tx *gorm.DB, backend *types.BackendEndpoint) error
	DeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type backendRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBackendRepo(db *gorm.DB, baseLog *logger.Logger) BackendRepo {
	return &backendRepo{
		db:  db,
		log: baseLog.With("repo", "BackendRepo"),
	}
}

func (br *backendRepo) Create(ctx context.Context, tx *gorm.DB, backend *types.BackendEndpoint) (*types.BackendEndpoint, error) {
	if tx == nil {
		tx = br.db
	}
	if len(backend.Models) == 0 {
		backend.SetModelNames(nil)
	}
	if err := tx.WithContext(ctx).Create(backend).Error; err != nil {
		br.log.Error("failed to create backend endpoint", "error", err)
		return nil, err
	}
	return backend, nil
}

func (br *backendRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BackendEndpoint, error) {
	if tx == nil {
		tx = br.db
	}
	var backend types.BackendEndpoint
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&backend).Error; err != nil {
		return nil, err
	}
	return &backend, nil
}

func (br *backendRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.BackendEndpoint, error) {
	if tx == nil {
		tx = br.db
	}
	var backend types.BackendEndpoint
	if err := tx.WithContext(ctx).Where("name = ?", name).First(&backend).Error; err != nil {
		return nil, err
	}
	return &backend, nil
}

func (br *backendRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.BackendEndpoint, error) {
	if tx == nil {
		tx = br.db
	}
	var backends []*types.BackendEndpoint
	if err := tx.WithContext(ctx).Order("name ASC").Find(&backends).Error; err != nil {
		br.log.Error("failed to list backend endpoints", "error", err)
		return nil, err
	}
	return backends, nil
}

func (br *backendRepo) ListActive(ctx context.Context, tx *gorm.DB) ([]*types.BackendEndpoint, error) {
	if tx == nil {
		tx = br.db
	}
	var backends []*types.BackendEndpoint
	if err := tx.WithContext(ctx).Where("is_active = ?", true).Order("name ASC").Find(&backends).Error; err != nil {
		br.log.Error("failed to list active backend endpoints", "error", err)
		return nil, err
	}
	return backends, nil
}

func (br *backendRepo) FirstActiveOnline(ctx context.Context, tx *gorm.DB) (*types.BackendEndpoint, error) {
	if tx == nil {
		tx = br.db
	}
	var backend types.BackendEndpoint
	if err := tx.WithContext(ctx).
		Where("is_active = ? AND status = ?", true, types.BackendStatusOnline).
		Order("name ASC").
		First(&backend).Error; err != nil {
		return nil, err
	}
	return &backend, nil
}

func (br *backendRepo) Count(ctx context.Context, tx *gorm.DB) (int64, error) {
	if tx == nil {
		tx = br.db
	}
	var count int64
	err := tx.WithContext(ctx).Model(&types.BackendEndpoint{}).Count(&count).Error
	return count, err
}

func (br *backendRepo) UpdateConfig(ctx context.Context, tx *gorm.DB, backend *types.BackendEndpoint) (*types.BackendEndpoint, error) {
	if tx == nil {
		tx = br.db
	}
	backend.UpdatedAt = nowUTC()
	if err := tx.WithContext(ctx).Model(backend).Select(configColumns).Updates(backend).Error; err != nil {
		br.log.Error("failed to update backend endpoint", "error", err)
		return nil, err
	}
	return backend, nil
}

// UpdateHealth writes only the health columns, including nil and zero values.
func (br *backendRepo) UpdateHealth(ctx context.Context, tx *gorm.DB, backend *types.BackendEndpoint) error {
	if tx == nil {
		tx = br.db
	}
	if err := tx.WithContext(ctx).Model(backend).Select(healthColumns).Updates(backend).Error; err != nil {
		br.log.Error("failed to update backend health", "error", err, "backend", backend.Name)
		return err
	}
	return nil
}

func (br *backendRepo) DeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	if tx == nil {
		tx = br.db
	}
	res := tx.WithContext(ctx).Where("id = ?", id).Delete(&types.BackendEndpoint{})
	if res.Error != nil {
		br.log.Error("failed to delete backend endpoint", "error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
