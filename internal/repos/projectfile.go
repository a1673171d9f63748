package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

type ProjectFileRepo interface {
	Create(ctx context.Context, tx *gorm.DB, file *types.ProjectFile) (*types.ProjectFile, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProjectFile, error)
	GetByProjectID(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) ([]*types.ProjectFile, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ProjectFile, error)
	GetIDsByProjectID(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) ([]uuid.UUID, error)
	DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
}

type projectFileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProjectFileRepo(db *gorm.DB, baseLog *logger.Logger) ProjectFileRepo {
	return &projectFileRepo{
		db:  db,
		log: baseLog.With("repo", "ProjectFileRepo"),
	}
}

func (fr *projectFileRepo) Create(ctx context.Context, tx *gorm.DB, file *types.ProjectFile) (*types.ProjectFile, error) {
	if tx == nil {
		tx = fr.db
	}
	if err := tx.WithContext(ctx).Create(file).Error; err != nil {
		fr.log.Error("failed to create project file", "error", err)
		return nil, err
	}
	return file, nil
}

func (fr *projectFileRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProjectFile, error) {
	if tx == nil {
		tx = fr.db
	}
	var file types.ProjectFile
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&file).Error; err != nil {
		return nil, err
	}
	return &file, nil
}

// GetByProjectID returns the project's files in upload order.
func (fr *projectFileRepo) GetByProjectID(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) ([]*types.ProjectFile, error) {
	if tx == nil {
		tx = fr.db
	}
	var files []*types.ProjectFile
	if err := tx.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&files).Error; err != nil {
		fr.log.Error("failed to get project files", "error", err)
		return nil, err
	}
	return files, nil
}

// GetByIDs returns the files that exist among ids, in no particular order.
func (fr *projectFileRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ProjectFile, error) {
	if tx == nil {
		tx = fr.db
	}
	var files []*types.ProjectFile
	if len(ids) == 0 {
		return files, nil
	}
	if err := tx.WithContext(ctx).Where("id IN ?", ids).Find(&files).Error; err != nil {
		fr.log.Error("failed to get project files by ids", "error", err)
		return nil, err
	}
	return files, nil
}

func (fr *projectFileRepo) GetIDsByProjectID(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) ([]uuid.UUID, error) {
	if tx == nil {
		tx = fr.db
	}
	var ids []uuid.UUID
	if err := tx.WithContext(ctx).Model(&types.ProjectFile{}).Where("project_id = ?", projectID).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (fr *projectFileRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	if tx == nil {
		tx = fr.db
	}
	if len(ids) == 0 {
		return nil
	}
	if err := tx.WithContext(ctx).Where("id IN ?", ids).Delete(&types.ProjectFile{}).Error; err != nil {
		fr.log.Error("failed to delete project files", "error", err)
		return err
	}
	return nil
}
