package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

type ProjectFilter struct {
	Archived *bool
	Limit    int
	Offset   int
}

type ProjectCounts struct {
	ChatCount int64
	FileCount int64
}

type ProjectRepo interface {
	Create(ctx context.Context, tx *gorm.DB, project *types.Project) (*types.Project, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Project, error)
	List(ctx context.Context, tx *gorm.DB, filter ProjectFilter) ([]*types.Project, error)
	Counts(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]ProjectCounts, error)
	Update(ctx context.Context, tx *gorm.DB, project *types.Project) (*types.Project, error)
	DeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type projectRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProjectRepo(db *gorm.DB, baseLog *logger.Logger) ProjectRepo {
	return &projectRepo{
		db:  db,
		log: baseLog.With("repo", "ProjectRepo"),
	}
}

func (pr *projectRepo) Create(ctx context.Context, tx *gorm.DB, project *types.Project) (*types.Project, error) {
	if tx == nil {
		tx = pr.db
	}
	if err := tx.WithContext(ctx).Create(project).Error; err != nil {
		pr.log.Error("failed to create project", "error", err)
		return nil, err
	}
	return project, nil
}

func (pr *projectRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Project, error) {
	if tx == nil {
		tx = pr.db
	}
	var project types.Project
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&project).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func (pr *projectRepo) List(ctx context.Context, tx *gorm.DB, filter ProjectFilter) ([]*types.Project, error) {
	if tx == nil {
		tx = pr.db
	}
	q := tx.WithContext(ctx).Model(&types.Project{})
	if filter.Archived != nil {
		q = q.Where("is_archived = ?", *filter.Archived)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var projects []*types.Project
	if err := q.Order("updated_at DESC").Order("id ASC").Find(&projects).Error; err != nil {
		pr.log.Error("failed to list projects", "error", err)
		return nil, err
	}
	return projects, nil
}

// Counts returns chat and file totals per project. Projects with neither are absent
// from the map.
func (pr *projectRepo) Counts(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]ProjectCounts, error) {
	if tx == nil {
		tx = pr.db
	}
	out := make(map[uuid.UUID]ProjectCounts, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	type row struct {
		ProjectID uuid.UUID
		N         int64
	}
	var chats []row
	if err := tx.WithContext(ctx).Model(&types.Chat{}).
		Select("project_id, COUNT(*) AS n").
		Where("project_id IN ?", ids).
		Group("project_id").
		Scan(&chats).Error; err != nil {
		pr.log.Error("failed to count project chats", "error", err)
		return nil, err
	}
	for _, r := range chats {
		c := out[r.ProjectID]
		c.ChatCount = r.N
		out[r.ProjectID] = c
	}
	var files []row
	if err := tx.WithContext(ctx).Model(&types.ProjectFile{}).
		Select("project_id, COUNT(*) AS n").
		Where("project_id IN ?", ids).
		Group("project_id").
		Scan(&files).Error; err != nil {
		pr.log.Error("failed to count project files", "error", err)
		return nil, err
	}
	for _, r := range files {
		c := out[r.ProjectID]
		c.FileCount = r.N
		out[r.ProjectID] = c
	}
	return out, nil
}

func (pr *projectRepo) Update(ctx context.Context, tx *gorm.DB, project *types.Project) (*types.Project, error) {
	if tx == nil {
		tx = pr.db
	}
	if err := tx.WithContext(ctx).Save(project).Error; err != nil {
		pr.log.Error("failed to update project", "error", err)
		return nil, err
	}
	return project, nil
}

func (pr *projectRepo) DeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	if tx == nil {
		tx = pr.db
	}
	if err := tx.WithContext(ctx).Where("id = ?", id).Delete(&types.Project{}).Error; err != nil {
		pr.log.Error("failed to delete project", "error", err)
		return err
	}
	return nil
}
