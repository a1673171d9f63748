package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/repos"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

type ProjectCreate struct {
	Name               string   `json:"name" binding:"required"`
	CustomInstructions *string  `json:"custom_instructions"`
	DefaultModel       *string  `json:"default_model"`
	Temperature        *float64 `json:"temperature" binding:"omitempty,gte=0,lte=2"`
	MaxTokens          *int     `json:"max_tokens" binding:"omitempty,gt=0"`
}

type ProjectPatch struct {
	Name               *string  `json:"name"`
	CustomInstructions *string  `json:"custom_instructions"`
	IsArchived         *bool    `json:"is_archived"`
	DefaultModel       *string  `json:"default_model"`
	Temperature        *float64 `json:"temperature" binding:"omitempty,gte=0,lte=2"`
	MaxTokens          *int     `json:"max_tokens" binding:"omitempty,gt=0"`
}

type ProjectListQuery struct {
	Page
	Archived *bool
}

type FileUpload struct {
	Filename string `json:"filename" binding:"required"`
	Content  string `json:"content"`
	FileType string `json:"file_type"`
}

type ProjectSummary struct {
	*types.Project
	ChatCount int64 `json:"chat_count"`
	FileCount int64 `json:"file_count"`
}

// ProjectDetail lists the project's files without their bodies.
type ProjectDetail struct {
	ProjectSummary
	Files []*types.ProjectFile `json:"files"`
}

type ProjectService interface {
	List(ctx context.Context, q ProjectListQuery) ([]*ProjectSummary, error)
	Get(ctx context.Context, id uuid.UUID) (*ProjectDetail, error)
	Create(ctx context.Context, req ProjectCreate) (*types.Project, error)
	Update(ctx context.Context, id uuid.UUID, patch ProjectPatch) (*types.Project, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListChats(ctx context.Context, id uuid.UUID, page Page) ([]*types.Chat, error)
	Avatar(ctx context.Context, id uuid.UUID, size int) ([]byte, error)

	UploadFile(ctx context.Context, projectID uuid.UUID, req FileUpload) (*types.ProjectFile, error)
	GetFile(ctx context.Context, projectID, fileID uuid.UUID) (*types.ProjectFile, error)
	DeleteFile(ctx context.Context, projectID, fileID uuid.UUID) error
}

type projectService struct {
	db              *gorm.DB
	log             *logger.Logger
	projectRepo     repos.ProjectRepo
	projectFileRepo repos.ProjectFileRepo
	chatRepo        repos.ChatRepo
	messageRepo     repos.MessageRepo
	settingsRepo    repos.SettingsRepo
	avatarService   AvatarService
	bucketService   BucketService
}

func NewProjectService(
	db *gorm.DB,
	log *logger.Logger,
	projectRepo repos.ProjectRepo,
	projectFileRepo repos.ProjectFileRepo,
	chatRepo repos.ChatRepo,
	messageRepo repos.MessageRepo,
	settingsRepo repos.SettingsRepo,
	avatarService AvatarService,
	bucketService BucketService,
) ProjectService {
	return &projectService{
		db:              db,
		log:             log.With("service", "ProjectService"),
		projectRepo:     projectRepo,
		projectFileRepo: projectFileRepo,
		chatRepo:        chatRepo,
		messageRepo:     messageRepo,
		settingsRepo:    settingsRepo,
		avatarService:   avatarService,
		bucketService:   bucketService,
	}
}

func (ps *projectService) List(ctx context.Context, q ProjectListQuery) ([]*ProjectSummary, error) {
	if err := q.Page.Validate(); err != nil {
		return nil, err
	}
	projects, err := ps.projectRepo.List(ctx, nil, repos.ProjectFilter{
		Archived: q.Archived,
		Limit:    q.Page.Limit(),
		Offset:   q.Page.Offset(),
	})
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.ID)
	}
	counts, err := ps.projectRepo.Counts(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*ProjectSummary, 0, len(projects))
	for _, p := range projects {
		c := counts[p.ID]
		out = append(out, &ProjectSummary{Project: p, ChatCount: c.ChatCount, FileCount: c.FileCount})
	}
	return out, nil
}

func (ps *projectService) Get(ctx context.Context, id uuid.UUID) (*ProjectDetail, error) {
	project, err := ps.get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	files, err := ps.projectFileRepo.GetByProjectID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	counts, err := ps.projectRepo.Counts(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	listed := make([]*types.ProjectFile, 0, len(files))
	for _, f := range files {
		stripped := *f
		stripped.Content = ""
		listed = append(listed, &stripped)
	}
	c := counts[id]
	return &ProjectDetail{
		ProjectSummary: ProjectSummary{Project: project, ChatCount: c.ChatCount, FileCount: c.FileCount},
		Files:          listed,
	}, nil
}

func (ps *projectService) get(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Project, error) {
	project, err := ps.projectRepo.GetByID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("Project")
		}
		return nil, err
	}
	return project, nil
}

func (ps *projectService) Create(ctx context.Context, req ProjectCreate) (*types.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, newValidationError("name", "must not be empty")
	}
	if err := ValidateTemperature(req.Temperature); err != nil {
		return nil, err
	}
	if err := ValidateMaxTokens(req.MaxTokens); err != nil {
		return nil, err
	}
	project := &types.Project{
		ID:                 uuid.New(),
		Name:               name,
		CustomInstructions: req.CustomInstructions,
		DefaultModel:       req.DefaultModel,
		Temperature:        req.Temperature,
		MaxTokens:          req.MaxTokens,
	}
	// Avatar upload happens before the insert so a failed upload never leaves a row
	// pointing at a missing object.
	if ps.avatarService != nil {
		if err := ps.avatarService.CreateAndUploadProjectAvatar(ctx, project); err != nil {
			ps.log.Warn("Failed to create project avatar, continuing without one", "error", err)
		}
	}
	var out *types.Project
	err := ps.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = ps.projectRepo.Create(ctx, tx, project)
		return err
	})
	if err != nil {
		return nil, err
	}
	ps.log.Info("Created project", "projectID", out.ID, "name", out.Name)
	return out, nil
}

func (ps *projectService) Update(ctx context.Context, id uuid.UUID, patch ProjectPatch) (*types.Project, error) {
	if err := ValidateTemperature(patch.Temperature); err != nil {
		return nil, err
	}
	if err := ValidateMaxTokens(patch.MaxTokens); err != nil {
		return nil, err
	}
	var out *types.Project
	err := ps.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := ps.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return newValidationError("name", "must not be empty")
			}
			project.Name = name
		}
		if patch.CustomInstructions != nil {
			project.CustomInstructions = patch.CustomInstructions
		}
		if patch.IsArchived != nil {
			project.IsArchived = *patch.IsArchived
		}
		if patch.DefaultModel != nil {
			project.DefaultModel = patch.DefaultModel
		}
		if patch.Temperature != nil {
			project.Temperature = patch.Temperature
		}
		if patch.MaxTokens != nil {
			project.MaxTokens = patch.MaxTokens
		}
		out, err = ps.projectRepo.Update(ctx, tx, project)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the project, its chats (with their turns and overrides) and its files.
func (ps *projectService) Delete(ctx context.Context, id uuid.UUID) error {
	var (
		bucketKeys []string
		avatarKey  string
	)
	err := ps.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := ps.get(ctx, tx, id)
		if err != nil {
			return err
		}
		avatarKey = project.AvatarBucketKey

		chatIDs, err := ps.chatRepo.GetIDsByProjectID(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := deleteChats(ctx, tx, chatIDs, ps.messageRepo, ps.settingsRepo, ps.chatRepo); err != nil {
			return err
		}

		files, err := ps.projectFileRepo.GetByProjectID(ctx, tx, id)
		if err != nil {
			return err
		}
		fileIDs := make([]uuid.UUID, 0, len(files))
		for _, f := range files {
			fileIDs = append(fileIDs, f.ID)
			if f.BucketKey != "" {
				bucketKeys = append(bucketKeys, f.BucketKey)
			}
		}
		if err := ps.messageRepo.DetachFiles(ctx, tx, fileIDs); err != nil {
			return fmt.Errorf("detach files: %w", err)
		}
		if err := ps.projectFileRepo.DeleteByIDs(ctx, tx, fileIDs); err != nil {
			return fmt.Errorf("delete files: %w", err)
		}
		ps.log.Info("Deleting project", "projectID", id, "chats", len(chatIDs), "files", len(fileIDs))
		return ps.projectRepo.DeleteByID(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	if avatarKey != "" {
		bucketKeys = append(bucketKeys, avatarKey)
	}
	ps.purgeObjects(ctx, bucketKeys)
	return nil
}

func (ps *projectService) ListChats(ctx context.Context, id uuid.UUID, page Page) ([]*types.Chat, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	if _, err := ps.get(ctx, nil, id); err != nil {
		return nil, err
	}
	return ps.chatRepo.List(ctx, nil, repos.ChatFilter{
		ProjectID: &id,
		Limit:     page.Limit(),
		Offset:    page.Offset(),
	})
}

func (ps *projectService) Avatar(ctx context.Context, id uuid.UUID, size int) ([]byte, error) {
	project, err := ps.get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	return ps.avatarService.GenerateProjectAvatar(project, size)
}

// UploadFile stores a text file under the project. The raw body is also archived to
// the bucket when one is configured.
func (ps *projectService) UploadFile(ctx context.Context, projectID uuid.UUID, req FileUpload) (*types.ProjectFile, error) {
	filename := path.Base(strings.TrimSpace(req.Filename))
	if filename == "" || filename == "." || filename == "/" {
		return nil, newValidationError("filename", "must not be empty")
	}
	fileType := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.FileType), "."))
	if fileType == "" {
		fileType = strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	}
	if !types.AllowedFileTypes[fileType] {
		return nil, newValidationError("file_type", "file type %q not allowed, use txt, json or csv", fileType)
	}

	preview := types.Preview(req.Content)
	file := &types.ProjectFile{
		ID:             uuid.New(),
		ProjectID:      projectID,
		Filename:       filename,
		FilePath:       fmt.Sprintf("project_%s/%s", projectID, filename),
		FileType:       fileType,
		FileSize:       len(req.Content),
		ContentPreview: &preview,
		Content:        req.Content,
	}

	err := ps.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ps.get(ctx, tx, projectID); err != nil {
			return err
		}
		_, err := ps.projectFileRepo.Create(ctx, tx, file)
		return err
	})
	if err != nil {
		return nil, err
	}

	if ps.bucketService != nil && ps.bucketService.Enabled() {
		key := fmt.Sprintf("project_files/%s/%s", projectID, file.ID)
		if err := ps.bucketService.UploadFile(ctx, key, contentTypeFor(fileType), strings.NewReader(req.Content)); err != nil {
			ps.log.Warn("Failed to archive uploaded file", "fileID", file.ID, "error", err)
		} else if err := ps.db.WithContext(ctx).Model(file).Update("bucket_key", key).Error; err != nil {
			ps.log.Warn("Failed to record archive key", "fileID", file.ID, "error", err)
		} else {
			file.BucketKey = key
		}
	}
	ps.log.Info("Uploaded project file", "projectID", projectID, "filename", filename, "size", file.FileSize)
	return file, nil
}

func (ps *projectService) GetFile(ctx context.Context, projectID, fileID uuid.UUID) (*types.ProjectFile, error) {
	return ps.getFile(ctx, nil, projectID, fileID)
}

func (ps *projectService) getFile(ctx context.Context, tx *gorm.DB, projectID, fileID uuid.UUID) (*types.ProjectFile, error) {
	file, err := ps.projectFileRepo.GetByID(ctx, tx, fileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("File")
		}
		return nil, err
	}
	if file.ProjectID != projectID {
		return nil, notFound("File")
	}
	return file, nil
}

func (ps *projectService) DeleteFile(ctx context.Context, projectID, fileID uuid.UUID) error {
	var bucketKey string
	err := ps.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		file, err := ps.getFile(ctx, tx, projectID, fileID)
		if err != nil {
			return err
		}
		bucketKey = file.BucketKey
		if err := ps.messageRepo.DetachFiles(ctx, tx, []uuid.UUID{fileID}); err != nil {
			return err
		}
		return ps.projectFileRepo.DeleteByIDs(ctx, tx, []uuid.UUID{fileID})
	})
	if err != nil {
		return err
	}
	if bucketKey != "" {
		ps.purgeObjects(ctx, []string{bucketKey})
	}
	return nil
}

func (ps *projectService) purgeObjects(ctx context.Context, keys []string) {
	if ps.bucketService == nil || !ps.bucketService.Enabled() {
		return
	}
	for _, key := range keys {
		if err := ps.bucketService.DeleteFile(ctx, key); err != nil {
			ps.log.Warn("Failed to delete archived object", "key", key, "error", err)
		}
	}
}

func contentTypeFor(fileType string) string {
	switch fileType {
	case "json":
		return "application/json"
	case "csv":
		return "text/csv"
	default:
		return "text/plain; charset=utf-8"
	}
}
