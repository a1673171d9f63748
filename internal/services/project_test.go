package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/repos"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

// memBucket keeps uploaded objects in memory.
type memBucket struct {
	mu      sync.Mutex
	objects map[string]string
	failOn  string
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string]string{}}
}

func (b *memBucket) Enabled() bool { return true }

func (b *memBucket) UploadFile(ctx context.Context, key, contentType string, r io.Reader) error {
	if b.failOn != "" && strings.HasPrefix(key, b.failOn) {
		return errUnexpected
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = string(body)
	return nil
}

func (b *memBucket) DeleteFile(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBucket) GetPublicURL(key string) string { return "https://bucket.test/" + key }

func (b *memBucket) Close() error { return nil }

func (b *memBucket) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.objects))
	for k := range b.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type projectFixture struct {
	chats    repos.ChatRepo
	messages repos.MessageRepo
	files    repos.ProjectFileRepo
	bucket   *memBucket
	svc      ProjectService
}

func newProjectFixture(t *testing.T) *projectFixture {
	t.Helper()
	gdb := newTestDB(t)
	log := logger.NewNop()
	f := &projectFixture{
		chats:    repos.NewChatRepo(gdb, log),
		messages: repos.NewMessageRepo(gdb, log),
		files:    repos.NewProjectFileRepo(gdb, log),
		bucket:   newMemBucket(),
	}
	avatars, err := NewAvatarService(log, f.bucket)
	require.NoError(t, err)
	f.svc = NewProjectService(
		gdb, log,
		repos.NewProjectRepo(gdb, log), f.files, f.chats, f.messages, repos.NewSettingsRepo(gdb, log),
		avatars, f.bucket,
	)
	return f
}

func TestProjectCreateUploadsAvatar(t *testing.T) {
	ctx := context.Background()
	f := newProjectFixture(t)

	project, err := f.svc.Create(ctx, ProjectCreate{Name: "  Research Notes "})
	require.NoError(t, err)
	assert.Equal(t, "Research Notes", project.Name)
	assert.Equal(t, "project_avatars/"+project.ID.String()+".png", project.AvatarBucketKey)
	assert.Equal(t, "https://bucket.test/"+project.AvatarBucketKey, project.AvatarURL)
	assert.Equal(t, []string{project.AvatarBucketKey}, f.bucket.keys())

	_, err = f.svc.Create(ctx, ProjectCreate{Name: " "})
	assert.True(t, IsValidation(err))
	_, err = f.svc.Create(ctx, ProjectCreate{Name: "hot", Temperature: f64(3)})
	assert.True(t, IsValidation(err))
}

func TestProjectCreateSurvivesAvatarFailure(t *testing.T) {
	ctx := context.Background()
	f := newProjectFixture(t)
	f.bucket.failOn = "project_avatars/"

	project, err := f.svc.Create(ctx, ProjectCreate{Name: "No Avatar"})
	require.NoError(t, err)
	assert.Empty(t, project.AvatarBucketKey)
	assert.Empty(t, project.AvatarURL)
}

func TestProjectUploadFile(t *testing.T) {
	ctx := context.Background()
	f := newProjectFixture(t)
	project, err := f.svc.Create(ctx, ProjectCreate{Name: "files"})
	require.NoError(t, err)

	body := strings.Repeat("x", 250)
	file, err := f.svc.UploadFile(ctx, project.ID, FileUpload{Filename: "../notes.TXT", Content: body})
	require.NoError(t, err)
	assert.Equal(t, "notes.TXT", file.Filename)
	assert.Equal(t, "txt", file.FileType)
	assert.Equal(t, "project_"+project.ID.String()+"/notes.TXT", file.FilePath)
	assert.Equal(t, 250, file.FileSize)
	require.NotNil(t, file.ContentPreview)
	assert.Len(t, *file.ContentPreview, types.ContentPreviewLength)

	archiveKey := "project_files/" + project.ID.String() + "/" + file.ID.String()
	assert.Equal(t, archiveKey, file.BucketKey)
	assert.Contains(t, f.bucket.keys(), archiveKey)

	stored, err := f.svc.GetFile(ctx, project.ID, file.ID)
	require.NoError(t, err)
	assert.Equal(t, body, stored.Content)
	assert.Equal(t, archiveKey, stored.BucketKey)

	explicit, err := f.svc.UploadFile(ctx, project.ID, FileUpload{Filename: "data", FileType: ".JSON", Content: "{}"})
	require.NoError(t, err)
	assert.Equal(t, "json", explicit.FileType)

	_, err = f.svc.UploadFile(ctx, project.ID, FileUpload{Filename: "image.png", Content: "x"})
	assert.True(t, IsValidation(err))
	_, err = f.svc.UploadFile(ctx, project.ID, FileUpload{Filename: " ", Content: "x"})
	assert.True(t, IsValidation(err))
	_, err = f.svc.UploadFile(ctx, uuid.New(), FileUpload{Filename: "a.csv", Content: "x"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestProjectFileOwnership(t *testing.T) {
	ctx := context.Background()
	f := newProjectFixture(t)
	owner, err := f.svc.Create(ctx, ProjectCreate{Name: "owner"})
	require.NoError(t, err)
	other, err := f.svc.Create(ctx, ProjectCreate{Name: "other"})
	require.NoError(t, err)
	file, err := f.svc.UploadFile(ctx, owner.ID, FileUpload{Filename: "a.csv", Content: "a,b"})
	require.NoError(t, err)

	_, err = f.svc.GetFile(ctx, other.ID, file.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(f.svc.DeleteFile(ctx, other.ID, file.ID), ErrNotFound))

	require.NoError(t, f.svc.DeleteFile(ctx, owner.ID, file.ID))
	_, err = f.svc.GetFile(ctx, owner.ID, file.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NotContains(t, f.bucket.keys(), file.BucketKey)
}

func TestProjectListAndGetCounts(t *testing.T) {
	ctx := context.Background()
	f := newProjectFixture(t)
	busy, err := f.svc.Create(ctx, ProjectCreate{Name: "busy"})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, ProjectCreate{Name: "empty"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.chats.Create(ctx, nil, &types.Chat{Model: "m", ProjectID: &busy.ID})
		require.NoError(t, err)
	}
	_, err = f.svc.UploadFile(ctx, busy.ID, FileUpload{Filename: "a.txt", Content: "hello"})
	require.NoError(t, err)

	list, err := f.svc.List(ctx, ProjectListQuery{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	byName := map[string]*ProjectSummary{}
	for _, p := range list {
		byName[p.Name] = p
	}
	assert.EqualValues(t, 2, byName["busy"].ChatCount)
	assert.EqualValues(t, 1, byName["busy"].FileCount)
	assert.Zero(t, byName["empty"].ChatCount)

	detail, err := f.svc.Get(ctx, busy.ID)
	require.NoError(t, err)
	require.Len(t, detail.Files, 1)
	assert.Empty(t, detail.Files[0].Content)
	assert.EqualValues(t, 2, detail.ChatCount)

	chats, err := f.svc.ListChats(ctx, busy.ID, Page{})
	require.NoError(t, err)
	assert.Len(t, chats, 2)
}

func TestProjectDeleteCascades(t *testing.T) {
	ctx := context.Background()
	f := newProjectFixture(t)
	project, err := f.svc.Create(ctx, ProjectCreate{Name: "doomed"})
	require.NoError(t, err)
	chat, err := f.chats.Create(ctx, nil, &types.Chat{Model: "m", ProjectID: &project.ID})
	require.NoError(t, err)
	file, err := f.svc.UploadFile(ctx, project.ID, FileUpload{Filename: "a.txt", Content: "hello"})
	require.NoError(t, err)
	_, err = f.messages.CreateMessages(ctx, nil, []*types.Message{{ChatID: chat.ID, Role: types.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	require.Len(t, f.bucket.keys(), 2)

	require.NoError(t, f.svc.Delete(ctx, project.ID))

	_, err = f.svc.Get(ctx, project.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = f.chats.GetByID(ctx, nil, chat.ID)
	assert.Error(t, err)
	_, err = f.files.GetByID(ctx, nil, file.ID)
	assert.Error(t, err)
	assert.Empty(t, f.bucket.keys())
}

func TestProjectAvatarRendersRequestedSize(t *testing.T) {
	ctx := context.Background()
	f := newProjectFixture(t)
	project, err := f.svc.Create(ctx, ProjectCreate{Name: "pic"})
	require.NoError(t, err)

	png, err := f.svc.Avatar(ctx, project.ID, 64)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))

	_, err = f.svc.Avatar(ctx, uuid.New(), 64)
	assert.True(t, errors.Is(err, ErrNotFound))
}
