package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/repos"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

type chatFixture struct {
	chats     repos.ChatRepo
	messages  repos.MessageRepo
	projects  repos.ProjectRepo
	backends  repos.BackendRepo
	settings  repos.SettingsRepo
	publisher *recordingPublisher
	svc       ChatService
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	gdb := newTestDB(t)
	log := logger.NewNop()
	f := &chatFixture{
		chats:     repos.NewChatRepo(gdb, log),
		messages:  repos.NewMessageRepo(gdb, log),
		projects:  repos.NewProjectRepo(gdb, log),
		backends:  repos.NewBackendRepo(gdb, log),
		settings:  repos.NewSettingsRepo(gdb, log),
		publisher: &recordingPublisher{},
	}
	settingsService := NewSettingsService(gdb, log, SettingsDefaults{DefaultModel: "mistral:7b"}, f.settings, f.chats)
	f.svc = NewChatService(gdb, log, f.chats, f.messages, f.projects, f.backends, f.settings, settingsService, f.publisher)
	return f
}

func TestChatCreateDefaults(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)

	plain, err := f.svc.Create(ctx, ChatCreate{})
	require.NoError(t, err)
	assert.Equal(t, types.DefaultChatTitle, plain.Title)
	assert.Equal(t, "mistral:7b", plain.Model)

	project, err := f.projects.Create(ctx, nil, &types.Project{Name: "p", DefaultModel: strp("llama3")})
	require.NoError(t, err)
	scoped, err := f.svc.Create(ctx, ChatCreate{ProjectID: &project.ID, Title: strp("Plans")})
	require.NoError(t, err)
	assert.Equal(t, "llama3", scoped.Model)
	assert.Equal(t, "Plans", scoped.Title)

	explicit, err := f.svc.Create(ctx, ChatCreate{ProjectID: &project.ID, Model: strp("qwen")})
	require.NoError(t, err)
	assert.Equal(t, "qwen", explicit.Model)
}

func TestChatCreateValidatesReferences(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	missing := uuid.New()

	_, err := f.svc.Create(ctx, ChatCreate{BackendID: &missing})
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = f.svc.Create(ctx, ChatCreate{ProjectID: &missing})
	assert.True(t, errors.Is(err, ErrNotFound))

	inactive, err := f.backends.Create(ctx, nil, &types.BackendEndpoint{Name: "off", URL: "http://off.test"})
	require.NoError(t, err)
	chat, err := f.svc.Create(ctx, ChatCreate{BackendID: &inactive.ID})
	require.NoError(t, err)
	require.NotNil(t, chat.BackendID)
	assert.Equal(t, inactive.ID, *chat.BackendID)
}

func TestChatUpdatePublishesTitleChange(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	chat, err := f.svc.Create(ctx, ChatCreate{})
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, chat.ID, ChatPatch{Title: strp("Renamed")})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	require.Len(t, f.publisher.ofType("chat_title_updated"), 1)

	_, err = f.svc.Update(ctx, chat.ID, ChatPatch{Title: strp("  ")})
	assert.True(t, IsValidation(err))

	archived, err := f.svc.Archive(ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, archived.IsArchived)
	assert.Len(t, f.publisher.ofType("chat_title_updated"), 1)
}

func TestChatDeleteCascades(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	chat, err := f.svc.Create(ctx, ChatCreate{})
	require.NoError(t, err)
	_, err = f.svc.CreateMessage(ctx, chat.ID, MessageCreate{Content: "hello"})
	require.NoError(t, err)
	_, err = f.settings.UpsertChatSettings(ctx, nil, &types.ChatSettings{ChatID: chat.ID, MaxTokens: intp(10)})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, chat.ID))

	_, err = f.svc.Get(ctx, chat.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	msgs, err := f.messages.GetByChatID(ctx, nil, chat.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	_, err = f.settings.GetChatSettings(ctx, nil, chat.ID)
	assert.Error(t, err)
}

func TestChatMessagesPagination(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	chat, err := f.svc.Create(ctx, ChatCreate{})
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		_, err := f.svc.CreateMessage(ctx, chat.ID, MessageCreate{Content: text})
		require.NoError(t, err)
	}

	page, err := f.svc.ListMessages(ctx, chat.ID, Page{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "three", page[0].Content)

	all, err := f.svc.ListMessages(ctx, chat.ID, Page{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "one", all[0].Content)

	_, err = f.svc.ListMessages(ctx, chat.ID, Page{PageSize: 500})
	assert.True(t, IsValidation(err))
	_, err = f.svc.CreateMessage(ctx, chat.ID, MessageCreate{Role: "robot", Content: "x"})
	assert.True(t, IsValidation(err))
	_, err = f.svc.CreateMessage(ctx, chat.ID, MessageCreate{Content: strings.Repeat("x", MaxMessageLength+1)})
	assert.True(t, IsValidation(err))

	detail, err := f.svc.Get(ctx, chat.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Messages, 3)
}

func TestChatDeleteMessageChecksOwnership(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	chat, err := f.svc.Create(ctx, ChatCreate{})
	require.NoError(t, err)
	other, err := f.svc.Create(ctx, ChatCreate{})
	require.NoError(t, err)
	msg, err := f.svc.CreateMessage(ctx, chat.ID, MessageCreate{Content: "hi"})
	require.NoError(t, err)

	assert.True(t, errors.Is(f.svc.DeleteMessage(ctx, other.ID, msg.ID), ErrNotFound))
	require.NoError(t, f.svc.DeleteMessage(ctx, chat.ID, msg.ID))
	assert.True(t, errors.Is(f.svc.DeleteMessage(ctx, chat.ID, msg.ID), ErrNotFound))
}

func TestChatListFilters(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	project, err := f.projects.Create(ctx, nil, &types.Project{Name: "p"})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, ChatCreate{ProjectID: &project.ID})
	require.NoError(t, err)
	loose, err := f.svc.Create(ctx, ChatCreate{})
	require.NoError(t, err)
	_, err = f.svc.Archive(ctx, loose.ID)
	require.NoError(t, err)

	scoped, err := f.svc.List(ctx, ChatListQuery{ProjectID: &project.ID})
	require.NoError(t, err)
	assert.Len(t, scoped, 1)

	archived := true
	arch, err := f.svc.List(ctx, ChatListQuery{Archived: &archived})
	require.NoError(t, err)
	require.Len(t, arch, 1)
	assert.Equal(t, loose.ID, arch[0].ID)
}
