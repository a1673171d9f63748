package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/repos"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

type backendFixture struct {
	backends repos.BackendRepo
	chats    repos.ChatRepo
	client   *fakeInference
	svc      BackendService
}

func newBackendFixture(t *testing.T) *backendFixture {
	t.Helper()
	gdb := newTestDB(t)
	log := logger.NewNop()
	f := &backendFixture{
		backends: repos.NewBackendRepo(gdb, log),
		chats:    repos.NewChatRepo(gdb, log),
		client:   newFakeInference(),
	}
	monitor := NewHealthMonitor(gdb, log, f.backends, f.client, nil, time.Hour)
	f.svc = NewBackendService(gdb, log, f.backends, f.chats, f.client, monitor, testDefaultURL)
	return f
}

func TestBackendCreateChecksImmediately(t *testing.T) {
	ctx := context.Background()
	f := newBackendFixture(t)
	f.client.models["http://gpu.test"] = fiveModels()

	b, err := f.svc.Create(ctx, BackendCreate{Name: " gpu ", URL: "http://gpu.test/"})
	require.NoError(t, err)
	assert.Equal(t, "gpu", b.Name)
	assert.Equal(t, "http://gpu.test", b.URL)
	assert.True(t, b.IsActive)
	assert.Equal(t, types.BackendStatusOnline, b.Status)
	assert.Equal(t, 5, b.ModelsCount)

	_, err = f.svc.Create(ctx, BackendCreate{Name: "gpu", URL: "http://other.test"})
	assert.True(t, IsValidation(err))
	_, err = f.svc.Create(ctx, BackendCreate{Name: "bad", URL: "ftp://nope"})
	assert.True(t, IsValidation(err))
}

func TestBackendUpdateRechecksOnURLChange(t *testing.T) {
	ctx := context.Background()
	f := newBackendFixture(t)
	f.client.health["http://old.test"] = &ConnectionError{URL: "http://old.test", Detail: "refused"}
	b, err := f.svc.Create(ctx, BackendCreate{Name: "node", URL: "http://old.test"})
	require.NoError(t, err)
	assert.Equal(t, types.BackendStatusOffline, b.Status)

	desc := "renamed only"
	same, err := f.svc.Update(ctx, b.ID, BackendPatch{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, types.BackendStatusOffline, same.Status)

	newURL := "http://new.test"
	moved, err := f.svc.Update(ctx, b.ID, BackendPatch{URL: &newURL})
	require.NoError(t, err)
	assert.Equal(t, types.BackendStatusOnline, moved.Status)

	_, err = f.svc.Update(ctx, uuid.New(), BackendPatch{URL: &newURL})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBackendDeleteUnbindsChats(t *testing.T) {
	ctx := context.Background()
	f := newBackendFixture(t)
	b, err := f.svc.Create(ctx, BackendCreate{Name: "gone", URL: "http://gone.test"})
	require.NoError(t, err)
	chat, err := f.chats.Create(ctx, nil, &types.Chat{Model: "m", BackendID: &b.ID})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, b.ID))

	got, err := f.chats.GetByID(ctx, nil, chat.ID)
	require.NoError(t, err)
	assert.Nil(t, got.BackendID)
	assert.True(t, errors.Is(f.svc.Delete(ctx, b.ID), ErrNotFound))
}

func TestBackendListFiltersInactive(t *testing.T) {
	ctx := context.Background()
	f := newBackendFixture(t)
	inactive := false
	_, err := f.svc.Create(ctx, BackendCreate{Name: "a", URL: "http://a.test"})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, BackendCreate{Name: "b", URL: "http://b.test", IsActive: &inactive})
	require.NoError(t, err)

	active, err := f.svc.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	all, err := f.svc.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBackendStatusUsesStoredStateOnly(t *testing.T) {
	ctx := context.Background()
	f := newBackendFixture(t)

	status, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Equal(t, testDefaultURL, status.URL)
	require.NotNil(t, status.Error)

	f.client.health["http://down.test"] = &ConnectionError{URL: "http://down.test", Detail: "refused"}
	_, err = f.svc.Create(ctx, BackendCreate{Name: "down", URL: "http://down.test"})
	require.NoError(t, err)
	status, err = f.svc.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Equal(t, "http://down.test", status.URL)
	require.NotNil(t, status.Error)
	assert.Contains(t, *status.Error, "refused")

	f.client.models["http://up.test"] = fiveModels()
	_, err = f.svc.Create(ctx, BackendCreate{Name: "up", URL: "http://up.test"})
	require.NoError(t, err)

	// Later backend changes are invisible until the next check.
	f.client.health["http://up.test"] = &ConnectionError{URL: "http://up.test", Detail: "refused"}
	status, err = f.svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Equal(t, "http://up.test", status.URL)
	assert.Equal(t, 5, status.ModelsCount)
	assert.Nil(t, status.Error)
}

func TestBackendModelsFor(t *testing.T) {
	ctx := context.Background()
	f := newBackendFixture(t)
	f.client.models[testDefaultURL] = fiveModels()[:1]
	f.client.models["http://x.test"] = fiveModels()[:3]

	models, url, err := f.svc.ModelsFor(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, testDefaultURL, url)
	assert.Len(t, models, 1)

	b, err := f.svc.Create(ctx, BackendCreate{Name: "x", URL: "http://x.test"})
	require.NoError(t, err)
	models, url, err = f.svc.ModelsFor(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://x.test", url)
	assert.Len(t, models, 3)

	models, err = f.svc.Models(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, models, 3)

	missing := uuid.New()
	_, _, err = f.svc.ModelsFor(ctx, &missing)
	assert.True(t, errors.Is(err, ErrNotFound))
}
