package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotter-org/ollama-chat-backend/internal/db"
	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/repos"
	"github.com/slotter-org/ollama-chat-backend/internal/services"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

func TestSeedAllIsIdempotent(t *testing.T) {
	ctx := context.Background()
	gdb, err := db.NewTestDatabase("seed_" + t.Name())
	require.NoError(t, err)
	log := logger.NewNop()
	backends := repos.NewBackendRepo(gdb, log)
	settingsRepo := repos.NewSettingsRepo(gdb, log)
	settings := services.NewSettingsService(gdb, log, services.SettingsDefaults{DefaultModel: "mistral:7b"}, settingsRepo, repos.NewChatRepo(gdb, log))

	require.NoError(t, SeedAll(ctx, gdb, log, settings, backends, "http://localhost:11434/"))
	require.NoError(t, SeedAll(ctx, gdb, log, settings, backends, "http://other:11434"))

	all, err := backends.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "default", all[0].Name)
	assert.Equal(t, "http://localhost:11434", all[0].URL)
	assert.True(t, all[0].IsActive)
	assert.Equal(t, types.BackendStatusUnknown, all[0].Status)

	s, err := settingsRepo.Get(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "mistral:7b", s.DefaultModel)
}
