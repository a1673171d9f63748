package db

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

func TestGormLogsThroughZapWithoutRecordNotFound(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	svc, err := NewSQLiteService("file:gorm_logging?mode=memory&cache=shared", logger.FromZap(zap.New(core)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	require.NoError(t, svc.AutoMigrateAll())
	logs.TakeAll()

	gormEntries := func() []observer.LoggedEntry {
		return logs.FilterField(zap.String("component", "gorm")).All()
	}

	var chat types.Chat
	err = svc.DB().Where("id = ?", uuid.New()).First(&chat).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Empty(t, gormEntries())

	err = svc.DB().Exec("SELECT * FROM missing_table").Error
	require.Error(t, err)
	entries := gormEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Contains(t, entries[0].Message, "missing_table")
}
