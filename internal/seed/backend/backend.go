package backend

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/repos"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

const DefaultName = "default"

// SyncDefaultBackend registers the configured base URL as an active endpoint when
// the registry is empty. It reports whether a row was created.
func SyncDefaultBackend(
	ctx context.Context,
	db *gorm.DB,
	backendRepo repos.BackendRepo,
	baseURL string,
) (bool, error) {
	created := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := backendRepo.Count(ctx, tx)
		if err != nil {
			return fmt.Errorf("failed counting backends: %w", err)
		}
		if n > 0 {
			return nil
		}
		desc := "Registered from OLLAMA_BASE_URL at startup"
		if _, err := backendRepo.Create(ctx, tx, &types.BackendEndpoint{
			Name:        DefaultName,
			URL:         strings.TrimRight(strings.TrimSpace(baseURL), "/"),
			Description: &desc,
			IsActive:    true,
		}); err != nil {
			return fmt.Errorf("failed creating default backend: %w", err)
		}
		created = true
		return nil
	})
	return created, err
}
