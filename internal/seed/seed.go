package seed

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/repos"
	"github.com/slotter-org/ollama-chat-backend/internal/seed/backend"
	"github.com/slotter-org/ollama-chat-backend/internal/services"
)

// SeedAll makes sure the settings row and at least one backend exist.
func SeedAll(
	ctx context.Context,
	db *gorm.DB,
	log *logger.Logger,
	settingsService services.SettingsService,
	backendRepo repos.BackendRepo,
	defaultBaseURL string,
) error {
	log = log.With("component", "Seed")
	log.Info("Running SeedAll... seeding settings")
	if _, err := settingsService.Get(ctx); err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}

	log.Info("Seeding default Ollama server")
	created, err := backend.SyncDefaultBackend(ctx, db, backendRepo, defaultBaseURL)
	if err != nil {
		return fmt.Errorf("failed to seed backends: %w", err)
	}
	if created {
		log.Info("Registered default Ollama server", "url", defaultBaseURL)
	}

	log.Info("SeedAll Complete!")
	return nil
}
