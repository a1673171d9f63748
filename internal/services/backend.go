package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/repos"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

// EndpointChecker runs a single health check and stores its result.
type EndpointChecker interface {
	CheckEndpoint(ctx context.Context, b *types.BackendEndpoint) (*types.BackendEndpoint, error)
}

type BackendCreate struct {
	Name        string  `json:"name" binding:"required"`
	URL         string  `json:"url" binding:"required"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

type BackendPatch struct {
	Name        *string `json:"name"`
	URL         *string `json:"url"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

// BackendStatus is the aggregate connectivity report built from stored health state.
type BackendStatus struct {
	Connected   bool    `json:"connected"`
	URL         string  `json:"url"`
	Backend     string  `json:"backend,omitempty"`
	ModelsCount int     `json:"models_count"`
	Error       *string `json:"error,omitempty"`
}

type BackendService interface {
	List(ctx context.Context, includeInactive bool) ([]*types.BackendEndpoint, error)
	Get(ctx context.Context, id uuid.UUID) (*types.BackendEndpoint, error)
	Create(ctx context.Context, req BackendCreate) (*types.BackendEndpoint, error)
	Update(ctx context.Context, id uuid.UUID, patch BackendPatch) (*types.BackendEndpoint, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CheckHealth(ctx context.Context, id uuid.UUID) (*types.BackendEndpoint, error)
	Models(ctx context.Context, id uuid.UUID) ([]ModelInfo, error)
	ModelsFor(ctx context.Context, serverID *uuid.UUID) ([]ModelInfo, string, error)
	Status(ctx context.Context) (*BackendStatus, error)
}

type backendService struct {
	db             *gorm.DB
	log            *logger.Logger
	backendRepo    repos.BackendRepo
	chatRepo       repos.ChatRepo
	client         InferenceClient
	checker        EndpointChecker
	defaultBaseURL string
}

func NewBackendService(
	db *gorm.DB,
	log *logger.Logger,
	backendRepo repos.BackendRepo,
	chatRepo repos.ChatRepo,
	client InferenceClient,
	checker EndpointChecker,
	defaultBaseURL string,
) BackendService {
	return &backendService{
		db:             db,
		log:            log.With("service", "BackendService"),
		backendRepo:    backendRepo,
		chatRepo:       chatRepo,
		client:         client,
		checker:        checker,
		defaultBaseURL: defaultBaseURL,
	}
}

func (bs *backendService) List(ctx context.Context, includeInactive bool) ([]*types.BackendEndpoint, error) {
	if includeInactive {
		return bs.backendRepo.List(ctx, nil)
	}
	return bs.backendRepo.ListActive(ctx, nil)
}

func (bs *backendService) Get(ctx context.Context, id uuid.UUID) (*types.BackendEndpoint, error) {
	return bs.get(ctx, nil, id)
}

func (bs *backendService) get(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BackendEndpoint, error) {
	backend, err := bs.backendRepo.GetByID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("Ollama server")
		}
		return nil, err
	}
	return backend, nil
}

// Create registers the endpoint and checks it right away so the caller sees a real
// status instead of unknown.
func (bs *backendService) Create(ctx context.Context, req BackendCreate) (*types.BackendEndpoint, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, newValidationError("name", "must not be empty")
	}
	baseURL, err := normalizeBackendURL(req.URL)
	if err != nil {
		return nil, err
	}
	backend := &types.BackendEndpoint{
		Name:        name,
		URL:         baseURL,
		Description: req.Description,
		IsActive:    true,
	}
	if req.IsActive != nil {
		backend.IsActive = *req.IsActive
	}

	err = bs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bs.ensureNameFree(ctx, tx, name, uuid.Nil); err != nil {
			return err
		}
		_, err := bs.backendRepo.Create(ctx, tx, backend)
		return err
	})
	if err != nil {
		return nil, err
	}
	bs.log.Info("Registered Ollama server", "name", backend.Name, "url", backend.URL)
	return bs.checkQuietly(ctx, backend), nil
}

func (bs *backendService) Update(ctx context.Context, id uuid.UUID, patch BackendPatch) (*types.BackendEndpoint, error) {
	var (
		backend    *types.BackendEndpoint
		urlChanged bool
	)
	err := bs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		backend, err = bs.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return newValidationError("name", "must not be empty")
			}
			if name != backend.Name {
				if err := bs.ensureNameFree(ctx, tx, name, backend.ID); err != nil {
					return err
				}
			}
			backend.Name = name
		}
		if patch.URL != nil {
			baseURL, err := normalizeBackendURL(*patch.URL)
			if err != nil {
				return err
			}
			urlChanged = baseURL != backend.URL
			backend.URL = baseURL
		}
		if patch.Description != nil {
			backend.Description = patch.Description
		}
		if patch.IsActive != nil {
			backend.IsActive = *patch.IsActive
		}
		backend, err = bs.backendRepo.UpdateConfig(ctx, tx, backend)
		return err
	})
	if err != nil {
		return nil, err
	}
	if urlChanged {
		bs.log.Info("Ollama server URL changed, re-checking", "name", backend.Name, "url", backend.URL)
		return bs.checkQuietly(ctx, backend), nil
	}
	return backend, nil
}

// Delete removes the endpoint. Chats bound to it fall back to default routing.
func (bs *backendService) Delete(ctx context.Context, id uuid.UUID) error {
	return bs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		backend, err := bs.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := bs.chatRepo.ClearBackend(ctx, tx, backend.ID); err != nil {
			return fmt.Errorf("unbind chats: %w", err)
		}
		if err := bs.backendRepo.DeleteByID(ctx, tx, backend.ID); err != nil {
			return err
		}
		bs.log.Info("Deleted Ollama server", "name", backend.Name)
		return nil
	})
}

func (bs *backendService) CheckHealth(ctx context.Context, id uuid.UUID) (*types.BackendEndpoint, error) {
	backend, err := bs.get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	return bs.checker.CheckEndpoint(ctx, backend)
}

func (bs *backendService) Models(ctx context.Context, id uuid.UUID) ([]ModelInfo, error) {
	backend, err := bs.get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	return bs.client.ListModels(ctx, backend.URL)
}

// ModelsFor lists models on serverID, or on the endpoint a new turn would use when
// serverID is nil. The URL that was queried is returned alongside.
func (bs *backendService) ModelsFor(ctx context.Context, serverID *uuid.UUID) ([]ModelInfo, string, error) {
	baseURL := bs.defaultBaseURL
	if serverID != nil {
		backend, err := bs.get(ctx, nil, *serverID)
		if err != nil {
			return nil, "", err
		}
		baseURL = backend.URL
	} else if backend, err := bs.backendRepo.FirstActiveOnline(ctx, nil); err == nil {
		baseURL = backend.URL
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}
	models, err := bs.client.ListModels(ctx, baseURL)
	if err != nil {
		return nil, baseURL, err
	}
	return models, baseURL, nil
}

// Status reports connectivity from the last stored checks only. It never probes.
func (bs *backendService) Status(ctx context.Context) (*BackendStatus, error) {
	online, err := bs.backendRepo.FirstActiveOnline(ctx, nil)
	if err == nil {
		return &BackendStatus{
			Connected:   true,
			URL:         online.URL,
			Backend:     online.Name,
			ModelsCount: online.ModelsCount,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	active, err := bs.backendRepo.ListActive(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		msg := "No active Ollama servers registered"
		return &BackendStatus{URL: bs.defaultBaseURL, Error: &msg}, nil
	}
	first := active[0]
	status := &BackendStatus{
		URL:         first.URL,
		Backend:     first.Name,
		ModelsCount: first.ModelsCount,
		Error:       first.LastError,
	}
	if status.Error == nil {
		msg := fmt.Sprintf("Ollama server status is %s", first.Status)
		status.Error = &msg
	}
	return status, nil
}

func (bs *backendService) ensureNameFree(ctx context.Context, tx *gorm.DB, name string, self uuid.UUID) error {
	existing, err := bs.backendRepo.GetByName(ctx, tx, name)
	if err == nil && existing.ID != self {
		return newValidationError("name", "an Ollama server named %q already exists", name)
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return nil
}

// checkQuietly runs a health check and falls back to the unchecked record when the
// result could not be stored.
func (bs *backendService) checkQuietly(ctx context.Context, backend *types.BackendEndpoint) *types.BackendEndpoint {
	if bs.checker == nil {
		return backend
	}
	checked, err := bs.checker.CheckEndpoint(ctx, backend)
	if err != nil {
		bs.log.Warn("Failed to store initial health check", "name", backend.Name, "error", err)
		return backend
	}
	return checked
}

func normalizeBackendURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(trimmed)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", newValidationError("url", "must be an absolute http or https URL")
	}
	return trimmed, nil
}
