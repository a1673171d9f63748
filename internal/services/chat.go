package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/repos"
	"github.com/slotter-org/ollama-chat-backend/internal/socket"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

type ChatCreate struct {
	Title     *string    `json:"title"`
	Model     *string    `json:"model"`
	ProjectID *uuid.UUID `json:"project_id"`
	BackendID *uuid.UUID `json:"ollama_server_id"`
}

type ChatPatch struct {
	Title      *string `json:"title"`
	Model      *string `json:"model"`
	IsArchived *bool   `json:"is_archived"`
}

type ChatListQuery struct {
	Page
	ProjectID *uuid.UUID
	Archived  *bool
}

type MessageCreate struct {
	Role    string `json:"role"`
	Content string `json:"content" binding:"required"`
}

// ChatWithMessages is a chat together with its turns, oldest first.
type ChatWithMessages struct {
	*types.Chat
	Messages []*types.Message `json:"messages"`
}

type ChatService interface {
	List(ctx context.Context, q ChatListQuery) ([]*types.Chat, error)
	Get(ctx context.Context, id uuid.UUID) (*ChatWithMessages, error)
	Create(ctx context.Context, req ChatCreate) (*types.Chat, error)
	Update(ctx context.Context, id uuid.UUID, patch ChatPatch) (*types.Chat, error)
	Archive(ctx context.Context, id uuid.UUID) (*types.Chat, error)
	Delete(ctx context.Context, id uuid.UUID) error

	ListMessages(ctx context.Context, chatID uuid.UUID, page Page) ([]*types.Message, error)
	CreateMessage(ctx context.Context, chatID uuid.UUID, req MessageCreate) (*types.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID uuid.UUID) error
}

type chatService struct {
	db              *gorm.DB
	log             *logger.Logger
	chatRepo        repos.ChatRepo
	messageRepo     repos.MessageRepo
	projectRepo     repos.ProjectRepo
	backendRepo     repos.BackendRepo
	settingsRepo    repos.SettingsRepo
	settingsService SettingsService
	publisher       EventPublisher
}

func NewChatService(
	db *gorm.DB,
	log *logger.Logger,
	chatRepo repos.ChatRepo,
	messageRepo repos.MessageRepo,
	projectRepo repos.ProjectRepo,
	backendRepo repos.BackendRepo,
	settingsRepo repos.SettingsRepo,
	settingsService SettingsService,
	publisher EventPublisher,
) ChatService {
	return &chatService{
		db:              db,
		log:             log.With("service", "ChatService"),
		chatRepo:        chatRepo,
		messageRepo:     messageRepo,
		projectRepo:     projectRepo,
		backendRepo:     backendRepo,
		settingsRepo:    settingsRepo,
		settingsService: settingsService,
		publisher:       publisher,
	}
}

func (cs *chatService) List(ctx context.Context, q ChatListQuery) ([]*types.Chat, error) {
	if err := q.Page.Validate(); err != nil {
		return nil, err
	}
	return cs.chatRepo.List(ctx, nil, repos.ChatFilter{
		ProjectID: q.ProjectID,
		Archived:  q.Archived,
		Limit:     q.Page.Limit(),
		Offset:    q.Page.Offset(),
	})
}

func (cs *chatService) Get(ctx context.Context, id uuid.UUID) (*ChatWithMessages, error) {
	chat, err := cs.get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	msgs, err := cs.messageRepo.GetByChatID(ctx, nil, id, 0, 0)
	if err != nil {
		return nil, err
	}
	return &ChatWithMessages{Chat: chat, Messages: msgs}, nil
}

func (cs *chatService) get(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Chat, error) {
	chat, err := cs.chatRepo.GetByID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("Chat")
		}
		return nil, err
	}
	return chat, nil
}

// Create stores a new chat. A bound backend must exist now; it is not re-validated later.
func (cs *chatService) Create(ctx context.Context, req ChatCreate) (*types.Chat, error) {
	var out *types.Chat
	err := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat := &types.Chat{
			Title:     types.DefaultChatTitle,
			ProjectID: req.ProjectID,
			BackendID: req.BackendID,
		}
		if req.Title != nil && strings.TrimSpace(*req.Title) != "" {
			chat.Title = strings.TrimSpace(*req.Title)
		}

		var project *types.Project
		if req.ProjectID != nil {
			p, err := cs.projectRepo.GetByID(ctx, tx, *req.ProjectID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return notFound("Project")
				}
				return err
			}
			project = p
		}

		if req.BackendID != nil {
			backend, err := cs.backendRepo.GetByID(ctx, tx, *req.BackendID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return notFound("Ollama server")
				}
				return err
			}
			if !backend.IsActive {
				cs.log.Warn("Creating chat bound to inactive Ollama server", "backend", backend.Name)
			}
		}

		switch {
		case req.Model != nil && strings.TrimSpace(*req.Model) != "":
			chat.Model = strings.TrimSpace(*req.Model)
		case project != nil && project.DefaultModel != nil && *project.DefaultModel != "":
			chat.Model = *project.DefaultModel
		default:
			settings, err := cs.settingsService.GetWithTransaction(ctx, tx)
			if err != nil {
				return err
			}
			chat.Model = settings.DefaultModel
		}

		var err error
		out, err = cs.chatRepo.Create(ctx, tx, chat)
		return err
	})
	if err != nil {
		return nil, err
	}
	cs.log.Info("Created chat", "chatID", out.ID, "model", out.Model)
	return out, nil
}

func (cs *chatService) Update(ctx context.Context, id uuid.UUID, patch ChatPatch) (*types.Chat, error) {
	var (
		out          *types.Chat
		titleChanged bool
	)
	err := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := cs.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if patch.Title != nil {
			title := strings.TrimSpace(*patch.Title)
			if title == "" {
				return newValidationError("title", "must not be empty")
			}
			titleChanged = title != chat.Title
			chat.Title = title
		}
		if patch.Model != nil {
			model := strings.TrimSpace(*patch.Model)
			if model == "" {
				return newValidationError("model", "must not be empty")
			}
			chat.Model = model
		}
		if patch.IsArchived != nil {
			chat.IsArchived = *patch.IsArchived
		}
		out, err = cs.chatRepo.Update(ctx, tx, chat)
		return err
	})
	if err != nil {
		return nil, err
	}
	if titleChanged && cs.publisher != nil {
		cs.publisher.Publish(ctx, socket.ChatChannel(out.ID), socket.TypeChatTitleUpdated, map[string]interface{}{
			"chat_id": out.ID,
			"title":   out.Title,
		})
	}
	return out, nil
}

func (cs *chatService) Archive(ctx context.Context, id uuid.UUID) (*types.Chat, error) {
	archived := true
	return cs.Update(ctx, id, ChatPatch{IsArchived: &archived})
}

// Delete removes the chat with its turns, attachment links and overrides.
func (cs *chatService) Delete(ctx context.Context, id uuid.UUID) error {
	return cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := cs.get(ctx, tx, id); err != nil {
			return err
		}
		return deleteChats(ctx, tx, []uuid.UUID{id}, cs.messageRepo, cs.settingsRepo, cs.chatRepo)
	})
}

func (cs *chatService) ListMessages(ctx context.Context, chatID uuid.UUID, page Page) ([]*types.Message, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	if _, err := cs.get(ctx, nil, chatID); err != nil {
		return nil, err
	}
	return cs.messageRepo.GetByChatID(ctx, nil, chatID, page.Limit(), page.Offset())
}

// CreateMessage appends a turn without running generation.
func (cs *chatService) CreateMessage(ctx context.Context, chatID uuid.UUID, req MessageCreate) (*types.Message, error) {
	role := req.Role
	if role == "" {
		role = types.RoleUser
	}
	if !types.ValidRole(role) {
		return nil, newValidationError("role", "must be user, assistant or system")
	}
	if err := validateMessageText("content", req.Content); err != nil {
		return nil, err
	}
	msg := &types.Message{ChatID: chatID, Role: role, Content: req.Content}
	err := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := cs.get(ctx, tx, chatID); err != nil {
			return err
		}
		if latest, err := cs.messageRepo.GetLatestByChatID(ctx, tx, chatID); err == nil {
			msg.CreatedAt = after(latest.CreatedAt)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if _, err := cs.messageRepo.CreateMessages(ctx, tx, []*types.Message{msg}); err != nil {
			return err
		}
		return cs.chatRepo.Touch(ctx, tx, chatID)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (cs *chatService) DeleteMessage(ctx context.Context, chatID, messageID uuid.UUID) error {
	return cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msg, err := cs.messageRepo.GetByID(ctx, tx, messageID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("Message")
			}
			return err
		}
		if msg.ChatID != chatID {
			return notFound("Message")
		}
		return cs.messageRepo.DeleteByID(ctx, tx, messageID)
	})
}

// deleteChats removes chats and everything hanging off them inside tx.
func deleteChats(
	ctx context.Context,
	tx *gorm.DB,
	ids []uuid.UUID,
	messageRepo repos.MessageRepo,
	settingsRepo repos.SettingsRepo,
	chatRepo repos.ChatRepo,
) error {
	if len(ids) == 0 {
		return nil
	}
	if err := messageRepo.DeleteByChatIDs(ctx, tx, ids); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err := settingsRepo.DeleteChatSettings(ctx, tx, ids); err != nil {
		return fmt.Errorf("delete chat settings: %w", err)
	}
	return chatRepo.DeleteByIDs(ctx, tx, ids)
}
