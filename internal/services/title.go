package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/metrics"
	"github.com/slotter-org/ollama-chat-backend/internal/repos"
	"github.com/slotter-org/ollama-chat-backend/internal/socket"
	"github.com/slotter-org/ollama-chat-backend/internal/templates"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

const (
	titleMaxLength   = 50
	titleMaxAttempts = 2
)

// EventPublisher pushes realtime notifications to subscribed clients.
type EventPublisher interface {
	Publish(ctx context.Context, channel, eventType string, payload interface{})
}

type TitleGeneratorConfig struct {
	PromptFile   string
	DefaultModel string
	RetryDelay   time.Duration
}

type TitleJob struct {
	ChatID  uuid.UUID
	BaseURL string
	Model   string
}

type TitleGenerator struct {
	log         *logger.Logger
	client      InferenceClient
	chatRepo    repos.ChatRepo
	messageRepo repos.MessageRepo
	publisher   EventPublisher
	cfg         TitleGeneratorConfig
}

func NewTitleGenerator(
	log *logger.Logger,
	client InferenceClient,
	chatRepo repos.ChatRepo,
	messageRepo repos.MessageRepo,
	publisher EventPublisher,
	cfg TitleGeneratorConfig,
) *TitleGenerator {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &TitleGenerator{
		log:         log.With("service", "TitleGenerator"),
		client:      client,
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		publisher:   publisher,
		cfg:         cfg,
	}
}

// Generate asks the backend for a title, retrying once after RetryDelay. The
// delay is abandoned when ctx is cancelled.
func (tg *TitleGenerator) Generate(ctx context.Context, baseURL, model string, userTexts, assistantTexts []string) (string, error) {
	if model == "" {
		model = tg.cfg.DefaultModel
	}
	systemPrompt, err := templates.TitleSystemPrompt(tg.cfg.PromptFile)
	if err != nil {
		tg.log.Warn("Failed to read title prompt file, using fallback", "error", err)
	}

	msgs := []ChatMessage{{Role: types.RoleSystem, Content: systemPrompt}}
	for i := 0; i < len(userTexts) || i < len(assistantTexts); i++ {
		if i < len(userTexts) {
			msgs = append(msgs, ChatMessage{Role: types.RoleUser, Content: userTexts[i]})
		}
		if i < len(assistantTexts) {
			msgs = append(msgs, ChatMessage{Role: types.RoleAssistant, Content: assistantTexts[i]})
		}
	}
	msgs = append(msgs, ChatMessage{Role: types.RoleUser, Content: templates.TitleInstruction})

	temp := 0.2
	opts := ChatOptions{Temperature: &temp, NumCtx: 2048, NumPredict: 50}

	var lastErr error
	for attempt := 1; attempt <= titleMaxAttempts; attempt++ {
		raw, err := tg.client.Chat(ctx, baseURL, model, msgs, opts)
		if err == nil {
			return SanitizeTitle(raw), nil
		}
		lastErr = err
		tg.log.Warn("Title generation attempt failed", "attempt", attempt, "maxAttempts", titleMaxAttempts, "error", err)
		if attempt == titleMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(tg.cfg.RetryDelay):
		}
	}
	return "", fmt.Errorf("title generation failed after %d attempts: %w", titleMaxAttempts, lastErr)
}

// TitleChat titles a chat from its first user and assistant turns. It does nothing
// when the chat already has a non-placeholder title. The returned bool reports
// whether the title was changed.
func (tg *TitleGenerator) TitleChat(ctx context.Context, job TitleJob) (string, bool, error) {
	chat, err := tg.chatRepo.GetByID(ctx, nil, job.ChatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, notFound("chat")
		}
		return "", false, err
	}
	if !chat.HasPlaceholderTitle() {
		tg.log.Debug("Chat already titled, skipping", "chatID", chat.ID)
		metrics.TitleGenerationsTotal.WithLabelValues("skipped").Inc()
		return chat.Title, false, nil
	}

	turns, err := tg.messageRepo.GetByChatID(ctx, nil, chat.ID, 0, 0)
	if err != nil {
		return "", false, err
	}
	var userText, assistantText string
	for _, m := range turns {
		if m.Role == types.RoleUser && userText == "" {
			userText = m.Content
		}
		if m.Role == types.RoleAssistant && assistantText == "" {
			assistantText = m.Content
		}
	}
	if userText == "" || assistantText == "" {
		tg.log.Debug("Not enough turns to title chat", "chatID", chat.ID)
		return chat.Title, false, nil
	}

	title, err := tg.Generate(ctx, job.BaseURL, job.Model, []string{userText}, []string{assistantText})
	if err != nil {
		metrics.TitleGenerationsTotal.WithLabelValues("failed").Inc()
		return chat.Title, false, err
	}
	if title == "" || title == types.DefaultChatTitle {
		metrics.TitleGenerationsTotal.WithLabelValues("empty").Inc()
		return chat.Title, false, nil
	}

	updated, err := tg.chatRepo.UpdateTitleIfPlaceholder(ctx, nil, chat.ID, title)
	if err != nil {
		metrics.TitleGenerationsTotal.WithLabelValues("failed").Inc()
		return chat.Title, false, err
	}
	if !updated {
		metrics.TitleGenerationsTotal.WithLabelValues("skipped").Inc()
		return chat.Title, false, nil
	}
	metrics.TitleGenerationsTotal.WithLabelValues("updated").Inc()
	tg.log.Info("Chat titled", "chatID", chat.ID, "title", title)
	if tg.publisher != nil {
		tg.publisher.Publish(ctx, socket.ChatChannel(chat.ID), socket.TypeChatTitleUpdated, map[string]interface{}{
			"chat_id": chat.ID,
			"title":   title,
		})
	}
	return title, true, nil
}

// SanitizeTitle strips quotes and control characters, folds newlines into
// spaces and caps the result at 50 characters.
func SanitizeTitle(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r == '"' || r == '\'' || r == '`' || r == '“' || r == '”' || r == '‘' || r == '’':
			continue
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(' ')
		case unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
		}
	}
	title := strings.TrimSpace(b.String())
	if runes := []rune(title); len(runes) > titleMaxLength {
		title = strings.TrimSpace(string(runes[:titleMaxLength]))
	}
	return title
}
