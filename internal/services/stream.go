package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/config"
	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/metrics"
	"github.com/slotter-org/ollama-chat-backend/internal/repos"
	"github.com/slotter-org/ollama-chat-backend/internal/requestdata"
	"github.com/slotter-org/ollama-chat-backend/internal/ssedata"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

type TurnState string

const (
	StateInitializing     TurnState = "initializing"
	StateResolvingContext TurnState = "resolving_context"
	StateStreaming        TurnState = "streaming"
	StatePersisting       TurnState = "persisting"
	StateMaybeTitling     TurnState = "maybe_titling"
	StateDone             TurnState = "done"
	StateFailed           TurnState = "failed"
)

const (
	errConnectionMessage = "Unable to connect to Ollama"
	errConnectionDetail  = "Please ensure Ollama is running"
	errModelNotFound     = "Model not found"
	errInternal          = "Internal server error"
)

// MaxMessageLength caps a single user turn, counted in characters.
const MaxMessageLength = 32000

// ErrClientGone is returned when the caller stopped reading the stream.
var ErrClientGone = errors.New("client disconnected")

type TurnRequest struct {
	ChatID  uuid.UUID
	Message string
	FileIDs []uuid.UUID
}

// EmitFunc forwards one event to the caller. A non-nil error means the caller is
// gone and the turn must stop.
type EmitFunc func(ssedata.Event) error

type TurnResult struct {
	State            TurnState
	UserMessage      *types.Message
	AssistantMessage *types.Message
	TitleScheduled   bool
}

type StreamOrchestratorConfig struct {
	DefaultBaseURL  string
	EnableAutoTitle bool
}

type StreamOrchestrator struct {
	db              *gorm.DB
	log             *logger.Logger
	chatRepo        repos.ChatRepo
	messageRepo     repos.MessageRepo
	projectRepo     repos.ProjectRepo
	projectFileRepo repos.ProjectFileRepo
	settingsRepo    repos.SettingsRepo
	backendRepo     repos.BackendRepo
	settingsService SettingsService
	assembler       *ContextAssembler
	client          InferenceClient
	titles          *TitleGenerator
	cfg             StreamOrchestratorConfig

	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewStreamOrchestrator(
	db *gorm.DB,
	log *logger.Logger,
	chatRepo repos.ChatRepo,
	messageRepo repos.MessageRepo,
	projectRepo repos.ProjectRepo,
	projectFileRepo repos.ProjectFileRepo,
	settingsRepo repos.SettingsRepo,
	backendRepo repos.BackendRepo,
	settingsService SettingsService,
	assembler *ContextAssembler,
	client InferenceClient,
	titles *TitleGenerator,
	cfg StreamOrchestratorConfig,
) *StreamOrchestrator {
	lifetime, cancel := context.WithCancel(context.Background())
	return &StreamOrchestrator{
		db:              db,
		log:             log.With("service", "StreamOrchestrator"),
		chatRepo:        chatRepo,
		messageRepo:     messageRepo,
		projectRepo:     projectRepo,
		projectFileRepo: projectFileRepo,
		settingsRepo:    settingsRepo,
		backendRepo:     backendRepo,
		settingsService: settingsService,
		assembler:       assembler,
		client:          client,
		titles:          titles,
		cfg:             cfg,
		lifetime:        lifetime,
		cancel:          cancel,
	}
}

type turn struct {
	log      *logger.Logger
	state    TurnState
	chat     *types.Chat
	project  *types.Project
	files    []*types.ProjectFile
	params   GenerationParams
	settings *types.Settings
	baseURL  string
	result   TurnResult
}

func (t *turn) to(state TurnState) {
	t.log.Debug("turn state", "from", t.state, "to", state)
	t.state = state
	t.result.State = state
}

// StreamTurn runs one user turn end to end. The caller always receives exactly one
// terminal event (done or error) unless emit itself fails.
func (o *StreamOrchestrator) StreamTurn(ctx context.Context, req TurnRequest, emit EmitFunc) (res TurnResult, err error) {
	t := &turn{
		log:   o.log.With("chatID", req.ChatID, "requestID", requestdata.RequestID(ctx)),
		state: StateInitializing,
	}
	t.result.State = StateInitializing

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	// The SSE response is already committed, so a panic has to end as an error event.
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("Stream turn panicked", "state", t.state, "panic", r)
			t.to(StateFailed)
			metrics.StreamTurnsTotal.WithLabelValues(t.params.Model, "failed").Inc()
			_ = emit(ssedata.Error(errInternal, fmt.Sprint(r)))
			res, err = t.result, fmt.Errorf("stream turn panicked: %v", r)
		}
	}()

	err = o.run(ctx, t, req, emit)
	if err == nil {
		metrics.StreamTurnsTotal.WithLabelValues(t.params.Model, "completed").Inc()
		return t.result, nil
	}

	failedIn := t.state
	t.to(StateFailed)
	if errors.Is(err, ErrClientGone) || errors.Is(err, context.Canceled) {
		t.log.Info("Client disconnected mid-turn, dropping partial output", "state", failedIn)
		metrics.StreamTurnsTotal.WithLabelValues(t.params.Model, "cancelled").Inc()
		return t.result, err
	}
	metrics.StreamTurnsTotal.WithLabelValues(t.params.Model, "failed").Inc()
	_ = emit(o.errorEvent(t, err))
	return t.result, err
}

func (o *StreamOrchestrator) errorEvent(t *turn, err error) ssedata.Event {
	var mnf *ModelNotFoundError
	switch {
	case errors.As(err, &mnf):
		t.log.Warn("Model not found", "model", mnf.Model)
		return ssedata.Error(errModelNotFound, fmt.Sprintf("Model '%s' is not available on the selected Ollama server", mnf.Model))
	case IsConnectionError(err), errors.Is(err, context.DeadlineExceeded):
		t.log.Error("Ollama connection error", "error", err)
		return ssedata.Error(errConnectionMessage, errConnectionDetail)
	case errors.Is(err, ErrNotFound):
		t.log.Warn("Turn precondition failed", "error", err)
		return ssedata.Error(err.Error(), "")
	case IsValidation(err):
		return ssedata.Error(err.Error(), "")
	default:
		t.log.Error("Error in stream", "error", err)
		return ssedata.Error(errInternal, err.Error())
	}
}

func (o *StreamOrchestrator) run(ctx context.Context, t *turn, req TurnRequest, emit EmitFunc) error {
	if err := validateMessageText("message", req.Message); err != nil {
		return err
	}

	chat, err := o.chatRepo.GetByID(ctx, nil, req.ChatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("Chat %s %w", req.ChatID, ErrNotFound)
		}
		return err
	}
	t.chat = chat

	t.to(StateResolvingContext)
	tc, err := o.resolveContext(ctx, t, req)
	if err != nil {
		return err
	}
	messages := o.assembler.Assemble(tc)

	t.to(StateStreaming)
	userMsg := &types.Message{ChatID: chat.ID, Role: types.RoleUser, Content: req.Message}
	if o.assembler.Policy() == config.ContextPolicyExplicit {
		userMsg.AttachedFiles = t.files
	}
	if err := o.persist(ctx, userMsg); err != nil {
		return err
	}
	t.result.UserMessage = userMsg

	content, tokens, err := o.relay(ctx, t, messages, emit)
	if err != nil {
		return err
	}

	t.to(StatePersisting)
	assistantMsg := &types.Message{
		ChatID:     chat.ID,
		Role:       types.RoleAssistant,
		Content:    content,
		TokensUsed: tokens,
		CreatedAt:  after(userMsg.CreatedAt),
	}
	// The reply is complete at this point; a disconnect must not lose it.
	if err := o.persist(context.WithoutCancel(ctx), assistantMsg); err != nil {
		return err
	}
	t.result.AssistantMessage = assistantMsg

	t.to(StateMaybeTitling)
	o.maybeScheduleTitle(ctx, t)

	t.to(StateDone)
	if err := emit(ssedata.Done()); err != nil {
		t.log.Debug("Client left before done event", "error", err)
	}
	return nil
}

func (o *StreamOrchestrator) resolveContext(ctx context.Context, t *turn, req TurnRequest) (TurnContext, error) {
	chat := t.chat
	settings, err := o.settingsService.Get(ctx)
	if err != nil {
		return TurnContext{}, fmt.Errorf("load settings: %w", err)
	}
	t.settings = settings

	overrides, err := o.settingsRepo.GetChatSettings(ctx, nil, chat.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return TurnContext{}, fmt.Errorf("load chat settings: %w", err)
		}
		overrides = nil
	}

	if chat.ProjectID != nil {
		project, err := o.projectRepo.GetByID(ctx, nil, *chat.ProjectID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return TurnContext{}, fmt.Errorf("load project: %w", err)
		}
		t.project = project
	}

	t.params = ResolveParams(chat, overrides, t.project, settings)

	history, err := o.messageRepo.GetByChatID(ctx, nil, chat.ID, 0, 0)
	if err != nil {
		return TurnContext{}, fmt.Errorf("load history: %w", err)
	}

	switch o.assembler.Policy() {
	case config.ContextPolicyExplicit:
		files, err := o.loadAttachments(ctx, t, req.FileIDs)
		if err != nil {
			return TurnContext{}, err
		}
		t.files = files
	default:
		if len(req.FileIDs) > 0 {
			t.log.Debug("Ignoring per-turn file list under auto context policy", "fileCount", len(req.FileIDs))
		}
		if t.project != nil {
			files, err := o.projectFileRepo.GetByProjectID(ctx, nil, t.project.ID)
			if err != nil {
				return TurnContext{}, fmt.Errorf("load project files: %w", err)
			}
			t.files = files
			t.log.Debug("Auto-attaching project files", "fileCount", len(files))
		}
	}

	baseURL, err := o.resolveBaseURL(ctx, chat)
	if err != nil {
		return TurnContext{}, err
	}
	t.baseURL = baseURL

	tc := TurnContext{
		Project:  t.project,
		History:  history,
		Files:    t.files,
		UserText: req.Message,
	}
	if overrides != nil {
		tc.SystemPrompt = overrides.SystemPrompt
	}
	return tc, nil
}

// loadAttachments returns the requested files in request order. Every file must
// exist and belong to the chat's project.
func (o *StreamOrchestrator) loadAttachments(ctx context.Context, t *turn, ids []uuid.UUID) ([]*types.ProjectFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := o.projectFileRepo.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}
	byID := make(map[uuid.UUID]*types.ProjectFile, len(found))
	for _, f := range found {
		byID[f.ID] = f
	}
	files := make([]*types.ProjectFile, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		f, ok := byID[id]
		if !ok || t.chat.ProjectID == nil || f.ProjectID != *t.chat.ProjectID {
			return nil, fmt.Errorf("File %s %w", id, ErrNotFound)
		}
		files = append(files, f)
	}
	return files, nil
}

// resolveBaseURL picks the chat's bound backend, else the first active online
// backend, else the configured default.
func (o *StreamOrchestrator) resolveBaseURL(ctx context.Context, chat *types.Chat) (string, error) {
	if chat.BackendID != nil {
		backend, err := o.backendRepo.GetByID(ctx, nil, *chat.BackendID)
		if err == nil {
			return backend.URL, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("load bound backend: %w", err)
		}
	}
	backend, err := o.backendRepo.FirstActiveOnline(ctx, nil)
	if err == nil {
		return backend.URL, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("select backend: %w", err)
	}
	return o.cfg.DefaultBaseURL, nil
}

// relay pulls one fragment at a time and forwards it before pulling the next.
func (o *StreamOrchestrator) relay(ctx context.Context, t *turn, messages []ChatMessage, emit EmitFunc) (string, *int, error) {
	temp := t.params.Temperature
	stream, err := o.client.StreamChat(ctx, t.baseURL, t.params.Model, messages, ChatOptions{
		Temperature: &temp,
		NumCtx:      t.params.MaxTokens,
	})
	if err != nil {
		return "", nil, err
	}
	defer stream.Close()

	start := time.Now()
	first := true
	var acc strings.Builder
	for {
		fragment, err := stream.Next()
		if err != nil {
			if IsStreamEnd(err) {
				break
			}
			return "", nil, err
		}
		if first {
			metrics.FirstFragmentDuration.WithLabelValues(t.params.Model).Observe(time.Since(start).Seconds())
			first = false
		}
		if err := emit(ssedata.Content(fragment)); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrClientGone, err)
		}
		metrics.FragmentsRelayed.WithLabelValues(t.params.Model).Inc()
		acc.WriteString(fragment)
	}
	var tokens *int
	if tr, ok := stream.(TokenReporter); ok && tr.TokensUsed() > 0 {
		n := tr.TokensUsed()
		tokens = &n
	}
	t.log.Info("Completed stream", "chars", acc.Len(), "model", t.params.Model, "backend", t.baseURL)
	return acc.String(), tokens, nil
}

func (o *StreamOrchestrator) persist(ctx context.Context, msg *types.Message) error {
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := o.messageRepo.CreateMessages(ctx, tx, []*types.Message{msg}); err != nil {
			return fmt.Errorf("persist %s turn: %w", msg.Role, err)
		}
		return o.chatRepo.Touch(ctx, tx, msg.ChatID)
	})
}

func (o *StreamOrchestrator) maybeScheduleTitle(ctx context.Context, t *turn) {
	if !o.cfg.EnableAutoTitle || o.titles == nil || !t.chat.HasPlaceholderTitle() {
		return
	}
	count, err := o.messageRepo.CountByChatIDAndRole(context.WithoutCancel(ctx), nil, t.chat.ID, types.RoleAssistant)
	if err != nil {
		t.log.Warn("Failed to count assistant turns, skipping title generation", "error", err)
		return
	}
	if count != 1 {
		return
	}
	job := TitleJob{ChatID: t.chat.ID, BaseURL: t.baseURL, Model: t.settings.SummarizationModel}
	t.result.TitleScheduled = true
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, _, err := o.titles.TitleChat(o.lifetime, job); err != nil {
			o.log.Warn("Title generation abandoned, keeping placeholder", "chatID", job.ChatID, "error", err)
		}
	}()
}

// Wait blocks until all background title jobs have finished.
func (o *StreamOrchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown waits for background title jobs. When ctx expires first, pending jobs
// are cancelled and awaited.
func (o *StreamOrchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

func validateMessageText(field, text string) error {
	if strings.TrimSpace(text) == "" {
		return newValidationError(field, "must not be empty")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return newValidationError(field, "must be at most %d characters", MaxMessageLength)
	}
	return nil
}

// after returns a timestamp strictly later than prev.
func after(prev time.Time) time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}
