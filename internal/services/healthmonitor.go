package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/metrics"
	"github.com/slotter-org/ollama-chat-backend/internal/repos"
	"github.com/slotter-org/ollama-chat-backend/internal/socket"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

const healthCheckConcurrency = 4

// HealthMonitor polls every active backend on a fixed interval and is, together
// with manual checks, the only writer of backend health fields.
type HealthMonitor struct {
	db          *gorm.DB
	log         *logger.Logger
	backendRepo repos.BackendRepo
	client      InferenceClient
	publisher   EventPublisher
	interval    time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHealthMonitor(
	db *gorm.DB,
	log *logger.Logger,
	backendRepo repos.BackendRepo,
	client InferenceClient,
	publisher EventPublisher,
	interval time.Duration,
) *HealthMonitor {
	if interval <= 0 {
		interval = 45 * time.Second
	}
	return &HealthMonitor{
		db:          db,
		log:         log.With("service", "HealthMonitor"),
		backendRepo: backendRepo,
		client:      client,
		publisher:   publisher,
		interval:    interval,
	}
}

// Start launches the polling loop. Calling Start on a running monitor is a no-op.
func (hm *HealthMonitor) Start(ctx context.Context) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if hm.running {
		hm.log.Warn("Health monitor already running")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	hm.cancel = cancel
	hm.done = make(chan struct{})
	hm.running = true
	go hm.loop(loopCtx, hm.done)
	hm.log.Info("Health monitor started", "interval", hm.interval)
}

// Stop cancels the loop and waits for it to exit. Safe to call more than once.
func (hm *HealthMonitor) Stop() {
	hm.mu.Lock()
	if !hm.running {
		hm.mu.Unlock()
		return
	}
	hm.running = false
	cancel, done := hm.cancel, hm.done
	hm.cancel, hm.done = nil, nil
	hm.mu.Unlock()

	cancel()
	<-done
	hm.log.Info("Health monitor stopped")
}

func (hm *HealthMonitor) Running() bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.running
}

func (hm *HealthMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	// Exiting on the parent context leaves the monitor stopped so Start can run it again.
	defer func() {
		hm.mu.Lock()
		if hm.done == done {
			hm.cancel()
			hm.running = false
			hm.cancel, hm.done = nil, nil
			hm.log.Info("Health monitor stopped with parent context")
		}
		hm.mu.Unlock()
	}()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		// A pass runs to completion once started; cancellation is observed between passes.
		hm.safePass(context.WithoutCancel(ctx))
		timer.Reset(hm.interval)
	}
}

func (hm *HealthMonitor) safePass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			hm.log.Error("Health monitor pass panicked", "panic", r)
		}
	}()
	if err := hm.RunPass(ctx); err != nil {
		hm.log.Error("Error in health monitor pass", "error", err)
	}
}

// RunPass checks all active backends once and commits the results together.
func (hm *HealthMonitor) RunPass(ctx context.Context) error {
	backends, err := hm.backendRepo.ListActive(ctx, nil)
	if err != nil {
		return fmt.Errorf("list active backends: %w", err)
	}
	if len(backends) == 0 {
		hm.log.Debug("No active backends to check")
		return nil
	}
	hm.log.Debug("Checking backend health", "count", len(backends))

	var g errgroup.Group
	g.SetLimit(healthCheckConcurrency)
	for _, b := range backends {
		b := b
		g.Go(func() error {
			hm.probe(ctx, b)
			return nil
		})
	}
	_ = g.Wait()

	err = hm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, b := range backends {
			// Each endpoint gets its own savepoint so one failed write does not drop the rest.
			if err := tx.Transaction(func(sp *gorm.DB) error {
				return hm.backendRepo.UpdateHealth(ctx, sp, b)
			}); err != nil {
				hm.log.Error("Failed to store backend health", "backend", b.Name, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit health pass: %w", err)
	}
	for _, b := range backends {
		hm.announce(ctx, b)
	}
	return nil
}

// CheckEndpoint runs a one-off check of b and stores the result through the same
// path as the polling loop.
func (hm *HealthMonitor) CheckEndpoint(ctx context.Context, b *types.BackendEndpoint) (*types.BackendEndpoint, error) {
	hm.probe(ctx, b)
	if err := hm.backendRepo.UpdateHealth(ctx, nil, b); err != nil {
		return nil, err
	}
	hm.announce(ctx, b)
	return b, nil
}

// probe updates the health fields of b in memory. It never fails: every outcome is
// recorded as a status.
func (hm *HealthMonitor) probe(ctx context.Context, b *types.BackendEndpoint) {
	log := hm.log.With("backend", b.Name, "url", b.URL)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			hm.markError(b, fmt.Sprintf("panic during health check: %v", r))
			log.Error("Backend health check panicked", "panic", r)
		}
		metrics.RecordHealth(b.Name, b.Status, b.AverageResponseTimeMs)
	}()

	err := hm.client.CheckHealth(ctx, b.URL)
	now := time.Now().UTC()
	switch {
	case err == nil:
		if models, lerr := hm.client.ListModels(ctx, b.URL); lerr != nil {
			log.Warn("Could not fetch models", "error", lerr)
		} else {
			names := make([]string, 0, len(models))
			for _, m := range models {
				names = append(names, m.Name)
			}
			b.ModelsCount = len(models)
			b.SetModelNames(names)
		}
		latency := int(time.Since(start).Milliseconds())
		b.Status = types.BackendStatusOnline
		b.LastError = nil
		b.AverageResponseTimeMs = &latency
		b.LastCheckedAt = &now
		log.Info("Backend online", "models", b.ModelsCount, "latencyMs", latency)
	case IsConnectionError(err) || errors.Is(err, context.DeadlineExceeded):
		msg := err.Error()
		b.Status = types.BackendStatusOffline
		b.LastError = &msg
		b.LastCheckedAt = &now
		log.Warn("Backend offline", "error", err)
	default:
		hm.markError(b, err.Error())
		log.Error("Backend health check error", "error", err)
	}
}

func (hm *HealthMonitor) markError(b *types.BackendEndpoint, msg string) {
	now := time.Now().UTC()
	b.Status = types.BackendStatusError
	b.LastError = &msg
	b.LastCheckedAt = &now
}

func (hm *HealthMonitor) announce(ctx context.Context, b *types.BackendEndpoint) {
	if hm.publisher == nil {
		return
	}
	hm.publisher.Publish(ctx, socket.ChannelBackends, socket.TypeBackendStatus, map[string]interface{}{
		"id":                       b.ID,
		"name":                     b.Name,
		"status":                   b.Status,
		"models_count":             b.ModelsCount,
		"average_response_time_ms": b.AverageResponseTimeMs,
		"last_error":               b.LastError,
		"last_checked_at":          b.LastCheckedAt,
	})
}
