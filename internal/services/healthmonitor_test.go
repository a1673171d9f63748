package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/repos"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

type monitorFixture struct {
	backends  repos.BackendRepo
	client    *fakeInference
	publisher *recordingPublisher
	monitor   *HealthMonitor
}

func newMonitorFixture(t *testing.T, interval time.Duration) *monitorFixture {
	t.Helper()
	gdb := newTestDB(t)
	log := logger.NewNop()
	f := &monitorFixture{
		backends:  repos.NewBackendRepo(gdb, log),
		client:    newFakeInference(),
		publisher: &recordingPublisher{},
	}
	f.monitor = NewHealthMonitor(gdb, log, f.backends, f.client, f.publisher, interval)
	t.Cleanup(f.monitor.Stop)
	return f
}

func (f *monitorFixture) register(t *testing.T, name, url string, active bool) *types.BackendEndpoint {
	t.Helper()
	b, err := f.backends.Create(context.Background(), nil, &types.BackendEndpoint{Name: name, URL: url, IsActive: active})
	require.NoError(t, err)
	return b
}

func fiveModels() []ModelInfo {
	return []ModelInfo{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}, {Name: "e"}}
}

func TestRunPassRecordsEachOutcomeIndependently(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t, time.Hour)
	slow := f.register(t, "slow", "http://slow.test", true)
	healthy := f.register(t, "healthy", "http://healthy.test", true)
	broken := f.register(t, "broken", "http://broken.test", true)
	idle := f.register(t, "idle", "http://idle.test", false)

	f.client.health["http://slow.test"] = context.DeadlineExceeded
	f.client.models["http://healthy.test"] = fiveModels()
	f.client.healthPanic["http://broken.test"] = true

	require.NoError(t, f.monitor.RunPass(ctx))

	got, err := f.backends.GetByID(ctx, nil, slow.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BackendStatusOffline, got.Status)
	require.NotNil(t, got.LastError)
	assert.NotNil(t, got.LastCheckedAt)

	got, err = f.backends.GetByID(ctx, nil, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BackendStatusOnline, got.Status)
	assert.Equal(t, 5, got.ModelsCount)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got.ModelNames())
	assert.NotNil(t, got.AverageResponseTimeMs)
	assert.Nil(t, got.LastError)

	got, err = f.backends.GetByID(ctx, nil, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BackendStatusError, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "boom")

	got, err = f.backends.GetByID(ctx, nil, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BackendStatusUnknown, got.Status)

	assert.Len(t, f.publisher.ofType("backend_status"), 3)
}

func TestRunPassConnectionErrorIsOffline(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t, time.Hour)
	b := f.register(t, "down", "http://down.test", true)
	f.client.health["http://down.test"] = &ConnectionError{URL: "http://down.test", Detail: "connection refused"}

	require.NoError(t, f.monitor.RunPass(ctx))

	got, err := f.backends.GetByID(ctx, nil, b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BackendStatusOffline, got.Status)
	assert.Contains(t, *got.LastError, "connection refused")
}

func TestRunPassKeepsModelCountWhenListingFails(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t, time.Hour)
	b := f.register(t, "flaky", "http://flaky.test", true)
	f.client.models["http://flaky.test"] = fiveModels()
	require.NoError(t, f.monitor.RunPass(ctx))

	f.client.modelsErr["http://flaky.test"] = errUnexpected
	require.NoError(t, f.monitor.RunPass(ctx))

	got, err := f.backends.GetByID(ctx, nil, b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BackendStatusOnline, got.Status)
	assert.Equal(t, 5, got.ModelsCount)
}

func TestHealthAndConfigWritesDoNotClobberEachOther(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t, time.Hour)
	stale := f.register(t, "cfg", "http://cfg.test", true)

	require.NoError(t, f.monitor.RunPass(ctx))

	// stale still carries status unknown in memory.
	desc := "edited"
	stale.Description = &desc
	_, err := f.backends.UpdateConfig(ctx, nil, stale)
	require.NoError(t, err)

	got, err := f.backends.GetByID(ctx, nil, stale.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Description)
	assert.Equal(t, "edited", *got.Description)
	assert.Equal(t, types.BackendStatusOnline, got.Status)
}

func TestCheckEndpointWritesThroughSamePath(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t, time.Hour)
	b := f.register(t, "manual", "http://manual.test", false)
	f.client.models["http://manual.test"] = fiveModels()[:2]

	checked, err := f.monitor.CheckEndpoint(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, types.BackendStatusOnline, checked.Status)

	got, err := f.backends.GetByID(ctx, nil, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ModelsCount)
}

func TestMonitorStartStopIsIdempotent(t *testing.T) {
	f := newMonitorFixture(t, 10*time.Millisecond)
	f.register(t, "loop", "http://loop.test", true)

	f.monitor.Start(context.Background())
	f.monitor.Start(context.Background())
	assert.True(t, f.monitor.Running())

	f.monitor.Stop()
	f.monitor.Stop()
	assert.False(t, f.monitor.Running())

	// Restart after a stop works.
	f.monitor.Start(context.Background())
	assert.True(t, f.monitor.Running())
	f.monitor.Stop()
}

func TestMonitorLoopSurvivesPanickingPasses(t *testing.T) {
	f := newMonitorFixture(t, 5*time.Millisecond)
	f.register(t, "panics", "http://panics.test", true)
	f.client.healthPanic["http://panics.test"] = true

	f.monitor.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(f.publisher.ofType("backend_status")) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, f.monitor.Running())
	f.monitor.Stop()
}

func TestMonitorStopsWithParentContext(t *testing.T) {
	f := newMonitorFixture(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	f.monitor.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		f.monitor.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitorRestartsAfterParentContextEnds(t *testing.T) {
	f := newMonitorFixture(t, time.Hour)
	f.register(t, "again", "http://again.test", true)

	ctx, cancel := context.WithCancel(context.Background())
	f.monitor.Start(ctx)
	cancel()
	require.Eventually(t, func() bool {
		return !f.monitor.Running()
	}, 2*time.Second, 5*time.Millisecond)

	before := len(f.publisher.ofType("backend_status"))
	f.monitor.Start(context.Background())
	assert.True(t, f.monitor.Running())
	require.Eventually(t, func() bool {
		return len(f.publisher.ofType("backend_status")) > before
	}, 2*time.Second, 5*time.Millisecond)
	f.monitor.Stop()
	assert.False(t, f.monitor.Running())
}
