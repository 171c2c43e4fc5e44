package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmhq/swarmd/pkg/bus"
	"github.com/swarmhq/swarmd/pkg/config"
	"github.com/swarmhq/swarmd/pkg/store"
	"github.com/swarmhq/swarmd/pkg/swarm"
)

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		PollIntervalS: 1,
		MaxRetries:    3,
		BaseBackoffS:  10,
		MaxBackoffS:   300,
		HealthEvery:   6,
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedSwarmWithTask(t *testing.T, st *store.Store, swarmStatus swarm.SwarmStatus, taskStatus swarm.TaskStatus, retryCount int, updatedAt time.Time) (string, string) {
	t.Helper()
	sw := &swarm.Swarm{
		ID:        swarm.NewID("swarm"),
		Name:      "test",
		Status:    swarmStatus,
		NumAgents: 1,
		CreatedAt: time.Now().UTC(),
	}
	task := swarm.Task{
		ID:          swarm.NewID("task"),
		SwarmID:     sw.ID,
		Description: "seeded",
		Status:      taskStatus,
		Priority:    2,
		RetryCount:  retryCount,
		CreatedAt:   updatedAt,
		UpdatedAt:   updatedAt,
	}
	require.NoError(t, st.CreateSwarm(context.Background(), sw, nil, []swarm.Task{task}))
	return sw.ID, task.ID
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	m := New(nil, testMonitorConfig(), nil)

	assert.Equal(t, 10*time.Second, m.Backoff(0))
	assert.Equal(t, 20*time.Second, m.Backoff(1))
	assert.Equal(t, 40*time.Second, m.Backoff(2))
	assert.Equal(t, 300*time.Second, m.Backoff(5))
	assert.Equal(t, 300*time.Second, m.Backoff(30))
}

func TestSweepRequeuesEligibleTask(t *testing.T) {
	st := openTestStore(t)
	past := time.Now().UTC().Add(-time.Hour)
	swarmID, taskID := seedSwarmWithTask(t, st, swarm.SwarmRunning, swarm.TaskFailed, 0, past)

	m := New(st, testMonitorConfig(), nil)
	m.Sweep(context.Background())

	task, err := st.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, swarm.TaskPending, task.Status)
	assert.Equal(t, 1, task.RetryCount)

	events, err := st.ListEvents(context.Background(), swarmID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, swarm.EventRetry, events[0].Type)
}

func TestSweepRespectsBackoffWindow(t *testing.T) {
	st := openTestStore(t)
	_, taskID := seedSwarmWithTask(t, st, swarm.SwarmRunning, swarm.TaskFailed, 0, time.Now().UTC())

	m := New(st, testMonitorConfig(), nil)
	m.Sweep(context.Background())

	task, err := st.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, swarm.TaskFailed, task.Status)
	assert.Equal(t, 0, task.RetryCount)
}

func TestSweepBackoffGrowsWithRetryCount(t *testing.T) {
	st := openTestStore(t)
	// 15s old: past the first backoff (10s) but inside the second (20s).
	updated := time.Now().UTC().Add(-15 * time.Second)
	_, taskID := seedSwarmWithTask(t, st, swarm.SwarmRunning, swarm.TaskFailed, 1, updated)

	m := New(st, testMonitorConfig(), nil)
	m.Sweep(context.Background())

	task, err := st.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, swarm.TaskFailed, task.Status)
}

func TestSweepSkipsPausedSwarm(t *testing.T) {
	st := openTestStore(t)
	past := time.Now().UTC().Add(-time.Hour)
	_, taskID := seedSwarmWithTask(t, st, swarm.SwarmPaused, swarm.TaskFailed, 0, past)

	m := New(st, testMonitorConfig(), nil)
	m.Sweep(context.Background())

	task, err := st.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, swarm.TaskFailed, task.Status)
	assert.Equal(t, 0, task.RetryCount)
}

func TestSweepLeavesExhaustedFailedTask(t *testing.T) {
	st := openTestStore(t)
	past := time.Now().UTC().Add(-time.Hour)
	swarmID, taskID := seedSwarmWithTask(t, st, swarm.SwarmRunning, swarm.TaskFailed, 3, past)

	m := New(st, testMonitorConfig(), nil)
	m.Sweep(context.Background())

	task, err := st.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, swarm.TaskFailed, task.Status)
	assert.Equal(t, 3, task.RetryCount)

	events, err := st.ListEvents(context.Background(), swarmID, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSweepRetiresExhaustedNeedHelpTask(t *testing.T) {
	st := openTestStore(t)
	past := time.Now().UTC().Add(-time.Hour)
	_, taskID := seedSwarmWithTask(t, st, swarm.SwarmRunning, swarm.TaskNeedHelp, 3, past)

	m := New(st, testMonitorConfig(), nil)
	m.Sweep(context.Background())

	task, err := st.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, swarm.TaskFailed, task.Status)
	assert.Equal(t, "retry budget exhausted", task.LastError)
}

func TestSweepRetryUntilSuccess(t *testing.T) {
	st := openTestStore(t)
	past := time.Now().UTC().Add(-time.Hour)
	_, taskID := seedSwarmWithTask(t, st, swarm.SwarmRunning, swarm.TaskFailed, 0, past)

	m := New(st, testMonitorConfig(), nil)
	ctx := context.Background()

	// First failure retries, the re-run completes. No further sweeps touch it.
	m.Sweep(ctx)
	require.NoError(t, st.UpdateTaskStatus(ctx, taskID, swarm.TaskInProgress, nil, ""))
	require.NoError(t, st.UpdateTaskStatus(ctx, taskID, swarm.TaskCompleted, map[string]any{"ok": true}, ""))
	m.Sweep(ctx)

	task, err := st.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, swarm.TaskCompleted, task.Status)
	assert.Equal(t, 1, task.RetryCount)
}

func TestHealthSummaryPublishesEvent(t *testing.T) {
	st := openTestStore(t)
	seedSwarmWithTask(t, st, swarm.SwarmRunning, swarm.TaskPending, 0, time.Now().UTC())

	b := bus.New(time.Second)
	var published []swarm.Event
	b.Subscribe(func(_ context.Context, e swarm.Event) { published = append(published, e) })

	m := New(st, testMonitorConfig(), b)
	m.publishHealth(context.Background())

	require.Len(t, published, 1)
	assert.Equal(t, swarm.EventHealth, published[0].Type)
	counts, ok := published[0].Details["counts_by_status"].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 1, counts["pending"])
}

func TestRunStopsOnCancel(t *testing.T) {
	st := openTestStore(t)
	m := New(st, testMonitorConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop within one poll interval")
	}
}

func TestCheckpointerSnapshotsActiveSwarms(t *testing.T) {
	st := openTestStore(t)
	past := time.Now().UTC().Add(-time.Hour)
	runningID, _ := seedSwarmWithTask(t, st, swarm.SwarmRunning, swarm.TaskPending, 0, past)
	idleID, _ := seedSwarmWithTask(t, st, swarm.SwarmIdle, swarm.TaskPending, 0, past)

	c, err := NewCheckpointer(st, "*/5 * * * *")
	require.NoError(t, err)
	c.Checkpoint(context.Background())

	sess, err := st.LatestSession(context.Background(), runningID)
	require.NoError(t, err)
	assert.Equal(t, "running", sess.Data["status"])

	_, err = st.LatestSession(context.Background(), idleID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewCheckpointerRejectsBadExpression(t *testing.T) {
	_, err := NewCheckpointer(nil, "not a cron")
	require.Error(t, err)
}
