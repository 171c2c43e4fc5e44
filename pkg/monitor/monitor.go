// Package monitor runs the background loops that keep swarms healthy:
// retrying failed tasks with exponential backoff and checkpointing
// active swarms.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/swarmhq/swarmd/pkg/bus"
	"github.com/swarmhq/swarmd/pkg/config"
	"github.com/swarmhq/swarmd/pkg/logger"
	"github.com/swarmhq/swarmd/pkg/store"
	"github.com/swarmhq/swarmd/pkg/swarm"
)

// Monitor polls for retryable tasks and re-queues them once their
// backoff window has elapsed. It never executes tasks itself; it only
// moves them back to pending for the executing agents to pick up.
type Monitor struct {
	store *store.Store
	cfg   config.MonitorConfig
	bus   *bus.EventBus

	// now is swapped in tests to control backoff eligibility.
	now func() time.Time
}

func New(st *store.Store, cfg config.MonitorConfig, b *bus.EventBus) *Monitor {
	return &Monitor{store: st, cfg: cfg, bus: b, now: time.Now}
}

// Run polls until the context is cancelled. Shutdown is observed within
// one poll interval.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval())
	defer ticker.Stop()

	logger.InfoCF("monitor", "Retry monitor started", map[string]any{
		"poll_interval": m.cfg.PollInterval().String(),
		"max_retries":   m.cfg.MaxRetries,
	})

	iteration := 0
	for {
		select {
		case <-ctx.Done():
			logger.InfoC("monitor", "Retry monitor stopped")
			return
		case <-ticker.C:
			iteration++
			m.Sweep(ctx)
			if m.cfg.HealthEvery > 0 && iteration%m.cfg.HealthEvery == 0 {
				m.publishHealth(ctx)
			}
		}
	}
}

// Sweep re-queues every eligible retryable task. Exported so tests and
// operators can force a pass without waiting out the poll interval.
func (m *Monitor) Sweep(ctx context.Context) {
	tasks, err := m.store.ListFailedTasks(ctx, time.Time{})
	if err != nil {
		logger.ErrorCF("monitor", "Failed task listing failed", map[string]any{"error": err.Error()})
		return
	}

	for _, task := range tasks {
		if task.RetryCount >= m.cfg.MaxRetries {
			m.retireTask(ctx, task)
			continue
		}
		if wait := m.Backoff(task.RetryCount) - m.now().Sub(task.UpdatedAt); wait > 0 {
			continue
		}

		count, err := m.store.RequeueTask(ctx, task.ID)
		if err != nil {
			if errors.Is(err, store.ErrRetryBudgetExceeded) {
				m.retireTask(ctx, task)
				continue
			}
			logger.WarnCF("monitor", "Requeue failed", map[string]any{
				"task_id": task.ID,
				"error":   err.Error(),
			})
			continue
		}
		logger.InfoCF("monitor", "Task re-queued", map[string]any{
			"task_id":     task.ID,
			"swarm_id":    task.SwarmID,
			"retry_count": count,
		})
	}
}

// retireTask moves a budget-exhausted need-help task to failed so it
// stops surfacing in sweeps. Already-failed tasks simply stay failed.
func (m *Monitor) retireTask(ctx context.Context, task swarm.Task) {
	if task.Status != swarm.TaskNeedHelp {
		return
	}
	if err := m.store.UpdateTaskStatus(ctx, task.ID, swarm.TaskFailed, nil, "retry budget exhausted"); err != nil {
		logger.WarnCF("monitor", "Task retirement failed", map[string]any{
			"task_id": task.ID,
			"error":   err.Error(),
		})
		return
	}
	logger.WarnCF("monitor", "Retry budget exhausted", map[string]any{
		"task_id":     task.ID,
		"swarm_id":    task.SwarmID,
		"retry_count": task.RetryCount,
	})
}

// Backoff returns the wait before retry n+1: base doubled per attempt,
// capped at the configured maximum.
func (m *Monitor) Backoff(retryCount int) time.Duration {
	backoff := m.cfg.BaseBackoff()
	maxBackoff := m.cfg.MaxBackoff()
	for i := 0; i < retryCount; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

// publishHealth emits the periodic health summary as a bus event and a
// log line. The summary spans all swarms, so it goes to subscribers
// rather than a swarm's event log.
func (m *Monitor) publishHealth(ctx context.Context) {
	health, err := m.store.AggregateHealth(ctx, "")
	if err != nil {
		logger.WarnCF("monitor", "Health aggregation failed", map[string]any{"error": err.Error()})
		return
	}

	details := map[string]any{
		"counts_by_status":   health.CountsByStatus,
		"retry_success_rate": health.RetrySuccessRate,
		"interventions":      len(health.RecentInterventions),
	}
	if m.bus != nil {
		m.bus.Publish(swarm.Event{
			ID:        swarm.NewID("evt"),
			Type:      swarm.EventHealth,
			Details:   details,
			Timestamp: m.now().UTC(),
		})
	}
	logger.InfoCF("monitor", "Health summary", details)
}
