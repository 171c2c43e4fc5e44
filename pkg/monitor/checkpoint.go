package monitor

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/swarmhq/swarmd/pkg/logger"
	"github.com/swarmhq/swarmd/pkg/store"
	"github.com/swarmhq/swarmd/pkg/swarm"
)

// Checkpointer snapshots active swarms into the sessions table on a
// cron schedule so a restarted process can resume inspection.
type Checkpointer struct {
	store *store.Store
	expr  string
	cron  *gronx.Gronx
}

func NewCheckpointer(st *store.Store, expr string) (*Checkpointer, error) {
	g := gronx.New()
	if !g.IsValid(expr) {
		return nil, &InvalidCronError{Expr: expr}
	}
	return &Checkpointer{store: st, expr: expr, cron: g}, nil
}

type InvalidCronError struct{ Expr string }

func (e *InvalidCronError) Error() string {
	return "monitor: invalid checkpoint cron expression " + e.Expr
}

// Run evaluates the schedule once a minute until the context ends.
func (c *Checkpointer) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			due, err := c.cron.IsDue(c.expr, tick)
			if err != nil || !due {
				continue
			}
			c.Checkpoint(ctx)
		}
	}
}

// Checkpoint saves a session snapshot for every running or paused
// swarm. Exported for shutdown flushes and tests.
func (c *Checkpointer) Checkpoint(ctx context.Context) {
	swarms, err := c.store.ListSwarms(ctx)
	if err != nil {
		logger.WarnCF("monitor", "Checkpoint listing failed", map[string]any{"error": err.Error()})
		return
	}

	for _, sw := range swarms {
		if sw.Status != swarm.SwarmRunning && sw.Status != swarm.SwarmPaused {
			continue
		}
		health, err := c.store.AggregateHealth(ctx, sw.ID)
		if err != nil {
			logger.WarnCF("monitor", "Checkpoint aggregation failed", map[string]any{
				"swarm_id": sw.ID,
				"error":    err.Error(),
			})
			continue
		}
		session := swarm.Session{
			ID:      swarm.NewID("sess"),
			SwarmID: sw.ID,
			Data: map[string]any{
				"status":             string(sw.Status),
				"counts_by_status":   health.CountsByStatus,
				"retry_success_rate": health.RetrySuccessRate,
			},
			Timestamp: time.Now().UTC(),
		}
		if err := c.store.SaveSession(ctx, session); err != nil {
			logger.WarnCF("monitor", "Checkpoint save failed", map[string]any{
				"swarm_id": sw.ID,
				"error":    err.Error(),
			})
		}
	}
}
