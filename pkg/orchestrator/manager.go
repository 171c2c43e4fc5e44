// Package orchestrator coordinates the swarm lifecycle: message intake,
// scope extraction, planning, persistence and task progression.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/swarmhq/swarmd/pkg/bus"
	"github.com/swarmhq/swarmd/pkg/logger"
	"github.com/swarmhq/swarmd/pkg/planner"
	"github.com/swarmhq/swarmd/pkg/scope"
	"github.com/swarmhq/swarmd/pkg/store"
	"github.com/swarmhq/swarmd/pkg/swarm"
	"github.com/swarmhq/swarmd/pkg/workspace"
)

// ProcessStatus tags the two outcomes of message intake.
type ProcessStatus string

const (
	StatusClarify ProcessStatus = "needs_clarification"
	StatusSuccess ProcessStatus = "success"
)

// ProcessResult is the response to an orchestrator process call. On
// clarify only Message is set; on success the swarm fields are set.
type ProcessResult struct {
	Status     ProcessStatus `json:"status"`
	Message    string        `json:"message,omitempty"`
	SwarmID    string        `json:"swarm_id,omitempty"`
	PlannerURL string        `json:"planner_url,omitempty"`
	Scope      *swarm.Scope  `json:"scope,omitempty"`
}

// PlannerView is the agent-rooted projection of a swarm served to
// planner UIs: one task branch per agent under the documented "tasks"
// key.
type PlannerView struct {
	Swarm swarm.Swarm   `json:"swarm"`
	Tasks []AgentBranch `json:"tasks"`
}

// AgentBranch pairs an agent with the tasks it owns.
type AgentBranch struct {
	Agent swarm.Agent  `json:"agent"`
	Tasks []swarm.Task `json:"tasks"`
}

// Manager owns swarm lifecycle operations. All mutations go through the
// store; the bus only carries telemetry after the fact.
type Manager struct {
	store     *store.Store
	extractor *scope.Extractor
	planner   *planner.Planner
	writer    workspace.Writer
	bus       *bus.EventBus
}

func NewManager(st *store.Store, ex *scope.Extractor, pl *planner.Planner, w workspace.Writer, b *bus.EventBus) *Manager {
	if w == nil {
		w = workspace.Discard{}
	}
	return &Manager{store: st, extractor: ex, planner: pl, writer: w, bus: b}
}

// Process runs a user message through scope extraction and, when a
// scope comes back, creates and starts a swarm for it.
func (m *Manager) Process(ctx context.Context, message, userID string, history []string) (*ProcessResult, error) {
	res := m.extractor.Extract(ctx, message, history)
	if res.NeedsClarification() {
		logger.InfoCF("orchestrator", "Message needs clarification", map[string]any{
			"user_id": userID,
		})
		return &ProcessResult{Status: StatusClarify, Message: res.Clarification}, nil
	}

	sw, err := m.CreateFromScope(ctx, res.Scope, 0)
	if err != nil {
		return nil, err
	}
	return &ProcessResult{
		Status:     StatusSuccess,
		SwarmID:    sw.ID,
		PlannerURL: "/planner/" + sw.ID,
		Scope:      res.Scope,
	}, nil
}

// CreateFromScope plans a swarm for the scope, persists it atomically
// and moves it to running. numAgents bounds the roster; zero means the
// full roster.
func (m *Manager) CreateFromScope(ctx context.Context, s *swarm.Scope, numAgents int) (*swarm.Swarm, error) {
	plan, err := m.planner.BuildPlan(ctx, s, numAgents)
	if err != nil {
		return nil, err
	}

	if err := m.store.CreateSwarm(ctx, plan.Swarm, plan.Agents, plan.Tasks); err != nil {
		return nil, fmt.Errorf("persist swarm: %w", err)
	}

	m.appendEvent(ctx, swarm.Event{
		ID:      swarm.NewID("evt"),
		SwarmID: plan.Swarm.ID,
		Type:    swarm.EventCreate,
		Details: map[string]any{
			"name":       plan.Swarm.Name,
			"num_agents": plan.Swarm.NumAgents,
			"num_tasks":  len(plan.Tasks),
		},
		Timestamp: time.Now().UTC(),
	})
	for _, role := range plan.Fallbacks {
		m.appendEvent(ctx, swarm.Event{
			ID:      swarm.NewID("evt"),
			SwarmID: plan.Swarm.ID,
			Type:    swarm.EventFallback,
			Details: map[string]any{
				"role":   role,
				"reason": "subtask generation used the deterministic fallback",
			},
			Timestamp: time.Now().UTC(),
		})
	}

	if err := m.store.UpdateSwarmStatus(ctx, plan.Swarm.ID, swarm.SwarmRunning); err != nil {
		return nil, fmt.Errorf("start swarm: %w", err)
	}
	plan.Swarm.Status = swarm.SwarmRunning

	logger.InfoCF("orchestrator", "Swarm created", map[string]any{
		"swarm_id":   plan.Swarm.ID,
		"name":       plan.Swarm.Name,
		"num_agents": plan.Swarm.NumAgents,
	})
	return plan.Swarm, nil
}

// GetPlannerView returns the swarm as an agent-rooted tree. Tasks with
// no agent binding are attached to a branch with a zero agent.
func (m *Manager) GetPlannerView(ctx context.Context, swarmID string) (*PlannerView, error) {
	sw, agents, tasks, err := m.store.GetSwarm(ctx, swarmID)
	if err != nil {
		return nil, err
	}

	view := &PlannerView{Swarm: *sw}
	byAgent := make(map[string]int, len(agents))
	for _, a := range agents {
		byAgent[a.ID] = len(view.Tasks)
		view.Tasks = append(view.Tasks, AgentBranch{Agent: a})
	}

	var orphans []swarm.Task
	for _, t := range tasks {
		if i, ok := byAgent[t.AgentID]; ok {
			view.Tasks[i].Tasks = append(view.Tasks[i].Tasks, t)
		} else {
			orphans = append(orphans, t)
		}
	}
	if len(orphans) > 0 {
		view.Tasks = append(view.Tasks, AgentBranch{Tasks: orphans})
	}
	return view, nil
}

// UpdateTask applies a status change reported by an executing agent.
// Completion output is merged into the task, mirrored to the workspace
// and checked for swarm completion.
func (m *Manager) UpdateTask(ctx context.Context, taskID string, status swarm.TaskStatus, output map[string]any, errText string) (*swarm.Task, error) {
	if err := m.store.UpdateTaskStatus(ctx, taskID, status, output, errText); err != nil {
		return nil, err
	}
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch status {
	case swarm.TaskCompleted:
		if err := m.writer.WriteTaskOutput(task.SwarmID, task.ID, task.Data.Outputs); err != nil {
			logger.WarnCF("orchestrator", "Workspace write failed", map[string]any{
				"task_id": task.ID,
				"error":   err.Error(),
			})
		}
		m.appendEvent(ctx, taskEvent(task, swarm.EventComplete, nil))
		if err := m.maybeCompleteSwarm(ctx, task.SwarmID); err != nil {
			logger.WarnCF("orchestrator", "Swarm completion check failed", map[string]any{
				"swarm_id": task.SwarmID,
				"error":    err.Error(),
			})
		}
	case swarm.TaskFailed, swarm.TaskNeedHelp:
		m.appendEvent(ctx, taskEvent(task, swarm.EventFail, map[string]any{"error": errText}))
	}

	return task, nil
}

// maybeCompleteSwarm marks a running swarm completed once every one of
// its tasks has completed. Failed tasks keep the swarm open for the
// retry monitor.
func (m *Manager) maybeCompleteSwarm(ctx context.Context, swarmID string) error {
	sw, _, tasks, err := m.store.GetSwarm(ctx, swarmID)
	if err != nil {
		return err
	}
	if sw.Status != swarm.SwarmRunning {
		return nil
	}
	for _, t := range tasks {
		if t.Status != swarm.TaskCompleted {
			return nil
		}
	}
	if err := m.store.UpdateSwarmStatus(ctx, swarmID, swarm.SwarmCompleted); err != nil {
		return err
	}
	m.appendEvent(ctx, swarm.Event{
		ID:        swarm.NewID("evt"),
		SwarmID:   swarmID,
		Type:      swarm.EventComplete,
		Timestamp: time.Now().UTC(),
	})
	logger.InfoCF("orchestrator", "Swarm completed", map[string]any{"swarm_id": swarmID})
	return nil
}

// Pause suspends a swarm. Paused swarms accept task updates but the
// retry monitor skips them.
func (m *Manager) Pause(ctx context.Context, swarmID string) error {
	if err := m.store.UpdateSwarmStatus(ctx, swarmID, swarm.SwarmPaused); err != nil {
		return err
	}
	m.appendEvent(ctx, swarm.Event{
		ID:        swarm.NewID("evt"),
		SwarmID:   swarmID,
		Type:      swarm.EventPause,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Resume returns a paused swarm to running.
func (m *Manager) Resume(ctx context.Context, swarmID string) error {
	if err := m.store.UpdateSwarmStatus(ctx, swarmID, swarm.SwarmRunning); err != nil {
		return err
	}
	m.appendEvent(ctx, swarm.Event{
		ID:        swarm.NewID("evt"),
		SwarmID:   swarmID,
		Type:      swarm.EventResume,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// appendEvent persists and publishes an event. Telemetry failure never
// fails the mutation that produced it.
func (m *Manager) appendEvent(ctx context.Context, event swarm.Event) {
	if err := m.store.AppendEvent(ctx, event); err != nil {
		logger.WarnCF("orchestrator", "Event append failed", map[string]any{
			"event_type": string(event.Type),
			"swarm_id":   event.SwarmID,
			"error":      err.Error(),
		})
	}
	if m.bus != nil {
		m.bus.Publish(event)
	}
}

func taskEvent(t *swarm.Task, typ swarm.EventType, details map[string]any) swarm.Event {
	return swarm.Event{
		ID:        swarm.NewID("evt"),
		SwarmID:   t.SwarmID,
		TaskID:    t.ID,
		Type:      typ,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}
