// Package swarm holds the orchestration domain model: swarms, agents,
// tasks and the state machines that govern them.
package swarm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SwarmStatus is the lifecycle state of a swarm.
type SwarmStatus string

const (
	SwarmIdle      SwarmStatus = "idle"
	SwarmRunning   SwarmStatus = "running"
	SwarmPaused    SwarmStatus = "paused"
	SwarmCompleted SwarmStatus = "completed"
	SwarmError     SwarmStatus = "error"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskNeedHelp   TaskStatus = "need-help"
)

// Subtask priorities are advisory labels, not scheduling guarantees.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

var swarmTransitions = map[SwarmStatus][]SwarmStatus{
	SwarmIdle:      {SwarmRunning, SwarmPaused, SwarmError},
	SwarmRunning:   {SwarmPaused, SwarmCompleted, SwarmError},
	SwarmPaused:    {SwarmRunning, SwarmIdle, SwarmError},
	SwarmCompleted: {},
	SwarmError:     {},
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress, TaskFailed},
	TaskInProgress: {TaskCompleted, TaskFailed, TaskNeedHelp},
	TaskCompleted:  {},
	// failed and need-help can be re-queued while retry budget remains
	TaskFailed:   {TaskPending},
	TaskNeedHelp: {TaskPending, TaskFailed},
}

// ValidSwarmTransition reports whether from -> to is a legal swarm
// transition. A self-transition is always a legal no-op.
func ValidSwarmTransition(from, to SwarmStatus) bool {
	if from == to {
		return true
	}
	for _, next := range swarmTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidTaskTransition reports whether from -> to is a legal task
// transition. A self-transition is always a legal no-op.
func ValidTaskTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a task status is terminal for swarm
// completion purposes. Retry budget exhaustion makes failed terminal;
// that check lives in the monitor, not here.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Retryable reports whether the monitor may re-queue a task in this
// status. need-help is treated like failed for retry purposes.
func (s TaskStatus) Retryable() bool {
	return s == TaskFailed || s == TaskNeedHelp
}

// Swarm is a scoped unit of work: a set of cooperating agents plus the
// task tree they share.
type Swarm struct {
	ID        string         `json:"swarm_id"`
	Name      string         `json:"name"`
	Status    SwarmStatus    `json:"status"`
	NumAgents int            `json:"num_agents"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Agent is a typed participant in a swarm, owning one role's slice of
// the task tree. Immutable after creation except for State.
type Agent struct {
	ID         string         `json:"id"`
	SwarmID    string         `json:"swarm_id"`
	Role       string         `json:"role"`
	State      map[string]any `json:"state,omitempty"`
	AssignedAt time.Time      `json:"assigned_at"`
}

// Subtask is a level-1 node in the work tree. Tools carry the
// tool-invocation hints for the executing agent.
type Subtask struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    string     `json:"priority"`
	Tools       []string   `json:"tools,omitempty"`
}

// TaskData is the structured payload of a task: inputs, outputs,
// declared dependencies and the nested subtask list.
type TaskData struct {
	// Number is the 1-based ordinal of the task within its swarm;
	// dependency lists and subtask ids reference it.
	Number       int            `json:"number,omitempty"`
	Title        string         `json:"title,omitempty"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	Tools        []string       `json:"tools,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Subtasks     []Subtask      `json:"subtasks,omitempty"`
}

// Task is a level-0 node in the work tree.
type Task struct {
	ID          string     `json:"id"`
	SwarmID     string     `json:"swarm_id"`
	AgentID     string     `json:"agent_id,omitempty"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Priority    int        `json:"priority"`
	Data        TaskData   `json:"data"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
}

// EventType classifies orchestration events.
type EventType string

const (
	EventCreate   EventType = "create"
	EventAssign   EventType = "assign"
	EventRetry    EventType = "retry"
	EventComplete EventType = "complete"
	EventFail     EventType = "fail"
	EventPause    EventType = "pause"
	EventResume   EventType = "resume"
	EventFallback EventType = "fallback"
	EventHealth   EventType = "health"
)

// Event is an append-only orchestration record.
type Event struct {
	ID        string         `json:"id"`
	SwarmID   string         `json:"swarm_id"`
	TaskID    string         `json:"task_id,omitempty"`
	Type      EventType      `json:"event_type"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session is a coarse-grained durable checkpoint of a swarm, kept so a
// restarted process can resume inspection.
type Session struct {
	ID        string         `json:"id"`
	SwarmID   string         `json:"swarm_id"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewID returns an opaque unique identifier.
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:8])
}

// ScopeOfWorks is the delivery sub-record of a scope.
type ScopeOfWorks struct {
	InScope    []string `json:"in_scope"`
	OutScope   []string `json:"out_scope"`
	Milestones []string `json:"milestones"`
	Risks      []string `json:"risks"`
	KPIs       []string `json:"kpis"`
}

// Scope is the validated structured description of a project derived
// from a user message. Unknown fields are preserved verbatim in Extra
// so that round-tripping through swarm metadata loses nothing.
type Scope struct {
	Project      string            `json:"project"`
	Goal         string            `json:"goal"`
	TechStack    map[string]string `json:"tech_stack"`
	Features     []string          `json:"features"`
	Timeline     string            `json:"timeline"`
	Outcome      string            `json:"outcome"`
	ScopeOfWorks ScopeOfWorks      `json:"scope_of_works"`

	Extra map[string]json.RawMessage `json:"-"`
}

var scopeKnownFields = map[string]bool{
	"project": true, "goal": true, "tech_stack": true, "features": true,
	"timeline": true, "outcome": true, "scope_of_works": true,
}

func (s *Scope) UnmarshalJSON(data []byte) error {
	type plain Scope
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if scopeKnownFields[key] {
			delete(raw, key)
		}
	}
	if len(raw) > 0 {
		p.Extra = raw
	}

	*s = Scope(p)
	return nil
}

func (s Scope) MarshalJSON() ([]byte, error) {
	type plain Scope
	data, err := json.Marshal(plain(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, value := range s.Extra {
		if !scopeKnownFields[key] {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// Validate enforces the scope invariants: project is non-empty and the
// features list exists (it may be empty).
func (s *Scope) Validate() error {
	if s.Project == "" {
		return fmt.Errorf("scope: project is required")
	}
	if s.Features == nil {
		return fmt.Errorf("scope: features list must exist")
	}
	return nil
}

// Metadata flattens the scope into swarm metadata.
func (s *Scope) Metadata() map[string]any {
	meta := map[string]any{
		"project":        s.Project,
		"goal":           s.Goal,
		"tech_stack":     s.TechStack,
		"features":       s.Features,
		"timeline":       s.Timeline,
		"outcome":        s.Outcome,
		"scope_of_works": s.ScopeOfWorks,
	}
	for key, value := range s.Extra {
		if scopeKnownFields[key] {
			continue
		}
		var decoded any
		if err := json.Unmarshal(value, &decoded); err == nil {
			meta[key] = decoded
		}
	}
	return meta
}
