// Package planner turns a validated scope into an agent roster and a
// two-level task tree. Subtask lists come from the completer with a
// deterministic fallback, so planning always succeeds.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/swarmhq/swarmd/pkg/completer"
	"github.com/swarmhq/swarmd/pkg/logger"
	"github.com/swarmhq/swarmd/pkg/swarm"
)

const subtasksPerRole = 4

// Plan is the planner's output: everything needed for one transactional
// swarm insert. Fallbacks names the roles whose subtask lists came from
// the deterministic fallback instead of the completer, so the caller
// can report them.
type Plan struct {
	Swarm     *swarm.Swarm
	Agents    []swarm.Agent
	Tasks     []swarm.Task
	Fallbacks []string
}

// Planner generates plans against a fixed roster.
type Planner struct {
	roster    Roster
	completer completer.Completer
}

func New(roster Roster, c completer.Completer) *Planner {
	return &Planner{roster: roster, completer: c}
}

// Roster exposes the vocabulary this planner was configured with.
func (p *Planner) Roster() Roster {
	return p.roster
}

// BuildPlan creates the swarm aggregate for a scope. numAgents bounds
// the roster; zero means the full roster. Dependency edges that would
// reference roles outside the bound are dropped.
func (p *Planner) BuildPlan(ctx context.Context, s *swarm.Scope, numAgents int) (*Plan, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	roles := p.roster.Roles
	if numAgents > 0 && numAgents < len(roles) {
		roles = roles[:numAgents]
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("planner: roster is empty")
	}

	now := time.Now().UTC()
	sw := &swarm.Swarm{
		ID:        swarm.NewID("swarm"),
		Name:      s.Project,
		Status:    swarm.SwarmIdle,
		NumAgents: len(roles),
		CreatedAt: now,
		Metadata:  s.Metadata(),
	}

	levelZero := []string{}
	for i, role := range roles {
		if role.Level == 0 {
			levelZero = append(levelZero, strconv.Itoa(i+1))
		}
	}

	agents := make([]swarm.Agent, 0, len(roles))
	tasks := make([]swarm.Task, 0, len(roles))
	var fallbacks []string
	for i, role := range roles {
		number := i + 1
		agent := swarm.Agent{
			ID:         swarm.NewID("agent"),
			SwarmID:    sw.ID,
			Role:       role.Name,
			AssignedAt: now,
		}
		agents = append(agents, agent)

		var deps []string
		if role.Level > 0 {
			deps = append(deps, levelZero...)
		}

		subtasks, fellBack := p.generateSubtasks(ctx, role, s, number)
		if fellBack {
			fallbacks = append(fallbacks, role.Name)
		}

		task := swarm.Task{
			ID:          swarm.NewID("task"),
			SwarmID:     sw.ID,
			AgentID:     agent.ID,
			Description: describeTask(role, s),
			Status:      swarm.TaskPending,
			Priority:    priorityWeight(role.Priority),
			Data: swarm.TaskData{
				Number:       number,
				Title:        role.Title,
				Dependencies: deps,
				Tools:        []string{role.Name + "-tools"},
				Subtasks:     subtasks,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		tasks = append(tasks, task)
	}

	if err := validateDependencies(tasks); err != nil {
		return nil, err
	}

	return &Plan{Swarm: sw, Agents: agents, Tasks: tasks, Fallbacks: fallbacks}, nil
}

func describeTask(role Role, s *swarm.Scope) string {
	desc := fmt.Sprintf("%s for %s: %s", role.Title, s.Project, role.Description)
	if len(s.Features) > 0 {
		desc += " Features: " + strings.Join(s.Features, ", ") + "."
	}
	return desc
}

// generatedSubtask is the shape the completer is asked to emit.
type generatedSubtask struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Tools       []string `json:"tools"`
}

// generateSubtasks asks the completer for the role's subtask list and
// falls back to a deterministic subtask when anything goes wrong.
// Planning never fails on provider errors. The second return reports
// whether the fallback was used.
func (p *Planner) generateSubtasks(ctx context.Context, role Role, s *swarm.Scope, taskNumber int) ([]swarm.Subtask, bool) {
	raw, err := p.completer.Complete(ctx, buildSubtaskPrompt(role, s), completer.Options{
		Deterministic: true,
		MaxTokens:     1024,
	})
	if err != nil {
		logger.WarnCF("planner", "Subtask generation failed, using fallback", map[string]any{
			"role":  role.Name,
			"error": err.Error(),
		})
		return fallbackSubtasks(role, taskNumber), true
	}

	generated, err := parseSubtasks(raw)
	if err != nil {
		logger.WarnCF("planner", "Subtask payload unparseable, using fallback", map[string]any{
			"role":  role.Name,
			"error": err.Error(),
		})
		return fallbackSubtasks(role, taskNumber), true
	}

	if len(generated) > subtasksPerRole {
		generated = generated[:subtasksPerRole]
	}

	subtasks := make([]swarm.Subtask, 0, subtasksPerRole)
	for i, g := range generated {
		priority := g.Priority
		switch priority {
		case swarm.PriorityHigh, swarm.PriorityMedium, swarm.PriorityLow:
		default:
			priority = swarm.PriorityMedium
		}
		tools := g.Tools
		if len(tools) == 0 {
			tools = []string{role.Name + "-tools"}
		}
		subtasks = append(subtasks, swarm.Subtask{
			ID:          fmt.Sprintf("%d.%d", taskNumber, i+1),
			Title:       g.Title,
			Description: g.Description,
			Status:      swarm.TaskPending,
			Priority:    priority,
			Tools:       tools,
		})
	}
	if len(subtasks) == 0 {
		return fallbackSubtasks(role, taskNumber), true
	}
	// Short model lists are topped up deterministically so every task
	// carries the full complement.
	for len(subtasks) < subtasksPerRole {
		subtasks = append(subtasks, deterministicSubtask(role, taskNumber, len(subtasks)+1))
	}
	return subtasks, false
}

func deterministicSubtask(role Role, taskNumber, ordinal int) swarm.Subtask {
	return swarm.Subtask{
		ID:       fmt.Sprintf("%d.%d", taskNumber, ordinal),
		Title:    fmt.Sprintf("%s task %d", role.Name, ordinal),
		Status:   swarm.TaskPending,
		Priority: swarm.PriorityMedium,
		Tools:    []string{role.Name + "-tools"},
	}
}

func fallbackSubtasks(role Role, taskNumber int) []swarm.Subtask {
	return []swarm.Subtask{deterministicSubtask(role, taskNumber, 1)}
}

func buildSubtaskPrompt(role Role, s *swarm.Scope) string {
	var b strings.Builder
	fmt.Fprintf(&b, role.SubtaskPrompt, fmt.Sprintf("%s - %s", s.Project, s.Goal))
	if len(s.Features) > 0 {
		b.WriteString("\nFeatures: ")
		b.WriteString(strings.Join(s.Features, ", "))
	}
	b.WriteString("\n\nRespond with ONLY a JSON array of exactly 4 objects shaped like ")
	b.WriteString(`{"id": "1", "title": "...", "description": "...", "priority": "high|medium|low", "tools": ["..."]}.`)
	return b.String()
}

// parseSubtasks decodes a structured subtask array, tolerating fences
// and prose the same way scope extraction does.
func parseSubtasks(raw string) ([]generatedSubtask, error) {
	text := strings.TrimSpace(raw)
	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		if newline := strings.IndexByte(text, '\n'); newline >= 0 {
			text = text[newline+1:]
		}
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}

	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array found")
	}

	var generated []generatedSubtask
	if err := json.Unmarshal([]byte(text[start:end+1]), &generated); err != nil {
		return nil, err
	}

	valid := generated[:0]
	for _, g := range generated {
		if strings.TrimSpace(g.Title) != "" {
			valid = append(valid, g)
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("no usable subtasks in payload")
	}
	return valid, nil
}

// validateDependencies rejects edges to unknown tasks and cycles. The
// two-level construction cannot produce either, but tasks can also
// arrive through the API, so the check stays.
func validateDependencies(tasks []swarm.Task) error {
	byNumber := make(map[string]int, len(tasks))
	for i, t := range tasks {
		byNumber[strconv.Itoa(t.Data.Number)] = i
	}

	for _, t := range tasks {
		for _, dep := range t.Data.Dependencies {
			if _, ok := byNumber[dep]; !ok {
				return fmt.Errorf("planner: task %d depends on unknown task %q", t.Data.Number, dep)
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make([]int, len(tasks))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case visiting:
			return fmt.Errorf("planner: dependency cycle through task %d", tasks[i].Data.Number)
		case done:
			return nil
		}
		state[i] = visiting
		for _, dep := range tasks[i].Data.Dependencies {
			if err := visit(byNumber[dep]); err != nil {
				return err
			}
		}
		state[i] = done
		return nil
	}

	for i := range tasks {
		if err := visit(i); err != nil {
			return err
		}
	}
	return nil
}
