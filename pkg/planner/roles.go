package planner

import (
	"fmt"

	"github.com/swarmhq/swarmd/pkg/config"
)

// Role describes one agent specialization. Roles are data, not types:
// adding a role is a roster change, not a code change.
type Role struct {
	Name        string
	Title       string
	Description string
	// Level 0 roles work in parallel; level 1 roles depend on every
	// level 0 role in the roster.
	Level    int
	Priority string
	// SubtaskPrompt seeds per-role subtask generation. %s receives the
	// project goal.
	SubtaskPrompt string
}

// Roster is the ordered role vocabulary a swarm is planned with. It is
// chosen once at startup and used consistently for the lifetime of
// every swarm this process creates.
type Roster struct {
	Name  string
	Roles []Role
}

var specialistRoster = Roster{
	Name: config.RoleSetSpecialist,
	Roles: []Role{
		{
			Name:        "frontend_architect",
			Title:       "Frontend Architecture",
			Description: "Design and build the user-facing application: layout, components, state management and API consumption.",
			Level:       0,
			Priority:    "high",
			SubtaskPrompt: "You are a frontend architect. Break the frontend work for this project into exactly 4 subtasks " +
				"covering layout, components, state and integration. Project: %s",
		},
		{
			Name:        "backend_integrator",
			Title:       "Backend Integration",
			Description: "Build the server-side services: data model, API endpoints, third-party integrations and business logic.",
			Level:       0,
			Priority:    "high",
			SubtaskPrompt: "You are a backend integrator. Break the backend work for this project into exactly 4 subtasks " +
				"covering data model, API, integrations and business logic. Project: %s",
		},
		{
			Name:        "deployment_guardian",
			Title:       "Deployment & Quality",
			Description: "Wire up CI, environments and monitoring; verify the integrated system end to end before release.",
			Level:       1,
			Priority:    "medium",
			SubtaskPrompt: "You are a deployment guardian. Break the deployment and verification work for this project into " +
				"exactly 4 subtasks covering CI, environments, monitoring and end-to-end checks. Project: %s",
		},
	},
}

var legacyRoster = Roster{
	Name: config.RoleSetLegacy,
	Roles: []Role{
		{
			Name:        "research",
			Title:       "Research",
			Description: "Gather requirements, evaluate prior art and settle the technical approach.",
			Level:       0,
			Priority:    "high",
			SubtaskPrompt: "You are a researcher. Break the research phase of this project into exactly 4 subtasks. " +
				"Project: %s",
		},
		{
			Name:        "design",
			Title:       "Design",
			Description: "Produce the system design: architecture, data shapes and interface contracts.",
			Level:       0,
			Priority:    "high",
			SubtaskPrompt: "You are a designer. Break the design phase of this project into exactly 4 subtasks. " +
				"Project: %s",
		},
		{
			Name:        "implementation",
			Title:       "Implementation",
			Description: "Implement the designed system and verify it against the requirements.",
			Level:       1,
			Priority:    "medium",
			SubtaskPrompt: "You are an implementer. Break the implementation phase of this project into exactly 4 subtasks. " +
				"Project: %s",
		},
	},
}

// RosterFor resolves the configured role vocabulary.
func RosterFor(roleSet string) (Roster, error) {
	switch roleSet {
	case config.RoleSetSpecialist:
		return specialistRoster, nil
	case config.RoleSetLegacy:
		return legacyRoster, nil
	default:
		return Roster{}, fmt.Errorf("planner: unknown role set %q", roleSet)
	}
}

// priorityWeight maps advisory priority labels onto the integer task
// priority column (higher = earlier).
func priorityWeight(priority string) int {
	switch priority {
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	default:
		return 2
	}
}
