package swarm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwarmTransitions(t *testing.T) {
	tests := []struct {
		from, to SwarmStatus
		ok       bool
	}{
		{SwarmIdle, SwarmRunning, true},
		{SwarmRunning, SwarmCompleted, true},
		{SwarmRunning, SwarmPaused, true},
		{SwarmPaused, SwarmRunning, true},
		{SwarmCompleted, SwarmRunning, false},
		{SwarmError, SwarmRunning, false},
		{SwarmIdle, SwarmCompleted, false},
		{SwarmRunning, SwarmRunning, true}, // no-op
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, ValidSwarmTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestTaskTransitions(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		ok       bool
	}{
		{TaskPending, TaskInProgress, true},
		{TaskInProgress, TaskCompleted, true},
		{TaskInProgress, TaskFailed, true},
		{TaskInProgress, TaskNeedHelp, true},
		{TaskFailed, TaskPending, true},
		{TaskNeedHelp, TaskPending, true},
		{TaskCompleted, TaskPending, false},
		{TaskCompleted, TaskCompleted, true}, // idempotent no-op
		{TaskPending, TaskCompleted, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, ValidTaskTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestTaskStatusPredicates(t *testing.T) {
	assert.True(t, TaskCompleted.Terminal())
	assert.True(t, TaskFailed.Terminal())
	assert.False(t, TaskNeedHelp.Terminal())
	assert.True(t, TaskFailed.Retryable())
	assert.True(t, TaskNeedHelp.Retryable())
	assert.False(t, TaskPending.Retryable())
}

func TestScopeRoundTripPreservesUnknownFields(t *testing.T) {
	raw := `{
		"project": "Shop",
		"goal": "Build a store",
		"tech_stack": {"frontend": "Next.js"},
		"features": ["cart"],
		"timeline": "2w",
		"outcome": "MVP",
		"scope_of_works": {"in_scope": ["cart"], "out_scope": [], "milestones": [], "risks": [], "kpis": []},
		"budget": {"currency": "USD", "amount": 500}
	}`

	var s Scope
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	assert.Equal(t, "Shop", s.Project)
	assert.Contains(t, s.Extra, "budget")

	out, err := json.Marshal(s)
	require.NoError(t, err)

	var round map[string]any
	require.NoError(t, json.Unmarshal(out, &round))
	assert.Contains(t, round, "budget")
	assert.Equal(t, "Build a store", round["goal"])
}

func TestScopeValidate(t *testing.T) {
	s := Scope{Project: "X", Features: []string{}}
	assert.NoError(t, s.Validate())

	s = Scope{Features: []string{}}
	assert.Error(t, s.Validate())

	s = Scope{Project: "X"}
	assert.Error(t, s.Validate())
}

func TestScopeMetadataIncludesExtras(t *testing.T) {
	var s Scope
	require.NoError(t, json.Unmarshal([]byte(`{"project":"P","features":[],"note":"keep me"}`), &s))

	meta := s.Metadata()
	assert.Equal(t, "P", meta["project"])
	assert.Equal(t, "keep me", meta["note"])
}
