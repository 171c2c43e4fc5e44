package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmhq/swarmd/pkg/auth"
	"github.com/swarmhq/swarmd/pkg/bus"
	"github.com/swarmhq/swarmd/pkg/catalog"
	"github.com/swarmhq/swarmd/pkg/completer"
	"github.com/swarmhq/swarmd/pkg/config"
	"github.com/swarmhq/swarmd/pkg/mcpgw"
	"github.com/swarmhq/swarmd/pkg/orchestrator"
	"github.com/swarmhq/swarmd/pkg/planner"
	"github.com/swarmhq/swarmd/pkg/scope"
	"github.com/swarmhq/swarmd/pkg/store"
	"github.com/swarmhq/swarmd/pkg/swarm"
	"github.com/swarmhq/swarmd/pkg/workspace"
)

type scripted struct {
	responses []string
}

func (s *scripted) Complete(_ context.Context, _ string, _ completer.Options) (string, error) {
	if len(s.responses) == 0 {
		return "", fmt.Errorf("no scripted response")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

type fakeMCP struct {
	result mcpgw.Result
	tool   string
}

func (f *fakeMCP) Invoke(_ context.Context, tool string, _ map[string]any, _, _ string) (mcpgw.Result, error) {
	f.tool = tool
	return f.result, nil
}

const scopePayload = `{
	"project": "Recipe Hub",
	"goal": "Build a recipe sharing site",
	"tech_stack": {"frontend": "Next.js", "backend": "Node.js", "database": "PostgreSQL"},
	"features": ["recipes"],
	"timeline": "2w",
	"outcome": "MVP",
	"scope_of_works": {"in_scope": [], "out_scope": [], "milestones": [], "risks": [], "kpis": []}
}`

const subtaskPayload = `[
	{"title": "Step one", "priority": "high"},
	{"title": "Step two", "priority": "medium"},
	{"title": "Step three", "priority": "low"},
	{"title": "Step four", "priority": "medium"}
]`

type fixture struct {
	server *Server
	ts     *httptest.Server
	store  *store.Store
	mcp    *fakeMCP
}

func newFixture(t *testing.T, responses []string) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	roster, err := planner.RosterFor("specialist")
	require.NoError(t, err)

	c := &scripted{responses: responses}
	manager := orchestrator.NewManager(st, scope.NewExtractor(c, nil), planner.New(roster, c), workspace.Discard{}, bus.New(time.Second))

	creds, err := auth.NewCredentialSet(map[string][]string{
		"admin-token":    {"ADMIN_MASTER"},
		"monitor-token":  {"SWARM_MONITOR"},
		"agent-token":    {"AGENT_CONTROL"},
		"readonly-token": {"ADMIN_READONLY"},
	})
	require.NoError(t, err)

	mcp := &fakeMCP{result: mcpgw.Result{Success: true, Output: "done"}}
	srv := NewServer(config.GatewayConfig{
		Port:              0,
		RequestsPerMinute: 600,
		ShutdownGrace:     time.Second,
	}, manager, st, mcp, mustCatalog(t), creds, 10*time.Second)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{server: srv, ts: ts, store: st, mcp: mcp}
}

func mustCatalog(t *testing.T) *testCatalog {
	t.Helper()
	return &testCatalog{}
}

// testCatalog serves one fixed component.
type testCatalog struct{}

func (c *testCatalog) Search(_ context.Context, query string, _ int) ([]catalog.Component, error) {
	if query == "button" {
		return []catalog.Component{{Name: "Button", Category: "inputs"}}, nil
	}
	return nil, nil
}

func (c *testCatalog) Summary() string { return "" }

func (f *fixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func planResponses() []string {
	return []string{scopePayload, subtaskPayload, subtaskPayload, subtaskPayload}
}

func TestHealthEndpointIsPublic(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRejections(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/swarms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/swarms", "wrong-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCapabilityEnforcement(t *testing.T) {
	f := newFixture(t, planResponses())

	body := map[string]any{"scope": json.RawMessage(scopePayload)}

	// A monitoring credential can read but not create.
	resp := f.do(t, http.MethodPost, "/swarms", "monitor-token", body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/swarms", "monitor-token", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// ADMIN_MASTER supersedes the specific capability.
	resp = f.do(t, http.MethodPost, "/swarms", "admin-token", body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestProcessClarify(t *testing.T) {
	f := newFixture(t, []string{"What would you like to build?"})

	resp := f.do(t, http.MethodPost, "/orchestrator/process", "admin-token", map[string]string{
		"message": "hey", "user_id": "u1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string]any](t, resp)
	assert.Equal(t, "needs_clarification", out["status"])
	assert.NotEmpty(t, out["message"])
}

func TestProcessCreatesSwarm(t *testing.T) {
	f := newFixture(t, planResponses())

	resp := f.do(t, http.MethodPost, "/orchestrator/process", "admin-token", map[string]string{
		"message": "Build a recipe sharing site with search", "user_id": "u1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string]any](t, resp)
	assert.Equal(t, "success", out["status"])
	swarmID, _ := out["swarm_id"].(string)
	require.NotEmpty(t, swarmID)
	assert.Equal(t, "/planner/"+swarmID, out["planner_url"])

	resp = f.do(t, http.MethodGet, "/swarms/"+swarmID, "monitor-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/planner/"+swarmID, "monitor-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[orchestrator.PlannerView](t, resp)
	assert.Len(t, view.Tasks, 3)
}

func TestPlannerViewServesTasksKey(t *testing.T) {
	f := newFixture(t, planResponses())

	resp := f.do(t, http.MethodPost, "/orchestrator/process", "admin-token", map[string]string{
		"message": "Build a recipe sharing site with search", "user_id": "u1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	swarmID := decode[map[string]any](t, resp)["swarm_id"].(string)

	resp = f.do(t, http.MethodGet, "/api/planner/"+swarmID, "monitor-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw := decode[map[string]json.RawMessage](t, resp)

	var branches []orchestrator.AgentBranch
	require.Contains(t, raw, "tasks")
	require.NoError(t, json.Unmarshal(raw["tasks"], &branches))
	assert.Len(t, branches, 3)
}

func TestProcessRequiresMessage(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodPost, "/orchestrator/process", "admin-token", map[string]string{"user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateSwarmFlatBody(t *testing.T) {
	f := newFixture(t, []string{subtaskPayload, subtaskPayload})

	resp := f.do(t, http.MethodPost, "/swarms", "admin-token", map[string]any{
		"project":    "Recipe Hub",
		"goal":       "Build a recipe sharing site",
		"tech_stack": map[string]string{"frontend": "Next.js"},
		"features":   []string{"recipes"},
		"num_agents": 2,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sw := decode[swarm.Swarm](t, resp)
	assert.Equal(t, "Recipe Hub", sw.Name)
	assert.Equal(t, 2, sw.NumAgents)
	assert.Equal(t, swarm.SwarmRunning, sw.Status)
	// num_agents is a request parameter, not scope metadata.
	assert.NotContains(t, sw.Metadata, "num_agents")
}

func TestCreateSwarmRejectsInvalidScope(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodPost, "/swarms", "admin-token", map[string]any{
		"scope": map[string]any{"goal": "no project name"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSwarmNotFound(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/swarms/swarm-missing", "monitor-token", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateTaskLifecycle(t *testing.T) {
	f := newFixture(t, planResponses())

	resp := f.do(t, http.MethodPost, "/orchestrator/process", "admin-token", map[string]string{
		"message": "Build a recipe sharing site with search", "user_id": "u1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string]any](t, resp)
	swarmID := out["swarm_id"].(string)

	_, _, tasks, err := f.store.GetSwarm(context.Background(), swarmID)
	require.NoError(t, err)
	taskID := tasks[0].ID

	// pending -> completed is illegal.
	resp = f.do(t, http.MethodPut, "/tasks/"+taskID, "agent-token", map[string]any{"status": "completed"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/tasks/"+taskID, "agent-token", map[string]any{"status": "in-progress"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/tasks/"+taskID, "agent-token", map[string]any{
		"status": "completed",
		"output": map[string]any{"artifact": "index.html"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	task := decode[swarm.Task](t, resp)
	assert.Equal(t, swarm.TaskCompleted, task.Status)
	assert.Equal(t, "index.html", task.Data.Outputs["artifact"])

	resp = f.do(t, http.MethodPut, "/tasks/"+taskID, "agent-token", map[string]any{"status": "exploded"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/tasks/task-missing", "agent-token", map[string]any{"status": "in-progress"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPauseResumeFlow(t *testing.T) {
	f := newFixture(t, planResponses())

	resp := f.do(t, http.MethodPost, "/orchestrator/process", "admin-token", map[string]string{
		"message": "Build a recipe sharing site with search", "user_id": "u1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	swarmID := decode[map[string]any](t, resp)["swarm_id"].(string)

	resp = f.do(t, http.MethodPost, "/swarms/"+swarmID+"/pause", "admin-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sw, _, _, err := f.store.GetSwarm(context.Background(), swarmID)
	require.NoError(t, err)
	assert.Equal(t, swarm.SwarmPaused, sw.Status)

	resp = f.do(t, http.MethodPost, "/swarms/"+swarmID+"/resume", "admin-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A monitoring credential cannot control lifecycle.
	resp = f.do(t, http.MethodPost, "/swarms/"+swarmID+"/pause", "monitor-token", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSwarmHealthEndpoint(t *testing.T) {
	f := newFixture(t, planResponses())

	resp := f.do(t, http.MethodPost, "/orchestrator/process", "admin-token", map[string]string{
		"message": "Build a recipe sharing site with search", "user_id": "u1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/swarm/health", "readonly-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[store.Health](t, resp)
	assert.Equal(t, 3, health.CountsByStatus["pending"])
}

func TestSwarmHealthRequiresAdminReadonly(t *testing.T) {
	f := newFixture(t, nil)

	// Plain monitoring credentials cannot read the admin aggregate.
	resp := f.do(t, http.MethodGet, "/swarm/health", "monitor-token", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/swarm/health", "admin-token", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInvokeTool(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/tools/web_search", "admin-token", map[string]any{
		"args": map[string]any{"query": "golang"}, "swarm_id": "s1", "agent_id": "a1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[mcpgw.Result](t, resp)
	assert.True(t, result.Success)
	assert.Equal(t, "web_search", f.mcp.tool)
}

func TestInvokeToolFailureEnvelope(t *testing.T) {
	f := newFixture(t, nil)
	f.mcp.result = mcpgw.Result{Success: false, Error: "worker unreachable"}

	resp := f.do(t, http.MethodPost, "/tools/web_search", "admin-token", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[mcpgw.Result](t, resp)
	assert.False(t, result.Success)
	assert.Equal(t, "worker unreachable", result.Error)
}

func TestCatalogSearch(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/catalog/search?q=button", "admin-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string][]catalog.Component](t, resp)
	require.Len(t, out["components"], 1)
	assert.Equal(t, "Button", out["components"][0].Name)

	resp = f.do(t, http.MethodGet, "/catalog/search", "admin-token", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimiting(t *testing.T) {
	limiter := newRateLimiter(1)
	assert.True(t, limiter.allow("tok"))
	assert.False(t, limiter.allow("tok"))
	// Separate credentials have separate buckets.
	assert.True(t, limiter.allow("other"))
}
