package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/swarmhq/swarmd/pkg/catalog"
	"github.com/swarmhq/swarmd/pkg/logger"
	"github.com/swarmhq/swarmd/pkg/swarm"
)

type processRequest struct {
	Message string   `json:"message"`
	UserID  string   `json:"user_id"`
	History []string `json:"history,omitempty"`
}

// createSwarmEnvelope accepts both body shapes: scope fields at the top
// level alongside num_agents, or a nested {"scope": {...}} object.
type createSwarmEnvelope struct {
	Scope     *swarm.Scope `json:"scope"`
	NumAgents int          `json:"num_agents,omitempty"`
}

func decodeSwarmScope(body []byte) (*swarm.Scope, int, error) {
	var env createSwarmEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, fmt.Errorf("invalid request body")
	}
	if env.Scope != nil {
		return env.Scope, env.NumAgents, nil
	}

	sc := &swarm.Scope{}
	if err := json.Unmarshal(body, sc); err != nil {
		return nil, 0, fmt.Errorf("invalid request body")
	}
	delete(sc.Extra, "num_agents")
	return sc, env.NumAgents, nil
}

type updateTaskRequest struct {
	Status swarm.TaskStatus `json:"status"`
	Output map[string]any   `json:"output,omitempty"`
	Error  string           `json:"error,omitempty"`
}

type invokeToolRequest struct {
	Args    map[string]any `json:"args,omitempty"`
	SwarmID string         `json:"swarm_id,omitempty"`
	AgentID string         `json:"agent_id,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": apiVersion})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	res, err := s.manager.Process(r.Context(), req.Message, req.UserID, req.History)
	if err != nil {
		logger.ErrorCF("gateway", "Process failed", map[string]any{"error": err.Error()})
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateSwarm(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sc, numAgents, err := decodeSwarmScope(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := sc.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if numAgents < 0 {
		writeError(w, http.StatusBadRequest, "num_agents must be >= 0")
		return
	}

	sw, err := s.manager.CreateFromScope(r.Context(), sc, numAgents)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sw)
}

func (s *Server) handleListSwarms(w http.ResponseWriter, r *http.Request) {
	swarms, err := s.store.ListSwarms(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if swarms == nil {
		swarms = []swarm.Swarm{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"swarms": swarms})
}

func (s *Server) handleGetSwarm(w http.ResponseWriter, r *http.Request) {
	sw, agents, tasks, err := s.store.GetSwarm(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"swarm":  sw,
		"agents": agents,
		"tasks":  tasks,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, _, _, err := s.store.GetSwarm(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.store.ListEvents(r.Context(), id, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if events == nil {
		events = []swarm.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Pause(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"swarm_id": id, "status": string(swarm.SwarmPaused)})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Resume(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"swarm_id": id, "status": string(swarm.SwarmRunning)})
}

func (s *Server) handlePlannerView(w http.ResponseWriter, r *http.Request) {
	view, err := s.manager.GetPlannerView(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Status {
	case swarm.TaskPending, swarm.TaskInProgress, swarm.TaskCompleted, swarm.TaskFailed, swarm.TaskNeedHelp:
	default:
		writeError(w, http.StatusBadRequest, "unknown task status")
		return
	}

	task, err := s.manager.UpdateTask(r.Context(), r.PathValue("id"), req.Status, req.Output, req.Error)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleSwarmHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.store.AggregateHealth(r.Context(), r.URL.Query().Get("swarm_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	interventions := health.RecentInterventions
	if interventions == nil {
		interventions = []swarm.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"counts_by_status":     health.CountsByStatus,
		"recent_interventions": interventions,
		"retry_success_rate":   health.RetrySuccessRate,
		"poll_interval":        s.pollInterval.Seconds(),
		"uptime_s":             int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	var req invokeToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.mcp.Invoke(r.Context(), r.PathValue("tool_name"), req.Args, req.SwarmID, req.AgentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCatalogSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	components, err := s.catalog.Search(r.Context(), query, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if components == nil {
		components = []catalog.Component{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"components": components})
}
