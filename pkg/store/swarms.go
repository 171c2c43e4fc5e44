package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/swarmhq/swarmd/pkg/swarm"
)

// CreateSwarm inserts a swarm with its agents and tasks in one
// transaction. Either everything lands or nothing does.
func (s *Store) CreateSwarm(ctx context.Context, sw *swarm.Swarm, agents []swarm.Agent, tasks []swarm.Task) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		meta, err := json.Marshal(sw.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO swarms (id, name, status, num_agents, created_at, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
			sw.ID, sw.Name, sw.Status, sw.NumAgents, sw.CreatedAt, meta); err != nil {
			return wrapWriteErr(err)
		}

		for _, a := range agents {
			state, err := json.Marshal(a.State)
			if err != nil {
				return fmt.Errorf("marshal agent state: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO agents (id, swarm_id, role, state, assigned_at) VALUES (?, ?, ?, ?, ?)`,
				a.ID, a.SwarmID, a.Role, state, a.AssignedAt); err != nil {
				return wrapWriteErr(err)
			}
		}

		for _, t := range tasks {
			data, err := json.Marshal(t.Data)
			if err != nil {
				return fmt.Errorf("marshal task data: %w", err)
			}
			agentID := sql.NullString{String: t.AgentID, Valid: t.AgentID != ""}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tasks (id, swarm_id, agent_id, description, status, priority, data, created_at, updated_at, retry_count, last_error)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID, t.SwarmID, agentID, t.Description, t.Status, t.Priority, data,
				t.CreatedAt, t.UpdatedAt, t.RetryCount, t.LastError); err != nil {
				return wrapWriteErr(err)
			}
		}
		return nil
	})
}

// GetSwarm reads the full swarm aggregate from a single point in time.
func (s *Store) GetSwarm(ctx context.Context, id string) (*swarm.Swarm, []swarm.Agent, []swarm.Task, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	sw, err := scanSwarm(tx.QueryRowContext(ctx,
		`SELECT id, name, status, num_agents, created_at, metadata FROM swarms WHERE id = ?`, id))
	if err != nil {
		return nil, nil, nil, err
	}

	agents, err := queryAgents(ctx, tx, id)
	if err != nil {
		return nil, nil, nil, err
	}

	tasks, err := queryTasks(ctx, tx, `SELECT `+taskColumns+` FROM tasks WHERE swarm_id = ? ORDER BY priority DESC, created_at ASC`, id)
	if err != nil {
		return nil, nil, nil, err
	}

	return sw, agents, tasks, nil
}

// ListSwarms returns every swarm, newest first.
func (s *Store) ListSwarms(ctx context.Context) ([]swarm.Swarm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, status, num_agents, created_at, metadata FROM swarms ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []swarm.Swarm
	for rows.Next() {
		sw, err := scanSwarm(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *sw)
	}
	return list, rows.Err()
}

// UpdateSwarmStatus moves a swarm through its state machine. Illegal
// transitions fail with ErrInvalidTransition.
func (s *Store) UpdateSwarmStatus(ctx context.Context, id string, status swarm.SwarmStatus) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current swarm.SwarmStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM swarms WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !swarm.ValidSwarmTransition(current, status) {
			return fmt.Errorf("%w: swarm %s -> %s", ErrInvalidTransition, current, status)
		}
		if current == status {
			return nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE swarms SET status = ? WHERE id = ?`, status, id)
		return err
	})
}

// UpdateAgentState replaces an agent's opaque state blob.
func (s *Store) UpdateAgentState(ctx context.Context, agentID string, state map[string]any) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		blob, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshal agent state: %w", err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE agents SET state = ? WHERE id = ?`, blob, agentID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteSwarm removes a swarm; agents, tasks and sessions cascade.
func (s *Store) DeleteSwarm(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM swarms WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSwarm(row rowScanner) (*swarm.Swarm, error) {
	var sw swarm.Swarm
	var meta []byte
	err := row.Scan(&sw.ID, &sw.Name, &sw.Status, &sw.NumAgents, &sw.CreatedAt, &meta)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &sw.Metadata); err != nil {
			return nil, fmt.Errorf("decode swarm metadata: %w", err)
		}
	}
	return &sw, nil
}

func queryAgents(ctx context.Context, tx *sql.Tx, swarmID string) ([]swarm.Agent, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, swarm_id, role, state, assigned_at FROM agents WHERE swarm_id = ? ORDER BY assigned_at ASC, id ASC`, swarmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []swarm.Agent
	for rows.Next() {
		var a swarm.Agent
		var state []byte
		if err := rows.Scan(&a.ID, &a.SwarmID, &a.Role, &state, &a.AssignedAt); err != nil {
			return nil, err
		}
		if len(state) > 0 {
			if err := json.Unmarshal(state, &a.State); err != nil {
				return nil, fmt.Errorf("decode agent state: %w", err)
			}
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func wrapWriteErr(err error) error {
	if isConstraint(err) {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return err
}
