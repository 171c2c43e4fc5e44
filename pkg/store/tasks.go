package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/swarmhq/swarmd/pkg/swarm"
)

const taskColumns = `id, swarm_id, agent_id, description, status, priority, data, created_at, updated_at, retry_count, last_error`

// GetTask reads a single task.
func (s *Store) GetTask(ctx context.Context, id string) (*swarm.Task, error) {
	tasks, err := s.queryTasksDB(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrNotFound
	}
	return &tasks[0], nil
}

// UpdateTaskStatus moves a task through its state machine. output, when
// non-nil, is merged into data.outputs. On failed the error text is
// recorded in last_error. A repeated transition to the same status is a
// no-op returning success.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status swarm.TaskStatus, output map[string]any, lastError string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current swarm.TaskStatus
		var dataBlob []byte
		err := tx.QueryRowContext(ctx, `SELECT status, data FROM tasks WHERE id = ?`, id).Scan(&current, &dataBlob)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !swarm.ValidTaskTransition(current, status) {
			return fmt.Errorf("%w: task %s -> %s", ErrInvalidTransition, current, status)
		}
		if current == status && output == nil {
			return nil
		}

		var data swarm.TaskData
		if len(dataBlob) > 0 {
			if err := json.Unmarshal(dataBlob, &data); err != nil {
				return fmt.Errorf("decode task data: %w", err)
			}
		}
		if output != nil {
			if data.Outputs == nil {
				data.Outputs = make(map[string]any, len(output))
			}
			for k, v := range output {
				data.Outputs[k] = v
			}
		}
		blob, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal task data: %w", err)
		}

		// Record the error on failure, clear it once the task completes,
		// otherwise keep whatever is there.
		var errText sql.NullString
		switch {
		case status == swarm.TaskFailed && lastError != "":
			errText = sql.NullString{String: lastError, Valid: true}
		case status == swarm.TaskCompleted:
			errText = sql.NullString{String: "", Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, data = ?, updated_at = ?, last_error = COALESCE(?, last_error) WHERE id = ?`,
			status, blob, time.Now().UTC(), errText, id)
		return err
	})
}

// IncrementRetry bumps a task's retry counter, failing with
// ErrRetryBudgetExceeded once the budget is spent.
func (s *Store) IncrementRetry(ctx context.Context, id string) (int, error) {
	var newCount int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRowContext(ctx, `SELECT retry_count FROM tasks WHERE id = ?`, id).Scan(&count)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if count >= s.maxRetries {
			return fmt.Errorf("%w: task %s at %d", ErrRetryBudgetExceeded, id, count)
		}
		newCount = count + 1
		_, err = tx.ExecContext(ctx, `UPDATE tasks SET retry_count = ? WHERE id = ?`, newCount, id)
		return err
	})
	return newCount, err
}

// RequeueTask atomically re-queues a retryable task: status back to
// pending, retry counter bumped, retry event appended. Used by the
// retry monitor so a crash between steps cannot split the transition.
func (s *Store) RequeueTask(ctx context.Context, id string) (int, error) {
	var newCount int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var t struct {
			swarmID string
			status  swarm.TaskStatus
			count   int
		}
		err := tx.QueryRowContext(ctx,
			`SELECT swarm_id, status, retry_count FROM tasks WHERE id = ?`, id).
			Scan(&t.swarmID, &t.status, &t.count)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !t.status.Retryable() {
			return fmt.Errorf("%w: task %s -> %s", ErrInvalidTransition, t.status, swarm.TaskPending)
		}
		if t.count >= s.maxRetries {
			return fmt.Errorf("%w: task %s at %d", ErrRetryBudgetExceeded, id, t.count)
		}

		newCount = t.count + 1
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, retry_count = ?, updated_at = ? WHERE id = ?`,
			swarm.TaskPending, newCount, now, id); err != nil {
			return err
		}

		event := swarm.Event{
			ID:        swarm.NewID("evt"),
			SwarmID:   t.swarmID,
			TaskID:    id,
			Type:      swarm.EventRetry,
			Details:   map[string]any{"retry_count": newCount},
			Timestamp: now,
		}
		return insertEvent(ctx, tx, event)
	})
	return newCount, err
}

// ListFailedTasks returns retryable tasks (failed or need-help) of
// non-paused swarms, updated since the given time, oldest update first.
func (s *Store) ListFailedTasks(ctx context.Context, since time.Time) ([]swarm.Task, error) {
	return s.queryTasksDB(ctx,
		`SELECT t.id, t.swarm_id, t.agent_id, t.description, t.status, t.priority, t.data,
		        t.created_at, t.updated_at, t.retry_count, t.last_error
		 FROM tasks t JOIN swarms s ON s.id = t.swarm_id
		 WHERE t.status IN (?, ?) AND s.status != ? AND t.updated_at >= ?
		 ORDER BY t.updated_at ASC`,
		swarm.TaskFailed, swarm.TaskNeedHelp, swarm.SwarmPaused, since)
}

func (s *Store) queryTasksDB(ctx context.Context, query string, args ...any) ([]swarm.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func queryTasks(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]swarm.Task, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]swarm.Task, error) {
	var tasks []swarm.Task
	for rows.Next() {
		var t swarm.Task
		var agentID, lastError sql.NullString
		var data []byte
		if err := rows.Scan(&t.ID, &t.SwarmID, &agentID, &t.Description, &t.Status, &t.Priority,
			&data, &t.CreatedAt, &t.UpdatedAt, &t.RetryCount, &lastError); err != nil {
			return nil, err
		}
		t.AgentID = agentID.String
		t.LastError = lastError.String
		if len(data) > 0 {
			if err := json.Unmarshal(data, &t.Data); err != nil {
				return nil, fmt.Errorf("decode task data: %w", err)
			}
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
