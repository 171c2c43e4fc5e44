package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/swarmhq/swarmd/pkg/swarm"
)

// AppendEvent records an orchestration event. Events are append-only;
// there is no update or delete path.
func (s *Store) AppendEvent(ctx context.Context, event swarm.Event) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertEvent(ctx, tx, event)
	})
}

func insertEvent(ctx context.Context, tx *sql.Tx, event swarm.Event) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	taskID := sql.NullString{String: event.TaskID, Valid: event.TaskID != ""}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO orchestration_events (id, swarm_id, task_id, event_type, details, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.SwarmID, taskID, event.Type, details, event.Timestamp)
	return err
}

// ListEvents returns a swarm's events ordered by timestamp, then
// insertion order.
func (s *Store) ListEvents(ctx context.Context, swarmID string, limit int) ([]swarm.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, swarm_id, task_id, event_type, details, timestamp
		 FROM orchestration_events WHERE swarm_id = ?
		 ORDER BY timestamp ASC, rowid ASC LIMIT ?`, swarmID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []swarm.Event
	for rows.Next() {
		var e swarm.Event
		var taskID sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.SwarmID, &taskID, &e.Type, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.TaskID = taskID.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode event details: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveSession stores a checkpoint snapshot for a swarm.
func (s *Store) SaveSession(ctx context.Context, session swarm.Session) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		data, err := json.Marshal(session.Data)
		if err != nil {
			return fmt.Errorf("marshal session data: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (id, swarm_id, data, timestamp) VALUES (?, ?, ?, ?)`,
			session.ID, session.SwarmID, data, session.Timestamp)
		return err
	})
}

// LatestSession returns the most recent checkpoint for a swarm.
func (s *Store) LatestSession(ctx context.Context, swarmID string) (*swarm.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, swarm_id, data, timestamp FROM sessions WHERE swarm_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT 1`,
		swarmID)
	var sess swarm.Session
	var data []byte
	err := row.Scan(&sess.ID, &sess.SwarmID, &data, &sess.Timestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &sess.Data); err != nil {
			return nil, fmt.Errorf("decode session data: %w", err)
		}
	}
	return &sess, nil
}

// Health is the aggregate served by the health endpoint.
type Health struct {
	CountsByStatus      map[string]int `json:"counts_by_status"`
	RecentInterventions []swarm.Event  `json:"recent_interventions"`
	RetrySuccessRate    float64        `json:"retry_success_rate"`
}

// AggregateHealth computes task status counts, recent retry
// interventions and the retry success rate (completed-after-retry over
// total retries). swarmID narrows the view; empty means all swarms.
func (s *Store) AggregateHealth(ctx context.Context, swarmID string) (*Health, error) {
	health := &Health{CountsByStatus: make(map[string]int)}

	countQuery := `SELECT status, COUNT(*) FROM tasks`
	args := []any{}
	if swarmID != "" {
		countQuery += ` WHERE swarm_id = ?`
		args = append(args, swarmID)
	}
	countQuery += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, countQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		health.CountsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	retryQuery := `SELECT COUNT(*) FROM orchestration_events WHERE event_type = ?`
	retryArgs := []any{swarm.EventRetry}
	if swarmID != "" {
		retryQuery += ` AND swarm_id = ?`
		retryArgs = append(retryArgs, swarmID)
	}
	var totalRetries int
	if err := s.db.QueryRowContext(ctx, retryQuery, retryArgs...).Scan(&totalRetries); err != nil {
		return nil, err
	}

	if totalRetries > 0 {
		recoveredQuery := `SELECT COUNT(*) FROM tasks WHERE retry_count > 0 AND status = ?`
		recoveredArgs := []any{swarm.TaskCompleted}
		if swarmID != "" {
			recoveredQuery += ` AND swarm_id = ?`
			recoveredArgs = append(recoveredArgs, swarmID)
		}
		var recovered int
		if err := s.db.QueryRowContext(ctx, recoveredQuery, recoveredArgs...).Scan(&recovered); err != nil {
			return nil, err
		}
		health.RetrySuccessRate = float64(recovered) / float64(totalRetries)
	}

	eventQuery := `SELECT id, swarm_id, task_id, event_type, details, timestamp
	               FROM orchestration_events WHERE event_type = ?`
	eventArgs := []any{swarm.EventRetry}
	if swarmID != "" {
		eventQuery += ` AND swarm_id = ?`
		eventArgs = append(eventArgs, swarmID)
	}
	eventQuery += ` ORDER BY timestamp DESC, rowid DESC LIMIT 10`

	eventRows, err := s.db.QueryContext(ctx, eventQuery, eventArgs...)
	if err != nil {
		return nil, err
	}
	defer eventRows.Close()
	for eventRows.Next() {
		var e swarm.Event
		var taskID sql.NullString
		var details []byte
		if err := eventRows.Scan(&e.ID, &e.SwarmID, &taskID, &e.Type, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.TaskID = taskID.String
		if len(details) > 0 {
			json.Unmarshal(details, &e.Details)
		}
		health.RecentInterventions = append(health.RecentInterventions, e)
	}
	return health, eventRows.Err()
}

// InsertTask adds a single task to an existing swarm. Used by tests and
// by operators injecting work out of band.
func (s *Store) InsertTask(ctx context.Context, t swarm.Task) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		data, err := json.Marshal(t.Data)
		if err != nil {
			return fmt.Errorf("marshal task data: %w", err)
		}
		agentID := sql.NullString{String: t.AgentID, Valid: t.AgentID != ""}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = t.CreatedAt
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tasks (id, swarm_id, agent_id, description, status, priority, data, created_at, updated_at, retry_count, last_error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.SwarmID, agentID, t.Description, t.Status, t.Priority, data,
			t.CreatedAt, t.UpdatedAt, t.RetryCount, t.LastError)
		if err != nil {
			return wrapWriteErr(err)
		}
		return nil
	})
}
