package store

var schema = []string{
	`CREATE TABLE IF NOT EXISTS swarms (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		status     TEXT NOT NULL,
		num_agents INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		metadata   JSON
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id          TEXT PRIMARY KEY,
		swarm_id    TEXT NOT NULL REFERENCES swarms(id) ON DELETE CASCADE,
		role        TEXT NOT NULL,
		state       JSON,
		assigned_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id          TEXT PRIMARY KEY,
		swarm_id    TEXT NOT NULL REFERENCES swarms(id) ON DELETE CASCADE,
		agent_id    TEXT REFERENCES agents(id),
		description TEXT NOT NULL,
		status      TEXT NOT NULL,
		priority    INTEGER NOT NULL DEFAULT 0,
		data        JSON,
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error  TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id        TEXT PRIMARY KEY,
		swarm_id  TEXT NOT NULL REFERENCES swarms(id) ON DELETE CASCADE,
		data      JSON,
		timestamp DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orchestration_events (
		id        TEXT PRIMARY KEY,
		swarm_id  TEXT NOT NULL,
		task_id   TEXT,
		event_type TEXT NOT NULL,
		details   JSON,
		timestamp DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status_updated ON tasks(status, updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_events_swarm_ts ON orchestration_events(swarm_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_swarm ON agents(swarm_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_swarm ON tasks(swarm_id)`,
}

func (s *Store) migrate() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
