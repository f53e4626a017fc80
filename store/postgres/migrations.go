package postgres

// migration is a named, ordered set of DDL statements. Migrations run
// in slice order and are recorded by name, so entries must never be
// reordered or renamed once released.
type migration struct {
	name       string
	statements []string
}

var migrations = []migration{
	{
		name: "001_tasks",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_tasks (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				queue TEXT NOT NULL DEFAULT 'default',
				payload BYTEA,
				state TEXT NOT NULL DEFAULT 'pending',
				priority INT NOT NULL DEFAULT 0,
				max_retries INT NOT NULL DEFAULT 0,
				retry_count INT NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				worker_id TEXT NOT NULL DEFAULT '',
				run_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				started_at TIMESTAMPTZ,
				completed_at TIMESTAMPTZ,
				heartbeat_at TIMESTAMPTZ,
				timeout_ns BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_calshift_tasks_dequeue
				ON calshift_tasks (queue, priority DESC, run_at)
				WHERE state = 'pending'`,
			`CREATE INDEX IF NOT EXISTS idx_calshift_tasks_state
				ON calshift_tasks (state)`,
		},
	},
	{
		name: "002_workflow_runs",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_workflow_runs (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				state TEXT NOT NULL DEFAULT 'pending',
				version INT NOT NULL DEFAULT 1,
				input BYTEA,
				output BYTEA,
				error TEXT NOT NULL DEFAULT '',
				parent_run_id TEXT,
				started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				completed_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_calshift_runs_name
				ON calshift_workflow_runs (name)`,
			`CREATE INDEX IF NOT EXISTS idx_calshift_runs_state
				ON calshift_workflow_runs (state)`,
			`CREATE INDEX IF NOT EXISTS idx_calshift_runs_parent
				ON calshift_workflow_runs (parent_run_id)
				WHERE parent_run_id IS NOT NULL`,
		},
	},
	{
		name: "003_checkpoints",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_checkpoints (
				id TEXT NOT NULL,
				run_id TEXT NOT NULL,
				step_name TEXT NOT NULL,
				data BYTEA,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (run_id, step_name)
			)`,
		},
	},
	{
		name: "004_history",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_history (
				id TEXT PRIMARY KEY,
				seq BIGSERIAL,
				run_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				data BYTEA,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_calshift_history_run
				ON calshift_history (run_id, seq)`,
		},
	},
	{
		name: "005_actors",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_actors (
				id TEXT NOT NULL,
				kind TEXT NOT NULL,
				key TEXT NOT NULL,
				state BYTEA,
				version BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (kind, key)
			)`,
		},
	},
	{
		name: "006_cron_entries",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_cron_entries (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				schedule TEXT NOT NULL,
				task_name TEXT NOT NULL,
				queue TEXT NOT NULL DEFAULT 'default',
				payload BYTEA,
				last_run_at TIMESTAMPTZ,
				next_run_at TIMESTAMPTZ,
				locked_by TEXT,
				locked_until TIMESTAMPTZ,
				enabled BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
		},
	},
	{
		name: "007_dlq",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_dlq (
				id TEXT PRIMARY KEY,
				task_id TEXT NOT NULL,
				task_name TEXT NOT NULL,
				queue TEXT NOT NULL,
				payload BYTEA,
				error TEXT NOT NULL DEFAULT '',
				retry_count INT NOT NULL DEFAULT 0,
				max_retries INT NOT NULL DEFAULT 0,
				failed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				replayed_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_calshift_dlq_queue
				ON calshift_dlq (queue)`,
		},
	},
	{
		name: "008_events",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_events (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				payload BYTEA,
				acked BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_calshift_events_pending
				ON calshift_events (name, created_at)
				WHERE acked = FALSE`,
		},
	},
	{
		name: "009_workers",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_workers (
				id TEXT PRIMARY KEY,
				hostname TEXT NOT NULL DEFAULT '',
				queues JSONB NOT NULL DEFAULT '[]',
				concurrency INT NOT NULL DEFAULT 1,
				state TEXT NOT NULL DEFAULT 'active',
				is_leader BOOLEAN NOT NULL DEFAULT FALSE,
				leader_until TIMESTAMPTZ,
				last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
		},
	},
	{
		name: "010_actor_ops",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_actor_ops (
				seq BIGSERIAL PRIMARY KEY,
				kind TEXT NOT NULL,
				key TEXT NOT NULL,
				op TEXT NOT NULL,
				version BIGINT NOT NULL DEFAULT 0,
				invoked_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_calshift_actor_ops_actor
				ON calshift_actor_ops (kind, key, seq)`,
		},
	},
}
