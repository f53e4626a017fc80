package sqlite

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
				payload BLOB,
				state TEXT NOT NULL DEFAULT 'pending',
				priority INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 0,
				retry_count INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				worker_id TEXT NOT NULL DEFAULT '',
				run_at TIMESTAMP NOT NULL,
				started_at TIMESTAMP,
				completed_at TIMESTAMP,
				heartbeat_at TIMESTAMP,
				timeout_ns INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_calshift_tasks_dequeue
				ON calshift_tasks (state, queue, priority, run_at)`,
		},
	},
	{
		name: "002_workflow_runs",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_workflow_runs (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				state TEXT NOT NULL DEFAULT 'pending',
				version INTEGER NOT NULL DEFAULT 1,
				input BLOB,
				output BLOB,
				error TEXT NOT NULL DEFAULT '',
				parent_run_id TEXT,
				started_at TIMESTAMP NOT NULL,
				completed_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_calshift_runs_name
				ON calshift_workflow_runs (name)`,
			`CREATE INDEX IF NOT EXISTS idx_calshift_runs_parent
				ON calshift_workflow_runs (parent_run_id)`,
		},
	},
	{
		name: "003_checkpoints",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_checkpoints (
				id TEXT NOT NULL,
				run_id TEXT NOT NULL,
				step_name TEXT NOT NULL,
				data BLOB,
				seq INTEGER NOT NULL,
				created_at TIMESTAMP NOT NULL,
				PRIMARY KEY (run_id, step_name)
			)`,
		},
	},
	{
		name: "004_history",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_history (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				run_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				data BLOB,
				created_at TIMESTAMP NOT NULL
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
				state BLOB,
				version INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
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
				payload BLOB,
				last_run_at TIMESTAMP,
				next_run_at TIMESTAMP,
				locked_by TEXT,
				locked_until TIMESTAMP,
				enabled INTEGER NOT NULL DEFAULT 1,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
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
				payload BLOB,
				error TEXT NOT NULL DEFAULT '',
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 0,
				failed_at TIMESTAMP NOT NULL,
				replayed_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL
			)`,
		},
	},
	{
		name: "008_events",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_events (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				payload BLOB,
				acked INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_calshift_events_name
				ON calshift_events (name, acked)`,
		},
	},
	{
		name: "009_workers",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_workers (
				id TEXT PRIMARY KEY,
				hostname TEXT NOT NULL DEFAULT '',
				queues TEXT NOT NULL DEFAULT '[]',
				concurrency INTEGER NOT NULL DEFAULT 1,
				state TEXT NOT NULL DEFAULT 'active',
				is_leader INTEGER NOT NULL DEFAULT 0,
				leader_until TIMESTAMP,
				last_seen TIMESTAMP NOT NULL,
				created_at TIMESTAMP NOT NULL
			)`,
		},
	},
	{
		name: "010_actor_ops",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS calshift_actor_ops (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				kind TEXT NOT NULL,
				key TEXT NOT NULL,
				op TEXT NOT NULL,
				version INTEGER NOT NULL DEFAULT 0,
				invoked_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_calshift_actor_ops_actor
				ON calshift_actor_ops (kind, key, seq)`,
		},
	},
}
