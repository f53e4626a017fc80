// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED dequeue, TTL-based leader election, and
// poll-based event subscription with pg_notify wakeups.
package postgres
