// Package sqlite implements the store on database/sql with the pure-Go
// modernc.org/sqlite driver. It is suited to single-node deployments
// and embedded use; clustering features (leader election, cron locks)
// work but only coordinate processes sharing the same database file.
package sqlite
