// Package storage is the job store: actors, credentials, endpoints, jobs and
// their destinations, kept in SQLite.
//
// Writes go through a single writer connection, which serializes every
// mutation of a job's row set. Reads use a small reader pool.
//
// It also keeps:
//   - an audit trail of administrative actions
//   - notifier dedup state (to survive restarts)
package storage
