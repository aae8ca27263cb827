// Package storage persists schedules, their owners and the outbox.
//
// Two drivers are available:
//   - "sqlite": a local database file, the default for single-node installs
//   - "postgres": a server database reached through pgxpool, migrated with
//     golang-migrate
//
// Both drivers enforce the schedule uniqueness rule in the schema itself
// (owner, weekday or "every day", minute) and cascade owner deletes.
package storage
