// Package history archives tasks that reached a terminal status into a SQL
// database (MySQL, SQLite or PostgreSQL). The schema is managed with goose
// migrations embedded from deploy/migrations; the archive is append-only and
// read back newest first for the history endpoint.
package history
