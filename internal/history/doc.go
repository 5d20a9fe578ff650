// Package history persists completed captioning runs in SQLite.
//
// The Store records one row per run plus its caption rows, newest-first
// listing for the CLI, and prefix lookup so users can reference runs by a
// short id. Persistence happens once, after a run finishes; the database is
// an archive, not coordination state.
//
// Schema changes bump the version in schema.go; users clear the database to
// adopt the new schema.
package history
