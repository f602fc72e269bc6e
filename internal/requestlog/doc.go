// Package requestlog records one entry per dispatch attempt.
//
// Sinks are append-only. Ring keeps the most recent entries in memory for
// the admin API, SQLite keeps a durable history, and Multi fans out to both.
package requestlog
