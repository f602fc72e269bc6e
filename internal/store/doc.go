// Package store implements the account store: the durable source of truth for
// pool membership and per-account health state.
//
// Every implementation serializes mutations per account id through Update, so
// two concurrent outcomes on the same account never lose an update, while
// updates to different accounts proceed independently.
//
//   - memory: in-process map, one mutex per account
//   - file:   memory store written to a JSON file shortly after each change,
//     merging external edits of the file (fsnotify) without rolling back
//     health state
//   - sqlite: modernc.org/sqlite, one transaction per update
//
// External registration processes add accounts through Put, Import, or by
// rewriting the pool file.
package store
