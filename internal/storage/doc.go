// Package storage persists the autopost records: the message pool, the
// destination list, the scheduler state and the append-only delivery log.
//
// Two drivers are provided:
//
//   - "file": one JSON document per record plus a JSON Lines delivery log.
//     Documents are replaced atomically (temp file + rename).
//   - "sqlite": a single SQLite database file (modernc.org/sqlite, WAL).
//
// Reads never propagate corruption: a missing or malformed record degrades
// to its documented default so the scheduler keeps running. Write failures
// are returned to the caller, which logs them and retries on the next
// natural cycle.
package storage
