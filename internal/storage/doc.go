// Package storage persists what the executive transmits and what happens to
// it (start, halt, overruns) so runs can be inspected after the fact.
//
// Two drivers:
//   - file: JSON Lines, one file per record kind
//   - sqlite: a single database file (modernc.org/sqlite, no cgo)
package storage
