// Package server implements the mcscout HTTP API and its persistence.
//
// Owns:
//   - HTTP routing, handlers, and request/response contracts
//   - The auth policy wrapper for mutating endpoints
//   - The SQLite snapshot and starred stores, and their migrations
//   - The single-flight Rescanner
//
// Does not own:
//   - Talking to the search API (package search)
//   - List query construction (package query)
//
// Invariants:
//   - JSON responses go through writeJSON
//   - A snapshot replacement is one transaction; readers never see a mix
//   - Starred rows are only written by Star and Unstar
//   - At most one rescan runs at a time
//   - Every mutation flushes the list cache
package server
