// Package journal implements the legal journal: an append-only, SHA-256
// hash-chained ledger of point-of-sale transactions.
//
// Every entry records the hash of its predecessor; the first entry chains from
// GenesisHash (64 hex zeros). The canonical serialisation produced by
// Canonicalize is a frozen format: changing it invalidates every historical
// verification.
//
// Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
//
// Service is the single write path. Verifier walks the chain and reports every
// break without mutating anything.
package journal
