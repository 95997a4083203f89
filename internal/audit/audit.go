// Package audit implements a hash-chained log of account lifecycle events.
//
// The chain begins with a well-known genesis entry whose Hash equals
// GenesisHash (64 hex zeros). Every subsequent entry records the SHA-256 of
// its predecessor, so any tampering with past entries is detectable via
// Verify.
//
// Two implementations of the Log interface are provided:
//   - MemoryLog: in-process, for testing and development.
//   - PostgresLog: durable, for production use.
package audit
