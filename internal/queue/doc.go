// Package queue persists work queue entries in SQLite and exposes the
// transactional operations the dispatcher and item processors rely on.
//
// The Store owns schema initialization, the tiered claim query, atomic
// partial updates guarded by status and ownership, the startup reset of
// orphaned entries, sub-item bookkeeping, storage units with their series
// counts, and the per type property table.
//
// Status edges are enforced in Update: failed is terminal, a completed
// entry's expiration never shrinks and failure counts only grow. Schema
// changes bump schemaVersion in schema.go; operators delete the database to
// adopt the new schema.
package queue
