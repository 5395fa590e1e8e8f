// Package store provides a typed, backend-neutral document store with
// optimistic locking and lifecycle hooks.
//
// Entities are persisted as JSON documents, one collection per [Kind]. A
// [Backend] supplies per-document atomicity and a version check; nothing
// across documents is assumed, so cross-document consistency is the job of
// the hooks registered on each [Collection].
//
// A type becomes storable by implementing [Entity]. It opts into attribute
// lookups through [Indexer] (Find with [By]) and into per-kind uniqueness
// through [UniqueFielder]. Both are read from the value on every write, so
// changing an indexed field moves the document to its new index entry.
//
// Backends live in subpackages: memstore (in-process), sqlstore (SQLite and
// MySQL), pgstore (PostgreSQL) and dynamostore (DynamoDB). storetest holds
// the contract every backend is tested against.
//
// [Collection.Mutate] reads a document, applies a change and writes it back
// conditioned on the version it read. Losing the race re-runs the change up
// to [Config.MaxConflictRetries] times. [Collection.Overwrite] skips the
// check and can lose a concurrent update.
//
// Backend failures are reported through [ErrNotFound], [ErrAlreadyExists],
// [ErrConcurrentModification], [ErrDuplicateValue] and [ErrUnavailable].
package store
