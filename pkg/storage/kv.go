package storage

// KV is the key-value storage the ledger, order store, and registry run on.
// Production uses Pebble; tests use the in-memory implementation. Batches
// commit atomically: settlement relies on this for its all-or-nothing writes.
type KV interface {
	// Get returns the value for key, with found=false for absent keys.
	Get(key []byte) (val []byte, found bool, err error)
	Set(key, val []byte) error
	Has(key []byte) (bool, error)
	// NewBatch returns a write batch. Staged writes become visible only
	// after Commit, all together or not at all.
	NewBatch() Batch
	Close() error
}

type Batch interface {
	Set(key, val []byte) error
	Commit() error
	// Close discards the batch without committing. Safe after Commit.
	Close() error
}
