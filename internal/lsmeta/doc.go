// Package lsmeta implements the metadata record of one log stream replica.
//
// A Meta tracks where the replica's write-ahead log may be truncated
// (the clog checkpoint pair), its lifecycle states (migration, gc, restore),
// the rebuild epoch, and the ID allocation watermarks of the stream.
//
// Concurrency: every operation acquires one record-level mutex for its full
// duration, including the durable log write. Hold times are measured and a
// warning is logged when a critical section exceeds the configured
// threshold.
//
// Durability: mutations are staged on a copy of the record, written to the
// SlogWriter, and only then applied. If the write fails the operation
// returns ErrLogPersistFailed and the in-memory record is unchanged.
//
// The SlogWriter must not call back into the Meta that invoked it.
package lsmeta
