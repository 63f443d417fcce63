// Package store provides the SQLite-backed durable log for ls meta records.
//
// Every committed mutation appends one row holding the full encoded record
// of its stream. Rows are ordered by an autoincrement seq, so the newest
// row per (tenant_id, ls_id) is the state to recover.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Tenant IDs are stored as their int64 bit pattern; SQLite integers are
// signed.
package store
