// Package hastatus defines the lifecycle states of a log stream replica and
// the policy that decides which moves between them are legal.
//
// Three independent machines are modelled:
//   - migration: replica relocation and rebuild from a peer
//   - gc: eligibility for garbage collection
//   - restore: restore from backup
//
// The adjacency tables are data, not control flow. DefaultPolicy returns the
// built-in tables; LoadPolicy and LoadPolicyFile read replacement tables from
// a CUE document validated against the embedded schema.cue.
package hastatus
