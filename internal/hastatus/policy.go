package hastatus

import (
	"fmt"
	"slices"
)

// Machine names the state machine a transition belongs to.
type Machine string

const (
	MachineMigration Machine = "migration"
	MachineGC        Machine = "gc"
	MachineRestore   Machine = "restore"
)

// TransitionError reports a move that the policy does not allow.
type TransitionError struct {
	Machine Machine
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: transition %s -> %s not allowed", e.Machine, e.From, e.To)
}

// Policy holds the adjacency tables for the three lifecycle machines.
//
// Tables are plain data: each key lists the states reachable from it in one
// step. A state with a row is always allowed to transition to itself, so
// re-asserting the current state succeeds. A state with no row cannot be
// moved out of or into.
type Policy struct {
	Migration map[MigrationStatus][]MigrationStatus
	GC        map[GCState][]GCState
	Restore   map[RestoreStatus][]RestoreStatus
}

// DefaultPolicy returns the built-in transition tables.
//
// embedded default.cue describes the same tables and is checked against
// this function in tests.
func DefaultPolicy() *Policy {
	return &Policy{
		Migration: map[MigrationStatus][]MigrationStatus{
			MigrationNone:          {MigrationPendingAdd, MigrationRebuilding, MigrationWaitGC},
			MigrationPendingAdd:    {MigrationMigrating, MigrationMigrateFailed},
			MigrationMigrating:     {MigrationNone, MigrationMigrateFailed},
			MigrationMigrateFailed: {MigrationWaitGC},
			MigrationRebuilding:    {MigrationNone, MigrationRebuildFailed},
			MigrationRebuildFailed: {MigrationRebuilding, MigrationWaitGC},
			MigrationWaitGC:        {},
		},
		GC: map[GCState][]GCState{
			GCNormal: {GCWaitGC},
			GCWaitGC: {GCInGC},
			GCInGC:   {},
		},
		Restore: map[RestoreStatus][]RestoreStatus{
			RestoreNone:        {RestoreWaitRestore},
			RestoreWaitRestore: {RestoreRestoring, RestoreFailed},
			RestoreRestoring:   {RestoreDone, RestoreFailed},
			RestoreDone:        {RestoreNone},
			RestoreFailed:      {RestoreWaitRestore},
		},
	}
}

// CheckMigration returns a *TransitionError if from -> to is not allowed.
func (p *Policy) CheckMigration(from, to MigrationStatus) error {
	if !canTransit(p.Migration, from, to) {
		return &TransitionError{Machine: MachineMigration, From: from.String(), To: to.String()}
	}
	return nil
}

// CheckGC returns a *TransitionError if from -> to is not allowed.
func (p *Policy) CheckGC(from, to GCState) error {
	if !canTransit(p.GC, from, to) {
		return &TransitionError{Machine: MachineGC, From: from.String(), To: to.String()}
	}
	return nil
}

// CheckRestore returns a *TransitionError if from -> to is not allowed.
func (p *Policy) CheckRestore(from, to RestoreStatus) error {
	if !canTransit(p.Restore, from, to) {
		return &TransitionError{Machine: MachineRestore, From: from.String(), To: to.String()}
	}
	return nil
}

func canTransit[S comparable](table map[S][]S, from, to S) bool {
	next, ok := table[from]
	if !ok {
		return false
	}
	if from == to {
		return true
	}
	if _, ok := table[to]; !ok {
		return false
	}
	return slices.Contains(next, to)
}
