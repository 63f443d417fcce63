package hastatus

import "fmt"

// MigrationStatus is the lifecycle state of a replica migration or rebuild.
type MigrationStatus int

const (
	MigrationNone MigrationStatus = iota
	MigrationPendingAdd
	MigrationMigrating
	MigrationMigrateFailed
	MigrationRebuilding
	MigrationRebuildFailed
	MigrationWaitGC
	migrationStatusMax
)

var migrationStatusNames = [...]string{
	MigrationNone:          "NONE",
	MigrationPendingAdd:    "PENDING_ADD",
	MigrationMigrating:     "MIGRATING",
	MigrationMigrateFailed: "MIGRATE_FAILED",
	MigrationRebuilding:    "REBUILDING",
	MigrationRebuildFailed: "REBUILD_FAILED",
	MigrationWaitGC:        "WAIT_GC",
}

// IsValid reports whether s is a known migration status.
func (s MigrationStatus) IsValid() bool {
	return s >= MigrationNone && s < migrationStatusMax
}

func (s MigrationStatus) String() string {
	if !s.IsValid() {
		return fmt.Sprintf("MigrationStatus(%d)", int(s))
	}
	return migrationStatusNames[s]
}

// ParseMigrationStatus converts a name such as "PENDING_ADD" into a MigrationStatus.
func ParseMigrationStatus(name string) (MigrationStatus, error) {
	for i := MigrationNone; i < migrationStatusMax; i++ {
		if migrationStatusNames[i] == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("unknown migration status %q", name)
}

// GCState is the garbage-collection eligibility of a replica.
type GCState int

const (
	GCNormal GCState = iota
	GCWaitGC
	GCInGC
	gcStateMax
)

var gcStateNames = [...]string{
	GCNormal: "NORMAL",
	GCWaitGC: "WAIT_GC",
	GCInGC:   "IN_GC",
}

// IsValid reports whether s is a known GC state.
func (s GCState) IsValid() bool {
	return s >= GCNormal && s < gcStateMax
}

func (s GCState) String() string {
	if !s.IsValid() {
		return fmt.Sprintf("GCState(%d)", int(s))
	}
	return gcStateNames[s]
}

// ParseGCState converts a name such as "WAIT_GC" into a GCState.
func ParseGCState(name string) (GCState, error) {
	for i := GCNormal; i < gcStateMax; i++ {
		if gcStateNames[i] == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("unknown gc state %q", name)
}

// RestoreStatus is the lifecycle state of a restore-from-backup operation.
type RestoreStatus int

const (
	RestoreNone RestoreStatus = iota
	RestoreWaitRestore
	RestoreRestoring
	RestoreFailed
	RestoreDone
	restoreStatusMax
)

var restoreStatusNames = [...]string{
	RestoreNone:        "NONE",
	RestoreWaitRestore: "WAIT_RESTORE",
	RestoreRestoring:   "RESTORING",
	RestoreFailed:      "RESTORE_FAILED",
	RestoreDone:        "RESTORE_DONE",
}

// IsValid reports whether s is a known restore status.
func (s RestoreStatus) IsValid() bool {
	return s >= RestoreNone && s < restoreStatusMax
}

func (s RestoreStatus) String() string {
	if !s.IsValid() {
		return fmt.Sprintf("RestoreStatus(%d)", int(s))
	}
	return restoreStatusNames[s]
}

// ParseRestoreStatus converts a name such as "RESTORING" into a RestoreStatus.
func ParseRestoreStatus(name string) (RestoreStatus, error) {
	for i := RestoreNone; i < restoreStatusMax; i++ {
		if restoreStatusNames[i] == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("unknown restore status %q", name)
}

// IsQuiescent reports whether a replica in these states is neither being
// migrated nor restored.
func IsQuiescent(m MigrationStatus, r RestoreStatus) bool {
	return m == MigrationNone && (r == RestoreNone || r == RestoreDone)
}
