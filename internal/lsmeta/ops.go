package lsmeta

import (
	"errors"

	"github.com/TOMATOFGY/oceanbase/internal/hastatus"
	"github.com/TOMATOFGY/oceanbase/internal/idmeta"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// Identity reads.

// TenantID returns the owning tenant.
func (m *Meta) TenantID() share.TenantID {
	g := m.lock("get_tenant_id")
	defer g.unlock()
	return m.rec.TenantID
}

// LSID returns the log stream id.
func (m *Meta) LSID() share.LSID {
	g := m.lock("get_ls_id")
	defer g.unlock()
	return m.rec.LSID
}

// ReplicaType returns the replica type fixed at init.
func (m *Meta) ReplicaType() share.ReplicaType {
	g := m.lock("get_replica_type")
	defer g.unlock()
	return m.rec.ReplicaType
}

// CreateStatus returns the creation lifecycle status.
func (m *Meta) CreateStatus() share.CreateStatus {
	g := m.lock("get_create_status")
	defer g.unlock()
	return m.rec.CreateStatus
}

// SetCreateStatus moves the record through Creating, Created and Removed.
// The status never moves backwards.
func (m *Meta) SetCreateStatus(status share.CreateStatus) error {
	g := m.lock("set_create_status")
	defer g.unlock()

	if !m.initialized {
		return m.reject(newError(ErrNotInitialized, g.op, ""))
	}
	if !status.IsValid() {
		return m.reject(newError(ErrInvalidArgument, g.op, "create status %s", status))
	}
	if status < m.rec.CreateStatus {
		return m.reject(newError(ErrInvalidState, g.op, "create status %s -> %s", m.rec.CreateStatus, status))
	}
	staged := m.rec.Clone()
	staged.CreateStatus = status
	return m.commit(g, staged, true)
}

// Clog checkpoint.

// ClogCheckpointSCN returns the checkpoint timestamp.
func (m *Meta) ClogCheckpointSCN() share.SCN {
	g := m.lock("get_clog_checkpoint_scn")
	defer g.unlock()
	return m.rec.ClogCheckpointSCN
}

// ClogBaseLSN returns the position replay starts from.
func (m *Meta) ClogBaseLSN() share.LSN {
	g := m.lock("get_clog_base_lsn")
	defer g.unlock()
	return m.rec.ClogBaseLSN
}

// SetClogCheckpoint advances the checkpoint pair. Neither the base position
// nor the checkpoint timestamp may move backwards.
func (m *Meta) SetClogCheckpoint(baseLSN share.LSN, checkpointSCN share.SCN, persist bool) error {
	g := m.lock("set_clog_checkpoint")
	defer g.unlock()

	if err := m.checkWritable(g.op); err != nil {
		return m.reject(err)
	}
	if !baseLSN.IsValid() || !checkpointSCN.IsValid() {
		return m.reject(newError(ErrInvalidArgument, g.op, "lsn=%s scn=%s", baseLSN, checkpointSCN))
	}
	if baseLSN < m.rec.ClogBaseLSN {
		return m.reject(newError(ErrInvalidState, g.op,
			"base lsn %s below current %s", baseLSN, m.rec.ClogBaseLSN))
	}
	if checkpointSCN < m.rec.ClogCheckpointSCN {
		return m.reject(newError(ErrInvalidState, g.op,
			"checkpoint scn %s below current %s", checkpointSCN, m.rec.ClogCheckpointSCN))
	}
	if err := m.checkPositionClock(g.op, baseLSN, checkpointSCN); err != nil {
		return m.reject(err)
	}

	staged := m.rec.Clone()
	staged.ClogBaseLSN = baseLSN
	staged.ClogCheckpointSCN = checkpointSCN
	return m.commit(g, staged, persist)
}

// RebuildSeq returns the rebuild epoch.
func (m *Meta) RebuildSeq() int64 {
	g := m.lock("get_rebuild_seq")
	defer g.unlock()
	return m.rec.RebuildSeq
}

// Lifecycle states.

// MigrationStatus returns the migration state.
func (m *Meta) MigrationStatus() hastatus.MigrationStatus {
	g := m.lock("get_migration_status")
	defer g.unlock()
	return m.rec.MigrationStatus
}

// SetMigrationStatus moves the migration state along the policy table.
func (m *Meta) SetMigrationStatus(status hastatus.MigrationStatus, persist bool) error {
	g := m.lock("set_migration_status")
	defer g.unlock()

	if err := m.checkWritable(g.op); err != nil {
		return m.reject(err)
	}
	if !status.IsValid() {
		return m.reject(newError(ErrInvalidArgument, g.op, "migration status %s", status))
	}
	if err := m.policy.CheckMigration(m.rec.MigrationStatus, status); err != nil {
		return m.reject(wrapError(ErrInvalidTransition, g.op, err))
	}
	staged := m.rec.Clone()
	staged.MigrationStatus = status
	return m.commit(g, staged, persist)
}

// GCState returns the garbage collection state.
func (m *Meta) GCState() hastatus.GCState {
	g := m.lock("get_gc_state")
	defer g.unlock()
	return m.rec.GCState
}

// SetGCState moves the gc state along the policy table.
func (m *Meta) SetGCState(state hastatus.GCState) error {
	g := m.lock("set_gc_state")
	defer g.unlock()

	if err := m.checkWritable(g.op); err != nil {
		return m.reject(err)
	}
	if !state.IsValid() {
		return m.reject(newError(ErrInvalidArgument, g.op, "gc state %s", state))
	}
	if err := m.policy.CheckGC(m.rec.GCState, state); err != nil {
		return m.reject(wrapError(ErrInvalidTransition, g.op, err))
	}
	staged := m.rec.Clone()
	staged.GCState = state
	return m.commit(g, staged, true)
}

// OfflineSCN returns the time the replica went offline, or InvalidSCN.
func (m *Meta) OfflineSCN() share.SCN {
	g := m.lock("get_offline_scn")
	defer g.unlock()
	return m.rec.OfflineSCN
}

// SetOfflineSCN records the time the replica went offline.
func (m *Meta) SetOfflineSCN(scn share.SCN) error {
	g := m.lock("set_offline_scn")
	defer g.unlock()

	if err := m.checkWritable(g.op); err != nil {
		return m.reject(err)
	}
	if !scn.IsValid() {
		return m.reject(newError(ErrInvalidArgument, g.op, "offline scn %s", scn))
	}
	staged := m.rec.Clone()
	staged.OfflineSCN = scn
	return m.commit(g, staged, true)
}

// RestoreStatus returns the restore state.
func (m *Meta) RestoreStatus() hastatus.RestoreStatus {
	g := m.lock("get_restore_status")
	defer g.unlock()
	return m.rec.RestoreStatus
}

// SetRestoreStatus moves the restore state along the policy table.
func (m *Meta) SetRestoreStatus(status hastatus.RestoreStatus) error {
	g := m.lock("set_restore_status")
	defer g.unlock()

	if err := m.checkWritable(g.op); err != nil {
		return m.reject(err)
	}
	if !status.IsValid() {
		return m.reject(newError(ErrInvalidArgument, g.op, "restore status %s", status))
	}
	if err := m.policy.CheckRestore(m.rec.RestoreStatus, status); err != nil {
		return m.reject(wrapError(ErrInvalidTransition, g.op, err))
	}
	staged := m.rec.Clone()
	staged.RestoreStatus = status
	return m.commit(g, staged, true)
}

// MigrationAndRestoreStatus reads both states under one acquisition.
func (m *Meta) MigrationAndRestoreStatus() (hastatus.MigrationStatus, hastatus.RestoreStatus) {
	g := m.lock("get_migration_and_restore_status")
	defer g.unlock()
	return m.rec.MigrationStatus, m.rec.RestoreStatus
}

// ReplayableSCN returns the highest point known safe to replay.
func (m *Meta) ReplayableSCN() share.SCN {
	g := m.lock("get_replayable_scn")
	defer g.unlock()
	return m.rec.ReplayableSCN
}

// UpdateReplayableSCN raises the replayable point.
func (m *Meta) UpdateReplayableSCN(scn share.SCN) error {
	g := m.lock("update_replayable_scn")
	defer g.unlock()

	if err := m.checkWritable(g.op); err != nil {
		return m.reject(err)
	}
	if !scn.IsValid() {
		return m.reject(newError(ErrInvalidArgument, g.op, "replayable scn %s", scn))
	}
	if scn < m.rec.ReplayableSCN {
		return m.reject(newError(ErrInvalidState, g.op,
			"replayable scn %s below current %s", scn, m.rec.ReplayableSCN))
	}
	staged := m.rec.Clone()
	staged.ReplayableSCN = scn
	return m.commit(g, staged, true)
}

// TabletChangeCheckpointSCN returns the tablet membership checkpoint.
func (m *Meta) TabletChangeCheckpointSCN() share.SCN {
	g := m.lock("get_tablet_change_checkpoint_scn")
	defer g.unlock()
	return m.rec.TabletChangeCheckpointSCN
}

// SetTabletChangeCheckpointSCN raises the tablet membership checkpoint.
func (m *Meta) SetTabletChangeCheckpointSCN(scn share.SCN) error {
	g := m.lock("set_tablet_change_checkpoint_scn")
	defer g.unlock()

	if err := m.checkWritable(g.op); err != nil {
		return m.reject(err)
	}
	if !scn.IsValid() {
		return m.reject(newError(ErrInvalidArgument, g.op, "tablet change checkpoint scn %s", scn))
	}
	if scn < m.rec.TabletChangeCheckpointSCN {
		return m.reject(newError(ErrInvalidState, g.op,
			"tablet change checkpoint scn %s below current %s", scn, m.rec.TabletChangeCheckpointSCN))
	}
	staged := m.rec.Clone()
	staged.TabletChangeCheckpointSCN = scn
	return m.commit(g, staged, true)
}

// Migration and rebuild.

// UpdateLSMeta merges src into the record. Watermarks move to the maximum of
// both records, so applying the same src twice is a no-op. The restore
// status is taken from src only when updateRestore is set.
func (m *Meta) UpdateLSMeta(updateRestore bool, src Record) error {
	g := m.lock("update_ls_meta")
	defer g.unlock()

	if err := m.checkWritable(g.op); err != nil {
		return m.reject(err)
	}
	if src.Key() != m.rec.Key() {
		return m.reject(newError(ErrInvalidArgument, g.op,
			"source ls %s does not match %s", src.Key(), m.rec.Key()))
	}
	if err := src.Validate(); err != nil {
		return m.reject(wrapError(ErrInvalidArgument, g.op, err))
	}
	merged := mergeRecord(m.rec, src, updateRestore)
	if err := m.checkPositionClock(g.op, merged.ClogBaseLSN, merged.ClogCheckpointSCN); err != nil {
		return m.reject(err)
	}
	return m.commit(g, merged, true)
}

// MarkForRebuild moves the replica to Rebuilding and starts a new rebuild
// epoch. It is always persisted.
func (m *Meta) MarkForRebuild() error {
	g := m.lock("mark_for_rebuild")
	defer g.unlock()

	if err := m.checkWritable(g.op); err != nil {
		return m.reject(err)
	}
	if err := m.policy.CheckMigration(m.rec.MigrationStatus, hastatus.MigrationRebuilding); err != nil {
		return m.reject(wrapError(ErrInvalidTransition, g.op, err))
	}
	staged := m.rec.Clone()
	staged.MigrationStatus = hastatus.MigrationRebuilding
	staged.RebuildSeq++
	return m.commit(g, staged, true)
}

// CheckValidForBackup returns nil when a backup may be taken: the replica is
// neither migrating nor restoring, is not being collected, and its
// checkpoint pair is set.
func (m *Meta) CheckValidForBackup() error {
	g := m.lock("check_valid_for_backup")
	defer g.unlock()

	r := m.rec
	switch {
	case !m.initialized:
		return m.reject(newError(ErrNotBackupable, g.op, "not initialized"))
	case r.CreateStatus != share.CreateCreating && r.CreateStatus != share.CreateCreated:
		return m.reject(newError(ErrNotBackupable, g.op, "create status %s", r.CreateStatus))
	case !hastatus.IsQuiescent(r.MigrationStatus, r.RestoreStatus):
		return m.reject(newError(ErrNotBackupable, g.op,
			"migration %s restore %s", r.MigrationStatus, r.RestoreStatus))
	case r.GCState != hastatus.GCNormal:
		return m.reject(newError(ErrNotBackupable, g.op, "gc state %s", r.GCState))
	case !r.ClogCheckpointSCN.IsValid() || !r.ClogBaseLSN.IsValid():
		return m.reject(newError(ErrNotBackupable, g.op, "clog checkpoint unset"))
	}
	if err := m.checkPositionClock(g.op, r.ClogBaseLSN, r.ClogCheckpointSCN); err != nil {
		return m.reject(newError(ErrNotBackupable, g.op, "checkpoint pair: %s", err.detail()))
	}
	return nil
}

// ID allocation.

// IDMeta returns the watermark of one ID service.
func (m *Meta) IDMeta(svc idmeta.ServiceType) (idmeta.IDMeta, error) {
	g := m.lock("get_id_meta")
	defer g.unlock()

	meta, err := m.rec.IDMeta.Get(svc)
	if err != nil {
		return idmeta.IDMeta{}, m.reject(wrapError(ErrInvalidArgument, g.op, err))
	}
	return meta, nil
}

// UpdateIDMeta advances the watermark of one ID service.
func (m *Meta) UpdateIDMeta(svc idmeta.ServiceType, limitedID int64, latestLogTS share.SCN, persist bool) error {
	g := m.lock("update_id_meta")
	defer g.unlock()

	if err := m.checkWritable(g.op); err != nil {
		return m.reject(err)
	}
	staged := m.rec.Clone()
	if err := staged.IDMeta.Update(svc, limitedID, latestLogTS); err != nil {
		return m.reject(idMetaError(g.op, err))
	}
	return m.commit(g, staged, persist)
}

// AdvanceIDServices asks every registered ID service for its next watermark
// and persists all of them in one entry. The services may hand out the new
// IDs only after the entry is durable; a rejected or failed advance reserves
// nothing. With no services registered it is a no-op.
func (m *Meta) AdvanceIDServices() error {
	g := m.lock("advance_id_services")
	defer g.unlock()

	if err := m.checkWritable(g.op); err != nil {
		return m.reject(err)
	}
	if len(m.idServices) == 0 {
		return nil
	}
	staged := m.rec.Clone()
	for _, svc := range m.idServices {
		durable, err := staged.IDMeta.Get(svc.ServiceType())
		if err != nil {
			return m.reject(idMetaError(g.op, err))
		}
		limit, ts := svc.ProposeWatermark(durable)
		if err := staged.IDMeta.Update(svc.ServiceType(), limit, ts); err != nil {
			return m.reject(idMetaError(g.op, err))
		}
	}
	prev, err := m.writeAndApply(g, staged, true)
	if err != nil {
		return err
	}
	// Services learn of their new range only once it is durable.
	for _, svc := range m.idServices {
		if from, to, moved := idMetaMoved(prev, staged, svc.ServiceType()); moved {
			svc.Reserved(from, to)
		}
	}
	return nil
}

func idMetaError(op string, err error) *MetaError {
	if errors.Is(err, idmeta.ErrWatermarkRegression) {
		return wrapError(ErrInvalidState, op, err)
	}
	return wrapError(ErrInvalidArgument, op, err)
}

// Saved info.

// SavedInfo returns the saved snapshot, or ErrNotFound if none is present.
func (m *Meta) SavedInfo() (SavedInfo, error) {
	g := m.lock("get_saved_info")
	defer g.unlock()

	if m.rec.SavedInfo == nil {
		return SavedInfo{}, m.reject(newError(ErrNotFound, g.op, "no saved info"))
	}
	return *m.rec.SavedInfo, nil
}

// BuildSavedInfo captures the current positions as the saved snapshot,
// replacing any previous one. The replica must be quiescent.
func (m *Meta) BuildSavedInfo() error {
	g := m.lock("build_saved_info")
	defer g.unlock()

	if err := m.checkWritable(g.op); err != nil {
		return m.reject(err)
	}
	if !hastatus.IsQuiescent(m.rec.MigrationStatus, m.rec.RestoreStatus) {
		return m.reject(newError(ErrInvalidState, g.op,
			"migration %s restore %s", m.rec.MigrationStatus, m.rec.RestoreStatus))
	}
	staged := m.rec.Clone()
	si := DeriveSavedInfo(staged)
	staged.SavedInfo = &si
	return m.commit(g, staged, true)
}

// SetSavedInfo installs a snapshot received from elsewhere.
func (m *Meta) SetSavedInfo(si SavedInfo) error {
	g := m.lock("set_saved_info")
	defer g.unlock()

	if err := m.checkWritable(g.op); err != nil {
		return m.reject(err)
	}
	if !si.IsValid() {
		return m.reject(newError(ErrInvalidArgument, g.op, "saved info has unset positions"))
	}
	staged := m.rec.Clone()
	staged.SavedInfo = &si
	return m.commit(g, staged, true)
}

// ClearSavedInfo removes the saved snapshot. Clearing an absent snapshot
// succeeds without writing.
func (m *Meta) ClearSavedInfo() error {
	g := m.lock("clear_saved_info")
	defer g.unlock()

	if err := m.checkWritable(g.op); err != nil {
		return m.reject(err)
	}
	if m.rec.SavedInfo == nil {
		return nil
	}
	staged := m.rec.Clone()
	staged.SavedInfo = nil
	return m.commit(g, staged, true)
}
