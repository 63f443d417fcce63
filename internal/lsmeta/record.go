package lsmeta

import (
	"fmt"
	"log/slog"

	"github.com/TOMATOFGY/oceanbase/internal/hastatus"
	"github.com/TOMATOFGY/oceanbase/internal/idmeta"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// Record is the plain value of a log stream metadata record.
//
// A Record carries no lock. Meta owns one and hands out copies; the
// SlogWriter receives the post-mutation copy.
type Record struct {
	TenantID     share.TenantID
	LSID         share.LSID
	ReplicaType  share.ReplicaType
	CreateStatus share.CreateStatus

	// All log entries with a timestamp below ClogCheckpointSCN are flushed
	// by every module and may be recycled.
	ClogCheckpointSCN share.SCN
	// Replay starts at ClogBaseLSN; the entry there has a timestamp no
	// greater than ClogCheckpointSCN.
	ClogBaseLSN share.LSN

	RebuildSeq      int64
	MigrationStatus hastatus.MigrationStatus
	GCState         hastatus.GCState
	OfflineSCN      share.SCN
	RestoreStatus   hastatus.RestoreStatus

	ReplayableSCN             share.SCN
	TabletChangeCheckpointSCN share.SCN

	IDMeta    idmeta.AllIDMeta
	SavedInfo *SavedInfo
}

// SavedInfo is the minimal state needed to resume a stream without replaying
// its full history.
type SavedInfo struct {
	ClogCheckpointSCN         share.SCN
	ClogBaseLSN               share.LSN
	TabletChangeCheckpointSCN share.SCN
}

// IsValid reports whether every position in s is set.
func (s SavedInfo) IsValid() bool {
	return s.ClogCheckpointSCN.IsValid() && s.ClogBaseLSN.IsValid() && s.TabletChangeCheckpointSCN.IsValid()
}

// DeriveSavedInfo captures the resumable positions of r.
func DeriveSavedInfo(r Record) SavedInfo {
	return SavedInfo{
		ClogCheckpointSCN:         r.ClogCheckpointSCN,
		ClogBaseLSN:               r.ClogBaseLSN,
		TabletChangeCheckpointSCN: r.TabletChangeCheckpointSCN,
	}
}

func emptyRecord() Record {
	return Record{
		TenantID:                  share.InvalidTenantID,
		LSID:                      share.InvalidLSID,
		ReplicaType:               share.ReplicaInvalid,
		CreateStatus:              share.CreateInvalid,
		ClogCheckpointSCN:         share.InvalidSCN,
		ClogBaseLSN:               share.InvalidLSN,
		MigrationStatus:           hastatus.MigrationNone,
		GCState:                   hastatus.GCNormal,
		OfflineSCN:                share.InvalidSCN,
		RestoreStatus:             hastatus.RestoreNone,
		ReplayableSCN:             share.InvalidSCN,
		TabletChangeCheckpointSCN: share.InvalidSCN,
		IDMeta:                    idmeta.New(),
	}
}

// Key returns the stream identity of r.
func (r Record) Key() share.StreamKey {
	return share.StreamKey{TenantID: r.TenantID, LSID: r.LSID}
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	c := r
	if r.SavedInfo != nil {
		si := *r.SavedInfo
		c.SavedInfo = &si
	}
	return c
}

// Validate checks that identity fields are set and every field holds a
// well-formed value. It is used on records read back from the durable log.
func (r Record) Validate() error {
	const op = "validate"
	switch {
	case !r.TenantID.IsValid():
		return newError(ErrInvalidArgument, op, "tenant id unset")
	case !r.LSID.IsValid():
		return newError(ErrInvalidArgument, op, "ls id %d invalid", r.LSID)
	case !r.ReplicaType.IsValid():
		return newError(ErrInvalidArgument, op, "replica type %s invalid", r.ReplicaType)
	case !r.CreateStatus.IsValid():
		return newError(ErrInvalidArgument, op, "create status %s invalid", r.CreateStatus)
	case !r.ClogCheckpointSCN.IsValid() || !r.ClogBaseLSN.IsValid():
		return newError(ErrInvalidArgument, op, "clog checkpoint (%s, %s) invalid", r.ClogBaseLSN, r.ClogCheckpointSCN)
	case r.RebuildSeq < 0:
		return newError(ErrInvalidArgument, op, "rebuild seq %d negative", r.RebuildSeq)
	case !r.MigrationStatus.IsValid() || !r.GCState.IsValid() || !r.RestoreStatus.IsValid():
		return newError(ErrInvalidArgument, op, "lifecycle state (%s, %s, %s) invalid",
			r.MigrationStatus, r.GCState, r.RestoreStatus)
	case r.OfflineSCN < share.InvalidSCN:
		return newError(ErrInvalidArgument, op, "offline scn %d invalid", r.OfflineSCN)
	case !r.ReplayableSCN.IsValid() || !r.TabletChangeCheckpointSCN.IsValid():
		return newError(ErrInvalidArgument, op, "replayable %s or tablet checkpoint %s invalid",
			r.ReplayableSCN, r.TabletChangeCheckpointSCN)
	case r.SavedInfo != nil && !r.SavedInfo.IsValid():
		return newError(ErrInvalidArgument, op, "saved info invalid")
	}
	if err := r.IDMeta.Validate(); err != nil {
		return wrapError(ErrInvalidArgument, op, err)
	}
	return nil
}

// mergeRecord computes the result of merging src into cur. Watermarks take
// the maximum of both sides; restore status is copied from src when
// updateRestore is set. Migration, gc and offline fields are local.
func mergeRecord(cur, src Record, updateRestore bool) Record {
	out := cur.Clone()
	if src.ClogBaseLSN > out.ClogBaseLSN {
		out.ClogBaseLSN = src.ClogBaseLSN
	}
	out.ClogCheckpointSCN = share.MaxSCN(out.ClogCheckpointSCN, src.ClogCheckpointSCN)
	out.ReplayableSCN = share.MaxSCN(out.ReplayableSCN, src.ReplayableSCN)
	out.TabletChangeCheckpointSCN = share.MaxSCN(out.TabletChangeCheckpointSCN, src.TabletChangeCheckpointSCN)
	out.RebuildSeq = max(out.RebuildSeq, src.RebuildSeq)
	out.IDMeta = out.IDMeta.Merge(src.IDMeta)
	if updateRestore {
		out.RestoreStatus = src.RestoreStatus
	}
	return out
}

func (r Record) String() string {
	saved := "<nil>"
	if r.SavedInfo != nil {
		saved = fmt.Sprintf("{checkpoint=%s base_lsn=%s tablet=%s}",
			r.SavedInfo.ClogCheckpointSCN, r.SavedInfo.ClogBaseLSN, r.SavedInfo.TabletChangeCheckpointSCN)
	}
	return fmt.Sprintf("tenant_id=%d ls_id=%d replica_type=%s create_status=%s "+
		"clog_checkpoint_scn=%s clog_base_lsn=%s rebuild_seq=%d migration_status=%s "+
		"gc_state=%s offline_scn=%s restore_status=%s replayable_scn=%s "+
		"tablet_change_checkpoint_scn=%s id_meta=%v saved_info=%s",
		r.TenantID, r.LSID, r.ReplicaType, r.CreateStatus,
		r.ClogCheckpointSCN, r.ClogBaseLSN, r.RebuildSeq, r.MigrationStatus,
		r.GCState, r.OfflineSCN, r.RestoreStatus, r.ReplayableSCN,
		r.TabletChangeCheckpointSCN, r.IDMeta.Map(), saved)
}

// LogValue implements slog.LogValuer.
func (r Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("tenant_id", uint64(r.TenantID)),
		slog.Int64("ls_id", int64(r.LSID)),
		slog.String("replica_type", r.ReplicaType.String()),
		slog.String("create_status", r.CreateStatus.String()),
		slog.String("clog_checkpoint_scn", r.ClogCheckpointSCN.String()),
		slog.String("clog_base_lsn", r.ClogBaseLSN.String()),
		slog.Int64("rebuild_seq", r.RebuildSeq),
		slog.String("migration_status", r.MigrationStatus.String()),
		slog.String("gc_state", r.GCState.String()),
		slog.String("restore_status", r.RestoreStatus.String()),
		slog.Bool("has_saved_info", r.SavedInfo != nil),
	)
}
