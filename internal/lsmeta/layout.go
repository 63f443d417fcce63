package lsmeta

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/TOMATOFGY/oceanbase/internal/codec"
	"github.com/TOMATOFGY/oceanbase/internal/hastatus"
	"github.com/TOMATOFGY/oceanbase/internal/idmeta"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// LayoutVersion is the version of the persisted record layout.
const LayoutVersion = 1

const checksumDomain = "lsmeta/meta/v1"

// Encoded is the persisted form of a Record.
type Encoded struct {
	Version  int
	Payload  []byte
	Checksum string
}

type idMetaDoc struct {
	LimitedID   int64 `json:"limited_id"`
	LatestLogTS int64 `json:"latest_log_ts"`
}

type savedInfoDoc struct {
	ClogCheckpointSCN         int64  `json:"clog_checkpoint_scn"`
	ClogBaseLSN               uint64 `json:"clog_base_lsn"`
	TabletChangeCheckpointSCN int64  `json:"tablet_change_checkpoint_scn"`
}

type recordDoc struct {
	TenantID                  uint64               `json:"tenant_id"`
	LSID                      int64                `json:"ls_id"`
	ReplicaType               string               `json:"replica_type"`
	CreateStatus              string               `json:"create_status"`
	ClogCheckpointSCN         int64                `json:"clog_checkpoint_scn"`
	ClogBaseLSN               uint64               `json:"clog_base_lsn"`
	RebuildSeq                int64                `json:"rebuild_seq"`
	MigrationStatus           string               `json:"migration_status"`
	GCState                   string               `json:"gc_state"`
	OfflineSCN                int64                `json:"offline_scn"`
	RestoreStatus             string               `json:"restore_status"`
	ReplayableSCN             int64                `json:"replayable_scn"`
	TabletChangeCheckpointSCN int64                `json:"tablet_change_checkpoint_scn"`
	IDMeta                    map[string]idMetaDoc `json:"id_meta"`
	SavedInfo                 *savedInfoDoc        `json:"saved_info,omitempty"`
}

// RecordMap returns the persisted field map of r, the value EncodeRecord
// serialises.
func RecordMap(r Record) map[string]any {
	ids := make(map[string]any)
	for name, meta := range r.IDMeta.Map() {
		ids[name] = map[string]any{
			"limited_id":    meta.LimitedID,
			"latest_log_ts": int64(meta.LatestLogTS),
		}
	}
	doc := map[string]any{
		"tenant_id":                    uint64(r.TenantID),
		"ls_id":                        int64(r.LSID),
		"replica_type":                 r.ReplicaType.String(),
		"create_status":                r.CreateStatus.String(),
		"clog_checkpoint_scn":          int64(r.ClogCheckpointSCN),
		"clog_base_lsn":                uint64(r.ClogBaseLSN),
		"rebuild_seq":                  r.RebuildSeq,
		"migration_status":             r.MigrationStatus.String(),
		"gc_state":                     r.GCState.String(),
		"offline_scn":                  int64(r.OfflineSCN),
		"restore_status":               r.RestoreStatus.String(),
		"replayable_scn":               int64(r.ReplayableSCN),
		"tablet_change_checkpoint_scn": int64(r.TabletChangeCheckpointSCN),
		"id_meta":                      ids,
	}
	if r.SavedInfo != nil {
		doc["saved_info"] = map[string]any{
			"clog_checkpoint_scn":          int64(r.SavedInfo.ClogCheckpointSCN),
			"clog_base_lsn":                uint64(r.SavedInfo.ClogBaseLSN),
			"tablet_change_checkpoint_scn": int64(r.SavedInfo.TabletChangeCheckpointSCN),
		}
	}
	return doc
}

// EncodeRecord serialises r as canonical JSON and checksums it.
func EncodeRecord(r Record) (Encoded, error) {
	payload, err := codec.MarshalCanonical(RecordMap(r))
	if err != nil {
		return Encoded{}, fmt.Errorf("encode ls meta %s: %w", r.Key(), err)
	}
	return Encoded{
		Version:  LayoutVersion,
		Payload:  payload,
		Checksum: codec.Checksum(checksumDomain, payload),
	}, nil
}

// DecodeRecord verifies and decodes an Encoded record. Any corruption is
// reported as ErrInvalidArgument; nothing is repaired.
func DecodeRecord(e Encoded) (Record, error) {
	const op = "decode"
	if e.Version != LayoutVersion {
		return Record{}, newError(ErrInvalidArgument, op, "unsupported layout version %d", e.Version)
	}
	if sum := codec.Checksum(checksumDomain, e.Payload); sum != e.Checksum {
		return Record{}, newError(ErrInvalidArgument, op, "checksum mismatch: got %s want %s", sum, e.Checksum)
	}

	var doc recordDoc
	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return Record{}, wrapError(ErrInvalidArgument, op, err)
	}

	rec, err := doc.record()
	if err != nil {
		return Record{}, wrapError(ErrInvalidArgument, op, err)
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (d recordDoc) record() (Record, error) {
	replica, err := share.ParseReplicaType(d.ReplicaType)
	if err != nil {
		return Record{}, err
	}
	create, err := share.ParseCreateStatus(d.CreateStatus)
	if err != nil {
		return Record{}, err
	}
	migration, err := hastatus.ParseMigrationStatus(d.MigrationStatus)
	if err != nil {
		return Record{}, err
	}
	gc, err := hastatus.ParseGCState(d.GCState)
	if err != nil {
		return Record{}, err
	}
	restore, err := hastatus.ParseRestoreStatus(d.RestoreStatus)
	if err != nil {
		return Record{}, err
	}
	metas := make(map[string]idmeta.IDMeta, len(d.IDMeta))
	for name, m := range d.IDMeta {
		metas[name] = idmeta.IDMeta{LimitedID: m.LimitedID, LatestLogTS: share.SCN(m.LatestLogTS)}
	}
	ids, err := idmeta.FromMap(metas)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		TenantID:                  share.TenantID(d.TenantID),
		LSID:                      share.LSID(d.LSID),
		ReplicaType:               replica,
		CreateStatus:              create,
		ClogCheckpointSCN:         share.SCN(d.ClogCheckpointSCN),
		ClogBaseLSN:               share.LSN(d.ClogBaseLSN),
		RebuildSeq:                d.RebuildSeq,
		MigrationStatus:           migration,
		GCState:                   gc,
		OfflineSCN:                share.SCN(d.OfflineSCN),
		RestoreStatus:             restore,
		ReplayableSCN:             share.SCN(d.ReplayableSCN),
		TabletChangeCheckpointSCN: share.SCN(d.TabletChangeCheckpointSCN),
		IDMeta:                    ids,
	}
	if d.SavedInfo != nil {
		rec.SavedInfo = &SavedInfo{
			ClogCheckpointSCN:         share.SCN(d.SavedInfo.ClogCheckpointSCN),
			ClogBaseLSN:               share.LSN(d.SavedInfo.ClogBaseLSN),
			TabletChangeCheckpointSCN: share.SCN(d.SavedInfo.TabletChangeCheckpointSCN),
		}
	}
	return rec, nil
}
