package harness

import (
	"fmt"

	"github.com/TOMATOFGY/oceanbase/internal/hastatus"
	"github.com/TOMATOFGY/oceanbase/internal/idmeta"
	"github.com/TOMATOFGY/oceanbase/internal/lsmeta"
	"github.com/TOMATOFGY/oceanbase/internal/memlog"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

type operation func(h *Harness, args map[string]any) (map[string]any, error)

var operations map[string]operation

func init() {
	operations = map[string]operation{
		"create":                           opCreate,
		"remove":                           opRemove,
		"restart":                          opRestart,
		"fail_next_write":                  opFailNextWrite,
		"append_log":                       opAppendLog,
		"get":                              opGet,
		"set_create_status":                opSetCreateStatus,
		"set_clog_checkpoint":              opSetClogCheckpoint,
		"set_migration_status":             opSetMigrationStatus,
		"set_gc_state":                     opSetGCState,
		"set_offline_scn":                  opSetOfflineSCN,
		"set_restore_status":               opSetRestoreStatus,
		"update_replayable_scn":            opUpdateReplayableSCN,
		"set_tablet_change_checkpoint_scn": opSetTabletChangeCheckpointSCN,
		"mark_for_rebuild":                 opMarkForRebuild,
		"check_valid_for_backup":           opCheckValidForBackup,
		"update_id_meta":                   opUpdateIDMeta,
		"get_id_meta":                      opGetIDMeta,
		"advance_id_services":              opAdvanceIDServices,
		"alloc_id":                         opAllocID,
		"build_saved_info":                 opBuildSavedInfo,
		"set_saved_info":                   opSetSavedInfo,
		"get_saved_info":                   opGetSavedInfo,
		"clear_saved_info":                 opClearSavedInfo,
		"update_ls_meta":                   opUpdateLSMeta,
	}
}

func opCreate(h *Harness, args map[string]any) (map[string]any, error) {
	key, err := h.streamKey(args)
	if err != nil {
		return nil, err
	}
	replica, err := enumArg(args, "replica", "PRIMARY", share.ParseReplicaType)
	if err != nil {
		return nil, err
	}
	migration, err := enumArg(args, "migration", "NONE", hastatus.ParseMigrationStatus)
	if err != nil {
		return nil, err
	}
	restore, err := enumArg(args, "restore", "NONE", hastatus.ParseRestoreStatus)
	if err != nil {
		return nil, err
	}
	createSCN, err := scnArg(args, "create_scn")
	if err != nil {
		return nil, err
	}
	_, err = h.svc.Create(key.TenantID, key.LSID, replica, migration, restore, createSCN)
	return nil, err
}

func opRemove(h *Harness, args map[string]any) (map[string]any, error) {
	key, err := h.streamKey(args)
	if err != nil {
		return nil, err
	}
	return nil, h.svc.Remove(h.ctx, key)
}

func opRestart(h *Harness, _ map[string]any) (map[string]any, error) {
	if err := h.restart(); err != nil {
		return nil, err
	}
	recs, err := h.svc.List()
	if err != nil {
		return nil, err
	}
	return map[string]any{"streams": len(recs)}, nil
}

func opFailNextWrite(h *Harness, args map[string]any) (map[string]any, error) {
	log, ok := h.backend.(*memlog.Log)
	if !ok {
		return nil, &harnessError{op: "fail_next_write", err: fmt.Errorf("requires the memory backend")}
	}
	n, err := intArgOr(args, "count", 1)
	if err != nil {
		return nil, err
	}
	log.FailNext(int(n))
	return nil, nil
}

func opAppendLog(h *Harness, args map[string]any) (map[string]any, error) {
	lsn, err := lsnArg(args, "lsn")
	if err != nil {
		return nil, err
	}
	scn, err := scnArg(args, "scn")
	if err != nil {
		return nil, err
	}
	if err := h.timeline.Record(lsn, scn); err != nil {
		return nil, fmt.Errorf("%w: %v", lsmeta.ErrInvalidArgument, err)
	}
	return nil, nil
}

func opGet(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	return lsmeta.RecordMap(m.Snapshot()), nil
}

func opSetCreateStatus(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	status, err := enumArg(args, "status", "", share.ParseCreateStatus)
	if err != nil {
		return nil, err
	}
	return nil, m.SetCreateStatus(status)
}

func opSetClogCheckpoint(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	lsn, err := lsnArg(args, "base_lsn")
	if err != nil {
		return nil, err
	}
	scn, err := scnArg(args, "checkpoint_scn")
	if err != nil {
		return nil, err
	}
	persist, err := boolArgOr(args, "persist", true)
	if err != nil {
		return nil, err
	}
	return nil, m.SetClogCheckpoint(lsn, scn, persist)
}

func opSetMigrationStatus(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	status, err := enumArg(args, "status", "", hastatus.ParseMigrationStatus)
	if err != nil {
		return nil, err
	}
	persist, err := boolArgOr(args, "persist", true)
	if err != nil {
		return nil, err
	}
	return nil, m.SetMigrationStatus(status, persist)
}

func opSetGCState(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	state, err := enumArg(args, "state", "", hastatus.ParseGCState)
	if err != nil {
		return nil, err
	}
	return nil, m.SetGCState(state)
}

func opSetOfflineSCN(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	scn, err := scnArg(args, "scn")
	if err != nil {
		return nil, err
	}
	return nil, m.SetOfflineSCN(scn)
}

func opSetRestoreStatus(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	status, err := enumArg(args, "status", "", hastatus.ParseRestoreStatus)
	if err != nil {
		return nil, err
	}
	return nil, m.SetRestoreStatus(status)
}

func opUpdateReplayableSCN(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	scn, err := scnArg(args, "scn")
	if err != nil {
		return nil, err
	}
	return nil, m.UpdateReplayableSCN(scn)
}

func opSetTabletChangeCheckpointSCN(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	scn, err := scnArg(args, "scn")
	if err != nil {
		return nil, err
	}
	return nil, m.SetTabletChangeCheckpointSCN(scn)
}

func opMarkForRebuild(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	if err := m.MarkForRebuild(); err != nil {
		return nil, err
	}
	return map[string]any{"rebuild_seq": m.RebuildSeq()}, nil
}

func opCheckValidForBackup(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	return nil, m.CheckValidForBackup()
}

func opUpdateIDMeta(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	svc, err := enumArg(args, "service", "", idmeta.ParseServiceType)
	if err != nil {
		return nil, err
	}
	limited, err := intArg(args, "limited_id")
	if err != nil {
		return nil, err
	}
	ts, err := scnArg(args, "latest_log_ts")
	if err != nil {
		return nil, err
	}
	persist, err := boolArgOr(args, "persist", true)
	if err != nil {
		return nil, err
	}
	return nil, m.UpdateIDMeta(svc, limited, ts, persist)
}

func opGetIDMeta(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	svc, err := enumArg(args, "service", "", idmeta.ParseServiceType)
	if err != nil {
		return nil, err
	}
	meta, err := m.IDMeta(svc)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"limited_id":    meta.LimitedID,
		"latest_log_ts": int64(meta.LatestLogTS),
	}, nil
}

func opAdvanceIDServices(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	return nil, m.AdvanceIDServices()
}

// opAllocID hands out count IDs (default 1) from the allocator of one
// declared service and reports the first and last.
func opAllocID(h *Harness, args map[string]any) (map[string]any, error) {
	name, ok := args["service"].(string)
	if !ok {
		return nil, &harnessError{op: "alloc_id", err: fmt.Errorf("missing service")}
	}
	svc, err := idmeta.ParseServiceType(name)
	if err != nil {
		return nil, &harnessError{op: "alloc_id", err: err}
	}
	p, ok := h.allocators[svc]
	if !ok {
		return nil, &harnessError{op: "alloc_id", err: fmt.Errorf("service %s is not declared in id_services", name)}
	}
	count, err := intArgOr(args, "count", 1)
	if err != nil {
		return nil, err
	}

	var first, last int64
	for i := int64(0); i < count; i++ {
		id, ok := p.Alloc()
		if !ok {
			return nil, fmt.Errorf("%w: %s has no durable id range left", lsmeta.ErrInvalidState, name)
		}
		if i == 0 {
			first = id
		}
		last = id
	}
	return map[string]any{"first": first, "last": last}, nil
}

func opBuildSavedInfo(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	return nil, m.BuildSavedInfo()
}

func opSetSavedInfo(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	var si lsmeta.SavedInfo
	if si.ClogCheckpointSCN, err = scnArg(args, "clog_checkpoint_scn"); err != nil {
		return nil, err
	}
	if si.ClogBaseLSN, err = lsnArg(args, "clog_base_lsn"); err != nil {
		return nil, err
	}
	if si.TabletChangeCheckpointSCN, err = scnArg(args, "tablet_change_checkpoint_scn"); err != nil {
		return nil, err
	}
	return nil, m.SetSavedInfo(si)
}

func opGetSavedInfo(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	si, err := m.SavedInfo()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"clog_checkpoint_scn":          int64(si.ClogCheckpointSCN),
		"clog_base_lsn":                uint64(si.ClogBaseLSN),
		"tablet_change_checkpoint_scn": int64(si.TabletChangeCheckpointSCN),
	}, nil
}

func opClearSavedInfo(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	return nil, m.ClearSavedInfo()
}

// opUpdateLSMeta merges a source record into the target. The source starts
// as a copy of the target (or of the "from" stream) with the fields under
// "source" overridden.
func opUpdateLSMeta(h *Harness, args map[string]any) (map[string]any, error) {
	m, err := h.target(args)
	if err != nil {
		return nil, err
	}
	src := m.Snapshot()
	if from, ok := args["from"].(map[string]any); ok {
		fm, err := h.target(from)
		if err != nil {
			return nil, err
		}
		src = fm.Snapshot()
	}
	overrides, _ := args["source"].(map[string]any)
	if overrides == nil {
		overrides = map[string]any{}
	}
	if err := applyOverrides(&src, overrides); err != nil {
		return nil, err
	}
	updateRestore, err := boolArgOr(args, "update_restore", false)
	if err != nil {
		return nil, err
	}
	return nil, m.UpdateLSMeta(updateRestore, src)
}

func applyOverrides(r *lsmeta.Record, o map[string]any) error {
	var err error
	if _, ok := o["tenant"]; ok {
		v, err := intArg(o, "tenant")
		if err != nil {
			return err
		}
		r.TenantID = share.TenantID(v)
	}
	if _, ok := o["ls"]; ok {
		v, err := intArg(o, "ls")
		if err != nil {
			return err
		}
		r.LSID = share.LSID(v)
	}
	if _, ok := o["clog_base_lsn"]; ok {
		if r.ClogBaseLSN, err = lsnArg(o, "clog_base_lsn"); err != nil {
			return err
		}
	}
	if _, ok := o["clog_checkpoint_scn"]; ok {
		if r.ClogCheckpointSCN, err = scnArg(o, "clog_checkpoint_scn"); err != nil {
			return err
		}
	}
	if _, ok := o["replayable_scn"]; ok {
		if r.ReplayableSCN, err = scnArg(o, "replayable_scn"); err != nil {
			return err
		}
	}
	if _, ok := o["tablet_change_checkpoint_scn"]; ok {
		if r.TabletChangeCheckpointSCN, err = scnArg(o, "tablet_change_checkpoint_scn"); err != nil {
			return err
		}
	}
	if _, ok := o["rebuild_seq"]; ok {
		if r.RebuildSeq, err = intArg(o, "rebuild_seq"); err != nil {
			return err
		}
	}
	if _, ok := o["restore_status"]; ok {
		if r.RestoreStatus, err = enumArg(o, "restore_status", "", hastatus.ParseRestoreStatus); err != nil {
			return err
		}
	}
	if _, ok := o["migration_status"]; ok {
		if r.MigrationStatus, err = enumArg(o, "migration_status", "", hastatus.ParseMigrationStatus); err != nil {
			return err
		}
	}
	if ids, ok := o["id_meta"].(map[string]any); ok {
		for name, raw := range ids {
			fields, ok := raw.(map[string]any)
			if !ok {
				return &harnessError{op: "update_ls_meta", err: fmt.Errorf("id_meta.%s must be a map", name)}
			}
			svc, err := idmeta.ParseServiceType(name)
			if err != nil {
				return fmt.Errorf("%w: %v", lsmeta.ErrInvalidArgument, err)
			}
			limited, err := intArg(fields, "limited_id")
			if err != nil {
				return err
			}
			ts, err := scnArg(fields, "latest_log_ts")
			if err != nil {
				return err
			}
			if err := r.IDMeta.Update(svc, limited, ts); err != nil {
				return fmt.Errorf("%w: %v", lsmeta.ErrInvalidArgument, err)
			}
		}
	}
	return nil
}

func (h *Harness) streamKey(args map[string]any) (share.StreamKey, error) {
	key := h.scenario.Stream.Key()
	if _, ok := args["tenant"]; ok {
		v, err := intArg(args, "tenant")
		if err != nil {
			return key, err
		}
		key.TenantID = share.TenantID(v)
	}
	if _, ok := args["ls"]; ok {
		v, err := intArg(args, "ls")
		if err != nil {
			return key, err
		}
		key.LSID = share.LSID(v)
	}
	return key, nil
}

func (h *Harness) target(args map[string]any) (*lsmeta.Meta, error) {
	key, err := h.streamKey(args)
	if err != nil {
		return nil, err
	}
	return h.svc.Get(key)
}

// Argument helpers. A missing required argument or a value of the wrong
// type aborts the scenario; a well-typed but unknown enum name becomes an
// invalid_argument completion.

func intArg(args map[string]any, key string) (int64, error) {
	raw, ok := args[key]
	if !ok {
		return 0, &harnessError{op: key, err: fmt.Errorf("argument is required")}
	}
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	default:
		return 0, &harnessError{op: key, err: fmt.Errorf("expected integer, got %T", raw)}
	}
}

func intArgOr(args map[string]any, key string, def int64) (int64, error) {
	if _, ok := args[key]; !ok {
		return def, nil
	}
	return intArg(args, key)
}

func scnArg(args map[string]any, key string) (share.SCN, error) {
	v, err := intArg(args, key)
	return share.SCN(v), err
}

// lsnArg maps negative values to InvalidLSN.
func lsnArg(args map[string]any, key string) (share.LSN, error) {
	v, err := intArg(args, key)
	if err != nil {
		return share.InvalidLSN, err
	}
	if v < 0 {
		return share.InvalidLSN, nil
	}
	return share.LSN(v), nil
}

func boolArgOr(args map[string]any, key string, def bool) (bool, error) {
	raw, ok := args[key]
	if !ok {
		return def, nil
	}
	v, ok := raw.(bool)
	if !ok {
		return false, &harnessError{op: key, err: fmt.Errorf("expected bool, got %T", raw)}
	}
	return v, nil
}

func enumArg[T any](args map[string]any, key, def string, parse func(string) (T, error)) (T, error) {
	var zero T
	raw, ok := args[key]
	if !ok {
		if def == "" {
			return zero, &harnessError{op: key, err: fmt.Errorf("argument is required")}
		}
		raw = def
	}
	name, ok := raw.(string)
	if !ok {
		return zero, &harnessError{op: key, err: fmt.Errorf("expected string, got %T", raw)}
	}
	v, err := parse(name)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", lsmeta.ErrInvalidArgument, err)
	}
	return v, nil
}
