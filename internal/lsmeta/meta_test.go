package lsmeta

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/TOMATOFGY/oceanbase/internal/hastatus"
	"github.com/TOMATOFGY/oceanbase/internal/idmeta"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestInit(t *testing.T) {
	m, w := newTestMeta(t)

	assert.True(t, m.IsValid())
	assert.Equal(t, testTenant, m.TenantID())
	assert.Equal(t, testLS, m.LSID())
	assert.Equal(t, share.ReplicaPrimary, m.ReplicaType())
	assert.Equal(t, share.CreateCreating, m.CreateStatus())
	assert.Equal(t, share.SCN(100), m.ClogCheckpointSCN())
	assert.Equal(t, share.MinLSN, m.ClogBaseLSN())
	assert.Equal(t, share.InvalidSCN, m.OfflineSCN())
	assert.Empty(t, w.written(), "init is not logged")

	err := m.Init(testTenant, testLS, share.ReplicaPrimary, hastatus.MigrationNone, hastatus.RestoreNone, 100)
	assert.True(t, errors.Is(err, ErrAlreadyInitialized))
}

func TestInitRejectsInvalidIdentity(t *testing.T) {
	tests := []struct {
		name    string
		tenant  share.TenantID
		ls      share.LSID
		replica share.ReplicaType
		scn     share.SCN
	}{
		{"tenant", share.InvalidTenantID, 1, share.ReplicaPrimary, 1},
		{"ls", 1, share.InvalidLSID, share.ReplicaPrimary, 1},
		{"replica", 1, 1, share.ReplicaInvalid, 1},
		{"create scn", 1, 1, share.ReplicaPrimary, share.InvalidSCN},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(&recordingWriter{}, WithLogger(discardLogger()))
			err := m.Init(tt.tenant, tt.ls, tt.replica, hastatus.MigrationNone, hastatus.RestoreNone, tt.scn)
			assert.True(t, errors.Is(err, ErrInvalidArgument))
			assert.False(t, m.IsValid())
		})
	}
}

func TestUninitializedRejectsMutation(t *testing.T) {
	m := New(&recordingWriter{}, WithLogger(discardLogger()))
	assert.True(t, errors.Is(m.SetClogCheckpoint(1, 1, true), ErrNotInitialized))
	assert.True(t, errors.Is(m.MarkForRebuild(), ErrNotInitialized))
	assert.True(t, errors.Is(m.CheckValidForBackup(), ErrNotBackupable))
}

func TestSetClogCheckpoint(t *testing.T) {
	m, w := newTestMeta(t)

	require.NoError(t, m.SetClogCheckpoint(50, 1000, true))
	assert.Equal(t, share.SCN(1000), m.ClogCheckpointSCN())
	assert.Equal(t, share.LSN(50), m.ClogBaseLSN())
	require.Len(t, w.written(), 1)

	err := m.SetClogCheckpoint(40, 1000, true)
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, share.SCN(1000), m.ClogCheckpointSCN())
	assert.Equal(t, share.LSN(50), m.ClogBaseLSN())

	err = m.SetClogCheckpoint(60, 999, true)
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, share.LSN(50), m.ClogBaseLSN())

	assert.True(t, errors.Is(m.SetClogCheckpoint(share.InvalidLSN, 2000, true), ErrInvalidArgument))
	assert.Len(t, w.written(), 1, "rejected calls are not logged")

	require.NoError(t, m.SetClogCheckpoint(70, 1500, false))
	assert.Equal(t, share.LSN(70), m.ClogBaseLSN())
	assert.Len(t, w.written(), 1, "persist=false skips the log")
}

func TestSetClogCheckpointPositionClock(t *testing.T) {
	clock := PositionClockFunc(func(lsn share.LSN) (share.SCN, error) {
		if lsn > 1000 {
			return 0, errors.New("position beyond log end")
		}
		return share.SCN(lsn * 10), nil
	})
	m, _ := newTestMeta(t, WithPositionClock(clock))

	require.NoError(t, m.SetClogCheckpoint(50, 500, true))

	err := m.SetClogCheckpoint(60, 590, true)
	assert.True(t, errors.Is(err, ErrInvalidState), "entry at 60 is at scn 600")

	err = m.SetClogCheckpoint(2000, 99999, true)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	assert.Equal(t, share.LSN(50), m.ClogBaseLSN())
}

func TestSetMigrationStatus(t *testing.T) {
	m, w := newTestMeta(t)

	require.NoError(t, m.SetMigrationStatus(hastatus.MigrationPendingAdd, true))
	assert.Equal(t, hastatus.MigrationPendingAdd, m.MigrationStatus())

	err := m.SetMigrationStatus(hastatus.MigrationRebuildFailed, true)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	var te *hastatus.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "PENDING_ADD", te.From)
	assert.Equal(t, hastatus.MigrationPendingAdd, m.MigrationStatus())

	err = m.SetMigrationStatus(hastatus.MigrationStatus(42), true)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	require.NoError(t, m.SetMigrationStatus(hastatus.MigrationMigrating, false))
	require.NoError(t, m.SetMigrationStatus(hastatus.MigrationNone, true))
	assert.Len(t, w.written(), 2)
}

func TestSetGCState(t *testing.T) {
	m, _ := newTestMeta(t)

	assert.True(t, errors.Is(m.SetGCState(hastatus.GCInGC), ErrInvalidTransition))
	require.NoError(t, m.SetGCState(hastatus.GCWaitGC))
	require.NoError(t, m.SetGCState(hastatus.GCInGC))
	assert.True(t, errors.Is(m.SetGCState(hastatus.GCNormal), ErrInvalidState))
	assert.Equal(t, hastatus.GCInGC, m.GCState())
}

func TestSetRestoreStatus(t *testing.T) {
	m, _ := newTestMeta(t)

	for _, s := range []hastatus.RestoreStatus{
		hastatus.RestoreWaitRestore,
		hastatus.RestoreRestoring,
		hastatus.RestoreFailed,
		hastatus.RestoreWaitRestore,
		hastatus.RestoreRestoring,
		hastatus.RestoreDone,
	} {
		require.NoError(t, m.SetRestoreStatus(s), s.String())
	}
	assert.True(t, errors.Is(m.SetRestoreStatus(hastatus.RestoreRestoring), ErrInvalidTransition))

	mig, rs := m.MigrationAndRestoreStatus()
	assert.Equal(t, hastatus.MigrationNone, mig)
	assert.Equal(t, hastatus.RestoreDone, rs)
}

func TestOfflineSCN(t *testing.T) {
	m, w := newTestMeta(t)

	assert.True(t, errors.Is(m.SetOfflineSCN(share.InvalidSCN), ErrInvalidArgument))
	require.NoError(t, m.SetOfflineSCN(777))
	assert.Equal(t, share.SCN(777), m.OfflineSCN())
	assert.Len(t, w.written(), 1)
}

func TestMonotonicWatermarks(t *testing.T) {
	m, _ := newTestMeta(t)

	require.NoError(t, m.UpdateReplayableSCN(10))
	require.NoError(t, m.UpdateReplayableSCN(10))
	assert.True(t, errors.Is(m.UpdateReplayableSCN(9), ErrInvalidState))
	assert.Equal(t, share.SCN(10), m.ReplayableSCN())

	require.NoError(t, m.SetTabletChangeCheckpointSCN(200))
	assert.True(t, errors.Is(m.SetTabletChangeCheckpointSCN(150), ErrInvalidState))
	assert.Equal(t, share.SCN(200), m.TabletChangeCheckpointSCN())
}

func TestWriteFailureLeavesRecordUnchanged(t *testing.T) {
	m, w := newTestMeta(t)
	require.NoError(t, m.SetClogCheckpoint(50, 1000, true))
	before := m.Snapshot()

	w.failOnce()
	err := m.SetClogCheckpoint(80, 2000, true)
	assert.True(t, errors.Is(err, ErrLogPersistFailed))
	assert.True(t, errors.Is(err, errDiskFull))
	assert.Equal(t, before, m.Snapshot())

	w.failOnce()
	assert.True(t, errors.Is(m.MarkForRebuild(), ErrLogPersistFailed))
	assert.Equal(t, int64(0), m.RebuildSeq())
	assert.Equal(t, hastatus.MigrationNone, m.MigrationStatus())

	require.NoError(t, m.SetClogCheckpoint(80, 2000, true), "retry succeeds")
}

func TestNilWriter(t *testing.T) {
	m := New(nil, WithLogger(discardLogger()))
	require.NoError(t, m.Init(testTenant, testLS, share.ReplicaPrimary, hastatus.MigrationNone, hastatus.RestoreNone, 1))
	assert.True(t, errors.Is(m.SetOfflineSCN(5), ErrLogPersistFailed))
	require.NoError(t, m.SetClogCheckpoint(1, 2, false))
}

func TestConcurrentMarkForRebuild(t *testing.T) {
	m, w := newTestMeta(t)
	initial := m.RebuildSeq()

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.MarkForRebuild())
		}()
	}
	wg.Wait()

	assert.Equal(t, initial+2, m.RebuildSeq())
	entries := w.written()
	require.Len(t, entries, 2)
	assert.Equal(t, initial+1, entries[0].RebuildSeq)
	assert.Equal(t, initial+2, entries[1].RebuildSeq)
	assert.Equal(t, hastatus.MigrationRebuilding, entries[1].MigrationStatus)
}

func TestMarkForRebuildRespectsPolicy(t *testing.T) {
	m, _ := newTestMeta(t)
	require.NoError(t, m.SetMigrationStatus(hastatus.MigrationPendingAdd, true))
	assert.True(t, errors.Is(m.MarkForRebuild(), ErrInvalidTransition))
	assert.Equal(t, int64(0), m.RebuildSeq())
}

func TestUpdateLSMeta(t *testing.T) {
	m, _ := newTestMeta(t)
	require.NoError(t, m.SetClogCheckpoint(50, 1000, true))
	require.NoError(t, m.SetMigrationStatus(hastatus.MigrationPendingAdd, true))

	peer, _ := newTestMeta(t)
	require.NoError(t, peer.SetClogCheckpoint(80, 900, true))
	require.NoError(t, peer.UpdateReplayableSCN(700))
	require.NoError(t, peer.UpdateIDMeta(idmeta.TransIDService, 4096, 60, true))
	require.NoError(t, peer.MarkForRebuild())
	require.NoError(t, peer.SetRestoreStatus(hastatus.RestoreWaitRestore))
	src := peer.Snapshot()

	require.NoError(t, m.UpdateLSMeta(false, src))
	once := m.Snapshot()
	assert.Equal(t, share.LSN(80), once.ClogBaseLSN)
	assert.Equal(t, share.SCN(1000), once.ClogCheckpointSCN)
	assert.Equal(t, share.SCN(700), once.ReplayableSCN)
	assert.Equal(t, int64(1), once.RebuildSeq)
	assert.Equal(t, hastatus.MigrationPendingAdd, once.MigrationStatus, "migration is local")
	assert.Equal(t, hastatus.RestoreNone, once.RestoreStatus, "restore not requested")
	tx, err := m.IDMeta(idmeta.TransIDService)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), tx.LimitedID)

	require.NoError(t, m.UpdateLSMeta(false, src))
	assert.Equal(t, once, m.Snapshot(), "merge is idempotent")

	require.NoError(t, m.UpdateLSMeta(true, src))
	assert.Equal(t, hastatus.RestoreWaitRestore, m.RestoreStatus())
}

func TestUpdateLSMetaRejectsForeignStream(t *testing.T) {
	m, _ := newTestMeta(t)
	before := m.Snapshot()

	other := New(&recordingWriter{}, WithLogger(discardLogger()))
	require.NoError(t, other.Init(testTenant, testLS+1, share.ReplicaPrimary, hastatus.MigrationNone, hastatus.RestoreNone, 1))

	err := m.UpdateLSMeta(true, other.Snapshot())
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Equal(t, before, m.Snapshot())

	bad := m.Snapshot()
	bad.ClogBaseLSN = share.InvalidLSN
	assert.True(t, errors.Is(m.UpdateLSMeta(false, bad), ErrInvalidArgument))
}

func TestCheckValidForBackup(t *testing.T) {
	m, _ := newTestMeta(t)
	require.NoError(t, m.CheckValidForBackup())

	require.NoError(t, m.SetMigrationStatus(hastatus.MigrationPendingAdd, true))
	assert.True(t, errors.Is(m.CheckValidForBackup(), ErrNotBackupable))
	require.NoError(t, m.SetMigrationStatus(hastatus.MigrationMigrating, true))
	require.NoError(t, m.SetMigrationStatus(hastatus.MigrationNone, true))
	require.NoError(t, m.CheckValidForBackup())

	require.NoError(t, m.SetRestoreStatus(hastatus.RestoreWaitRestore))
	assert.True(t, errors.Is(m.CheckValidForBackup(), ErrNotBackupable))

	g, _ := newTestMeta(t)
	require.NoError(t, g.SetGCState(hastatus.GCWaitGC))
	assert.True(t, errors.Is(g.CheckValidForBackup(), ErrNotBackupable))
}

func TestUpdateIDMeta(t *testing.T) {
	m, w := newTestMeta(t)

	require.NoError(t, m.UpdateIDMeta(idmeta.TimestampService, 100, 10, true))
	err := m.UpdateIDMeta(idmeta.TimestampService, 99, 20, true)
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.True(t, errors.Is(err, idmeta.ErrWatermarkRegression))

	assert.True(t, errors.Is(m.UpdateIDMeta(idmeta.MaxServiceType, 1, 1, true), ErrInvalidArgument))
	_, err = m.IDMeta(idmeta.ServiceType(-1))
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	require.NoError(t, m.UpdateIDMeta(idmeta.TimestampService, 200, 20, false))
	assert.Len(t, w.written(), 1)
}

func TestConcurrentIDUpdatesStayMonotonic(t *testing.T) {
	m, w := newTestMeta(t)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				v := int64(i*8 + g)
				_ = m.UpdateIDMeta(idmeta.TransIDService, v, share.SCN(v), true)
			}
		}()
	}
	wg.Wait()

	var last int64 = -1
	for _, rec := range w.written() {
		meta, err := rec.IDMeta.Get(idmeta.TransIDService)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, meta.LimitedID, last)
		last = meta.LimitedID
	}
	final, err := m.IDMeta(idmeta.TransIDService)
	require.NoError(t, err)
	assert.Equal(t, last, final.LimitedID)
}

func TestAdvanceIDServices(t *testing.T) {
	var now share.SCN = 300
	clock := func() share.SCN { return now }
	ts := idmeta.NewPreallocator(idmeta.TimestampService, 0, 1000, clock)
	tx := idmeta.NewPreallocator(idmeta.TransIDService, 0, 500, clock)
	m, w := newTestMeta(t, WithIDServices(ts, tx))

	require.NoError(t, m.AdvanceIDServices())
	require.Len(t, w.written(), 1, "all services persisted in one entry")

	got, err := m.IDMeta(idmeta.TimestampService)
	require.NoError(t, err)
	assert.Equal(t, idmeta.IDMeta{LimitedID: 1000, LatestLogTS: 300}, got)
	got, err = m.IDMeta(idmeta.TransIDService)
	require.NoError(t, err)
	assert.Equal(t, idmeta.IDMeta{LimitedID: 500, LatestLogTS: 300}, got)

	plain, w2 := newTestMeta(t)
	require.NoError(t, plain.AdvanceIDServices())
	assert.Empty(t, w2.written())
}

func TestSavedInfo(t *testing.T) {
	m, w := newTestMeta(t)
	require.NoError(t, m.SetClogCheckpoint(50, 1000, true))

	_, err := m.SavedInfo()
	assert.True(t, errors.Is(err, ErrNotFound))

	want := DeriveSavedInfo(m.Snapshot())
	require.NoError(t, m.BuildSavedInfo())
	got, err := m.SavedInfo()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// later checkpoints do not change the saved copy
	require.NoError(t, m.SetClogCheckpoint(60, 1100, true))
	got, err = m.SavedInfo()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, m.ClearSavedInfo())
	_, err = m.SavedInfo()
	assert.True(t, errors.Is(err, ErrNotFound))

	n := len(w.written())
	require.NoError(t, m.ClearSavedInfo())
	assert.Len(t, w.written(), n, "clearing an absent snapshot writes nothing")
}

func TestSetSavedInfo(t *testing.T) {
	m, _ := newTestMeta(t)

	assert.True(t, errors.Is(m.SetSavedInfo(SavedInfo{ClogBaseLSN: share.InvalidLSN}), ErrInvalidArgument))

	si := SavedInfo{ClogCheckpointSCN: 10, ClogBaseLSN: 5, TabletChangeCheckpointSCN: 9}
	require.NoError(t, m.SetSavedInfo(si))
	got, err := m.SavedInfo()
	require.NoError(t, err)
	assert.Equal(t, si, got)

	// snapshots are copies
	snap := m.Snapshot()
	snap.SavedInfo.ClogBaseLSN = 999
	got, _ = m.SavedInfo()
	assert.Equal(t, share.LSN(5), got.ClogBaseLSN)
}

func TestBuildSavedInfoRequiresQuiescence(t *testing.T) {
	m, _ := newTestMeta(t)
	require.NoError(t, m.SetRestoreStatus(hastatus.RestoreWaitRestore))
	assert.True(t, errors.Is(m.BuildSavedInfo(), ErrInvalidState))
	_, err := m.SavedInfo()
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCreateStatus(t *testing.T) {
	m, w := newTestMeta(t)

	require.NoError(t, m.SetCreateStatus(share.CreateCreated))
	assert.True(t, errors.Is(m.SetCreateStatus(share.CreateCreating), ErrInvalidState))
	require.NoError(t, m.SetCreateStatus(share.CreateRemoved))
	assert.Len(t, w.written(), 2)

	assert.True(t, errors.Is(m.SetOfflineSCN(1), ErrInvalidState))
	assert.True(t, errors.Is(m.CheckValidForBackup(), ErrNotBackupable))
	assert.Equal(t, share.SCN(100), m.ClogCheckpointSCN(), "reads still work")
}

func TestReset(t *testing.T) {
	m, _ := newTestMeta(t)
	m.Reset()
	assert.False(t, m.IsValid())
	assert.Equal(t, share.InvalidTenantID, m.TenantID())
	require.NoError(t, m.Init(testTenant, testLS, share.ReplicaReadOnly, hastatus.MigrationNone, hastatus.RestoreNone, 5))
	assert.Equal(t, share.ReplicaReadOnly, m.ReplicaType())
}

func TestLoad(t *testing.T) {
	src, _ := newTestMeta(t)
	require.NoError(t, src.SetClogCheckpoint(50, 1000, true))
	rec := src.Snapshot()

	m := New(&recordingWriter{}, WithLogger(discardLogger()))
	require.NoError(t, m.Load(rec))
	assert.Equal(t, rec, m.Snapshot())
	assert.True(t, errors.Is(m.Load(rec), ErrAlreadyInitialized))

	bad := rec
	bad.ReplicaType = share.ReplicaInvalid
	assert.True(t, errors.Is(New(nil).Load(bad), ErrInvalidArgument))
}

func TestGuardWarnsOnSlowSection(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slow := SlogWriterFunc(func(Record) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	})

	m := New(slow, WithLogger(logger), WithWarnThreshold(time.Millisecond))
	require.NoError(t, m.Init(testTenant, testLS, share.ReplicaPrimary, hastatus.MigrationNone, hastatus.RestoreNone, 1))

	require.NoError(t, m.SetOfflineSCN(3))
	out := buf.String()
	assert.Contains(t, out, "critical section too slow")
	assert.Contains(t, out, "op=set_offline_scn")
	assert.Contains(t, out, "write_slog=")
}

func TestGuardQuietBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	m, _ := newTestMeta(t, WithLogger(logger), WithWarnThreshold(time.Hour))

	require.NoError(t, m.SetOfflineSCN(3))
	assert.Empty(t, buf.String())
}

func TestKindName(t *testing.T) {
	m, _ := newTestMeta(t)
	require.NoError(t, m.UpdateReplayableSCN(5))
	assert.Equal(t, "invalid_state", KindName(m.UpdateReplayableSCN(4)))
	assert.Equal(t, "invalid_transition", KindName(m.SetGCState(hastatus.GCInGC)))
	assert.Equal(t, "unknown", KindName(errors.New("x")))
}

func TestStringIncludesFields(t *testing.T) {
	m, _ := newTestMeta(t)
	s := m.String()
	assert.Contains(t, s, "tenant_id=1001")
	assert.Contains(t, s, "migration_status=NONE")
	assert.Contains(t, s, "saved_info=<nil>")
}

func TestAdvanceIDServicesFailedWriteReservesNothing(t *testing.T) {
	tx := idmeta.NewPreallocator(idmeta.TransIDService, 0, 100, func() share.SCN { return 300 })
	m, w := newTestMeta(t, WithIDServices(tx))

	w.failOnce()
	err := m.AdvanceIDServices()
	require.True(t, errors.Is(err, ErrLogPersistFailed))
	_, ok := tx.Alloc()
	assert.False(t, ok, "no durable watermark covers any ID")

	got, err := m.IDMeta(idmeta.TransIDService)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.LimitedID)

	require.NoError(t, m.AdvanceIDServices())
	id, ok := tx.Alloc()
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
}

func TestAdvanceIDServicesRejectedReservesNothing(t *testing.T) {
	tx := idmeta.NewPreallocator(idmeta.TransIDService, 0, 100, func() share.SCN { return 300 })
	m, _ := newTestMeta(t, WithIDServices(tx))

	// The durable log timestamp is ahead of the service's clock.
	require.NoError(t, m.UpdateIDMeta(idmeta.TransIDService, 5000, 900, true))

	err := m.AdvanceIDServices()
	require.True(t, errors.Is(err, ErrInvalidState))
	_, ok := tx.Alloc()
	assert.False(t, ok)
}

func TestAdvanceIDServicesSkipsForeignWatermark(t *testing.T) {
	tx := idmeta.NewPreallocator(idmeta.TransIDService, 0, 100, func() share.SCN { return 300 })
	m, _ := newTestMeta(t, WithIDServices(tx))

	require.NoError(t, m.AdvanceIDServices())
	id, ok := tx.Alloc()
	require.True(t, ok)
	assert.Equal(t, int64(1), id)

	// A peer allocated up to 5000; the local range below it is fenced off.
	require.NoError(t, m.UpdateIDMeta(idmeta.TransIDService, 5000, 50, true))
	_, ok = tx.Alloc()
	assert.False(t, ok)

	require.NoError(t, m.AdvanceIDServices())
	got, err := m.IDMeta(idmeta.TransIDService)
	require.NoError(t, err)
	assert.Equal(t, int64(5100), got.LimitedID)
	id, ok = tx.Alloc()
	require.True(t, ok)
	assert.Equal(t, int64(5001), id)
}

func TestIDsStayAboveDurableLimitAcrossRestart(t *testing.T) {
	clock := func() share.SCN { return 300 }
	before := idmeta.NewPreallocator(idmeta.TransIDService, 0, 100, clock)
	m, _ := newTestMeta(t, WithIDServices(before))
	require.NoError(t, m.AdvanceIDServices())
	for range 3 {
		_, ok := before.Alloc()
		require.True(t, ok)
	}

	after := idmeta.NewPreallocator(idmeta.TransIDService, 0, 100, clock)
	restarted := New(&recordingWriter{}, WithLogger(discardLogger()), WithIDServices(after))
	require.NoError(t, restarted.Load(m.Snapshot()))

	_, ok := after.Alloc()
	assert.False(t, ok, "recovered limit is fenced until a new advance is durable")

	require.NoError(t, restarted.AdvanceIDServices())
	id, ok := after.Alloc()
	require.True(t, ok)
	assert.Equal(t, int64(101), id)
}

func tenfoldClock() PositionClock {
	return PositionClockFunc(func(lsn share.LSN) (share.SCN, error) {
		return share.SCN(lsn * 10), nil
	})
}

func TestUpdateLSMetaChecksPositionClock(t *testing.T) {
	m, w := newTestMeta(t, WithPositionClock(tenfoldClock()))
	require.NoError(t, m.SetClogCheckpoint(50, 1000, true))
	require.True(t, errors.Is(m.SetClogCheckpoint(2000, 1000, true), ErrInvalidState))

	peer, _ := newTestMeta(t)
	require.NoError(t, peer.SetClogCheckpoint(2000, 1000, true))

	err := m.UpdateLSMeta(false, peer.Snapshot())
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, share.LSN(50), m.ClogBaseLSN())
	assert.Len(t, w.written(), 1)

	require.NoError(t, peer.SetClogCheckpoint(2000, 20000, true))
	require.NoError(t, m.UpdateLSMeta(false, peer.Snapshot()))
	assert.Equal(t, share.LSN(2000), m.ClogBaseLSN())
	assert.True(t, m.IsValid())
}

func TestPositionClockInValidityAndBackup(t *testing.T) {
	plain, _ := newTestMeta(t)
	require.NoError(t, plain.SetClogCheckpoint(2000, 1000, true))

	m := New(&recordingWriter{}, WithLogger(discardLogger()), WithPositionClock(tenfoldClock()))
	require.NoError(t, m.Load(plain.Snapshot()))

	assert.False(t, m.IsValid())
	err := m.CheckValidForBackup()
	assert.True(t, errors.Is(err, ErrNotBackupable))
	assert.Equal(t, "not_backupable", KindName(err))
	assert.True(t, plain.IsValid(), "without a clock only the record itself is checked")
}

func TestInGCRejectsMutations(t *testing.T) {
	m, w := newTestMeta(t)
	require.NoError(t, m.SetGCState(hastatus.GCWaitGC))
	require.NoError(t, m.SetGCState(hastatus.GCInGC))
	written := len(w.written())

	for name, err := range map[string]error{
		"set_gc_state":          m.SetGCState(hastatus.GCInGC),
		"update_replayable_scn": m.UpdateReplayableSCN(50),
		"set_offline_scn":       m.SetOfflineSCN(60),
		"set_migration_status":  m.SetMigrationStatus(hastatus.MigrationNone, true),
	} {
		assert.True(t, errors.Is(err, ErrInvalidState), name)
	}
	assert.Len(t, w.written(), written, "rejected writes reach the log")
	assert.Equal(t, hastatus.GCInGC, m.GCState())

	require.NoError(t, m.SetCreateStatus(share.CreateRemoved))
	assert.Len(t, w.written(), written+1)
}
