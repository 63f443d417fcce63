package lsservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TOMATOFGY/oceanbase/internal/hastatus"
	"github.com/TOMATOFGY/oceanbase/internal/lsmeta"
	"github.com/TOMATOFGY/oceanbase/internal/memlog"
	"github.com/TOMATOFGY/oceanbase/internal/share"
	"github.com/TOMATOFGY/oceanbase/internal/store"
)

func testConfig() Config {
	return Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func newRecovered(t *testing.T, backend Backend) *Service {
	t.Helper()
	s := New(backend, testConfig())
	require.NoError(t, s.Recover(context.Background()))
	return s
}

func create(t *testing.T, s *Service, tenant share.TenantID, ls share.LSID) *lsmeta.Meta {
	t.Helper()
	m, err := s.Create(tenant, ls, share.ReplicaPrimary, hastatus.MigrationNone, hastatus.RestoreNone, 100)
	require.NoError(t, err)
	return m
}

func TestRequiresRecover(t *testing.T) {
	s := New(memlog.New(), testConfig())

	_, err := s.Create(1, 1, share.ReplicaPrimary, hastatus.MigrationNone, hastatus.RestoreNone, 1)
	assert.ErrorIs(t, err, ErrNotRecovered)
	_, err = s.Get(share.StreamKey{TenantID: 1, LSID: 1})
	assert.ErrorIs(t, err, ErrNotRecovered)
	_, err = s.List()
	assert.ErrorIs(t, err, ErrNotRecovered)
}

func TestCreateGetList(t *testing.T) {
	log := memlog.New()
	s := newRecovered(t, log)

	m := create(t, s, 1002, 1)
	assert.Equal(t, share.CreateCreated, m.CreateStatus())
	assert.Equal(t, 1, log.Len(), "creation is logged once")
	create(t, s, 1001, 3)

	_, err := s.Create(1002, 1, share.ReplicaPrimary, hastatus.MigrationNone, hastatus.RestoreNone, 1)
	assert.ErrorIs(t, err, lsmeta.ErrAlreadyInitialized)

	got, err := s.Get(share.StreamKey{TenantID: 1002, LSID: 1})
	require.NoError(t, err)
	assert.Same(t, m, got)

	_, err = s.Get(share.StreamKey{TenantID: 9, LSID: 9})
	assert.ErrorIs(t, err, lsmeta.ErrNotFound)

	recs, err := s.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, share.TenantID(1001), recs[0].TenantID)
}

func TestCreateFailsWhenLogFails(t *testing.T) {
	log := memlog.New()
	s := newRecovered(t, log)

	log.FailNext(1)
	_, err := s.Create(1, 1, share.ReplicaPrimary, hastatus.MigrationNone, hastatus.RestoreNone, 1)
	assert.ErrorIs(t, err, lsmeta.ErrLogPersistFailed)

	_, err = s.Get(share.StreamKey{TenantID: 1, LSID: 1})
	assert.ErrorIs(t, err, lsmeta.ErrNotFound)
	create(t, s, 1, 1)
}

func TestRecoverRestoresState(t *testing.T) {
	path := t.TempDir() + "/slog.db"
	st, err := store.Open(path)
	require.NoError(t, err)

	s := newRecovered(t, st)
	m := create(t, s, 1001, 1)
	require.NoError(t, m.SetClogCheckpoint(50, 1000, true))
	require.NoError(t, m.BuildSavedInfo())
	require.NoError(t, m.SetMigrationStatus(hastatus.MigrationPendingAdd, true))
	want := m.Snapshot()

	// not persisted, so lost on restart
	require.NoError(t, m.SetClogCheckpoint(60, 1100, false))
	require.NoError(t, s.Close())

	st, err = store.Open(path)
	require.NoError(t, err)
	s2 := newRecovered(t, st)
	defer s2.Close()

	got, err := s2.Get(want.Key())
	require.NoError(t, err)
	assert.Equal(t, want, got.Snapshot())
	assert.True(t, got.IsValid())
}

func TestRemoveIsNotRecovered(t *testing.T) {
	log := memlog.New()
	s := newRecovered(t, log)
	m := create(t, s, 1, 1)
	require.NoError(t, m.MarkForRebuild())
	create(t, s, 1, 2)

	key := share.StreamKey{TenantID: 1, LSID: 1}
	require.NoError(t, s.Remove(context.Background(), key))
	assert.ErrorIs(t, s.Remove(context.Background(), key), lsmeta.ErrNotFound)

	hist, err := log.History(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, hist, 1, "trimmed to the tombstone")

	s2 := newRecovered(t, log)
	recs, err := s2.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, share.LSID(2), recs[0].LSID)

	// the removed handle rejects further mutations
	assert.ErrorIs(t, m.SetOfflineSCN(5), lsmeta.ErrInvalidState)
}

func TestRecoverSurfacesCorruption(t *testing.T) {
	log := memlog.New()
	s := newRecovered(t, log)
	m := create(t, s, 1, 1)

	e, err := lsmeta.NewEntry(m.Snapshot())
	require.NoError(t, err)
	e.Checksum = "deadbeef"
	_, err = log.Append(context.Background(), e)
	require.NoError(t, err)

	err = New(log, testConfig()).Recover(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, lsmeta.ErrInvalidArgument))
}

func TestCompact(t *testing.T) {
	log := memlog.New()
	cfg := testConfig()
	cfg.KeepEntries = 2
	s := New(log, cfg)
	require.NoError(t, s.Recover(context.Background()))

	m := create(t, s, 1, 1)
	for i := range 4 {
		require.NoError(t, m.UpdateReplayableSCN(share.SCN(i)))
	}
	require.Equal(t, 5, log.Len())

	n, err := s.Compact(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, log.Len())

	s2 := newRecovered(t, log)
	got, err := s2.Get(share.StreamKey{TenantID: 1, LSID: 1})
	require.NoError(t, err)
	assert.Equal(t, m.Snapshot(), got.Snapshot())
}
