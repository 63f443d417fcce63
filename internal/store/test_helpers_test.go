package store

import (
	"path/filepath"
	"testing"

	"github.com/TOMATOFGY/oceanbase/internal/hastatus"
	"github.com/TOMATOFGY/oceanbase/internal/lsmeta"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord returns a freshly initialised record.
func createTestRecord(t *testing.T, tenant share.TenantID, ls share.LSID) lsmeta.Record {
	t.Helper()
	m := lsmeta.New(nil)
	if err := m.Init(tenant, ls, share.ReplicaPrimary, hastatus.MigrationNone, hastatus.RestoreNone, 100); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	return m.Snapshot()
}
