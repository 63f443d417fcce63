package lsmeta

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TOMATOFGY/oceanbase/internal/codec"
	"github.com/TOMATOFGY/oceanbase/internal/hastatus"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

const (
	testTenant share.TenantID = 1001
	testLS     share.LSID     = 1
)

var errDiskFull = errors.New("disk full")

// recordingWriter keeps every record written to it.
type recordingWriter struct {
	mu       sync.Mutex
	entries  []Record
	failNext bool
}

func (w *recordingWriter) WriteSlog(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failNext {
		w.failNext = false
		return errDiskFull
	}
	w.entries = append(w.entries, rec)
	return nil
}

func (w *recordingWriter) failOnce() {
	w.mu.Lock()
	w.failNext = true
	w.mu.Unlock()
}

func (w *recordingWriter) written() []Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Record(nil), w.entries...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestMeta returns an initialised PRIMARY record created at scn 100.
func newTestMeta(t *testing.T, opts ...Option) (*Meta, *recordingWriter) {
	t.Helper()
	w := &recordingWriter{}
	m := New(w, append([]Option{WithLogger(discardLogger())}, opts...)...)
	require.NoError(t, m.Init(testTenant, testLS, share.ReplicaPrimary,
		hastatus.MigrationNone, hastatus.RestoreNone, 100))
	return m, w
}

func checksumFor(payload []byte) string {
	return codec.Checksum(checksumDomain, payload)
}
