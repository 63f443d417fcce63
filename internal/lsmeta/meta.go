package lsmeta

import (
	"log/slog"
	"sync"
	"time"

	"github.com/TOMATOFGY/oceanbase/internal/hastatus"
	"github.com/TOMATOFGY/oceanbase/internal/idmeta"
	"github.com/TOMATOFGY/oceanbase/internal/metrics"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// SlogWriter durably records the post-mutation state of a record.
// A nil error means the entry is durable.
type SlogWriter interface {
	WriteSlog(rec Record) error
}

// SlogWriterFunc adapts a function to SlogWriter.
type SlogWriterFunc func(rec Record) error

// WriteSlog implements SlogWriter.
func (f SlogWriterFunc) WriteSlog(rec Record) error {
	return f(rec)
}

// PositionClock maps a log position to the timestamp of the entry stored
// there. When configured, SetClogCheckpoint uses it to reject a base
// position whose entry is newer than the checkpoint timestamp.
type PositionClock interface {
	SCNAt(lsn share.LSN) (share.SCN, error)
}

// PositionClockFunc adapts a function to PositionClock.
type PositionClockFunc func(lsn share.LSN) (share.SCN, error)

// SCNAt implements PositionClock.
func (f PositionClockFunc) SCNAt(lsn share.LSN) (share.SCN, error) {
	return f(lsn)
}

// Option configures a Meta.
type Option func(*Meta)

// WithPolicy replaces the default lifecycle transition tables.
func WithPolicy(p *hastatus.Policy) Option {
	return func(m *Meta) {
		if p != nil {
			m.policy = p
		}
	}
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Meta) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the metrics sink; nil disables metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Meta) {
		m.metrics = mt
	}
}

// WithWarnThreshold sets the guard hold time above which a warning is
// logged. Zero or negative disables the warning.
func WithWarnThreshold(d time.Duration) Option {
	return func(m *Meta) {
		m.warnThreshold = d
	}
}

// WithPositionClock enables the base-position timestamp check.
func WithPositionClock(c PositionClock) Option {
	return func(m *Meta) {
		m.posClock = c
	}
}

// WithIDServices registers the services AdvanceIDServices polls.
func WithIDServices(services ...idmeta.IDService) Option {
	return func(m *Meta) {
		m.idServices = append(m.idServices, services...)
	}
}

// Meta is the guarded metadata record of one log stream replica.
//
// Thread-safety: all methods are safe for concurrent use.
type Meta struct {
	mu          sync.Mutex
	rec         Record
	initialized bool

	writer        SlogWriter
	policy        *hastatus.Policy
	posClock      PositionClock
	idServices    []idmeta.IDService
	logger        *slog.Logger
	metrics       *metrics.Metrics
	warnThreshold time.Duration
}

// New returns an uninitialised record that persists through writer.
func New(writer SlogWriter, opts ...Option) *Meta {
	m := &Meta{
		rec:           emptyRecord(),
		writer:        writer,
		policy:        hastatus.DefaultPolicy(),
		logger:        slog.Default(),
		warnThreshold: DefaultWarnThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init sets up a new record. Nothing is written to the durable log; the
// owner persists the record when it marks creation complete.
func (m *Meta) Init(
	tenant share.TenantID,
	ls share.LSID,
	replica share.ReplicaType,
	migration hastatus.MigrationStatus,
	restore hastatus.RestoreStatus,
	createSCN share.SCN,
) error {
	g := m.lock("init")
	defer g.unlock()

	if m.initialized {
		return m.reject(newError(ErrAlreadyInitialized, g.op, "ls %s", m.rec.Key()))
	}
	if !tenant.IsValid() || !ls.IsValid() || !replica.IsValid() ||
		!migration.IsValid() || !restore.IsValid() || !createSCN.IsValid() {
		return m.reject(newError(ErrInvalidArgument, g.op,
			"tenant=%d ls=%d replica=%s migration=%s restore=%s create_scn=%s",
			tenant, ls, replica, migration, restore, createSCN))
	}

	rec := emptyRecord()
	rec.TenantID = tenant
	rec.LSID = ls
	rec.ReplicaType = replica
	rec.CreateStatus = share.CreateCreating
	rec.ClogCheckpointSCN = createSCN
	rec.ClogBaseLSN = share.MinLSN
	rec.MigrationStatus = migration
	rec.RestoreStatus = restore
	rec.ReplayableSCN = share.MinSCN
	rec.TabletChangeCheckpointSCN = createSCN

	m.rec = rec
	m.initialized = true
	m.logger.Info("ls meta initialized", "tenant", tenant, "ls", ls, "replica", replica)
	return nil
}

// Load installs a record read back from the durable log. It fails with
// ErrAlreadyInitialized on an initialised record and ErrInvalidArgument if
// rec does not validate.
func (m *Meta) Load(rec Record) error {
	g := m.lock("load")
	defer g.unlock()

	if m.initialized {
		return m.reject(newError(ErrAlreadyInitialized, g.op, "ls %s", m.rec.Key()))
	}
	if err := rec.Validate(); err != nil {
		return m.reject(wrapError(ErrInvalidArgument, g.op, err))
	}
	m.rec = rec.Clone()
	m.initialized = true
	for _, svc := range m.idServices {
		if meta, err := m.rec.IDMeta.Get(svc.ServiceType()); err == nil {
			svc.Fence(meta.LimitedID)
		}
	}
	return nil
}

// Reset returns the record to its pre-init state. Only the owner of the
// record calls it, never concurrently with other operations.
func (m *Meta) Reset() {
	g := m.lock("reset")
	defer g.unlock()
	m.rec = emptyRecord()
	m.initialized = false
}

// IsValid reports whether the record is initialised and well formed. With a
// PositionClock the checkpoint pair must also agree with it.
func (m *Meta) IsValid() bool {
	g := m.lock("is_valid")
	defer g.unlock()
	if !m.initialized || m.rec.Validate() != nil {
		return false
	}
	return m.checkPositionClock(g.op, m.rec.ClogBaseLSN, m.rec.ClogCheckpointSCN) == nil
}

// Snapshot returns a deep copy of the record.
func (m *Meta) Snapshot() Record {
	g := m.lock("snapshot")
	defer g.unlock()
	return m.rec.Clone()
}

// String renders every field. It takes the guard, so it must not be called
// from a SlogWriter.
func (m *Meta) String() string {
	return m.Snapshot().String()
}

// checkWritable rejects mutations on uninitialised or removed records and
// on records already being garbage collected. SetCreateStatus skips it so a
// collected record can still be marked removed.
func (m *Meta) checkWritable(op string) *MetaError {
	if !m.initialized {
		return newError(ErrNotInitialized, op, "")
	}
	if m.rec.CreateStatus == share.CreateRemoved {
		return newError(ErrInvalidState, op, "ls %s is removed", m.rec.Key())
	}
	if m.rec.GCState == hastatus.GCInGC {
		return newError(ErrInvalidState, op, "ls %s is in gc", m.rec.Key())
	}
	return nil
}

func (m *Meta) reject(err *MetaError) error {
	m.metrics.IncRejected(KindName(err))
	return err
}

// commit writes staged to the durable log when persist is set, then makes it
// the current record. On a write failure the current record is untouched.
// ID services whose watermark moved are fenced above it.
func (m *Meta) commit(g *timeGuard, staged Record, persist bool) error {
	prev, err := m.writeAndApply(g, staged, persist)
	if err != nil {
		return err
	}
	for _, svc := range m.idServices {
		if from, to, moved := idMetaMoved(prev, staged, svc.ServiceType()); moved && to > from {
			svc.Fence(to)
		}
	}
	return nil
}

func (m *Meta) writeAndApply(g *timeGuard, staged Record, persist bool) (Record, error) {
	g.click("validate")
	if persist {
		if m.writer == nil {
			return Record{}, m.reject(newError(ErrLogPersistFailed, g.op, "no slog writer configured"))
		}
		if err := m.writer.WriteSlog(staged.Clone()); err != nil {
			m.metrics.ObserveSlogWrite(false)
			m.logger.Error("write slog failed", "op", g.op, "ls", staged.Key(), "error", err)
			return Record{}, m.reject(wrapError(ErrLogPersistFailed, g.op, err))
		}
		m.metrics.ObserveSlogWrite(true)
		g.click("write_slog")
	}
	prev := m.rec
	m.rec = staged
	g.click("apply")
	m.logger.Debug("ls meta updated", "op", g.op, "ls", staged.Key(), "persist", persist)
	return prev, nil
}

// idMetaMoved returns the limited ID of svc before and after a commit.
func idMetaMoved(prev, cur Record, svc idmeta.ServiceType) (from, to int64, moved bool) {
	before, err := prev.IDMeta.Get(svc)
	if err != nil {
		return 0, 0, false
	}
	after, err := cur.IDMeta.Get(svc)
	if err != nil {
		return 0, 0, false
	}
	return before.LimitedID, after.LimitedID, before.LimitedID != after.LimitedID
}

// checkPositionClock enforces that the entry at the base position is not
// newer than the checkpoint timestamp. Without a clock it always passes.
func (m *Meta) checkPositionClock(op string, baseLSN share.LSN, checkpointSCN share.SCN) *MetaError {
	if m.posClock == nil {
		return nil
	}
	at, err := m.posClock.SCNAt(baseLSN)
	if err != nil {
		return wrapError(ErrInvalidArgument, op, err)
	}
	if at > checkpointSCN {
		return newError(ErrInvalidState, op,
			"entry at lsn %s has scn %s above checkpoint %s", baseLSN, at, checkpointSCN)
	}
	return nil
}
