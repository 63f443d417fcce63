// Package lsservice owns the ls meta records of one process: it recovers
// them from a durable log backend at start-up, creates and removes them,
// and hands out the live *lsmeta.Meta for each stream.
package lsservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/TOMATOFGY/oceanbase/internal/hastatus"
	"github.com/TOMATOFGY/oceanbase/internal/lsmeta"
	"github.com/TOMATOFGY/oceanbase/internal/metrics"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// ErrNotRecovered is returned by operations issued before Recover.
var ErrNotRecovered = errors.New("ls service not recovered")

// Backend is a durable log the service can write records to and replay
// them from.
type Backend interface {
	lsmeta.SlogWriter
	io.Closer
	LatestAll(ctx context.Context) ([]lsmeta.Entry, error)
	History(ctx context.Context, key share.StreamKey) ([]lsmeta.Entry, error)
	Trim(ctx context.Context, key share.StreamKey, keep int) (int, error)
}

// Config configures a Service.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// MetaOptions are applied to every record the service builds.
	MetaOptions []lsmeta.Option
	// KeepEntries is how many log entries per stream Compact retains.
	// Zero disables compaction.
	KeepEntries int
}

// Service manages the records of all streams hosted by this process.
//
// Thread-safety: all methods are safe for concurrent use.
type Service struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger

	mu        sync.RWMutex
	metas     map[share.StreamKey]*lsmeta.Meta
	recovered bool
}

// New returns a service over backend. Call Recover before anything else.
func New(backend Backend, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		metas:   make(map[share.StreamKey]*lsmeta.Meta),
	}
}

// Backend returns the durable log the service writes to.
func (s *Service) Backend() Backend {
	return s.backend
}

func (s *Service) newMeta(key share.StreamKey) *lsmeta.Meta {
	opts := []lsmeta.Option{
		lsmeta.WithLogger(s.logger.With("tenant", key.TenantID, "ls", key.LSID)),
		lsmeta.WithMetrics(s.cfg.Metrics),
	}
	opts = append(opts, s.cfg.MetaOptions...)
	return lsmeta.New(s.backend, opts...)
}

// Recover rebuilds every live record from the newest entry of each stream.
// Removed streams are skipped. A corrupt or invalid entry aborts recovery
// with an error wrapping lsmeta.ErrInvalidArgument; nothing is repaired.
func (s *Service) Recover(ctx context.Context) error {
	entries, err := s.backend.LatestAll(ctx)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	metas := make(map[share.StreamKey]*lsmeta.Meta, len(entries))
	for _, e := range entries {
		rec, err := e.Record()
		if err != nil {
			return fmt.Errorf("recover ls %s: %w", e.Key(), err)
		}
		if rec.CreateStatus == share.CreateRemoved {
			continue
		}
		m := s.newMeta(rec.Key())
		if err := m.Load(rec); err != nil {
			return fmt.Errorf("recover ls %s: %w", e.Key(), err)
		}
		metas[rec.Key()] = m
	}

	s.mu.Lock()
	s.metas = metas
	s.recovered = true
	s.mu.Unlock()

	s.cfg.Metrics.SetRecords(len(metas))
	s.logger.Info("ls meta recovered", "streams", len(metas), "entries", len(entries))
	return nil
}

// Create initialises and persists a new record. The record is registered
// only once its first entry is durable.
func (s *Service) Create(
	tenant share.TenantID,
	ls share.LSID,
	replica share.ReplicaType,
	migration hastatus.MigrationStatus,
	restore hastatus.RestoreStatus,
	createSCN share.SCN,
) (*lsmeta.Meta, error) {
	key := share.StreamKey{TenantID: tenant, LSID: ls}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recovered {
		return nil, ErrNotRecovered
	}
	if _, ok := s.metas[key]; ok {
		return nil, fmt.Errorf("create ls %s: %w", key, lsmeta.ErrAlreadyInitialized)
	}

	m := s.newMeta(key)
	if err := m.Init(tenant, ls, replica, migration, restore, createSCN); err != nil {
		return nil, err
	}
	if err := m.SetCreateStatus(share.CreateCreated); err != nil {
		m.Reset()
		return nil, err
	}
	s.metas[key] = m
	s.cfg.Metrics.SetRecords(len(s.metas))
	return m, nil
}

// Get returns the live record of a stream.
func (s *Service) Get(key share.StreamKey) (*lsmeta.Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.recovered {
		return nil, ErrNotRecovered
	}
	m, ok := s.metas[key]
	if !ok {
		return nil, fmt.Errorf("ls %s: %w", key, lsmeta.ErrNotFound)
	}
	return m, nil
}

// List returns snapshots of every live record ordered by stream key.
func (s *Service) List() ([]lsmeta.Record, error) {
	s.mu.RLock()
	metas := make([]*lsmeta.Meta, 0, len(s.metas))
	for _, m := range s.metas {
		metas = append(metas, m)
	}
	recovered := s.recovered
	s.mu.RUnlock()

	if !recovered {
		return nil, ErrNotRecovered
	}
	recs := make([]lsmeta.Record, 0, len(metas))
	for _, m := range metas {
		recs = append(recs, m.Snapshot())
	}
	slices.SortFunc(recs, func(a, b lsmeta.Record) int {
		switch {
		case a.Key().Less(b.Key()):
			return -1
		case b.Key().Less(a.Key()):
			return 1
		}
		return 0
	})
	return recs, nil
}

// Remove persists the Removed status of a stream, drops it from the
// service and trims its log down to that final entry.
func (s *Service) Remove(ctx context.Context, key share.StreamKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recovered {
		return ErrNotRecovered
	}
	m, ok := s.metas[key]
	if !ok {
		return fmt.Errorf("remove ls %s: %w", key, lsmeta.ErrNotFound)
	}
	if err := m.SetCreateStatus(share.CreateRemoved); err != nil {
		return err
	}
	delete(s.metas, key)
	s.cfg.Metrics.SetRecords(len(s.metas))

	if _, err := s.backend.Trim(ctx, key, 1); err != nil {
		s.logger.Warn("trim removed ls failed", "ls", key, "error", err)
	}
	return nil
}

// Compact trims the log of every live stream to KeepEntries entries and
// returns the number of entries removed.
func (s *Service) Compact(ctx context.Context) (int, error) {
	return s.CompactTo(ctx, s.cfg.KeepEntries)
}

// CompactTo is Compact with an explicit entry count. keep <= 0 keeps all.
func (s *Service) CompactTo(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	s.mu.RLock()
	keys := make([]share.StreamKey, 0, len(s.metas))
	for k := range s.metas {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	total := 0
	for _, k := range keys {
		n, err := s.backend.Trim(ctx, k, keep)
		if err != nil {
			return total, fmt.Errorf("compact ls %s: %w", k, err)
		}
		total += n
	}
	return total, nil
}

// Close closes the backend.
func (s *Service) Close() error {
	return s.backend.Close()
}
