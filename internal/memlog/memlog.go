// Package memlog is an in-memory durable log for ls meta records. It backs
// tests, scenarios and the "memory" storage backend; nothing survives the
// process.
package memlog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/TOMATOFGY/oceanbase/internal/lsmeta"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// ErrInjected is returned by a write that FailNext armed.
var ErrInjected = errors.New("injected slog failure")

// Log is an append-only slice of entries guarded by a RWMutex.
type Log struct {
	mu       sync.RWMutex
	entries  []lsmeta.Entry
	tail     int64
	failures int
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// FailNext makes the next n writes fail with ErrInjected.
func (l *Log) FailNext(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = n
}

// Append stores e under the next seq and returns that seq.
func (l *Log) Append(ctx context.Context, e lsmeta.Entry) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures > 0 {
		l.failures--
		return 0, ErrInjected
	}
	l.tail++
	e.Seq = l.tail
	l.entries = append(l.entries, e)
	return e.Seq, nil
}

// WriteSlog implements lsmeta.SlogWriter.
func (l *Log) WriteSlog(rec lsmeta.Record) error {
	e, err := lsmeta.NewEntry(rec)
	if err != nil {
		return fmt.Errorf("write slog: %w", err)
	}
	_, err = l.Append(context.Background(), e)
	return err
}

// LatestAll returns the newest entry of every stream, ordered by stream key.
func (l *Log) LatestAll(ctx context.Context) ([]lsmeta.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	byKey := make(map[share.StreamKey]lsmeta.Entry)
	for _, e := range l.entries {
		byKey[e.Key()] = e
	}
	latest := make([]lsmeta.Entry, 0, len(byKey))
	for _, e := range byKey {
		latest = append(latest, e)
	}
	slices.SortFunc(latest, func(a, b lsmeta.Entry) int {
		switch {
		case a.Key().Less(b.Key()):
			return -1
		case b.Key().Less(a.Key()):
			return 1
		}
		return 0
	})
	return latest, nil
}

// History returns every retained entry of one stream in append order.
func (l *Log) History(ctx context.Context, key share.StreamKey) ([]lsmeta.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []lsmeta.Entry{}
	for _, e := range l.entries {
		if e.Key() == key {
			out = append(out, e)
		}
	}
	return out, nil
}

// Trim drops all but the newest keep entries of one stream and returns
// how many were dropped.
func (l *Log) Trim(ctx context.Context, key share.StreamKey, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("trim slog: keep must be at least 1, got %d", keep)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	for _, e := range l.entries {
		if e.Key() == key {
			total++
		}
	}
	drop := total - keep
	if drop <= 0 {
		return 0, nil
	}
	removed := 0
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Key() == key && removed < drop {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return removed, nil
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Close is a no-op; the entries stay readable.
func (l *Log) Close() error { return nil }
