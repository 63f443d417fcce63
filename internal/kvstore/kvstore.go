// Package kvstore provides a BadgerDB-backed durable log for ls meta
// records, an alternative to the SQLite store for embedded deployments.
//
// Storage Model:
//   - slog:{tenant}{ls}{seq} -> JSON(storedEntry), all three big-endian
//     uint64, so a prefix scan returns one stream's entries in append order
//   - slogseq -> badger sequence allocating seq values
package kvstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/TOMATOFGY/oceanbase/internal/lsmeta"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

const (
	prefixSlog   = "slog:"
	keySequence  = "slogseq"
	seqBandwidth = 128
	keyLen       = len(prefixSlog) + 24
)

type storedEntry struct {
	ID       string `json:"id"`
	Version  int    `json:"version"`
	Payload  []byte `json:"payload"`
	Checksum string `json:"checksum"`
}

// Store is a durable ls meta log in a BadgerDB directory.
//
// Thread Safety:
// All operations use BadgerDB's transaction support for atomicity.
type Store struct {
	db  *badgerdb.DB
	seq *badgerdb.Sequence
}

// Open opens or creates a Badger database in dir. An empty dir keeps the
// database in memory.
func Open(dir string) (*Store, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte(keySequence), seqBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open badger sequence: %w", err)
	}
	return &Store{db: db, seq: seq}, nil
}

// Close releases unused sequence numbers and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return fmt.Errorf("release badger sequence: %w", err)
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func streamPrefix(key share.StreamKey) []byte {
	b := make([]byte, 0, keyLen-8)
	b = append(b, prefixSlog...)
	b = binary.BigEndian.AppendUint64(b, uint64(key.TenantID))
	b = binary.BigEndian.AppendUint64(b, uint64(key.LSID))
	return b
}

func entryKey(key share.StreamKey, seq int64) []byte {
	return binary.BigEndian.AppendUint64(streamPrefix(key), uint64(seq))
}

func parseKey(k []byte) (share.StreamKey, int64, error) {
	if len(k) != keyLen {
		return share.StreamKey{}, 0, fmt.Errorf("malformed slog key %x", k)
	}
	rest := k[len(prefixSlog):]
	return share.StreamKey{
		TenantID: share.TenantID(binary.BigEndian.Uint64(rest[0:8])),
		LSID:     share.LSID(binary.BigEndian.Uint64(rest[8:16])),
	}, int64(binary.BigEndian.Uint64(rest[16:24])), nil
}

// Append stores an entry and returns the seq assigned to it.
func (s *Store) Append(ctx context.Context, e lsmeta.Entry) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	next, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("append slog: %w", err)
	}
	seq := int64(next) + 1

	data, err := json.Marshal(storedEntry{ID: e.ID, Version: e.Version, Payload: e.Payload, Checksum: e.Checksum})
	if err != nil {
		return 0, fmt.Errorf("append slog: %w", err)
	}
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(entryKey(e.Key(), seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("append slog: %w", err)
	}
	return seq, nil
}

// WriteSlog implements lsmeta.SlogWriter.
func (s *Store) WriteSlog(rec lsmeta.Record) error {
	e, err := lsmeta.NewEntry(rec)
	if err != nil {
		return fmt.Errorf("write slog: %w", err)
	}
	_, err = s.Append(context.Background(), e)
	return err
}

// scan calls fn for every entry under prefix in key order.
func (s *Store) scan(prefix []byte, fn func(lsmeta.Entry) error) error {
	return s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key, seq, err := parseKey(item.Key())
			if err != nil {
				return err
			}
			var stored storedEntry
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			})
			if err != nil {
				return fmt.Errorf("decode slog %s/%d: %w", key, seq, err)
			}
			e := lsmeta.Entry{
				Seq:      seq,
				ID:       stored.ID,
				TenantID: key.TenantID,
				LSID:     key.LSID,
				Encoded: lsmeta.Encoded{
					Version:  stored.Version,
					Payload:  stored.Payload,
					Checksum: stored.Checksum,
				},
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// LatestAll returns the newest entry of every stream, ordered by tenant
// then stream.
func (s *Store) LatestAll(ctx context.Context) ([]lsmeta.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	latest := []lsmeta.Entry{}
	err := s.scan([]byte(prefixSlog), func(e lsmeta.Entry) error {
		if n := len(latest); n > 0 && latest[n-1].Key() == e.Key() {
			latest[n-1] = e
			return nil
		}
		latest = append(latest, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan latest slog: %w", err)
	}
	return latest, nil
}

// History returns every entry of one stream in append order.
func (s *Store) History(ctx context.Context, key share.StreamKey) ([]lsmeta.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := []lsmeta.Entry{}
	err := s.scan(streamPrefix(key), func(e lsmeta.Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan slog history: %w", err)
	}
	return entries, nil
}

// Trim deletes all but the newest keep entries of one stream and returns
// how many were removed.
func (s *Store) Trim(ctx context.Context, key share.StreamKey, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("trim slog: keep must be at least 1, got %d", keep)
	}
	entries, err := s.History(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(entries) <= keep {
		return 0, nil
	}
	drop := entries[:len(entries)-keep]
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		for _, e := range drop {
			if err := txn.Delete(entryKey(key, e.Seq)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("trim slog: %w", err)
	}
	return len(drop), nil
}
