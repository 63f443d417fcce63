package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TOMATOFGY/oceanbase/internal/lsmeta"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// Append inserts an entry and returns the seq assigned to it.
func (s *Store) Append(ctx context.Context, e lsmeta.Entry) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ls_meta_slog (id, tenant_id, ls_id, version, payload, checksum)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		int64(e.TenantID),
		int64(e.LSID),
		e.Version,
		e.Payload,
		e.Checksum,
	)
	if err != nil {
		return 0, fmt.Errorf("append slog: %w", err)
	}
	seq, err := res.LastInsertId()
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

// LatestAll returns the newest entry of every stream, ordered by tenant
// then stream.
func (s *Store) LatestAll(ctx context.Context) ([]lsmeta.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, tenant_id, ls_id, version, payload, checksum
		FROM ls_meta_slog
		WHERE seq IN (
			SELECT MAX(seq) FROM ls_meta_slog GROUP BY tenant_id, ls_id
		)
		ORDER BY tenant_id ASC, ls_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query latest slog: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// History returns every entry of one stream in append order.
func (s *Store) History(ctx context.Context, key share.StreamKey) ([]lsmeta.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, tenant_id, ls_id, version, payload, checksum
		FROM ls_meta_slog
		WHERE tenant_id = ? AND ls_id = ?
		ORDER BY seq ASC
	`, int64(key.TenantID), int64(key.LSID))
	if err != nil {
		return nil, fmt.Errorf("query slog history: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Trim deletes all but the newest keep entries of one stream and returns
// how many were removed.
func (s *Store) Trim(ctx context.Context, key share.StreamKey, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("trim slog: keep must be at least 1, got %d", keep)
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM ls_meta_slog
		WHERE tenant_id = ? AND ls_id = ? AND seq NOT IN (
			SELECT seq FROM ls_meta_slog
			WHERE tenant_id = ? AND ls_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
	`, int64(key.TenantID), int64(key.LSID), int64(key.TenantID), int64(key.LSID), keep)
	if err != nil {
		return 0, fmt.Errorf("trim slog: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("trim slog: %w", err)
	}
	return int(n), nil
}

func scanEntries(rows *sql.Rows) ([]lsmeta.Entry, error) {
	entries := []lsmeta.Entry{}
	for rows.Next() {
		var (
			e      lsmeta.Entry
			tenant int64
			ls     int64
		)
		if err := rows.Scan(&e.Seq, &e.ID, &tenant, &ls, &e.Version, &e.Payload, &e.Checksum); err != nil {
			return nil, fmt.Errorf("scan slog: %w", err)
		}
		e.TenantID = share.TenantID(tenant)
		e.LSID = share.LSID(ls)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slog: %w", err)
	}
	return entries, nil
}
