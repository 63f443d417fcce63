package lsmeta

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// Entry is one durable log entry as kept by a backend. Seq is assigned by
// the backend on append and orders entries of the same stream.
type Entry struct {
	Seq      int64
	ID       string
	TenantID share.TenantID
	LSID     share.LSID
	Encoded
}

// NewEntry encodes rec into an entry with a fresh time-ordered ID.
func NewEntry(rec Record) (Entry, error) {
	enc, err := EncodeRecord(rec)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:       uuid.Must(uuid.NewV7()).String(),
		TenantID: rec.TenantID,
		LSID:     rec.LSID,
		Encoded:  enc,
	}, nil
}

// Key returns the stream the entry belongs to.
func (e Entry) Key() share.StreamKey {
	return share.StreamKey{TenantID: e.TenantID, LSID: e.LSID}
}

// Record decodes the entry and checks it belongs to the stream it is
// filed under.
func (e Entry) Record() (Record, error) {
	rec, err := DecodeRecord(e.Encoded)
	if err != nil {
		return Record{}, fmt.Errorf("entry %d (%s): %w", e.Seq, e.ID, err)
	}
	if rec.Key() != e.Key() {
		return Record{}, newError(ErrInvalidArgument, "decode",
			"entry %d filed under %s holds %s", e.Seq, e.Key(), rec.Key())
	}
	return rec, nil
}
