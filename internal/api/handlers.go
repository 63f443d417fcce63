package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/TOMATOFGY/oceanbase/internal/lsmeta"
	"github.com/TOMATOFGY/oceanbase/internal/lsservice"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

type handler struct {
	svc    *lsservice.Service
	logger *slog.Logger
}

// RecordView is the JSON shape of one record: its canonical persisted
// payload plus the checksum a durable entry would carry.
type RecordView struct {
	Record   json.RawMessage `json:"record"`
	Checksum string          `json:"checksum"`
}

// EntryView is one durable log entry.
type EntryView struct {
	Seq      int64           `json:"seq"`
	ID       string          `json:"id"`
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Record   json.RawMessage `json:"record"`
}

func newRecordView(r lsmeta.Record) (RecordView, error) {
	enc, err := lsmeta.EncodeRecord(r)
	if err != nil {
		return RecordView{}, err
	}
	return RecordView{Record: enc.Payload, Checksum: enc.Checksum}, nil
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.List()
	if err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "streams": len(recs)})
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.List()
	if err != nil {
		h.fail(w, err)
		return
	}
	views := make([]RecordView, 0, len(recs))
	for _, rec := range recs {
		v, err := newRecordView(rec)
		if err != nil {
			h.fail(w, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": views})
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	v, err := newRecordView(m.Snapshot())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	key, ok := parseKey(w, r)
	if !ok {
		return
	}
	entries, err := h.svc.Backend().History(r.Context(), key)
	if err != nil {
		h.fail(w, err)
		return
	}
	if len(entries) == 0 {
		writeProblem(w, http.StatusNotFound, "not_found", "no log entries for ls "+key.String())
		return
	}
	views := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, EntryView{
			Seq:      e.Seq,
			ID:       e.ID,
			Version:  e.Version,
			Checksum: e.Checksum,
			Record:   e.Payload,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}

func (h *handler) backup(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := m.CheckValidForBackup(); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backupable": true})
}

func parseKey(w http.ResponseWriter, r *http.Request) (share.StreamKey, bool) {
	tenant, err := strconv.ParseUint(chi.URLParam(r, "tenant"), 10, 64)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_argument", "tenant must be an unsigned integer")
		return share.StreamKey{}, false
	}
	ls, err := strconv.ParseInt(chi.URLParam(r, "ls"), 10, 64)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_argument", "ls must be an integer")
		return share.StreamKey{}, false
	}
	return share.StreamKey{TenantID: share.TenantID(tenant), LSID: share.LSID(ls)}, true
}

func (h *handler) lookup(w http.ResponseWriter, r *http.Request) (*lsmeta.Meta, bool) {
	key, ok := parseKey(w, r)
	if !ok {
		return nil, false
	}
	m, err := h.svc.Get(key)
	if err != nil {
		h.fail(w, err)
		return nil, false
	}
	return m, true
}

// fail maps lsmeta error kinds onto HTTP statuses.
func (h *handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lsmeta.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lsmeta.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, lsmeta.ErrNotBackupable),
		errors.Is(err, lsmeta.ErrInvalidState),
		errors.Is(err, lsmeta.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, lsservice.ErrNotRecovered):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("api request failed", "error", err)
	}
	kind := lsmeta.KindName(err)
	if kind == "unknown" {
		kind = ""
	}
	writeProblem(w, status, kind, err.Error())
}
