// Package idmeta holds the per-service ID allocation watermarks of a log
// stream.
//
// Each service type allocates monotonic IDs to transactions on the stream in
// batches. Before a batch is handed out its upper bound (the limited ID) is
// recorded together with the log timestamp that authorised it, so recovery
// can resume allocation strictly above the last durable bound.
//
// AllIDMeta is a value type with no locking of its own; the owning metadata
// record serialises access to it.
package idmeta

import (
	"errors"
	"fmt"

	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// ServiceType selects one of the ID allocation services on a stream.
type ServiceType int

const (
	TimestampService ServiceType = iota
	TransIDService
	DASService
	MaxServiceType
)

var serviceTypeNames = [...]string{
	TimestampService: "TIMESTAMP",
	TransIDService:   "TRANS_ID",
	DASService:       "DAS",
}

// IsValid reports whether t is a known service.
func (t ServiceType) IsValid() bool {
	return t >= TimestampService && t < MaxServiceType
}

func (t ServiceType) String() string {
	if !t.IsValid() {
		return fmt.Sprintf("ServiceType(%d)", int(t))
	}
	return serviceTypeNames[t]
}

// ParseServiceType converts a name such as "TRANS_ID" into a ServiceType.
func ParseServiceType(name string) (ServiceType, error) {
	for i := TimestampService; i < MaxServiceType; i++ {
		if serviceTypeNames[i] == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("unknown id service %q", name)
}

var (
	// ErrInvalidServiceType is returned for a service outside [0, MaxServiceType).
	ErrInvalidServiceType = errors.New("invalid id service type")

	// ErrInvalidWatermark is returned for a negative limit or invalid log timestamp.
	ErrInvalidWatermark = errors.New("invalid id watermark")

	// ErrWatermarkRegression is returned when an update would move a
	// limited ID or its log timestamp backwards.
	ErrWatermarkRegression = errors.New("id watermark regression")
)

// IDMeta is the durable watermark of one service.
type IDMeta struct {
	LimitedID   int64     `json:"limited_id"`
	LatestLogTS share.SCN `json:"latest_log_ts"`
}

// AllIDMeta holds one IDMeta per service type.
type AllIDMeta struct {
	metas [MaxServiceType]IDMeta
}

// New returns watermarks for a freshly created stream.
func New() AllIDMeta {
	var all AllIDMeta
	for i := range all.metas {
		all.metas[i] = IDMeta{LimitedID: 0, LatestLogTS: share.MinSCN}
	}
	return all
}

// Get returns the watermark of one service.
func (a AllIDMeta) Get(svc ServiceType) (IDMeta, error) {
	if !svc.IsValid() {
		return IDMeta{}, fmt.Errorf("%w: %d", ErrInvalidServiceType, svc)
	}
	return a.metas[svc], nil
}

// Check validates an update without applying it.
func (a AllIDMeta) Check(svc ServiceType, limitedID int64, latestLogTS share.SCN) error {
	if !svc.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidServiceType, svc)
	}
	if limitedID < 0 || !latestLogTS.IsValid() {
		return fmt.Errorf("%w: limited_id=%d latest_log_ts=%s", ErrInvalidWatermark, limitedID, latestLogTS)
	}
	cur := a.metas[svc]
	if limitedID < cur.LimitedID {
		return fmt.Errorf("%w: %s limited_id %d < %d", ErrWatermarkRegression, svc, limitedID, cur.LimitedID)
	}
	if latestLogTS < cur.LatestLogTS {
		return fmt.Errorf("%w: %s latest_log_ts %s < %s", ErrWatermarkRegression, svc, latestLogTS, cur.LatestLogTS)
	}
	return nil
}

// Update validates and applies an update in place.
func (a *AllIDMeta) Update(svc ServiceType, limitedID int64, latestLogTS share.SCN) error {
	if err := a.Check(svc, limitedID, latestLogTS); err != nil {
		return err
	}
	a.metas[svc] = IDMeta{LimitedID: limitedID, LatestLogTS: latestLogTS}
	return nil
}

// Merge returns the per-service maximum of a and other.
func (a AllIDMeta) Merge(other AllIDMeta) AllIDMeta {
	out := a
	for i := range out.metas {
		if other.metas[i].LimitedID > out.metas[i].LimitedID {
			out.metas[i].LimitedID = other.metas[i].LimitedID
		}
		out.metas[i].LatestLogTS = share.MaxSCN(out.metas[i].LatestLogTS, other.metas[i].LatestLogTS)
	}
	return out
}

// Validate checks every watermark is well formed.
func (a AllIDMeta) Validate() error {
	for i, m := range a.metas {
		if m.LimitedID < 0 || !m.LatestLogTS.IsValid() {
			return fmt.Errorf("%w: %s limited_id=%d latest_log_ts=%s",
				ErrInvalidWatermark, ServiceType(i), m.LimitedID, m.LatestLogTS)
		}
	}
	return nil
}

// Map returns the watermarks keyed by service name, for serialisation.
func (a AllIDMeta) Map() map[string]IDMeta {
	out := make(map[string]IDMeta, len(a.metas))
	for i, m := range a.metas {
		out[ServiceType(i).String()] = m
	}
	return out
}

// FromMap rebuilds watermarks from Map output. Services missing from m
// keep their initial watermark.
func FromMap(m map[string]IDMeta) (AllIDMeta, error) {
	all := New()
	for name, meta := range m {
		svc, err := ParseServiceType(name)
		if err != nil {
			return AllIDMeta{}, err
		}
		all.metas[svc] = meta
	}
	return all, all.Validate()
}
