package share

import (
	"fmt"
	"math"
	"strconv"
)

// TenantID identifies the logical tenant that owns a log stream.
type TenantID uint64

// InvalidTenantID is the zero tenant; no real tenant uses it.
const InvalidTenantID TenantID = 0

// IsValid reports whether the tenant ID is set.
func (t TenantID) IsValid() bool {
	return t != InvalidTenantID
}

// LSID identifies a log stream within a tenant.
type LSID int64

// InvalidLSID marks an unset stream identity.
const InvalidLSID LSID = -1

// IsValid reports whether the stream ID is set.
func (id LSID) IsValid() bool {
	return id >= 0
}

// StreamKey is the identity pair of one log stream replica's metadata.
type StreamKey struct {
	TenantID TenantID
	LSID     LSID
}

// String renders the key as "tenant/ls".
func (k StreamKey) String() string {
	return fmt.Sprintf("%d/%d", k.TenantID, k.LSID)
}

// Less orders keys by tenant, then stream.
func (k StreamKey) Less(o StreamKey) bool {
	if k.TenantID != o.TenantID {
		return k.TenantID < o.TenantID
	}
	return k.LSID < o.LSID
}

// LSN is a position in a log stream's write-ahead log.
type LSN uint64

const (
	// MinLSN is the first position of a freshly created log.
	MinLSN LSN = 0
	// InvalidLSN marks an unset position.
	InvalidLSN LSN = math.MaxUint64
)

// IsValid reports whether the position is set.
func (l LSN) IsValid() bool {
	return l != InvalidLSN
}

func (l LSN) String() string {
	if !l.IsValid() {
		return "INVALID"
	}
	return strconv.FormatUint(uint64(l), 10)
}

// SCN is a logical timestamp in the replicated log's timeline.
type SCN int64

const (
	// MinSCN is the smallest valid logical time.
	MinSCN SCN = 0
	// InvalidSCN marks an unset logical time.
	InvalidSCN SCN = -1
)

// IsValid reports whether the logical time is set.
func (s SCN) IsValid() bool {
	return s >= MinSCN
}

func (s SCN) String() string {
	if !s.IsValid() {
		return "INVALID"
	}
	return strconv.FormatInt(int64(s), 10)
}

// MaxSCN returns the later of two logical times.
func MaxSCN(a, b SCN) SCN {
	if a > b {
		return a
	}
	return b
}
