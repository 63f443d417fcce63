package idmeta

import (
	"sync"

	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// IDService hands out IDs of one service type under a durable watermark.
//
// The owning record drives it in two steps. ProposeWatermark returns the
// next limit to persist and must not change what the service hands out.
// Reserved is called only after that limit is durable. Fence is called when
// the durable watermark moved by any other path (recovery, a merge from a
// peer, a direct update): no ID at or below limit may be handed out after it.
//
// All three are called with the owning record's guard held and must not
// call back into that record.
type IDService interface {
	ServiceType() ServiceType
	ProposeWatermark(durable IDMeta) (limitedID int64, latestLogTS share.SCN)
	Reserved(from, limit int64)
	Fence(limit int64)
}

// Preallocator reserves IDs in fixed-size batches above the durable
// watermark.
//
// Thread-safety: safe for concurrent use.
type Preallocator struct {
	mu      sync.Mutex
	service ServiceType
	batch   int64
	limit   int64
	next    int64
	clock   func() share.SCN
}

// NewPreallocator starts above recovered with nothing reserved; IDs are
// handed out only after the first durable Reserved. clock supplies the log
// timestamp recorded with each new limit.
func NewPreallocator(svc ServiceType, recovered, batch int64, clock func() share.SCN) *Preallocator {
	if batch <= 0 {
		batch = 1
	}
	return &Preallocator{
		service: svc,
		batch:   batch,
		limit:   recovered,
		next:    recovered + 1,
		clock:   clock,
	}
}

// ServiceType implements IDService.
func (p *Preallocator) ServiceType() ServiceType {
	return p.service
}

// ProposeWatermark implements IDService: one batch above both the local
// limit and the durable one.
func (p *Preallocator) ProposeWatermark(durable IDMeta) (int64, share.SCN) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return max(p.limit, durable.LimitedID) + p.batch, p.clock()
}

// Reserved implements IDService. IDs in (from, limit] now belong to p.
func (p *Preallocator) Reserved(from, limit int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next <= from {
		p.next = from + 1
	}
	p.limit = limit
}

// Fence implements IDService.
func (p *Preallocator) Fence(limit int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next <= limit {
		p.next = limit + 1
	}
}

// Alloc hands out the next ID if it is below the reserved limit. ok is false
// when a new watermark must be made durable first.
func (p *Preallocator) Alloc() (id int64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next > p.limit {
		return 0, false
	}
	id = p.next
	p.next++
	return id, true
}
