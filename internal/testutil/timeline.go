package testutil

import (
	"fmt"
	"sort"
	"sync"

	"github.com/TOMATOFGY/oceanbase/internal/share"
)

type point struct {
	lsn share.LSN
	scn share.SCN
}

// Timeline remembers at which logical time each log position was written.
// It implements lsmeta.PositionClock.
//
// Thread-safety: all methods are safe for concurrent use.
type Timeline struct {
	mu     sync.RWMutex
	points []point
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

// Record notes that the entry at lsn was written at scn. Positions must be
// recorded in increasing order with non-decreasing times.
func (t *Timeline) Record(lsn share.LSN, scn share.SCN) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.points); n > 0 {
		last := t.points[n-1]
		if lsn <= last.lsn || scn < last.scn {
			return fmt.Errorf("timeline: (%s, %s) does not follow (%s, %s)", lsn, scn, last.lsn, last.scn)
		}
	}
	t.points = append(t.points, point{lsn: lsn, scn: scn})
	return nil
}

// SCNAt returns the time of the last entry at or before lsn, or MinSCN when
// nothing was written that early.
func (t *Timeline) SCNAt(lsn share.LSN) (share.SCN, error) {
	if !lsn.IsValid() {
		return share.InvalidSCN, fmt.Errorf("timeline: invalid lsn %s", lsn)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := sort.Search(len(t.points), func(i int) bool { return t.points[i].lsn > lsn })
	if i == 0 {
		return share.MinSCN, nil
	}
	return t.points[i-1].scn, nil
}

// Len returns the number of recorded positions.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.points)
}
