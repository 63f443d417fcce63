package idmeta

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TOMATOFGY/oceanbase/internal/share"
)

func TestNewWatermarksStartAtZero(t *testing.T) {
	all := New()
	for svc := TimestampService; svc < MaxServiceType; svc++ {
		m, err := all.Get(svc)
		require.NoError(t, err)
		assert.Equal(t, IDMeta{LimitedID: 0, LatestLogTS: share.MinSCN}, m)
	}
	assert.NoError(t, all.Validate())
}

func TestUpdateAdvances(t *testing.T) {
	all := New()
	require.NoError(t, all.Update(TransIDService, 1000, 50))
	require.NoError(t, all.Update(TransIDService, 1000, 60))
	require.NoError(t, all.Update(TransIDService, 2000, 60))

	m, err := all.Get(TransIDService)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), m.LimitedID)
	assert.Equal(t, share.SCN(60), m.LatestLogTS)

	// other services untouched
	ts, _ := all.Get(TimestampService)
	assert.Equal(t, int64(0), ts.LimitedID)
}

func TestUpdateRejectsRegression(t *testing.T) {
	all := New()
	require.NoError(t, all.Update(DASService, 500, 20))
	before := all

	err := all.Update(DASService, 499, 30)
	assert.True(t, errors.Is(err, ErrWatermarkRegression))

	err = all.Update(DASService, 600, 19)
	assert.True(t, errors.Is(err, ErrWatermarkRegression))

	assert.Equal(t, before, all)
}

func TestUpdateRejectsBadInput(t *testing.T) {
	all := New()
	assert.True(t, errors.Is(all.Update(MaxServiceType, 1, 1), ErrInvalidServiceType))
	assert.True(t, errors.Is(all.Update(ServiceType(-1), 1, 1), ErrInvalidServiceType))
	assert.True(t, errors.Is(all.Update(TimestampService, -1, 1), ErrInvalidWatermark))
	assert.True(t, errors.Is(all.Update(TimestampService, 1, share.InvalidSCN), ErrInvalidWatermark))
}

func TestMergeTakesMaximum(t *testing.T) {
	a := New()
	b := New()
	require.NoError(t, a.Update(TimestampService, 100, 10))
	require.NoError(t, b.Update(TimestampService, 50, 20))
	require.NoError(t, b.Update(TransIDService, 7, 3))

	merged := a.Merge(b)
	ts, _ := merged.Get(TimestampService)
	assert.Equal(t, IDMeta{LimitedID: 100, LatestLogTS: 20}, ts)
	tx, _ := merged.Get(TransIDService)
	assert.Equal(t, IDMeta{LimitedID: 7, LatestLogTS: 3}, tx)

	assert.Equal(t, merged, merged.Merge(b), "merge is idempotent")
}

func TestMapRoundTrip(t *testing.T) {
	all := New()
	require.NoError(t, all.Update(TransIDService, 4096, 77))

	m := all.Map()
	assert.Len(t, m, int(MaxServiceType))
	assert.Equal(t, int64(4096), m["TRANS_ID"].LimitedID)

	back, err := FromMap(m)
	require.NoError(t, err)
	assert.Equal(t, all, back)

	_, err = FromMap(map[string]IDMeta{"BOGUS": {}})
	assert.Error(t, err)

	_, err = FromMap(map[string]IDMeta{"DAS": {LimitedID: -5}})
	assert.True(t, errors.Is(err, ErrInvalidWatermark))
}

func drain(p *Preallocator) []int64 {
	var got []int64
	for {
		id, ok := p.Alloc()
		if !ok {
			return got
		}
		got = append(got, id)
	}
}

func TestPreallocator(t *testing.T) {
	var now share.SCN = 100
	p := NewPreallocator(TransIDService, 10, 5, func() share.SCN { return now })
	assert.Equal(t, TransIDService, p.ServiceType())

	_, ok := p.Alloc()
	assert.False(t, ok, "nothing reserved above the recovered limit yet")

	limit, ts := p.ProposeWatermark(IDMeta{LimitedID: 10})
	assert.Equal(t, int64(15), limit)
	assert.Equal(t, share.SCN(100), ts)

	_, ok = p.Alloc()
	assert.False(t, ok, "a proposal reserves nothing")

	p.Reserved(10, limit)
	assert.Equal(t, []int64{11, 12, 13, 14, 15}, drain(p))
}

func TestPreallocatorProposesAboveDurable(t *testing.T) {
	p := NewPreallocator(TransIDService, 0, 100, func() share.SCN { return 1 })

	limit, _ := p.ProposeWatermark(IDMeta{LimitedID: 5000})
	assert.Equal(t, int64(5100), limit)

	p.Reserved(5000, limit)
	id, ok := p.Alloc()
	require.True(t, ok)
	assert.Equal(t, int64(5001), id, "IDs below the durable watermark are skipped")
}

func TestPreallocatorFence(t *testing.T) {
	p := NewPreallocator(TransIDService, 0, 10, func() share.SCN { return 1 })
	p.Reserved(0, 10)
	id, _ := p.Alloc()
	assert.Equal(t, int64(1), id)

	// A peer's watermark above the local range invalidates what is left.
	p.Fence(40)
	_, ok := p.Alloc()
	assert.False(t, ok)

	limit, _ := p.ProposeWatermark(IDMeta{LimitedID: 40})
	p.Reserved(40, limit)
	assert.Equal(t, []int64{41, 42, 43, 44, 45, 46, 47, 48, 49, 50}, drain(p))

	// Fencing below the handed-out range changes nothing.
	p.Fence(3)
	_, ok = p.Alloc()
	assert.False(t, ok)
}
