package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSort(t *testing.T) {
	def := SortSpec{Field: "id"}

	got, err := ParseSort("", CustomerSorts, def)
	require.NoError(t, err)
	assert.Equal(t, def, got)

	got, err = ParseSort("-points_balance", CustomerSorts, def)
	require.NoError(t, err)
	assert.Equal(t, SortSpec{Field: "points_balance", Desc: true}, got)

	_, err = ParseSort("password_hash", CustomerSorts, def)
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestNormalizeAndPage(t *testing.T) {
	p := ListParams{Page: 0, PerPage: 500}.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, MaxPerPage, p.PerPage)

	p = ListParams{Page: 3, PerPage: 10}.Normalize()
	assert.Equal(t, 20, p.Offset())

	pg := NewPage[int](nil, 21, p)
	assert.NotNil(t, pg.Data)
	assert.Equal(t, PageMeta{Page: 3, PerPage: 10, Total: 21, LastPage: 3}, pg.Meta)

	empty := NewPage[int](nil, 0, ListParams{}.Normalize())
	assert.Equal(t, 1, empty.Meta.LastPage)
}

func TestTierFor(t *testing.T) {
	s := DefaultProgramSettings()
	assert.Equal(t, TierBronze, s.TierFor(999))
	assert.Equal(t, TierSilver, s.TierFor(1000))
	assert.Equal(t, TierGold, s.TierFor(5000))
	assert.Equal(t, TierPlatinum, s.TierFor(20000))

	s.PlatinumThreshold = 0
	assert.Equal(t, TierGold, s.TierFor(1_000_000))
}

func TestApplyDelta(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := Customer{}

	c.ApplyDelta(TxnEarn, 500, now)
	c.ApplyDelta(TxnRedeem, -200, now)
	c.ApplyDelta(TxnRefund, 200, now)
	c.ApplyDelta(TxnAdjust, 50, now)
	c.ApplyDelta(TxnAdjust, -25, now)
	c.ApplyDelta(TxnExpire, -100, now)

	assert.Equal(t, int64(425), c.PointsBalance)
	assert.Equal(t, int64(550), c.LifetimePoints)
	assert.Equal(t, int64(0), c.PointsRedeemed)
	assert.Equal(t, int64(100), c.PointsExpired)
	require.NotNil(t, c.LastActivityAt)
	assert.Equal(t, now, *c.LastActivityAt)
}

func TestJSONColumns(t *testing.T) {
	v, err := StringList{"a", "b"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, v)

	var l StringList
	require.NoError(t, l.Scan([]byte(`["x"]`)))
	assert.Equal(t, StringList{"x"}, l)
	assert.Error(t, l.Scan(42))

	var c Criteria
	require.NoError(t, c.Scan(`[{"field":"tier","operator":"eq","value":"gold"}]`))
	assert.Equal(t, Criteria{{Field: "tier", Operator: "eq", Value: "gold"}}, c)

	nilVal, err := Criteria(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", nilVal)
}
