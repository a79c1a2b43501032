package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filled(values ...float64) *Cache[rec] {
	c := &Cache[rec]{}
	for _, r := range recs(values...) {
		c.append(r)
	}
	return c
}

func TestCache_Resolve(t *testing.T) {
	c := filled(10, 11, 12, 13)

	tests := []struct {
		name      string
		item      rec
		hint      int
		wantAct   Act
		wantIndex int
	}{
		{"newer than tail", rec{at(4), 14}, 3, Append, 4},
		{"identical tail resend", rec{at(3), 13}, 3, Ignore, 3},
		{"identical resend with bad hint", rec{at(1), 11}, 3, Ignore, 1},
		{"changed tail", rec{at(3), 99}, 3, Rebuild, 3},
		{"changed middle", rec{at(1), 99}, -1, Rebuild, 1},
		{"late arrival", rec{at(1).Add(30 * time.Second), 11.5}, -1, Rebuild, 2},
		{"before first", rec{at(-1), 9}, -1, Rebuild, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, i, err := c.Resolve(tt.item, tt.hint)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAct, act)
			assert.Equal(t, tt.wantIndex, i)
		})
	}
	assert.Equal(t, 4, c.Len(), "Resolve must not mutate")
}

func TestCache_ResolveEmpty(t *testing.T) {
	var c Cache[rec]
	act, i, err := c.Resolve(rec{at(0), 1}, -1)
	require.NoError(t, err)
	assert.Equal(t, Append, act)
	assert.Equal(t, 0, i)
}

func TestCache_ResolveZeroTimestamp(t *testing.T) {
	c := filled(1, 2)
	_, _, err := c.Resolve(rec{V: 3}, -1)
	require.ErrorIs(t, err, ErrSequence)
}

func TestCache_ApplyKeepsOrder(t *testing.T) {
	c := filled(10, 11, 13)
	late := rec{at(1).Add(time.Second), 12}

	act, i, err := c.Resolve(late, -1)
	require.NoError(t, err)
	c.apply(act, i, late)

	require.Equal(t, 4, c.Len())
	for j := 1; j < c.Len(); j++ {
		assert.True(t, c.At(j).TS.After(c.At(j-1).TS), "index %d out of order", j)
	}
	assert.Equal(t, 12.0, c.At(2).V)
}

func TestCache_IndexLookups(t *testing.T) {
	c := filled(1, 2, 3)

	assert.Equal(t, 1, c.IndexOf(at(1)))
	assert.Equal(t, -1, c.IndexOf(at(1).Add(time.Second)))
	assert.Equal(t, 2, c.IndexGTE(at(1).Add(time.Second)))
	assert.Equal(t, 3, c.IndexGTE(at(9)))
	assert.Equal(t, 0, c.IndexGTE(time.Time{}))
}

func TestCache_RemoveAndTruncate(t *testing.T) {
	c := filled(1, 2, 3, 4)

	c.removeAt(1)
	assert.Equal(t, []float64{1, 3, 4}, values(c.Items()))

	c.truncate(1)
	assert.Equal(t, []float64{1}, values(c.Items()))

	c.truncate(5)
	assert.Equal(t, 1, c.Len())
}

func TestAct_String(t *testing.T) {
	assert.Equal(t, "append", Append.String())
	assert.Equal(t, "ignore", Ignore.String())
	assert.Equal(t, "rebuild", Rebuild.String())
	assert.Equal(t, "unknown", Act(9).String())
}

func values(rs []rec) []float64 {
	out := make([]float64, len(rs))
	for i, r := range rs {
		out[i] = r.V
	}
	return out
}
