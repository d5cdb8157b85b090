package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSynthesizesFreeTier(t *testing.T) {
	c, err := New([]Entry{
		{ProductID: "app.hearth.plus.monthly", Tier: "plus", Rank: 5, MemberSeats: 6, PetSlots: 3},
	})
	require.NoError(t, err)

	free := c.FreeTier()
	assert.Equal(t, FreeTierProductID, free.ProductID)
	assert.Equal(t, 0, free.Rank)
	assert.Equal(t, 1, free.MemberSeats)
	assert.Equal(t, 0, free.PetSlots)
	assert.True(t, c.Recognized("app.hearth.plus.monthly"))
	assert.True(t, c.Recognized(FreeTierProductID))
}

func TestNewRejectsBadEntries(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New([]Entry{{ProductID: "  "}})
	assert.Error(t, err)

	_, err = New([]Entry{
		{ProductID: "p", Rank: -1},
	})
	assert.Error(t, err)

	_, err = New([]Entry{
		{ProductID: "p", Rank: 1},
		{ProductID: "p", Rank: 2},
	})
	assert.Error(t, err)

	_, err = New([]Entry{
		{ProductID: FreeTierProductID, Rank: 3},
	})
	assert.Error(t, err, "free tier must stay at rank 0")
}

func TestLookup(t *testing.T) {
	c, err := New(defaultEntries())
	require.NoError(t, err)

	entry, ok := c.Lookup("app.hearth.family.yearly")
	require.True(t, ok)
	assert.Equal(t, "family", entry.Tier)
	assert.Equal(t, 8, entry.Rank)
	assert.Greater(t, entry.MemberSeats, 0)

	_, ok = c.Lookup("app.hearth.unknown")
	assert.False(t, ok)
}
