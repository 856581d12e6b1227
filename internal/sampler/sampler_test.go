package sampler

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRNG(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func TestSampleWithinBoundsAndVisible(t *testing.T) {
	visible := []bool{true, false, true, true, false, true}

	for seed := int64(0); seed < 50; seed++ {
		ids, err := Sample(newRNG(seed), visible, 3, 0, 5, false)
		require.NoError(t, err)
		require.Len(t, ids, 3)

		assert.True(t, sort.IntsAreSorted(ids), "ids must be ascending: %v", ids)
		for i, id := range ids {
			assert.GreaterOrEqual(t, id, 0)
			assert.LessOrEqual(t, id, 5)
			assert.True(t, visible[id], "index %d is not visible", id)
			if i > 0 {
				assert.Greater(t, id, ids[i-1], "ids must be distinct: %v", ids)
			}
		}
	}
}

func TestSampleExactCandidateCountIsDeterministic(t *testing.T) {
	visible := []bool{true, false, true, true, false, true}

	// Candidates are {0, 2, 3, 5}; asking for all four must return
	// exactly that set regardless of seed.
	for seed := int64(0); seed < 20; seed++ {
		ids, err := Sample(newRNG(seed), visible, 4, 0, 5, false)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 2, 3, 5}, ids)
	}
}

func TestSampleInsufficient(t *testing.T) {
	visible := []bool{true, false, true, true, false, true}

	for seed := int64(0); seed < 20; seed++ {
		ids, err := Sample(newRNG(seed), visible, 5, 0, 5, false)
		assert.ErrorIs(t, err, ErrInsufficient)
		assert.Nil(t, ids)
	}
}

func TestSampleZeroCount(t *testing.T) {
	visible := []bool{false, false, false}

	ids, err := Sample(newRNG(1), visible, 0, 0, 2, false)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = Sample(newRNG(1), visible, -3, 0, 2, false)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSampleInvalidRange(t *testing.T) {
	visible := []bool{true, true, true, true, true, true}

	cases := []struct {
		name         string
		minID, maxID int
	}{
		{"inverted", 6, 5},
		{"negative min", -1, 3},
		{"max past end", 0, 6},
		{"both past end", 10, 12},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Sample(newRNG(1), visible, 1, tc.minID, tc.maxID, false)
			assert.ErrorIs(t, err, ErrInvalidRange)
			assert.NotErrorIs(t, err, ErrInsufficient)
		})
	}
}

func TestSampleAllowInvisible(t *testing.T) {
	visible := []bool{false, false, false, false}

	_, err := Sample(newRNG(1), visible, 2, 0, 3, false)
	assert.ErrorIs(t, err, ErrInsufficient)

	ids, err := Sample(newRNG(1), visible, 2, 0, 3, true)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.True(t, sort.IntsAreSorted(ids))
}

func TestSampleSubWindow(t *testing.T) {
	visible := []bool{true, true, true, true, true, true, true, true}

	for seed := int64(0); seed < 30; seed++ {
		ids, err := Sample(newRNG(seed), visible, 2, 3, 5, false)
		require.NoError(t, err)
		for _, id := range ids {
			assert.GreaterOrEqual(t, id, 3)
			assert.LessOrEqual(t, id, 5)
		}
	}
}

func TestSampleEmptySequence(t *testing.T) {
	_, err := Sample(newRNG(1), nil, 1, 0, 0, false)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestSampleUniformCoverage(t *testing.T) {
	// Over many draws every candidate should appear; a biased or
	// truncated candidate set would miss some.
	visible := []bool{true, false, true, true, false, true}
	rng := newRNG(7)

	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		ids, err := Sample(rng, visible, 1, 0, 5, false)
		require.NoError(t, err)
		seen[ids[0]] = true
	}
	assert.Equal(t, map[int]bool{0: true, 2: true, 3: true, 5: true}, seen)
}

func TestCountVisible(t *testing.T) {
	visible := []bool{true, false, true, true, false, true}

	n, err := CountVisible(visible, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = CountVisible(visible, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = CountVisible(visible, 4, 2)
	assert.ErrorIs(t, err, ErrInvalidRange)
}
