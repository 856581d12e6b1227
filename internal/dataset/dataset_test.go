package dataset

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklab/framesampler/internal/sampler"
)

func testDataset() SliceDataset {
	long := make([]bool, 120)
	for i := range long {
		long[i] = true
	}
	other := make([]bool, 80)
	for i := range other {
		other[i] = i%2 == 0
	}
	return SliceDataset{
		{Name: "car-01", Visible: long},
		{Name: "person-02", Visible: other},
	}
}

func testStrategy(t *testing.T) sampler.Strategy {
	t.Helper()
	strat, err := sampler.NewStrategy(sampler.ModeCausal, 2, 1, 20, 3)
	require.NoError(t, err)
	return strat
}

func TestPickerPositiveDraw(t *testing.T) {
	ds := testDataset()
	picker, err := NewPicker(ds, testStrategy(t), 1.0, 5)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 30; i++ {
		pair, err := picker.Pick(rng)
		require.NoError(t, err)
		assert.True(t, pair.Positive)
		assert.Equal(t, pair.TemplateSequence, pair.SearchSequence)
		assert.Len(t, pair.TemplateFrames, 2)
		assert.Len(t, pair.SearchFrames, 1)
	}
}

func TestPickerNegativeDraw(t *testing.T) {
	ds := testDataset()
	picker, err := NewPicker(ds, testStrategy(t), 0.0, 5)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		pair, err := picker.Pick(rng)
		require.NoError(t, err)
		assert.False(t, pair.Positive)
		assert.Len(t, pair.TemplateFrames, 2)
		assert.Len(t, pair.SearchFrames, 1)
		assert.NotEqual(t, pair.TemplateSequence, pair.SearchSequence,
			"negative pairs must come from distinct sequences")

		// Visibility still holds per sequence on negative draws.
		tmplSeq, err := Lookup(ds, pair.TemplateSequence)
		require.NoError(t, err)
		for _, id := range pair.TemplateFrames {
			assert.True(t, tmplSeq.Visible[id])
		}
	}
}

func TestPickerNegativeDrawCoversAllOtherSequences(t *testing.T) {
	long := make([]bool, 60)
	for i := range long {
		long[i] = true
	}
	ds := SliceDataset{
		{Name: "a", Visible: long},
		{Name: "b", Visible: long},
		{Name: "c", Visible: long},
	}
	picker, err := NewPicker(ds, testStrategy(t), 0.0, 5)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(23))
	seen := map[string]bool{}
	for i := 0; i < 300; i++ {
		pair, err := picker.Pick(rng)
		require.NoError(t, err)
		require.NotEqual(t, pair.TemplateSequence, pair.SearchSequence)
		seen[pair.TemplateSequence+"/"+pair.SearchSequence] = true
	}
	// The offset draw must reach every ordered cross-sequence pairing.
	assert.Len(t, seen, 6)
}

func TestPickerNegativeDrawSingleSequence(t *testing.T) {
	long := make([]bool, 60)
	for i := range long {
		long[i] = true
	}
	only := SliceDataset{{Name: "solo", Visible: long}}
	picker, err := NewPicker(only, testStrategy(t), 0.0, 3)
	require.NoError(t, err)

	_, err = picker.Pick(rand.New(rand.NewSource(9)))
	assert.ErrorIs(t, err, sampler.ErrInsufficient)
}

func TestPickerBalance(t *testing.T) {
	ds := testDataset()
	picker, err := NewPicker(ds, testStrategy(t), 0.5, 5)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	positives := 0
	const draws = 400
	for i := 0; i < draws; i++ {
		pair, err := picker.Pick(rng)
		require.NoError(t, err)
		if pair.Positive {
			positives++
		}
	}
	assert.InDelta(t, draws/2, positives, draws/8, "positive rate far from pos prob")
}

func TestPickerSkipsUnusableSequences(t *testing.T) {
	empty := SliceDataset{
		{Name: "empty", Visible: nil},
		{Name: "good", Visible: []bool{true, true, true, true, true, true, true, true, true, true}},
	}
	strat, err := sampler.NewStrategy(sampler.ModeCausal, 1, 1, 5, 2)
	require.NoError(t, err)
	picker, err := NewPicker(empty, strat, 1.0, 20)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 20; i++ {
		pair, err := picker.Pick(rng)
		require.NoError(t, err)
		assert.Equal(t, "good", pair.TemplateSequence)
	}
}

func TestPickerExhaustsRetries(t *testing.T) {
	unusable := SliceDataset{{Name: "empty", Visible: nil}}
	picker, err := NewPicker(unusable, testStrategy(t), 1.0, 3)
	require.NoError(t, err)

	_, err = picker.Pick(rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, sampler.ErrInsufficient)
}

func TestPickerEmptyDataset(t *testing.T) {
	picker, err := NewPicker(SliceDataset{}, testStrategy(t), 0.5, 3)
	require.NoError(t, err)

	_, err = picker.Pick(rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, sampler.ErrInsufficient)
}

func TestNewPickerValidation(t *testing.T) {
	ds := testDataset()
	strat := testStrategy(t)

	_, err := NewPicker(nil, strat, 0.5, 3)
	assert.Error(t, err)
	_, err = NewPicker(ds, strat, -0.1, 3)
	assert.Error(t, err)
	_, err = NewPicker(ds, strat, 1.1, 3)
	assert.Error(t, err)
	_, err = NewPicker(ds, strat, 0.5, 0)
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	ds := testDataset()

	seq, err := Lookup(ds, "person-02")
	require.NoError(t, err)
	assert.Equal(t, "person-02", seq.Name)

	_, err = Lookup(ds, "missing")
	assert.Error(t, err)
}
