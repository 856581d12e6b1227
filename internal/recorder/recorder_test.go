package recorder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklab/framesampler/internal/models"
)

func record(epoch int, positive, relaxed bool, attempts int) models.SampleRecord {
	return models.SampleRecord{
		JobID: uuid.New(),
		Epoch: epoch,
		Pair: models.TrainingPair{
			TemplateSequence: "car-01",
			SearchSequence:   "car-01",
			TemplateFrames:   []int{3, 7},
			SearchFrames:     []int{12},
			Positive:         positive,
			Relaxed:          relaxed,
			Attempts:         attempts,
		},
	}
}

func TestRecorderFlushesAtBatchSize(t *testing.T) {
	dir := t.TempDir()
	rec, err := New(dir, 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, rec.Add(record(1, true, false, 1)))
	}

	chunks, err := filepath.Glob(filepath.Join(dir, "epoch_001_chunk_*.json"))
	require.NoError(t, err)
	assert.Len(t, chunks, 1, "one full batch should produce one chunk")

	// Two more records stay buffered below the threshold.
	require.NoError(t, rec.Add(record(1, true, false, 1)))
	require.NoError(t, rec.Add(record(1, true, false, 1)))
	chunks, err = filepath.Glob(filepath.Join(dir, "epoch_001_chunk_*.json"))
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	require.NoError(t, rec.Flush())
	chunks, err = filepath.Glob(filepath.Join(dir, "epoch_001_chunk_*.json"))
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestRecorderFinalizeEpochMergesChunks(t *testing.T) {
	dir := t.TempDir()
	rec, err := New(dir, 2)
	require.NoError(t, err)

	require.NoError(t, rec.Add(record(1, true, false, 1)))
	require.NoError(t, rec.Add(record(1, false, false, 2)))
	require.NoError(t, rec.Add(record(1, true, true, 4)))

	st, err := rec.FinalizeEpoch(1)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Epoch)
	assert.Equal(t, 3, st.Pairs)
	assert.Equal(t, 2, st.Positives)
	assert.Equal(t, 1, st.Relaxed)
	assert.InDelta(t, 7.0/3.0, st.MeanAttempts, 1e-9)

	// Chunks are gone, the merged file holds everything.
	chunks, err := filepath.Glob(filepath.Join(dir, "epoch_001_chunk_*.json"))
	require.NoError(t, err)
	assert.Empty(t, chunks)

	data, err := os.ReadFile(filepath.Join(dir, "epoch_001_samples.json"))
	require.NoError(t, err)
	var merged []models.SampleRecord
	require.NoError(t, json.Unmarshal(data, &merged))
	assert.Len(t, merged, 3)
}

func TestRecorderInterleavedEpochs(t *testing.T) {
	dir := t.TempDir()
	rec, err := New(dir, 2)
	require.NoError(t, err)

	// Records from two epochs arrive interleaved, as they do when
	// concurrent requests for different epochs share one recorder.
	require.NoError(t, rec.Add(record(1, true, false, 1)))
	require.NoError(t, rec.Add(record(2, false, false, 2)))
	require.NoError(t, rec.Add(record(1, true, true, 3)))
	require.NoError(t, rec.Add(record(2, true, false, 1)))
	require.NoError(t, rec.Add(record(1, false, false, 2)))

	st1, err := rec.FinalizeEpoch(1)
	require.NoError(t, err)
	assert.Equal(t, 3, st1.Pairs, "epoch 1 keeps exactly its own records")
	assert.Equal(t, 2, st1.Positives)
	assert.Equal(t, 1, st1.Relaxed)

	st2, err := rec.FinalizeEpoch(2)
	require.NoError(t, err)
	assert.Equal(t, 2, st2.Pairs, "epoch 2 keeps exactly its own records")
	assert.Equal(t, 1, st2.Positives)

	for _, name := range []string{"epoch_001_samples.json", "epoch_002_samples.json"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		var merged []models.SampleRecord
		require.NoError(t, json.Unmarshal(data, &merged))
		for _, r := range merged {
			assert.Equal(t, merged[0].Epoch, r.Epoch, "merged file must hold a single epoch")
		}
	}
}

func TestRecorderFinalizeEmptyEpoch(t *testing.T) {
	rec, err := New(t.TempDir(), 5)
	require.NoError(t, err)

	st, err := rec.FinalizeEpoch(1)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Pairs)
	assert.Zero(t, st.MeanAttempts)
}

func TestNewRecorderValidation(t *testing.T) {
	_, err := New(t.TempDir(), 0)
	assert.Error(t, err)
}

func TestEpochGate(t *testing.T) {
	gate := EpochGate{false, true}

	assert.False(t, gate.Enabled(1))
	assert.True(t, gate.Enabled(2))
	assert.True(t, gate.Enabled(7), "epochs past the list reuse the last entry")
	assert.False(t, gate.Enabled(0))
	assert.False(t, EpochGate{}.Enabled(3))
}
