// Package recorder buffers per-sample records and flushes them to disk
// in fixed-size chunks, one file per chunk, merged at epoch end.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tracklab/framesampler/internal/models"
)

// epochBuffer holds the pending records and chunk counter for one epoch.
type epochBuffer struct {
	buf   []models.SampleRecord
	chunk int
}

// Recorder accumulates sample records and writes a chunk file whenever
// an epoch's buffer reaches the configured batch size. Records carry
// their own epoch, so concurrent requests for different epochs never
// land in each other's chunks. The batch size is injected at
// construction so tests and callers can tune it per instance.
type Recorder struct {
	mu        sync.Mutex
	epochs    map[int]*epochBuffer
	batchSize int
	outputDir string
}

// New creates a recorder writing under outputDir.
func New(outputDir string, batchSize int) (*Recorder, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recorder directory %q: %w", outputDir, err)
	}
	return &Recorder{
		epochs:    make(map[int]*epochBuffer),
		batchSize: batchSize,
		outputDir: outputDir,
	}, nil
}

// Add buffers one record under the record's own epoch and flushes that
// epoch's chunk when its buffer is full.
func (r *Recorder) Add(rec models.SampleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	eb := r.epochs[rec.Epoch]
	if eb == nil {
		eb = &epochBuffer{}
		r.epochs[rec.Epoch] = eb
	}
	eb.buf = append(eb.buf, rec)
	if len(eb.buf) >= r.batchSize {
		return r.flush(rec.Epoch, eb)
	}
	return nil
}

// Flush writes all pending records out regardless of buffer fill.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for epoch, eb := range r.epochs {
		if err := r.flush(epoch, eb); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) flush(epoch int, eb *epochBuffer) error {
	if len(eb.buf) == 0 {
		return nil
	}

	path := filepath.Join(r.outputDir, fmt.Sprintf("epoch_%03d_chunk_%04d.json", epoch, eb.chunk))
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(eb.buf); err != nil {
		return fmt.Errorf("failed to encode chunk: %w", err)
	}

	eb.chunk++
	eb.buf = nil
	return nil
}

// FinalizeEpoch flushes the epoch's buffer, merges its chunk files into
// a single samples file, removes the chunks, and returns summary stats.
func (r *Recorder) FinalizeEpoch(epoch int) (models.SampleStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if eb := r.epochs[epoch]; eb != nil {
		if err := r.flush(epoch, eb); err != nil {
			return models.SampleStats{}, err
		}
		delete(r.epochs, epoch)
	}

	pattern := filepath.Join(r.outputDir, fmt.Sprintf("epoch_%03d_chunk_*.json", epoch))
	chunks, err := filepath.Glob(pattern)
	if err != nil {
		return models.SampleStats{}, err
	}
	sort.Strings(chunks)

	var all []models.SampleRecord
	for _, chunk := range chunks {
		data, err := os.ReadFile(chunk)
		if err != nil {
			return models.SampleStats{}, fmt.Errorf("failed to read chunk %q: %w", chunk, err)
		}
		var recs []models.SampleRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return models.SampleStats{}, fmt.Errorf("failed to decode chunk %q: %w", chunk, err)
		}
		all = append(all, recs...)
	}

	merged := filepath.Join(r.outputDir, fmt.Sprintf("epoch_%03d_samples.json", epoch))
	file, err := os.Create(merged)
	if err != nil {
		return models.SampleStats{}, fmt.Errorf("failed to create merged file: %w", err)
	}
	defer file.Close()
	if err := json.NewEncoder(file).Encode(all); err != nil {
		return models.SampleStats{}, fmt.Errorf("failed to encode merged file: %w", err)
	}

	for _, chunk := range chunks {
		if err := os.Remove(chunk); err != nil {
			return models.SampleStats{}, fmt.Errorf("failed to remove chunk %q: %w", chunk, err)
		}
	}

	return summarize(epoch, all), nil
}

func summarize(epoch int, recs []models.SampleRecord) models.SampleStats {
	st := models.SampleStats{Epoch: epoch, Pairs: len(recs)}
	if len(recs) == 0 {
		return st
	}
	attempts := 0
	for _, rec := range recs {
		if rec.Pair.Positive {
			st.Positives++
		}
		if rec.Pair.Relaxed {
			st.Relaxed++
		}
		attempts += rec.Pair.Attempts
	}
	st.MeanAttempts = float64(attempts) / float64(len(recs))
	return st
}
