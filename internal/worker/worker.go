// Package worker turns sampling requests into stored, published
// training pairs. It owns the caller-side retry policy the sampler
// itself deliberately does not have.
package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tracklab/framesampler/internal/appearance"
	"github.com/tracklab/framesampler/internal/dataset"
	"github.com/tracklab/framesampler/internal/metrics"
	"github.com/tracklab/framesampler/internal/models"
	"github.com/tracklab/framesampler/internal/recorder"
	"github.com/tracklab/framesampler/internal/sampler"
	"github.com/tracklab/framesampler/internal/stats"
)

// SampleStore persists drawn samples.
type SampleStore interface {
	AddSample(ctx context.Context, rec models.SampleRecord, appearance []float32) error
}

// ResultPublisher emits a completed batch of pairs.
type ResultPublisher interface {
	PublishResult(ctx context.Context, msg []byte) error
}

// DLQPublisher parks messages that can never succeed.
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg []byte, reason string) error
}

// Config tunes one Worker instance.
type Config struct {
	// DrawWorkers is the size of the per-request draw pool.
	DrawWorkers int

	// Seed pins draws for reproducible runs. It is mixed with each
	// request's job ID, so distinct jobs still draw distinct streams.
	Seed int64
}

// Worker handles sampling requests end to end: draw, record, store,
// publish.
type Worker struct {
	ds       dataset.Dataset
	strategy sampler.Strategy
	picker   *dataset.Picker
	features *appearance.Service
	store    SampleStore
	results  ResultPublisher
	dlq      DLQPublisher
	rec      *recorder.Recorder
	gate     recorder.EpochGate
	logger   *slog.Logger
	cfg      Config

	DrawTime stats.AverageMeter
	Relaxed  stats.StatValue
}

func New(
	ds dataset.Dataset,
	strategy sampler.Strategy,
	picker *dataset.Picker,
	features *appearance.Service,
	store SampleStore,
	results ResultPublisher,
	dlq DLQPublisher,
	rec *recorder.Recorder,
	gate recorder.EpochGate,
	logger *slog.Logger,
	cfg Config,
) *Worker {
	if cfg.DrawWorkers < 1 {
		cfg.DrawWorkers = 4
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Worker{
		ds:       ds,
		strategy: strategy,
		picker:   picker,
		features: features,
		store:    store,
		results:  results,
		dlq:      dlq,
		rec:      rec,
		gate:     gate,
		logger:   logger,
		cfg:      cfg,
	}
}

// Handle is the queue handler: one delivery is one SampleRequest.
// Unparseable or structurally invalid requests go to the DLQ and are
// acked; transient failures return an error so the delivery is retried.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	var req models.SampleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		w.logger.Error("failed to unmarshal request", "err", err)
		_ = w.dlq.PublishToDLQ(ctx, body, "unmarshal_error: "+err.Error())
		return nil
	}

	log := w.logger.With("job_id", req.JobID.String(), "epoch", req.Epoch)

	strat, err := w.resolveStrategy(req)
	if err != nil {
		log.Error("invalid request parameters", "err", err)
		_ = w.dlq.PublishToDLQ(ctx, body, "invalid_request: "+err.Error())
		return nil
	}

	if req.Sequence != "" {
		if _, err := dataset.Lookup(w.ds, req.Sequence); err != nil {
			log.Error("request names an unknown sequence", "sequence", req.Sequence)
			_ = w.dlq.PublishToDLQ(ctx, body, "unknown_sequence: "+err.Error())
			return nil
		}
	}

	if req.Count < 1 {
		req.Count = 1
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	records, err := w.drawBatch(ctx, req, strat, log)
	if err != nil {
		return err
	}

	pairs := make([]models.TrainingPair, len(records))
	for i, rec := range records {
		pairs[i] = rec.Pair
	}
	payload, err := json.Marshal(struct {
		JobID string                `json:"job_id"`
		Epoch int                   `json:"epoch"`
		Pairs []models.TrainingPair `json:"pairs"`
	}{req.JobID.String(), req.Epoch, pairs})
	if err != nil {
		return fmt.Errorf("marshal result batch: %w", err)
	}
	if err := w.results.PublishResult(ctx, payload); err != nil {
		return fmt.Errorf("publish result batch: %w", err)
	}

	log.Info("request complete", "pairs", len(pairs))
	return nil
}

// drawBatch draws req.Count pairs through a bounded pool. Draws are
// independent so pool order does not matter.
func (w *Worker) drawBatch(ctx context.Context, req models.SampleRequest, strat sampler.Strategy, log *slog.Logger) ([]models.SampleRecord, error) {
	workChan := make(chan int, req.Count)
	resultsChan := make(chan models.SampleRecord, req.Count)
	errorsChan := make(chan error, req.Count)

	var wg sync.WaitGroup
	remaining := atomic.Int64{}
	remaining.Store(int64(req.Count))

	poolSize := w.cfg.DrawWorkers
	if poolSize > req.Count {
		poolSize = req.Count
	}

	// Each request gets its own RNG streams: the job ID keeps draws
	// fresh across requests, the configured seed pins a whole run.
	base := w.cfg.Seed ^ int64(binary.BigEndian.Uint64(req.JobID[:8]))

	for i := 0; i < poolSize; i++ {
		wg.Add(1)
		go func(workerIdx int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(base + int64(workerIdx)*0x9E3779B9))
			for idx := range workChan {
				rec, err := w.drawOne(ctx, rng, req, strat)
				if err != nil {
					errorsChan <- fmt.Errorf("draw %d/%d failed: %w", idx+1, req.Count, err)
					continue
				}
				resultsChan <- rec
				log.Debug("draw complete", "remaining", remaining.Add(-1))
			}
		}(i)
	}

	go func() {
		for i := 0; i < req.Count; i++ {
			workChan <- i
		}
		close(workChan)
	}()

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var records []models.SampleRecord
	for rec := range resultsChan {
		if w.gate.Enabled(req.Epoch) {
			if err := w.rec.Add(rec); err != nil {
				log.Warn("failed to record sample", "err", err)
			}
		}
		if err := w.storeSample(ctx, rec); err != nil {
			log.Warn("failed to store sample", "err", err)
		}
		records = append(records, rec)
	}

	var insufficient int
	for err := range errorsChan {
		if errors.Is(err, sampler.ErrInsufficient) {
			insufficient++
			continue
		}
		return nil, err
	}
	if insufficient > 0 {
		metrics.PairsSampledTotal.WithLabelValues("insufficient").Add(float64(insufficient))
		log.Warn("draws dropped for lack of qualifying frames", "dropped", insufficient)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no pair drawn for job %s", sampler.ErrInsufficient, req.JobID)
	}
	return records, nil
}

func (w *Worker) drawOne(ctx context.Context, rng *rand.Rand, req models.SampleRequest, strat sampler.Strategy) (models.SampleRecord, error) {
	start := time.Now()

	var pair models.TrainingPair
	var err error
	if req.Sequence != "" {
		pair, err = w.drawNamed(rng, req.Sequence, strat)
	} else {
		pair, err = w.picker.Pick(rng)
	}

	elapsed := time.Since(start)
	metrics.DrawDuration.Observe(elapsed.Seconds())
	w.DrawTime.Update(elapsed.Seconds(), 1)

	if err != nil {
		if errors.Is(err, sampler.ErrInsufficient) {
			metrics.InsufficientTotal.Inc()
		}
		return models.SampleRecord{}, err
	}

	metrics.PairsSampledTotal.WithLabelValues(outcome(pair)).Inc()
	if pair.Relaxed {
		metrics.RelaxedTotal.Inc()
	}

	return models.SampleRecord{
		JobID:     req.JobID,
		Epoch:     req.Epoch,
		Pair:      pair,
		DrawnAt:   time.Now().UTC(),
		DrawNanos: elapsed.Nanoseconds(),
	}, nil
}

// drawNamed draws a positive pair from one sequence addressed by name.
func (w *Worker) drawNamed(rng *rand.Rand, name string, strat sampler.Strategy) (models.TrainingPair, error) {
	seq, err := dataset.Lookup(w.ds, name)
	if err != nil {
		return models.TrainingPair{}, err
	}
	sel, err := strat.Pick(rng, seq.Visible)
	if err != nil {
		return models.TrainingPair{}, err
	}
	return models.TrainingPair{
		TemplateSequence: seq.Name,
		SearchSequence:   seq.Name,
		TemplateFrames:   sel.Template,
		SearchFrames:     sel.Search,
		Positive:         true,
		Relaxed:          sel.Relaxed,
		Attempts:         sel.Attempts,
	}, nil
}

// storeSample attaches the search frame's appearance embedding when the
// feature service can supply one in time, then persists the record.
func (w *Worker) storeSample(ctx context.Context, rec models.SampleRecord) error {
	var emb []float32
	if w.features != nil && len(rec.Pair.SearchFrames) > 0 {
		select {
		case res := <-w.features.Get(rec.Pair.SearchSequence, rec.Pair.SearchFrames[0]):
			if res.Err == nil {
				emb = res.Embedding
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return w.store.AddSample(ctx, rec, emb)
}

// resolveStrategy applies per-request overrides on top of the default
// strategy.
func (w *Worker) resolveStrategy(req models.SampleRequest) (sampler.Strategy, error) {
	strat := w.strategy
	if req.Mode != "" {
		mode, err := sampler.ParseMode(req.Mode)
		if err != nil {
			return sampler.Strategy{}, err
		}
		strat.Mode = mode
	}
	if req.MaxGap != 0 {
		if req.MaxGap < 1 {
			return sampler.Strategy{}, fmt.Errorf("max gap override must be positive, got %d", req.MaxGap)
		}
		strat.MaxGap = req.MaxGap
	}
	return strat, nil
}

// FinalizeEpoch flushes and merges the recorder output for an epoch and
// rolls the worker's meters over.
func (w *Worker) FinalizeEpoch(epoch int) (models.SampleStats, error) {
	st, err := w.rec.FinalizeEpoch(epoch)
	if err != nil {
		return models.SampleStats{}, err
	}
	w.Relaxed.Update(float64(st.Relaxed))
	w.Relaxed.NewEpoch()
	w.DrawTime.Reset()
	return st, nil
}

func outcome(pair models.TrainingPair) string {
	if pair.Positive {
		return "positive"
	}
	return "negative"
}
