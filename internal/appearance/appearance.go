// Package appearance computes appearance embeddings for sampled search
// frames. Embeddings are cached per (sequence, frame) key and generated
// by a pool of workers so slow embedders do not stall the sampling path.
package appearance

import (
	"context"
	"fmt"
	"sync"
)

// Dim is the embedding width the sample store expects.
const Dim = 256

// EmbedFunc produces an embedding for one frame of a sequence.
type EmbedFunc func(ctx context.Context, sequence string, frame int) ([]float32, error)

// Result carries an embedding back to the requester.
type Result struct {
	Sequence  string
	Frame     int
	Embedding []float32
	Err       error
}

// work is a unit of embedding work.
type work struct {
	sequence string
	frame    int
	result   chan<- Result
}

// Service manages embedding generation and caching.
type Service struct {
	embed      EmbedFunc
	numWorkers int
	workQueue  chan work
	cache      sync.Map
	wg         sync.WaitGroup
}

// NewService creates an appearance service with the specified number of
// workers. A nil embed falls back to a cheap deterministic feature, which
// keeps the pipeline functional without a trained appearance model.
func NewService(embed EmbedFunc, numWorkers int) *Service {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	if embed == nil {
		embed = hashEmbed
	}

	s := &Service{
		embed:      embed,
		numWorkers: numWorkers,
		workQueue:  make(chan work, 100),
	}
	s.startWorkers()
	return s
}

func (s *Service) startWorkers() {
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for w := range s.workQueue {
				key := fmt.Sprintf("%s#%d", w.sequence, w.frame)
				if cached, ok := s.cache.Load(key); ok {
					if emb, valid := cached.([]float32); valid {
						w.result <- Result{Sequence: w.sequence, Frame: w.frame, Embedding: emb}
						continue
					}
				}

				emb, err := s.embed(context.Background(), w.sequence, w.frame)
				if err == nil {
					s.cache.Store(key, emb)
				}
				w.result <- Result{Sequence: w.sequence, Frame: w.frame, Embedding: emb, Err: err}
			}
		}()
	}
}

// Get requests an embedding asynchronously. When the queue is full the
// result carries an error immediately instead of blocking the caller.
func (s *Service) Get(sequence string, frame int) <-chan Result {
	resultChan := make(chan Result, 1)

	select {
	case s.workQueue <- work{sequence: sequence, frame: frame, result: resultChan}:
	default:
		resultChan <- Result{
			Sequence: sequence,
			Frame:    frame,
			Err:      fmt.Errorf("appearance queue is full, try again later"),
		}
		close(resultChan)
	}

	return resultChan
}

// Close shuts the service down and waits for all workers to finish.
func (s *Service) Close() {
	if s.workQueue != nil {
		close(s.workQueue)
	}
	s.wg.Wait()
}

// hashEmbed spreads (sequence, frame) over the embedding space with an
// FNV-style mix. Stable across runs for the same key.
func hashEmbed(_ context.Context, sequence string, frame int) ([]float32, error) {
	h := uint64(14695981039346656037)
	for _, c := range []byte(sequence) {
		h ^= uint64(c)
		h *= 1099511628211
	}
	h ^= uint64(frame)
	h *= 1099511628211

	emb := make([]float32, Dim)
	for i := range emb {
		h ^= h >> 33
		h *= 0xff51afd7ed558ccd
		emb[i] = float32(h%2000)/1000 - 1
	}
	return emb, nil
}
