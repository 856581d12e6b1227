// Package dataset layers class-balanced example selection on top of the
// frame sampler. The picker decides positive vs. negative at the sequence
// level; frame-level constraints stay inside the sampler.
package dataset

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/tracklab/framesampler/internal/models"
	"github.com/tracklab/framesampler/internal/sampler"
)

// Sequence is the per-sequence metadata the picker reads. Visible is
// owned by the dataset and must not be mutated during a draw.
type Sequence struct {
	Name    string
	Visible []bool
}

// Dataset supplies sequence metadata. Implementations must be safe for
// concurrent readers.
type Dataset interface {
	NumSequences() int
	Sequence(i int) (Sequence, error)
}

// SliceDataset is a Dataset backed by an in-memory slice.
type SliceDataset []Sequence

func (d SliceDataset) NumSequences() int { return len(d) }

func (d SliceDataset) Sequence(i int) (Sequence, error) {
	if i < 0 || i >= len(d) {
		return Sequence{}, fmt.Errorf("sequence index %d out of range [0, %d)", i, len(d))
	}
	return d[i], nil
}

// Picker draws class-balanced training pairs. A Bernoulli draw with
// probability PosProb decides whether template and search frames come
// from the same sequence (positive) or from two distinct sequences
// (negative). Negative draws require at least two sequences; datasets
// with a single sequence should run with PosProb = 1.
type Picker struct {
	ds       Dataset
	strategy sampler.Strategy

	// PosProb is the probability of drawing a positive pair.
	PosProb float64

	// MaxSequenceRetries bounds how many sequences are tried before a
	// draw is reported as insufficient.
	MaxSequenceRetries int
}

// NewPicker wires a picker over a dataset and a frame strategy.
func NewPicker(ds Dataset, strategy sampler.Strategy, posProb float64, maxSequenceRetries int) (*Picker, error) {
	if ds == nil {
		return nil, errors.New("dataset must not be nil")
	}
	if posProb < 0 || posProb > 1 {
		return nil, fmt.Errorf("pos prob must be in [0, 1], got %g", posProb)
	}
	if maxSequenceRetries < 1 {
		return nil, fmt.Errorf("sequence retry budget must be positive, got %d", maxSequenceRetries)
	}
	return &Picker{
		ds:                 ds,
		strategy:           strategy,
		PosProb:            posProb,
		MaxSequenceRetries: maxSequenceRetries,
	}, nil
}

// Pick draws one training pair. Sequences that cannot satisfy the
// strategy are skipped and another is drawn, up to the retry budget.
func (p *Picker) Pick(rng *rand.Rand) (models.TrainingPair, error) {
	if p.ds.NumSequences() == 0 {
		return models.TrainingPair{}, fmt.Errorf("%w: dataset has no sequences", sampler.ErrInsufficient)
	}

	positive := rng.Float64() < p.PosProb

	var lastErr error
	for try := 0; try < p.MaxSequenceRetries; try++ {
		pair, err := p.pickOnce(rng, positive)
		if err == nil {
			return pair, nil
		}
		if !errors.Is(err, sampler.ErrInsufficient) {
			return models.TrainingPair{}, err
		}
		lastErr = err
	}
	return models.TrainingPair{}, fmt.Errorf("no qualifying sequence after %d tries: %w", p.MaxSequenceRetries, lastErr)
}

func (p *Picker) pickOnce(rng *rand.Rand, positive bool) (models.TrainingPair, error) {
	tmplIdx := rng.Intn(p.ds.NumSequences())
	tmplSeq, err := p.ds.Sequence(tmplIdx)
	if err != nil {
		return models.TrainingPair{}, err
	}
	if len(tmplSeq.Visible) == 0 {
		return models.TrainingPair{}, fmt.Errorf("%w: sequence %q has no frames", sampler.ErrInsufficient, tmplSeq.Name)
	}

	if positive {
		sel, err := p.strategy.Pick(rng, tmplSeq.Visible)
		if err != nil {
			return models.TrainingPair{}, err
		}
		return models.TrainingPair{
			TemplateSequence: tmplSeq.Name,
			SearchSequence:   tmplSeq.Name,
			TemplateFrames:   sel.Template,
			SearchFrames:     sel.Search,
			Positive:         true,
			Relaxed:          sel.Relaxed,
			Attempts:         sel.Attempts,
		}, nil
	}

	// A negative pair needs a second, distinct sequence; offsetting the
	// draw past the template index keeps the choice uniform over the
	// rest. A single-sequence dataset cannot form one.
	if p.ds.NumSequences() < 2 {
		return models.TrainingPair{}, fmt.Errorf("%w: negative pair needs a second sequence", sampler.ErrInsufficient)
	}
	searchIdx := rng.Intn(p.ds.NumSequences() - 1)
	if searchIdx >= tmplIdx {
		searchIdx++
	}
	searchSeq, err := p.ds.Sequence(searchIdx)
	if err != nil {
		return models.TrainingPair{}, err
	}
	if len(searchSeq.Visible) == 0 {
		return models.TrainingPair{}, fmt.Errorf("%w: sequence %q has no frames", sampler.ErrInsufficient, searchSeq.Name)
	}

	// Negative pairs draw template and search frames independently; each
	// draw still honors visibility within its own sequence.
	tmplIDs, err := sampler.Sample(rng, tmplSeq.Visible, p.strategy.NumTemplates, 0, len(tmplSeq.Visible)-1, false)
	if err != nil {
		return models.TrainingPair{}, err
	}
	searchIDs, err := sampler.Sample(rng, searchSeq.Visible, p.strategy.NumSearch, 0, len(searchSeq.Visible)-1, false)
	if err != nil {
		return models.TrainingPair{}, err
	}

	return models.TrainingPair{
		TemplateSequence: tmplSeq.Name,
		SearchSequence:   searchSeq.Name,
		TemplateFrames:   tmplIDs,
		SearchFrames:     searchIDs,
		Positive:         false,
		Attempts:         1,
	}, nil
}

// Lookup returns the named sequence, for request handlers that address
// sequences by name instead of index.
func Lookup(ds Dataset, name string) (Sequence, error) {
	for i := 0; i < ds.NumSequences(); i++ {
		seq, err := ds.Sequence(i)
		if err != nil {
			return Sequence{}, err
		}
		if seq.Name == name {
			return seq, nil
		}
	}
	return Sequence{}, fmt.Errorf("unknown sequence %q", name)
}
