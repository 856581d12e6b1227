package sampler

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// Mode selects how template and search windows are placed in a sequence.
type Mode int

const (
	// ModeCausal keeps temporal order: all template frames precede the
	// search frame.
	ModeCausal Mode = iota

	// ModeAnchored clusters templates and search inside one window
	// centered on a reference frame, with no ordering between them.
	ModeAnchored

	// ModeMultiSegment draws one template from each of several disjoint
	// windows trailing the search frame.
	ModeMultiSegment
)

func (m Mode) String() string {
	switch m {
	case ModeCausal:
		return "causal"
	case ModeAnchored:
		return "anchored"
	case ModeMultiSegment:
		return "multisegment"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "causal":
		return ModeCausal, nil
	case "anchored":
		return ModeAnchored, nil
	case "multisegment":
		return ModeMultiSegment, nil
	default:
		return 0, fmt.Errorf("unknown sampling mode %q", s)
	}
}

// Strategy places template and search windows according to a Mode and
// draws frames from them through Sample. A Strategy is immutable and safe
// to share across goroutines; the RNG is supplied per call.
type Strategy struct {
	Mode         Mode
	NumTemplates int
	NumSearch    int

	// MaxGap bounds the index span between the earliest template frame
	// and the search frame. Each retry widens the effective gap.
	MaxGap int

	// MaxRetries bounds window placement attempts before the visibility
	// filter is relaxed as a last resort.
	MaxRetries int
}

// Selection is the outcome of one strategy draw.
type Selection struct {
	Template []int
	Search   []int

	// Attempts counts window placements tried, including the successful one.
	Attempts int

	// Relaxed is set when the draw only succeeded after dropping the
	// visibility filter.
	Relaxed bool
}

// NewStrategy validates the parameters and returns a ready Strategy.
func NewStrategy(mode Mode, numTemplates, numSearch, maxGap, maxRetries int) (Strategy, error) {
	if numTemplates < 1 {
		return Strategy{}, fmt.Errorf("strategy needs at least one template frame, got %d", numTemplates)
	}
	if numSearch < 1 {
		return Strategy{}, fmt.Errorf("strategy needs at least one search frame, got %d", numSearch)
	}
	if maxGap < 1 {
		return Strategy{}, fmt.Errorf("max gap must be positive, got %d", maxGap)
	}
	if maxRetries < 0 {
		return Strategy{}, fmt.Errorf("max retries must not be negative, got %d", maxRetries)
	}
	return Strategy{
		Mode:         mode,
		NumTemplates: numTemplates,
		NumSearch:    numSearch,
		MaxGap:       maxGap,
		MaxRetries:   maxRetries,
	}, nil
}

// Pick selects template and search frames from a sequence. Window
// placement is retried with a widened gap up to MaxRetries; after the
// budget is spent one final draw over the whole sequence runs with the
// visibility filter relaxed. When even that fails the sequence cannot
// serve this strategy and ErrInsufficient is returned.
func (s Strategy) Pick(rng *rand.Rand, visible []bool) (Selection, error) {
	if len(visible) == 0 {
		return Selection{}, fmt.Errorf("%w: empty sequence", ErrInsufficient)
	}

	sel := Selection{}
	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		sel.Attempts++

		// Widen the window on every retry.
		gap := s.MaxGap * (attempt + 1)

		var err error
		switch s.Mode {
		case ModeAnchored:
			err = s.pickAnchored(rng, visible, gap, &sel)
		case ModeMultiSegment:
			err = s.pickMultiSegment(rng, visible, gap, &sel)
		default:
			err = s.pickCausal(rng, visible, gap, &sel)
		}
		if err == nil {
			return sel, nil
		}
		if !errors.Is(err, ErrInsufficient) {
			return Selection{}, err
		}
	}

	return s.pickRelaxed(rng, visible, sel)
}

// pickCausal places all templates before the search frame. The search
// window is capped at firstTemplate+gap so the span constraint holds by
// construction.
func (s Strategy) pickCausal(rng *rand.Rand, visible []bool, gap int, sel *Selection) error {
	anchor, err := s.anchor(rng, visible)
	if err != nil {
		return err
	}

	lo := max(0, anchor-gap+1)
	template, err := Sample(rng, visible, s.NumTemplates, lo, anchor, false)
	if err != nil {
		return err
	}

	searchLo := template[len(template)-1] + 1
	searchHi := min(len(visible)-1, template[0]+gap)
	if searchLo > searchHi {
		return fmt.Errorf("%w: no room for search frames after index %d", ErrInsufficient, template[len(template)-1])
	}

	search, err := Sample(rng, visible, s.NumSearch, searchLo, searchHi, false)
	if err != nil {
		return err
	}

	sel.Template = template
	sel.Search = search
	return nil
}

// pickAnchored draws templates and search from one window of width gap
// around a visible reference frame, then splits the draw at random.
func (s Strategy) pickAnchored(rng *rand.Rand, visible []bool, gap int, sel *Selection) error {
	anchor, err := s.anchor(rng, visible)
	if err != nil {
		return err
	}

	lo := max(0, anchor-gap/2)
	hi := min(len(visible)-1, anchor+gap/2)

	total := s.NumTemplates + s.NumSearch
	ids, err := Sample(rng, visible, total, lo, hi, false)
	if err != nil {
		return err
	}

	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	sel.Template = ascending(ids[:s.NumTemplates])
	sel.Search = ascending(ids[s.NumTemplates:])
	return nil
}

// pickMultiSegment anchors the search draw on a visible frame and takes
// one template from each disjoint gap-wide window before it.
func (s Strategy) pickMultiSegment(rng *rand.Rand, visible []bool, gap int, sel *Selection) error {
	anchor, err := s.anchor(rng, visible)
	if err != nil {
		return err
	}

	template := make([]int, 0, s.NumTemplates)
	for k := 0; k < s.NumTemplates; k++ {
		hi := anchor - 1 - k*gap
		lo := max(0, anchor-(k+1)*gap)
		if hi < 0 || lo > hi {
			return fmt.Errorf("%w: segment %d falls before the sequence start", ErrInsufficient, k)
		}
		ids, err := Sample(rng, visible, 1, lo, hi, false)
		if err != nil {
			return err
		}
		template = append(template, ids[0])
	}

	searchHi := min(len(visible)-1, anchor+gap)
	search, err := Sample(rng, visible, s.NumSearch, anchor, searchHi, false)
	if err != nil {
		return err
	}

	sel.Template = ascending(template)
	sel.Search = search
	return nil
}

// pickRelaxed is the terminal fallback: the whole sequence with the
// visibility filter off. Template and search draws are independent here,
// so short sequences may reuse frames across the two sets.
func (s Strategy) pickRelaxed(rng *rand.Rand, visible []bool, sel Selection) (Selection, error) {
	sel.Attempts++

	template, err := Sample(rng, visible, s.NumTemplates, 0, len(visible)-1, true)
	if err != nil {
		return Selection{}, err
	}
	search, err := Sample(rng, visible, s.NumSearch, 0, len(visible)-1, true)
	if err != nil {
		return Selection{}, err
	}

	sel.Template = template
	sel.Search = search
	sel.Relaxed = true
	return sel, nil
}

// anchor picks one visible reference frame from the whole sequence.
func (s Strategy) anchor(rng *rand.Rand, visible []bool) (int, error) {
	ids, err := Sample(rng, visible, 1, 0, len(visible)-1, false)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

func ascending(ids []int) []int {
	out := make([]int, len(ids))
	copy(out, ids)
	sort.Ints(out)
	return out
}
