// Package sampler selects frame indices from tracking sequences for
// template/search pair construction. The base primitive draws visible
// frames uniformly from a bounded window; strategies compose it into
// the causal, anchored and multi-segment selection modes.
package sampler

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// ErrInvalidRange reports malformed window bounds. It is a hard failure
// for the request and must not be retried.
var ErrInvalidRange = errors.New("sampler: invalid frame range")

// ErrInsufficient reports that fewer qualifying frames exist in the
// window than were requested. It is ordinary control flow: callers retry
// with relaxed constraints or a different sequence.
var ErrInsufficient = errors.New("sampler: insufficient visible frames")

// Sample draws numIDs distinct frame indices from [minID, maxID],
// keeping only frames whose visibility flag is set unless allowInvisible
// relaxes the filter. The returned indices are in ascending order; callers
// that need a random order must shuffle explicitly.
//
// numIDs <= 0 returns an empty result. Bounds outside [0, len(visible))
// or minID > maxID return ErrInvalidRange. A window with fewer than
// numIDs qualifying frames returns ErrInsufficient and no indices.
func Sample(rng *rand.Rand, visible []bool, numIDs, minID, maxID int, allowInvisible bool) ([]int, error) {
	if minID < 0 || maxID >= len(visible) || minID > maxID {
		return nil, fmt.Errorf("%w: [%d, %d] against %d frames", ErrInvalidRange, minID, maxID, len(visible))
	}

	if numIDs <= 0 {
		return []int{}, nil
	}

	candidates := make([]int, 0, maxID-minID+1)
	for idx := minID; idx <= maxID; idx++ {
		if allowInvisible || visible[idx] {
			candidates = append(candidates, idx)
		}
	}

	if len(candidates) < numIDs {
		return nil, fmt.Errorf("%w: %d candidates in [%d, %d], need %d",
			ErrInsufficient, len(candidates), minID, maxID, numIDs)
	}

	// Partial Fisher-Yates over the candidate set, then restore frame order.
	for i := 0; i < numIDs; i++ {
		j := i + rng.Intn(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	picked := candidates[:numIDs]
	sort.Ints(picked)

	return picked, nil
}

// CountVisible returns the number of visible frames in [minID, maxID].
// Bounds follow the same rules as Sample.
func CountVisible(visible []bool, minID, maxID int) (int, error) {
	if minID < 0 || maxID >= len(visible) || minID > maxID {
		return 0, fmt.Errorf("%w: [%d, %d] against %d frames", ErrInvalidRange, minID, maxID, len(visible))
	}
	n := 0
	for idx := minID; idx <= maxID; idx++ {
		if visible[idx] {
			n++
		}
	}
	return n, nil
}
