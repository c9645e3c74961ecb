package dataset

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// BalanceByClass mitigates class imbalance by capping every class's
// representation at the minority class's image count.
//
// For each class the set of supporting image indices is collected, the
// smallest such set fixes the global cap, and that many indices are drawn
// uniformly at random with replacement from every class's set. The union of
// the draws, in ascending index order, is the balanced dataset. Duplicate
// draws collapse, so the result is a strict subset of the input.
//
// A class with zero supporting images drives the cap to zero and therefore
// empties the dataset entirely. That is intended behavior: it surfaces a
// broken vocabulary instead of training on a silently skewed subset.
//
// Returns the balanced records and the cap used (the minimum per-class image
// count before balancing).
func BalanceByClass(records []ImageRecord, numClasses int, rng *rand.Rand) ([]ImageRecord, int) {
	if numClasses == 0 {
		return nil, 0
	}

	// Image index sets per class label, 1..numClasses.
	classImages := make([]map[int]struct{}, numClasses+1)
	for c := 1; c <= numClasses; c++ {
		classImages[c] = make(map[int]struct{})
	}
	for i, rec := range records {
		for _, label := range rec.Labels {
			if label >= 1 && int(label) <= numClasses {
				classImages[label][i] = struct{}{}
			}
		}
	}

	counts := make([]float64, numClasses)
	for c := 1; c <= numClasses; c++ {
		counts[c-1] = float64(len(classImages[c]))
	}
	minCount := int(floats.Min(counts))

	sampled := make(map[int]struct{})
	for c := 1; c <= numClasses; c++ {
		indices := make([]int, 0, len(classImages[c]))
		for i := range classImages[c] {
			indices = append(indices, i)
		}
		sort.Ints(indices)

		for n := 0; n < minCount; n++ {
			sampled[indices[rng.Intn(len(indices))]] = struct{}{}
		}
	}

	keep := make([]int, 0, len(sampled))
	for i := range sampled {
		keep = append(keep, i)
	}
	sort.Ints(keep)

	balanced := make([]ImageRecord, len(keep))
	for i, idx := range keep {
		balanced[i] = records[idx]
	}
	return balanced, minCount
}
