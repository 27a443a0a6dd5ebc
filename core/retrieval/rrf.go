package retrieval

import (
	"sort"

	"github.com/adalundhe/hindsight/core/memory"
)

// DefaultRRFK is the reciprocal-rank-fusion constant; 60 is the standard
// choice in information retrieval.
const DefaultRRFK = 60

// FuseRRF combines ranked lists with Reciprocal Rank Fusion. A unit's fused
// score is the sum of 1/(k + rank) over the lists that contain it; absence
// contributes nothing. Ties break by best single-list rank, then id, which
// keeps the output stable under permutation of the input lists.
func FuseRRF(lists []RankedList, k int) []Item {
	if k < 1 {
		k = DefaultRRFK
	}

	scores := make(map[string]float64)
	bestRank := make(map[string]int)
	units := make(map[string]*memory.MemoryUnit)

	for _, list := range lists {
		for rank, item := range list.Items {
			id := item.Unit.ID
			scores[id] += 1.0 / float64(k+rank+1)
			if prev, ok := bestRank[id]; !ok || rank < prev {
				bestRank[id] = rank
			}
			if _, ok := units[id]; !ok {
				units[id] = item.Unit
			}
		}
	}

	fused := make([]Item, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, Item{Unit: units[id], Score: score})
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		ri, rj := bestRank[fused[i].Unit.ID], bestRank[fused[j].Unit.ID]
		if ri != rj {
			return ri < rj
		}
		return fused[i].Unit.ID < fused[j].Unit.ID
	})
	return fused
}
