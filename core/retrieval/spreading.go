package retrieval

import (
	"container/heap"
	"context"
	"sort"

	"github.com/adalundhe/hindsight/core/memory"
)

// causalBoost amplifies causal edges during propagation so causally linked
// context outranks incidental neighbours.
func causalBoost(linkType memory.LinkType, kind memory.CausalKind) float64 {
	if linkType != memory.LinkCausal {
		return 1.0
	}
	switch kind {
	case memory.CausalCauses, memory.CausalCausedBy:
		return 2.0
	case memory.CausalEnables, memory.CausalPrevents:
		return 1.5
	}
	return 1.0
}

// Seed injects initial activation at a unit.
type Seed struct {
	UnitID     string
	Activation float64
}

// Activated is one node's final state after propagation.
type Activated struct {
	UnitID     string
	Activation float64
	Hops       int
}

// neighborFilter decides whether a discovered neighbour may receive
// activation. The temporal strategy uses it to keep propagation inside a
// broadened interval.
type neighborFilter func(ctx context.Context, unitID string) (bool, error)

// spreadParams bundles one propagation run's tunables.
type spreadParams struct {
	nodeBudget    int
	maxHops       int
	decay         float64
	minActivation float64
	filter        neighborFilter
}

type frontierEntry struct {
	unitID     string
	activation float64
	hops       int
}

// frontierHeap is a max-heap on activation; ties resolve by hop count then
// id so traversal order is deterministic.
type frontierHeap []frontierEntry

func (h frontierHeap) Len() int { return len(h) }
func (h frontierHeap) Less(i, j int) bool {
	if h[i].activation != h[j].activation {
		return h[i].activation > h[j].activation
	}
	if h[i].hops != h[j].hops {
		return h[i].hops < h[j].hops
	}
	return h[i].unitID < h[j].unitID
}
func (h frontierHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *frontierHeap) Push(x any) { *h = append(*h, x.(frontierEntry)) }

func (h *frontierHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// spread runs spreading activation over the edge graph. Nodes are visited in
// priority order of current activation; each visited node propagates decayed,
// boost-weighted activation to its neighbours. Contributions sum, but a node
// that received a boosted contribution is clamped to the boost cap, keeping
// the 2x causal amplification from compounding across converging paths.
func (g *GraphStrategy) spread(ctx context.Context, seeds []Seed, params spreadParams) ([]Activated, error) {
	activation := make(map[string]float64)
	hops := make(map[string]int)
	clampCap := make(map[string]float64)
	visited := make(map[string]bool)

	frontier := &frontierHeap{}
	heap.Init(frontier)

	for _, s := range seeds {
		if s.Activation <= 0 {
			continue
		}
		activation[s.UnitID] += s.Activation
		hops[s.UnitID] = 0
		heap.Push(frontier, frontierEntry{unitID: s.UnitID, activation: activation[s.UnitID], hops: 0})
	}

	visitedCount := 0
	for frontier.Len() > 0 && visitedCount < params.nodeBudget {
		if err := ctx.Err(); err != nil {
			break
		}

		entry := heap.Pop(frontier).(frontierEntry)
		if visited[entry.unitID] {
			continue
		}
		// Stale queue entries carry outdated activation; re-check the live value.
		if activation[entry.unitID] < params.minActivation {
			break
		}
		visited[entry.unitID] = true
		visitedCount++

		if entry.hops >= params.maxHops {
			continue
		}

		neighbors, err := g.graph.Neighbors(ctx, entry.unitID)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if err := g.propagate(ctx, entry, n, params, activation, hops, clampCap, visited, frontier); err != nil {
				return nil, err
			}
		}
	}

	return rankActivated(activation, hops), nil
}

func (g *GraphStrategy) propagate(
	ctx context.Context,
	from frontierEntry,
	n memory.Neighbor,
	params spreadParams,
	activation map[string]float64,
	hops map[string]int,
	clampCap map[string]float64,
	visited map[string]bool,
	frontier *frontierHeap,
) error {
	if params.filter != nil {
		ok, err := params.filter(ctx, n.DstID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	effective := n.Weight * causalBoost(n.LinkType, n.CausalKind)
	contribution := activation[from.unitID] * params.decay * effective
	if contribution <= 0 {
		return nil
	}

	activation[n.DstID] += contribution
	if effective > 1.0 {
		if prev, ok := clampCap[n.DstID]; !ok || effective > prev {
			clampCap[n.DstID] = effective
		}
	}
	if limit, ok := clampCap[n.DstID]; ok && activation[n.DstID] > limit {
		activation[n.DstID] = limit
	}

	nextHops := from.hops + 1
	if prev, ok := hops[n.DstID]; !ok || nextHops < prev {
		hops[n.DstID] = nextHops
	}

	if !visited[n.DstID] {
		heap.Push(frontier, frontierEntry{
			unitID:     n.DstID,
			activation: activation[n.DstID],
			hops:       hops[n.DstID],
		})
	}
	return nil
}

// rankActivated orders all activated nodes by activation descending, ties by
// hop count ascending then id.
func rankActivated(activation map[string]float64, hops map[string]int) []Activated {
	out := make([]Activated, 0, len(activation))
	for id, a := range activation {
		out = append(out, Activated{UnitID: id, Activation: a, Hops: hops[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Activation != out[j].Activation {
			return out[i].Activation > out[j].Activation
		}
		if out[i].Hops != out[j].Hops {
			return out[i].Hops < out[j].Hops
		}
		return out[i].UnitID < out[j].UnitID
	})
	return out
}
