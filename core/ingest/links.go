package ingest

import (
	"context"
	"time"

	"github.com/adalundhe/hindsight/core/llm"
	"github.com/adalundhe/hindsight/core/memory"
)

const (
	// semanticEdgeThreshold is the cosine floor for semantic edges.
	semanticEdgeThreshold = 0.7

	// maxSemanticEdges caps semantic edges per new unit.
	maxSemanticEdges = 5

	// maxTemporalEdges caps temporal edges per new unit.
	maxTemporalEdges = 10

	// temporalWindow is how close two mentions must be for a temporal edge.
	temporalWindow = 24 * time.Hour

	// temporalFloor is the minimum temporal edge weight.
	temporalFloor = 0.3
)

// buildEntityEdges connects every pair of new units sharing an entity and
// each new unit with existing units mentioning that entity. Entity edges are
// bidirectional with weight 1.0.
func (p *Pipeline) buildEntityEdges(ctx context.Context, unitsByEntity map[string][]string, newUnitIDs map[string]bool) error {
	for entityID, unitIDs := range unitsByEntity {
		existing, err := p.store.UnitsMentioning(ctx, entityID)
		if err != nil {
			return err
		}

		var edges []memory.Edge
		for i, a := range unitIDs {
			for _, b := range unitIDs[i+1:] {
				edges = append(edges, entityEdgePair(a, b)...)
			}
			for _, b := range existing {
				if a == b || newUnitIDs[b] {
					continue
				}
				edges = append(edges, entityEdgePair(a, b)...)
			}
		}
		if err := p.store.AddEdges(ctx, edges); err != nil {
			return err
		}
	}
	return nil
}

func entityEdgePair(a, b string) []memory.Edge {
	return []memory.Edge{
		{SrcID: a, DstID: b, LinkType: memory.LinkEntity, Weight: 1.0},
		{SrcID: b, DstID: a, LinkType: memory.LinkEntity, Weight: 1.0},
	}
}

// buildSemanticEdges links each new unit to its nearest stored neighbours at
// cosine >= 0.7, symmetric, capped to avoid quadratic blow-up.
func (p *Pipeline) buildSemanticEdges(ctx context.Context, units []*memory.MemoryUnit) error {
	for _, u := range units {
		scored, err := p.store.VectorKNN(ctx, u.BankID, nil, u.Embedding, maxSemanticEdges+1, semanticEdgeThreshold)
		if err != nil {
			return err
		}

		var edges []memory.Edge
		added := 0
		for _, s := range scored {
			if s.Unit.ID == u.ID || added == maxSemanticEdges {
				continue
			}
			weight := min(s.Score, 1.0)
			edges = append(edges,
				memory.Edge{SrcID: u.ID, DstID: s.Unit.ID, LinkType: memory.LinkSemantic, Weight: weight},
				memory.Edge{SrcID: s.Unit.ID, DstID: u.ID, LinkType: memory.LinkSemantic, Weight: weight},
			)
			added++
		}
		if err := p.store.AddEdges(ctx, edges); err != nil {
			return err
		}
	}
	return nil
}

// buildTemporalEdges links each new unit to units mentioned within 24 hours,
// weighted by recency and floored at 0.3, capped per unit.
func (p *Pipeline) buildTemporalEdges(ctx context.Context, units []*memory.MemoryUnit) error {
	newIDs := make([]string, len(units))
	for i, u := range units {
		newIDs[i] = u.ID
	}

	for _, u := range units {
		nearby, err := p.store.RecentUnits(ctx, u.BankID, u.MentionedAt, temporalWindow, newIDs)
		if err != nil {
			return err
		}

		var edges []memory.Edge
		for i, other := range nearby {
			if i == maxTemporalEdges {
				break
			}
			delta := u.MentionedAt.Sub(other.MentionedAt).Abs()
			weight := max(temporalFloor, 1.0-delta.Hours()/temporalWindow.Hours())
			edges = append(edges,
				memory.Edge{SrcID: u.ID, DstID: other.ID, LinkType: memory.LinkTemporal, Weight: weight},
				memory.Edge{SrcID: other.ID, DstID: u.ID, LinkType: memory.LinkTemporal, Weight: weight},
			)
		}
		if err := p.store.AddEdges(ctx, edges); err != nil {
			return err
		}
	}
	return nil
}

// buildCausalEdges materialises the extraction's in-batch causal hints as
// directed edges between the stored units. Hints touching deduplicated facts
// have no unit and are skipped.
func (p *Pipeline) buildCausalEdges(ctx context.Context, hints []llm.CausalHint, unitByFactIndex map[int]string) error {
	var edges []memory.Edge
	for _, h := range hints {
		src, okSrc := unitByFactIndex[h.SrcIndex]
		dst, okDst := unitByFactIndex[h.DstIndex]
		if !okSrc || !okDst || src == dst {
			continue
		}
		edges = append(edges, memory.Edge{
			SrcID:      src,
			DstID:      dst,
			LinkType:   memory.LinkCausal,
			Weight:     1.0,
			CausalKind: h.Kind,
		})
	}
	return p.store.AddEdges(ctx, edges)
}
