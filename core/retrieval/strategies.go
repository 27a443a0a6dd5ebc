package retrieval

import (
	"context"
	"time"

	"github.com/adalundhe/hindsight/core/memory"
	"github.com/adalundhe/hindsight/core/store"
	"github.com/adalundhe/hindsight/core/temporal"
)

// Strategy names appear in trace output and soft-failure warnings.
const (
	StrategySemantic = "semantic"
	StrategyKeyword  = "keyword"
	StrategyGraph    = "graph"
	StrategyTemporal = "temporal"
)

// Item is one scored unit in a strategy's ranked output.
type Item struct {
	Unit  *memory.MemoryUnit
	Score float64
}

// RankedList is one strategy's output, best first.
type RankedList struct {
	Strategy string
	Items    []Item
}

// FactSource is the slice of the store the strategies read.
type FactSource interface {
	VectorKNN(ctx context.Context, bankID string, types []memory.FactType, queryVec []float32, k int, minSim float64) ([]store.ScoredUnit, error)
	KeywordSearch(ctx context.Context, bankID string, types []memory.FactType, query string, k int) ([]store.ScoredUnit, error)
	RangeLookup(ctx context.Context, bankID string, types []memory.FactType, interval temporal.Interval) ([]*memory.MemoryUnit, error)
	GetMany(ctx context.Context, ids []string) ([]*memory.MemoryUnit, error)
}

// GraphSource is the slice of the store the traversal reads.
type GraphSource interface {
	Neighbors(ctx context.Context, unitID string, linkTypes ...memory.LinkType) ([]memory.Neighbor, error)
}

func itemsFromScored(scored []store.ScoredUnit) []Item {
	items := make([]Item, len(scored))
	for i, s := range scored {
		items[i] = Item{Unit: s.Unit, Score: s.Score}
	}
	return items
}

// =============================================================================
// Semantic
// =============================================================================

// SemanticStrategy ranks units by embedding similarity to the query.
type SemanticStrategy struct {
	facts  FactSource
	config Config
}

func NewSemanticStrategy(facts FactSource, config Config) *SemanticStrategy {
	return &SemanticStrategy{facts: facts, config: config.withDefaults()}
}

func (s *SemanticStrategy) Run(ctx context.Context, bankID string, types []memory.FactType, queryVec []float32, k int) (RankedList, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.VectorTimeout)
	defer cancel()

	scored, err := s.facts.VectorKNN(ctx, bankID, types, queryVec, k, s.config.MinSimilarity)
	if err != nil {
		return RankedList{Strategy: StrategySemantic}, err
	}
	return RankedList{Strategy: StrategySemantic, Items: itemsFromScored(scored)}, nil
}

// =============================================================================
// Keyword
// =============================================================================

// KeywordStrategy ranks units by BM25-style full-text match.
type KeywordStrategy struct {
	facts  FactSource
	config Config
}

func NewKeywordStrategy(facts FactSource, config Config) *KeywordStrategy {
	return &KeywordStrategy{facts: facts, config: config.withDefaults()}
}

func (s *KeywordStrategy) Run(ctx context.Context, bankID string, types []memory.FactType, query string, k int) (RankedList, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.KeywordTimeout)
	defer cancel()

	scored, err := s.facts.KeywordSearch(ctx, bankID, types, query, k)
	if err != nil {
		return RankedList{Strategy: StrategyKeyword}, err
	}
	return RankedList{Strategy: StrategyKeyword, Items: itemsFromScored(scored)}, nil
}

// =============================================================================
// Graph (spreading activation)
// =============================================================================

// GraphStrategy seeds activation at semantically similar units and spreads it
// through the typed edge graph with causal boosting.
type GraphStrategy struct {
	facts  FactSource
	graph  GraphSource
	config Config
}

func NewGraphStrategy(facts FactSource, graph GraphSource, config Config) *GraphStrategy {
	return &GraphStrategy{facts: facts, graph: graph, config: config.withDefaults()}
}

func (g *GraphStrategy) Run(ctx context.Context, bankID string, types []memory.FactType, queryVec []float32, nodeBudget int) (RankedList, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.GraphTimeout)
	defer cancel()

	scored, err := g.facts.VectorKNN(ctx, bankID, types, queryVec, seedCount(nodeBudget), g.config.MinSimilarity)
	if err != nil {
		return RankedList{Strategy: StrategyGraph}, err
	}

	seeds := make([]Seed, len(scored))
	for i, s := range scored {
		seeds[i] = Seed{UnitID: s.Unit.ID, Activation: s.Score}
	}

	activated, err := g.spread(ctx, seeds, spreadParams{
		nodeBudget:    nodeBudget,
		maxHops:       g.config.MaxHops,
		decay:         g.config.Decay,
		minActivation: g.config.MinActivation,
	})
	if err != nil {
		return RankedList{Strategy: StrategyGraph}, err
	}

	items, err := g.resolveActivated(ctx, bankID, types, activated)
	if err != nil {
		return RankedList{Strategy: StrategyGraph}, err
	}
	return RankedList{Strategy: StrategyGraph, Items: items}, nil
}

// RunTemporal is the temporal variant: seeds come from the parsed interval
// with full activation, propagation is shallower, and neighbours must stay
// within the broadened interval.
func (g *GraphStrategy) RunTemporal(ctx context.Context, bankID string, types []memory.FactType, interval temporal.Interval, nodeBudget int) (RankedList, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.TemporalTimeout)
	defer cancel()

	candidates, err := g.facts.RangeLookup(ctx, bankID, types, interval)
	if err != nil {
		return RankedList{Strategy: StrategyTemporal}, err
	}
	if len(candidates) == 0 {
		return RankedList{Strategy: StrategyTemporal}, nil
	}

	seeds := make([]Seed, len(candidates))
	for i, u := range candidates {
		seeds[i] = Seed{UnitID: u.ID, Activation: 1.0}
	}

	broadened := interval.Broaden(g.config.TemporalPad)
	activated, err := g.spread(ctx, seeds, spreadParams{
		nodeBudget:    nodeBudget,
		maxHops:       g.config.TemporalMaxHops,
		decay:         g.config.Decay,
		minActivation: g.config.MinActivation,
		filter:        g.intervalFilter(broadened),
	})
	if err != nil {
		return RankedList{Strategy: StrategyTemporal}, err
	}

	items, err := g.resolveActivated(ctx, bankID, types, activated)
	if err != nil {
		return RankedList{Strategy: StrategyTemporal}, err
	}
	return RankedList{Strategy: StrategyTemporal, Items: items}, nil
}

// intervalFilter retains only neighbours whose occurred interval overlaps the
// broadened window, so time-adjacent context never drifts across months.
func (g *GraphStrategy) intervalFilter(window temporal.Interval) neighborFilter {
	return func(ctx context.Context, unitID string) (bool, error) {
		units, err := g.facts.GetMany(ctx, []string{unitID})
		if err != nil {
			return false, err
		}
		if len(units) == 0 {
			return false, nil
		}
		u := units[0]
		if !u.HasOccurred() {
			return false, nil
		}
		start, end := occurredBounds(u)
		return start.Before(window.End) && !end.Before(window.Start), nil
	}
}

// occurredBounds returns the unit's closed occurred interval, degenerating a
// single bound to a point.
func occurredBounds(u *memory.MemoryUnit) (time.Time, time.Time) {
	switch {
	case u.OccurredStart != nil && u.OccurredEnd != nil:
		return *u.OccurredStart, *u.OccurredEnd
	case u.OccurredStart != nil:
		return *u.OccurredStart, *u.OccurredStart
	default:
		return *u.OccurredEnd, *u.OccurredEnd
	}
}

// resolveActivated materialises activation results as scored units, dropping
// ids outside the bank or requested fact types.
func (g *GraphStrategy) resolveActivated(ctx context.Context, bankID string, types []memory.FactType, activated []Activated) ([]Item, error) {
	if len(activated) == 0 {
		return nil, nil
	}

	ids := make([]string, len(activated))
	scoreByID := make(map[string]float64, len(activated))
	for i, a := range activated {
		ids[i] = a.UnitID
		scoreByID[a.UnitID] = a.Activation
	}

	units, err := g.facts.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	allowed := make(map[memory.FactType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	items := make([]Item, 0, len(units))
	for _, u := range units {
		if u.BankID != bankID || u.FactType == memory.FactObservation {
			continue
		}
		if len(allowed) > 0 && !allowed[u.FactType] {
			continue
		}
		items = append(items, Item{Unit: u, Score: scoreByID[u.ID]})
	}
	return items, nil
}
