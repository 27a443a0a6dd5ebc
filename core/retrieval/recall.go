package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/adalundhe/hindsight/core/embedder"
	coreerrors "github.com/adalundhe/hindsight/core/errors"
	"github.com/adalundhe/hindsight/core/memory"
	"github.com/adalundhe/hindsight/core/reranker"
	"github.com/adalundhe/hindsight/core/temporal"
	"github.com/adalundhe/hindsight/core/tokenizer"
)

// WarningRerankUnavailable flags a recall that fell back to fusion order.
const WarningRerankUnavailable = "rerank_unavailable"

// EntitySource is the slice of the store used for entity attachment.
type EntitySource interface {
	EntitiesForUnits(ctx context.Context, unitIDs []string) ([]*memory.Entity, error)
	ObservationsForEntity(ctx context.Context, entityID string) ([]*memory.MemoryUnit, error)
}

// AccessRecorder receives best-effort access-count bumps for returned units.
type AccessRecorder interface {
	BumpAccess(ctx context.Context, ids []string)
}

// Request is one recall invocation. Zero-valued optional fields take the
// documented defaults.
type Request struct {
	BankID          string
	Query           string
	Types           []memory.FactType
	Budget          BudgetLevel
	MaxTokens       int
	Trace           bool
	IncludeEntities bool
	MaxEntityTokens int

	// Now anchors relative temporal expressions; zero means wall clock.
	Now time.Time
}

// ResultItem is one returned unit.
type ResultItem struct {
	ID        string
	Text      string
	Context   string
	EventDate *time.Time
	Weight    float64
	FactType  memory.FactType
}

// TraceInfo reports per-strategy behaviour for debugging.
type TraceInfo struct {
	Interval        *temporal.Interval
	StrategyHits    map[string]int
	StrategyTimings map[string]time.Duration
	Reranked        bool
}

// Result is the recall response.
type Result struct {
	Items    []ResultItem
	Entities []memory.EntityObservation
	Warnings []string
	Trace    *TraceInfo
}

// Pipeline orchestrates the four strategies, fusion, reranking, and budget
// truncation for one store.
type Pipeline struct {
	facts    FactSource
	graph    GraphSource
	entities EntitySource
	access   AccessRecorder
	embed    embedder.Embedder
	rerank   reranker.Reranker
	config   Config
	logger   *slog.Logger

	semantic *SemanticStrategy
	keyword  *KeywordStrategy
	graphs   *GraphStrategy
}

// NewPipeline wires a recall pipeline. The reranker may be nil, in which case
// every recall carries the rerank_unavailable warning.
func NewPipeline(
	facts FactSource,
	graph GraphSource,
	entities EntitySource,
	access AccessRecorder,
	embed embedder.Embedder,
	rerank reranker.Reranker,
	config Config,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	config = config.withDefaults()

	return &Pipeline{
		facts:    facts,
		graph:    graph,
		entities: entities,
		access:   access,
		embed:    embed,
		rerank:   rerank,
		config:   config,
		logger:   logger,
		semantic: NewSemanticStrategy(facts, config),
		keyword:  NewKeywordStrategy(facts, config),
		graphs:   NewGraphStrategy(facts, graph, config),
	}
}

func (p *Pipeline) validate(req *Request) error {
	if req.BankID == "" {
		return coreerrors.Invalidf("bank_id required")
	}
	if req.Query == "" {
		return coreerrors.Invalidf("query must be non-empty")
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 4096
	}
	if req.MaxTokens < 0 {
		return coreerrors.Invalidf("max_tokens=%d", req.MaxTokens)
	}
	if req.Budget == "" {
		req.Budget = BudgetMid
	}
	if !req.Budget.IsValid() {
		return coreerrors.Invalidf("unknown budget %q", req.Budget)
	}
	if len(req.Types) == 0 {
		req.Types = memory.SearchableFactTypes()
	}
	for _, t := range req.Types {
		if !t.IsValid() || t == memory.FactObservation {
			return coreerrors.Invalidf("fact type %q not searchable", t)
		}
	}
	if req.MaxEntityTokens == 0 {
		req.MaxEntityTokens = 500
	}
	if req.Now.IsZero() {
		req.Now = time.Now().UTC()
	}
	return nil
}

// Recall runs the full retrieval pipeline.
func (p *Pipeline) Recall(ctx context.Context, req Request) (*Result, error) {
	if err := p.validate(&req); err != nil {
		return nil, err
	}

	queryVec, err := p.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", coreerrors.ErrCoreUnavailable, err)
	}

	interval := temporal.Parse(req.Query, req.Now)
	scale := req.Budget.Scale()
	fetchK := 4 * scale

	outcomes := p.runStrategies(ctx, req, queryVec, interval, scale, fetchK)

	var warnings []string
	lists := make([]RankedList, 0, len(outcomes))
	failed := make(map[string]bool)
	for _, o := range outcomes {
		if o.err != nil {
			failed[o.list.Strategy] = true
			warnings = append(warnings, o.list.Strategy+"_failed")
			p.logger.Warn("retrieval strategy failed",
				"strategy", o.list.Strategy, "bank_id", req.BankID, "error", o.err)
			continue
		}
		lists = append(lists, o.list)
	}

	if failed[StrategySemantic] && failed[StrategyKeyword] && ctx.Err() != nil {
		return nil, coreerrors.ErrDeadlineExceeded
	}

	fused := FuseRRF(lists, p.config.RRFK)
	if len(fused) > fetchK {
		fused = fused[:fetchK]
	}

	ranked, reranked := p.rerankItems(ctx, req.Query, fused)
	if !reranked {
		warnings = append(warnings, WarningRerankUnavailable)
	}

	final := FilterByTokens(ranked, req.MaxTokens)
	normalizeWeights(final)

	result := &Result{
		Items:    toResultItems(final),
		Warnings: warnings,
	}

	if p.access != nil && len(final) > 0 {
		ids := make([]string, len(final))
		for i, item := range final {
			ids[i] = item.Unit.ID
		}
		p.access.BumpAccess(ctx, ids)
	}

	if req.IncludeEntities {
		entities, err := p.attachEntities(ctx, final, req.MaxEntityTokens)
		if err != nil {
			p.logger.Warn("entity attachment failed", "bank_id", req.BankID, "error", err)
		} else {
			result.Entities = entities
		}
	}

	if req.Trace {
		result.Trace = buildTrace(outcomes, interval, reranked)
	}
	return result, nil
}

func (p *Pipeline) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.EmbedTimeout)
	defer cancel()

	var vec []float32
	err := coreerrors.Retry(ctx, coreerrors.DefaultRetryPolicy(), func(ctx context.Context) error {
		var err error
		vec, err = p.embed.Embed(ctx, query)
		return err
	})
	return vec, err
}

type strategyOutcome struct {
	list     RankedList
	err      error
	duration time.Duration
}

// runStrategies executes the active strategies concurrently and waits for
// all of them. Each strategy owns its timeout; a failure folds to an empty
// list at the caller.
func (p *Pipeline) runStrategies(
	ctx context.Context,
	req Request,
	queryVec []float32,
	interval *temporal.Interval,
	scale, fetchK int,
) []strategyOutcome {
	type runner struct {
		name string
		run  func(ctx context.Context) (RankedList, error)
	}

	runners := []runner{
		{StrategySemantic, func(ctx context.Context) (RankedList, error) {
			return p.semantic.Run(ctx, req.BankID, req.Types, queryVec, fetchK)
		}},
		{StrategyKeyword, func(ctx context.Context) (RankedList, error) {
			return p.keyword.Run(ctx, req.BankID, req.Types, req.Query, fetchK)
		}},
		{StrategyGraph, func(ctx context.Context) (RankedList, error) {
			return p.graphs.Run(ctx, req.BankID, req.Types, queryVec, scale)
		}},
	}
	if interval != nil {
		runners = append(runners, runner{StrategyTemporal, func(ctx context.Context) (RankedList, error) {
			return p.graphs.RunTemporal(ctx, req.BankID, req.Types, *interval, scale)
		}})
	}

	outcomes := make([]strategyOutcome, len(runners))
	var wg sync.WaitGroup
	for i, r := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			list, err := r.run(ctx)
			list.Strategy = r.name
			outcomes[i] = strategyOutcome{list: list, err: err, duration: time.Since(start)}
		}()
	}
	wg.Wait()
	return outcomes
}

// rerankItems scores the fused candidates with the cross-encoder. Failure or
// a missing reranker keeps fusion order and reports reranked=false.
func (p *Pipeline) rerankItems(ctx context.Context, query string, fused []Item) ([]Item, bool) {
	if p.rerank == nil || len(fused) == 0 {
		return fused, false
	}

	docs := make([]string, len(fused))
	for i, item := range fused {
		docs[i] = reranker.FormatUnit(item.Unit)
	}

	rctx, cancel := context.WithTimeout(ctx, p.config.RerankTimeout)
	defer cancel()

	scores, err := p.rerank.Rerank(rctx, query, docs)
	if err != nil || len(scores) != len(fused) {
		if err != nil {
			p.logger.Warn("rerank failed, using fusion order", "error", err)
		}
		return fused, false
	}

	ranked := make([]Item, len(fused))
	for i, item := range fused {
		ranked[i] = Item{Unit: item.Unit, Score: scores[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked, true
}

// normalizeWeights min-max normalises scores across the returned batch.
func normalizeWeights(items []Item) {
	if len(items) == 0 {
		return
	}
	scores := make([]float64, len(items))
	for i, item := range items {
		scores[i] = item.Score
	}
	lo, hi := floats.Min(scores), floats.Max(scores)
	for i := range items {
		if hi == lo {
			items[i].Score = 1.0
			continue
		}
		items[i].Score = (items[i].Score - lo) / (hi - lo)
	}
}

func toResultItems(items []Item) []ResultItem {
	out := make([]ResultItem, len(items))
	for i, item := range items {
		out[i] = ResultItem{
			ID:        item.Unit.ID,
			Text:      item.Unit.Text,
			Context:   item.Unit.Context,
			EventDate: item.Unit.EventDate(),
			Weight:    item.Score,
			FactType:  item.Unit.FactType,
		}
	}
	return out
}

// attachEntities collects the entities mentioned by the final units and their
// current observations, bounded by maxEntityTokens.
func (p *Pipeline) attachEntities(ctx context.Context, final []Item, maxEntityTokens int) ([]memory.EntityObservation, error) {
	if p.entities == nil || len(final) == 0 {
		return nil, nil
	}

	ids := make([]string, len(final))
	for i, item := range final {
		ids[i] = item.Unit.ID
	}

	entities, err := p.entities.EntitiesForUnits(ctx, ids)
	if err != nil {
		return nil, err
	}

	var out []memory.EntityObservation
	budget := maxEntityTokens
	for _, e := range entities {
		observations, err := p.entities.ObservationsForEntity(ctx, e.ID)
		if err != nil {
			return nil, err
		}

		eo := memory.EntityObservation{ID: e.ID, Name: e.CanonicalName, Type: e.EntityType}
		for _, obs := range observations {
			cost := tokenizer.Count(obs.Text)
			if cost > budget {
				break
			}
			budget -= cost
			eo.Observations = append(eo.Observations, obs.Text)
		}
		out = append(out, eo)
		if budget <= 0 {
			break
		}
	}
	return out, nil
}

func buildTrace(outcomes []strategyOutcome, interval *temporal.Interval, reranked bool) *TraceInfo {
	trace := &TraceInfo{
		Interval:        interval,
		StrategyHits:    make(map[string]int, len(outcomes)),
		StrategyTimings: make(map[string]time.Duration, len(outcomes)),
		Reranked:        reranked,
	}
	for _, o := range outcomes {
		trace.StrategyHits[o.list.Strategy] = len(o.list.Items)
		trace.StrategyTimings[o.list.Strategy] = o.duration
	}
	return trace
}
