// Package ingest implements the retain pipeline: LLM fact extraction,
// embedding, persistence, entity resolution, graph edge construction, and
// background task fan-out.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/hindsight/core/embedder"
	coreerrors "github.com/adalundhe/hindsight/core/errors"
	"github.com/adalundhe/hindsight/core/llm"
	"github.com/adalundhe/hindsight/core/memory"
	"github.com/adalundhe/hindsight/core/store"
	"github.com/adalundhe/hindsight/core/tasks"
)

// reinforcementStep is the fraction of the remaining distance to 1.0 that an
// opinion's confidence moves when fresh facts mention its entities.
const reinforcementStep = 0.1

// ObservationQueue receives regeneration requests for entities touched by a
// retain.
type ObservationQueue interface {
	Enqueue(bankID, entityID string)
}

// Item is one piece of content to retain.
type Item struct {
	Content string
	Context string
	// Timestamp is when the content was learned; zero means now.
	Timestamp time.Time
}

// Request is one retain invocation.
type Request struct {
	BankID     string
	Items      []Item
	DocumentID string
}

// Result reports the stored units.
type Result struct {
	// UnitIDs holds one id list per input item, duplicates omitted.
	UnitIDs [][]string
}

// All flattens the per-item unit ids.
func (r *Result) All() []string {
	var all []string
	for _, ids := range r.UnitIDs {
		all = append(all, ids...)
	}
	return all
}

// Pipeline runs the retain flow against one store.
type Pipeline struct {
	store        *store.Store
	llm          llm.Client
	embed        embedder.Embedder
	resolver     *Resolver
	observations ObservationQueue
	pool         *tasks.Pool
	logger       *slog.Logger
	now          func() time.Time
}

// NewPipeline wires a retain pipeline. The observation queue and pool may be
// nil, disabling background fan-out (useful in narrow tests).
func NewPipeline(
	st *store.Store,
	client llm.Client,
	embed embedder.Embedder,
	observations ObservationQueue,
	pool *tasks.Pool,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:        st,
		llm:          client,
		embed:        embed,
		resolver:     NewResolver(st, client, logger),
		observations: observations,
		pool:         pool,
		logger:       logger,
		now:          time.Now,
	}
}

func validateRequest(req Request) error {
	if req.BankID == "" {
		return coreerrors.Invalidf("bank_id required")
	}
	if len(req.Items) == 0 {
		return coreerrors.Invalidf("content required")
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.Content) == "" {
			return coreerrors.Invalidf("item %d has empty content", i)
		}
	}
	return nil
}

// Retain extracts, stores, and links facts from the request's content. Writes
// fail loudly; background work (observations, reinforcement) is enqueued and
// never blocks the response.
func (p *Pipeline) Retain(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if req.DocumentID != "" {
		combined := make([]string, len(req.Items))
		for i, item := range req.Items {
			combined[i] = item.Content
		}
		if _, err := p.store.ReplaceDocument(ctx, memory.Document{
			ID:      req.DocumentID,
			BankID:  req.BankID,
			Content: strings.Join(combined, "\n"),
		}); err != nil {
			return nil, fmt.Errorf("%w: replace document: %v", coreerrors.ErrCoreUnavailable, err)
		}
	}

	result := &Result{UnitIDs: make([][]string, len(req.Items))}
	affected := make(map[string]bool)

	for i, item := range req.Items {
		ids, entityIDs, err := p.retainItem(ctx, req.BankID, req.DocumentID, item)
		if err != nil {
			return nil, err
		}
		result.UnitIDs[i] = ids
		for _, id := range entityIDs {
			affected[id] = true
		}
	}

	p.fanOut(req.BankID, affected)
	return result, nil
}

// retainItem processes one content item end to end and returns the stored
// unit ids and the entities they mention.
func (p *Pipeline) retainItem(ctx context.Context, bankID, documentID string, item Item) ([]string, []string, error) {
	mentionedAt := item.Timestamp
	if mentionedAt.IsZero() {
		mentionedAt = p.now()
	}
	mentionedAt = mentionedAt.UTC()

	extraction, err := p.llm.ExtractFacts(ctx, llm.ExtractionRequest{
		Content:   item.Content,
		Context:   item.Context,
		Timestamp: mentionedAt,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(extraction.Facts) == 0 {
		return nil, nil, nil
	}

	kept, unitByFactIndex, err := p.dedupFacts(ctx, bankID, extraction.Facts)
	if err != nil {
		return nil, nil, err
	}
	if len(kept) == 0 {
		return nil, nil, nil
	}

	units, err := p.buildUnits(ctx, bankID, documentID, item.Context, mentionedAt, kept)
	if err != nil {
		return nil, nil, err
	}
	if err := p.store.InsertUnits(ctx, units); err != nil {
		return nil, nil, fmt.Errorf("%w: insert units: %v", coreerrors.ErrCoreUnavailable, err)
	}

	unitsByEntity, entityIDs, err := p.resolveAndLink(ctx, bankID, kept, units)
	if err != nil {
		return nil, nil, err
	}

	newIDs := make(map[string]bool, len(units))
	ids := make([]string, len(units))
	for i, u := range units {
		newIDs[u.ID] = true
		ids[i] = u.ID
	}

	if err := p.buildEntityEdges(ctx, unitsByEntity, newIDs); err != nil {
		return nil, nil, fmt.Errorf("entity edges: %w", err)
	}
	if err := p.buildSemanticEdges(ctx, units); err != nil {
		return nil, nil, fmt.Errorf("semantic edges: %w", err)
	}
	if err := p.buildTemporalEdges(ctx, units); err != nil {
		return nil, nil, fmt.Errorf("temporal edges: %w", err)
	}

	unitIDByFactIndex := make(map[int]string, len(units))
	for factIdx, unitIdx := range unitByFactIndex {
		unitIDByFactIndex[factIdx] = units[unitIdx].ID
	}
	if err := p.buildCausalEdges(ctx, extraction.Causal, unitIDByFactIndex); err != nil {
		return nil, nil, fmt.Errorf("causal edges: %w", err)
	}

	return ids, entityIDs, nil
}

// dedupFacts drops facts whose exact text already exists in the bank or
// repeats within the batch, keeping a mapping from original fact index to
// position among the kept facts.
func (p *Pipeline) dedupFacts(ctx context.Context, bankID string, facts []llm.ExtractedFact) ([]llm.ExtractedFact, map[int]int, error) {
	kept := make([]llm.ExtractedFact, 0, len(facts))
	indexMap := make(map[int]int)
	seen := make(map[string]bool)

	for i, f := range facts {
		if seen[f.Text] {
			continue
		}
		exists, err := p.store.ExistsExactText(ctx, bankID, f.Text)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", coreerrors.ErrCoreUnavailable, err)
		}
		if exists {
			continue
		}
		seen[f.Text] = true
		indexMap[i] = len(kept)
		kept = append(kept, f)
	}
	return kept, indexMap, nil
}

func (p *Pipeline) buildUnits(ctx context.Context, bankID, documentID, itemContext string, mentionedAt time.Time, facts []llm.ExtractedFact) ([]*memory.MemoryUnit, error) {
	texts := make([]string, len(facts))
	for i, f := range facts {
		texts[i] = f.Text
	}

	embeddings, err := p.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embed facts: %v", coreerrors.ErrEmbedUnavailable, err)
	}
	if len(embeddings) != len(facts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d facts",
			coreerrors.ErrEmbedUnavailable, len(embeddings), len(facts))
	}

	units := make([]*memory.MemoryUnit, len(facts))
	for i, f := range facts {
		units[i] = &memory.MemoryUnit{
			ID:              uuid.NewString(),
			BankID:          bankID,
			Text:            f.Text,
			Embedding:       embeddings[i],
			OccurredStart:   f.OccurredStart,
			OccurredEnd:     f.OccurredEnd,
			MentionedAt:     mentionedAt,
			Context:         itemContext,
			DocumentID:      documentID,
			FactType:        f.FactType,
			ConfidenceScore: f.ConfidenceScore,
		}
	}
	return units, nil
}

// resolveAndLink resolves every mention to a canonical entity and records the
// unit-entity links.
func (p *Pipeline) resolveAndLink(ctx context.Context, bankID string, facts []llm.ExtractedFact, units []*memory.MemoryUnit) (map[string][]string, []string, error) {
	unitsByEntity := make(map[string][]string)
	var order []string

	for i, f := range facts {
		for _, mention := range f.Entities {
			entity, err := p.resolver.Resolve(ctx, bankID, mention, f.Text)
			if err != nil {
				return nil, nil, fmt.Errorf("resolve %q: %w", mention.Name, err)
			}
			if err := p.store.LinkUnitEntity(ctx, units[i].ID, entity.ID); err != nil {
				return nil, nil, fmt.Errorf("%w: %v", coreerrors.ErrCoreUnavailable, err)
			}
			if _, seen := unitsByEntity[entity.ID]; !seen {
				order = append(order, entity.ID)
			}
			unitsByEntity[entity.ID] = appendUnique(unitsByEntity[entity.ID], units[i].ID)
		}
	}
	return unitsByEntity, order, nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// fanOut enqueues observation regeneration for every distinct affected
// entity and posts one opinion-reinforcement task. Neither blocks retain.
func (p *Pipeline) fanOut(bankID string, affected map[string]bool) {
	if len(affected) == 0 {
		return
	}

	entityIDs := make([]string, 0, len(affected))
	for id := range affected {
		entityIDs = append(entityIDs, id)
	}

	if p.observations != nil {
		for _, id := range entityIDs {
			p.observations.Enqueue(bankID, id)
		}
	}

	if p.pool != nil {
		if err := p.pool.Submit(func(ctx context.Context) {
			p.reinforceOpinions(ctx, entityIDs)
		}); err != nil {
			p.logger.Warn("opinion reinforcement task rejected", "error", err)
		}
	}
}

// reinforceOpinions nudges the confidence of opinions mentioning the
// affected entities toward 1.0. Failures are logged and never propagate.
func (p *Pipeline) reinforceOpinions(ctx context.Context, entityIDs []string) {
	opinions, err := p.store.OpinionsMentioning(ctx, entityIDs)
	if err != nil {
		p.logger.Warn("opinion reinforcement lookup failed", "error", err)
		return
	}

	for _, op := range opinions {
		if op.ConfidenceScore == nil {
			continue
		}
		updated := *op.ConfidenceScore + reinforcementStep*(1.0-*op.ConfidenceScore)
		if err := p.store.UpdateOpinion(ctx, op.ID, op.Text, updated, op.Embedding); err != nil {
			p.logger.Warn("opinion reinforcement failed", "unit_id", op.ID, "error", err)
		}
	}
}
