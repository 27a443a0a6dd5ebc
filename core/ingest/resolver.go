package ingest

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/adalundhe/hindsight/core/llm"
	"github.com/adalundhe/hindsight/core/memory"
)

// similarityThreshold is the Levenshtein ratio at which two names are
// considered the same entity when their types agree.
const similarityThreshold = 0.85

// ResolverStore is the entity slice of the store used during resolution.
type ResolverStore interface {
	FindEntityByName(ctx context.Context, bankID, name string) (*memory.Entity, error)
	EntitiesForBank(ctx context.Context, bankID string) ([]*memory.Entity, error)
	CreateEntity(ctx context.Context, e *memory.Entity) error
	AddAlias(ctx context.Context, entityID, alias string) error
}

// Resolver maps entity mentions to canonical entities within a bank.
// Resolution order: exact case-folded name or alias match, then fuzzy match
// by Levenshtein ratio with matching type, with the LLM breaking ties when
// several candidates are plausible, then creation.
type Resolver struct {
	store  ResolverStore
	llm    llm.Client
	logger *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(store ResolverStore, client llm.Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, llm: client, logger: logger}
}

// Resolve returns the canonical entity for a mention, creating one when
// nothing matches.
func (r *Resolver) Resolve(ctx context.Context, bankID string, mention llm.ExtractedEntity, factText string) (*memory.Entity, error) {
	if existing, err := r.store.FindEntityByName(ctx, bankID, mention.Name); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	candidates, err := r.fuzzyCandidates(ctx, bankID, mention)
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 0:
		return r.create(ctx, bankID, mention)
	case 1:
		return r.adopt(ctx, candidates[0], mention.Name)
	default:
		return r.disambiguate(ctx, bankID, mention, factText, candidates)
	}
}

func (r *Resolver) fuzzyCandidates(ctx context.Context, bankID string, mention llm.ExtractedEntity) ([]*memory.Entity, error) {
	all, err := r.store.EntitiesForBank(ctx, bankID)
	if err != nil {
		return nil, err
	}

	norm := memory.NormalizeName(mention.Name)
	var candidates []*memory.Entity
	for _, e := range all {
		if e.EntityType != mention.Type {
			continue
		}
		if levenshteinRatio(norm, memory.NormalizeName(e.CanonicalName)) >= similarityThreshold {
			candidates = append(candidates, e)
			continue
		}
		for _, alias := range e.Aliases {
			if levenshteinRatio(norm, memory.NormalizeName(alias)) >= similarityThreshold {
				candidates = append(candidates, e)
				break
			}
		}
	}
	return candidates, nil
}

// disambiguate asks the LLM once which candidate the mention refers to, using
// the fact text as context. An unresolvable answer creates a new entity.
func (r *Resolver) disambiguate(ctx context.Context, bankID string, mention llm.ExtractedEntity, factText string, candidates []*memory.Entity) (*memory.Entity, error) {
	req := llm.DisambiguationRequest{Mention: mention.Name, FactText: factText}
	for _, c := range candidates {
		req.Candidates = append(req.Candidates, llm.DisambiguationCandidate{
			ID: c.ID, Name: c.CanonicalName, Type: c.EntityType,
		})
	}

	chosen, err := r.llm.ResolveEntity(ctx, req)
	if err != nil {
		r.logger.Warn("entity disambiguation failed, creating new entity",
			"mention", mention.Name, "error", err)
		return r.create(ctx, bankID, mention)
	}
	if chosen == "" {
		return r.create(ctx, bankID, mention)
	}
	for _, c := range candidates {
		if c.ID == chosen {
			return r.adopt(ctx, c, mention.Name)
		}
	}
	return r.create(ctx, bankID, mention)
}

// adopt records the mention spelling as an alias when it is new.
func (r *Resolver) adopt(ctx context.Context, e *memory.Entity, mention string) (*memory.Entity, error) {
	if e.Matches(mention) {
		return e, nil
	}
	if err := r.store.AddAlias(ctx, e.ID, mention); err != nil {
		return nil, err
	}
	e.Aliases = append(e.Aliases, mention)
	return e, nil
}

func (r *Resolver) create(ctx context.Context, bankID string, mention llm.ExtractedEntity) (*memory.Entity, error) {
	e := &memory.Entity{
		ID:            uuid.NewString(),
		BankID:        bankID,
		CanonicalName: mention.Name,
		EntityType:    mention.Type,
	}
	if err := r.store.CreateEntity(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// levenshteinRatio is the normalised edit-distance similarity of two strings:
// 1 - distance/max(len), in [0,1].
func levenshteinRatio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
