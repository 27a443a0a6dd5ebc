package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/hindsight/core/embedder"
	"github.com/adalundhe/hindsight/core/llm"
	"github.com/adalundhe/hindsight/core/memory"
)

// ObservationStore is the slice of the store the synthesis worker touches.
type ObservationStore interface {
	GetEntity(ctx context.Context, id string) (*memory.Entity, error)
	UnitsMentioning(ctx context.Context, entityID string) ([]string, error)
	GetMany(ctx context.Context, ids []string) ([]*memory.MemoryUnit, error)
	ReplaceObservations(ctx context.Context, entityID string, units []*memory.MemoryUnit) error
}

// ObservationSynthesizer regenerates an entity's observation units from the
// facts that mention it. Requests for the same entity coalesce so at most one
// synthesis runs per entity at a time, with one follow-up after the latest
// write.
type ObservationSynthesizer struct {
	store     ObservationStore
	llm       llm.Client
	embed     embedder.Embedder
	coalescer *Coalescer
	logger    *slog.Logger
	now       func() time.Time
}

// NewObservationSynthesizer wires the worker onto a pool.
func NewObservationSynthesizer(
	store ObservationStore,
	client llm.Client,
	embed embedder.Embedder,
	pool *Pool,
	logger *slog.Logger,
) *ObservationSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObservationSynthesizer{
		store:     store,
		llm:       client,
		embed:     embed,
		coalescer: NewCoalescer(pool),
		logger:    logger,
		now:       time.Now,
	}
}

// Enqueue schedules observation regeneration for an entity.
func (s *ObservationSynthesizer) Enqueue(bankID, entityID string) {
	err := s.coalescer.Submit(bankID, entityID, func(ctx context.Context) {
		if err := s.synthesize(ctx, bankID, entityID); err != nil {
			s.logger.Warn("observation synthesis failed",
				"bank_id", bankID, "entity_id", entityID, "error", err)
		}
	})
	if err != nil {
		s.logger.Warn("observation task rejected",
			"bank_id", bankID, "entity_id", entityID, "error", err)
	}
}

func (s *ObservationSynthesizer) synthesize(ctx context.Context, bankID, entityID string) error {
	entity, err := s.store.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}

	facts, err := s.collectFacts(ctx, bankID, entityID)
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		// Nothing to observe; clear any stale observations.
		return s.store.ReplaceObservations(ctx, entityID, nil)
	}

	statements, err := s.llm.SynthesizeObservations(ctx, llm.ObservationRequest{
		EntityName: entity.CanonicalName,
		EntityType: entity.EntityType,
		FactTexts:  facts,
	})
	if err != nil {
		return err
	}
	if len(statements) == 0 {
		return nil
	}

	embeddings, err := s.embed.EmbedBatch(ctx, statements)
	if err != nil {
		return err
	}

	units := make([]*memory.MemoryUnit, len(statements))
	now := s.now().UTC()
	for i, text := range statements {
		units[i] = &memory.MemoryUnit{
			ID:          uuid.NewString(),
			BankID:      bankID,
			Text:        text,
			Embedding:   embeddings[i],
			MentionedAt: now,
			FactType:    memory.FactObservation,
		}
	}
	return s.store.ReplaceObservations(ctx, entityID, units)
}

// collectFacts gathers the non-observation unit texts in this bank linked to
// the entity.
func (s *ObservationSynthesizer) collectFacts(ctx context.Context, bankID, entityID string) ([]string, error) {
	ids, err := s.store.UnitsMentioning(ctx, entityID)
	if err != nil {
		return nil, err
	}
	units, err := s.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	var facts []string
	for _, u := range units {
		if u.BankID != bankID || u.FactType == memory.FactObservation {
			continue
		}
		facts = append(facts, u.Text)
	}
	return facts, nil
}
