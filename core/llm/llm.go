// Package llm defines the language-model boundary of the ingest pipeline:
// structured fact extraction, entity disambiguation, and observation
// synthesis. Providers return strongly-typed results validated here, so
// downstream code never sees raw model output.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/adalundhe/hindsight/core/memory"
)

// ExtractedEntity is a named entity mentioned by an extracted fact.
type ExtractedEntity struct {
	Name string            `json:"name"`
	Type memory.EntityType `json:"type"`
}

// CausalHint links two facts of the same extraction batch by index.
type CausalHint struct {
	SrcIndex int               `json:"src_index"`
	DstIndex int               `json:"dst_index"`
	Kind     memory.CausalKind `json:"kind"`
}

// ExtractedFact is one structured fact produced by extraction.
type ExtractedFact struct {
	Text            string            `json:"text"`
	FactType        memory.FactType   `json:"fact_type"`
	ConfidenceScore *float64          `json:"confidence_score,omitempty"`
	OccurredStart   *time.Time        `json:"occurred_start,omitempty"`
	OccurredEnd     *time.Time        `json:"occurred_end,omitempty"`
	Entities        []ExtractedEntity `json:"entities,omitempty"`
}

// Extraction is the full result of extracting one content item.
type Extraction struct {
	Facts  []ExtractedFact `json:"facts"`
	Causal []CausalHint    `json:"causal_relations,omitempty"`
}

// Validate drops malformed entries rather than failing the batch: unknown
// fact types default to world, out-of-range hints are discarded, and facts
// with empty text are removed.
func (e *Extraction) Validate() {
	facts := e.Facts[:0]
	for _, f := range e.Facts {
		if f.Text == "" {
			continue
		}
		if !f.FactType.IsValid() || f.FactType == memory.FactObservation {
			f.FactType = memory.FactWorld
		}
		if f.FactType != memory.FactOpinion {
			f.ConfidenceScore = nil
		}
		if f.FactType == memory.FactOpinion && f.ConfidenceScore == nil {
			score := 0.5
			f.ConfidenceScore = &score
		}
		if f.OccurredStart != nil && f.OccurredEnd != nil && f.OccurredStart.After(*f.OccurredEnd) {
			f.OccurredStart, f.OccurredEnd = f.OccurredEnd, f.OccurredStart
		}
		entities := f.Entities[:0]
		for _, ent := range f.Entities {
			if ent.Name == "" {
				continue
			}
			if !ent.Type.IsValid() {
				ent.Type = memory.EntityOther
			}
			entities = append(entities, ent)
		}
		f.Entities = entities
		facts = append(facts, f)
	}
	e.Facts = facts

	hints := e.Causal[:0]
	for _, h := range e.Causal {
		if h.SrcIndex < 0 || h.SrcIndex >= len(e.Facts) ||
			h.DstIndex < 0 || h.DstIndex >= len(e.Facts) ||
			h.SrcIndex == h.DstIndex || !h.Kind.IsValid() {
			continue
		}
		hints = append(hints, h)
	}
	e.Causal = hints
}

// ExtractionRequest carries one content item through extraction.
type ExtractionRequest struct {
	Content string
	Context string
	// Timestamp anchors relative time expressions in the content.
	Timestamp time.Time
}

// DisambiguationCandidate is one plausible existing entity for a mention.
type DisambiguationCandidate struct {
	ID   string
	Name string
	Type memory.EntityType
}

// DisambiguationRequest asks which existing entity a mention refers to.
type DisambiguationRequest struct {
	Mention    string
	FactText   string
	Candidates []DisambiguationCandidate
}

// ObservationRequest asks for concise objective statements about an entity
// given the facts that mention it.
type ObservationRequest struct {
	EntityName string
	EntityType memory.EntityType
	FactTexts  []string
}

// Client is the language-model interface consumed by ingest and the
// observation worker.
type Client interface {
	// ExtractFacts turns raw content into structured facts.
	ExtractFacts(ctx context.Context, req ExtractionRequest) (*Extraction, error)

	// ResolveEntity picks the candidate a mention refers to, returning its
	// id, or "" when the mention is a new entity.
	ResolveEntity(ctx context.Context, req DisambiguationRequest) (string, error)

	// SynthesizeObservations produces 3-5 concise objective statements about
	// an entity.
	SynthesizeObservations(ctx context.Context, req ObservationRequest) ([]string, error)
}

// clampObservations drops empty statements and keeps at most the first five,
// tolerating models that return more. It does not pad a result that has
// fewer than three statements.
func clampObservations(statements []string) []string {
	out := make([]string, 0, 5)
	for _, s := range statements {
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == 5 {
			break
		}
	}
	return out
}

func formatCandidates(candidates []DisambiguationCandidate) string {
	s := ""
	for i, c := range candidates {
		s += fmt.Sprintf("%d. %s (%s, id=%s)\n", i+1, c.Name, c.Type, c.ID)
	}
	return s
}
