// Package memory defines the data model for the Hindsight memory substrate:
// memory units, entities, typed graph edges, and documents. All retrieval and
// ingest components operate on these types.
package memory

import (
	"errors"
	"fmt"
	"time"
)

// EmbeddingDimension is the output dimension of the sentence embedding model.
const EmbeddingDimension = 384

var (
	ErrEmptyText          = errors.New("memory unit text is empty")
	ErrBadEmbedding       = errors.New("embedding missing or wrong dimension")
	ErrInvertedInterval   = errors.New("occurred_start after occurred_end")
	ErrConfidenceMismatch = errors.New("confidence_score present iff fact_type is opinion")
	ErrInvalidFactType    = errors.New("invalid fact type")
)

// FactType classifies a memory unit.
type FactType string

const (
	// FactWorld covers facts about the world outside the assistant.
	FactWorld FactType = "world"
	// FactBank covers interactions by or with the owning bank's assistant.
	FactBank FactType = "bank"
	// FactOpinion carries a confidence-scored belief.
	FactOpinion FactType = "opinion"
	// FactObservation is synthesised about an entity; never searched directly.
	FactObservation FactType = "observation"
)

func (f FactType) IsValid() bool {
	switch f {
	case FactWorld, FactBank, FactOpinion, FactObservation:
		return true
	}
	return false
}

func (f FactType) String() string { return string(f) }

// SearchableFactTypes returns the default fact types consulted by recall.
// Observations are excluded unconditionally from search.
func SearchableFactTypes() []FactType {
	return []FactType{FactWorld, FactBank, FactOpinion}
}

// MemoryUnit is an atomic fact node owned by a bank.
type MemoryUnit struct {
	ID     string
	BankID string
	Text   string

	// Embedding is an L2-normalised vector of EmbeddingDimension floats.
	Embedding []float32

	// OccurredStart/OccurredEnd bound when the fact was true in the world.
	// Both optional; ordered when both present.
	OccurredStart *time.Time
	OccurredEnd   *time.Time

	// MentionedAt is when the fact was learned.
	MentionedAt time.Time

	Context    string
	DocumentID string
	FactType   FactType

	// ConfidenceScore is required for opinions and forbidden otherwise.
	ConfidenceScore *float64

	// AccessCount increments on retrieval hits, best-effort.
	AccessCount int64
}

// Validate enforces the unit invariants prior to persistence.
func (u *MemoryUnit) Validate() error {
	if u.Text == "" {
		return ErrEmptyText
	}
	if len(u.Embedding) != EmbeddingDimension {
		return fmt.Errorf("%w: got %d", ErrBadEmbedding, len(u.Embedding))
	}
	if !u.FactType.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidFactType, u.FactType)
	}
	if u.OccurredStart != nil && u.OccurredEnd != nil && u.OccurredStart.After(*u.OccurredEnd) {
		return ErrInvertedInterval
	}
	hasConfidence := u.ConfidenceScore != nil
	if hasConfidence != (u.FactType == FactOpinion) {
		return ErrConfidenceMismatch
	}
	if hasConfidence && (*u.ConfidenceScore < 0 || *u.ConfidenceScore > 1) {
		return fmt.Errorf("confidence_score %f out of [0,1]", *u.ConfidenceScore)
	}
	return nil
}

// EventDate reports the unit's event date: a read-only alias of OccurredStart.
func (u *MemoryUnit) EventDate() *time.Time {
	return u.OccurredStart
}

// HasOccurred reports whether the unit carries any temporal metadata.
func (u *MemoryUnit) HasOccurred() bool {
	return u.OccurredStart != nil || u.OccurredEnd != nil
}
