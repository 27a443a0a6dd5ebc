package memory

import (
	"errors"
	"fmt"
)

var (
	ErrSelfEdge          = errors.New("edge endpoints must be distinct")
	ErrInvalidLinkType   = errors.New("invalid link type")
	ErrInvalidCausalKind = errors.New("invalid causal kind")
	ErrWeightOutOfRange  = errors.New("edge weight out of range for link type")
)

// LinkType classifies a graph edge between two memory units.
type LinkType string

const (
	LinkTemporal LinkType = "temporal"
	LinkSemantic LinkType = "semantic"
	LinkEntity   LinkType = "entity"
	LinkCausal   LinkType = "causal"
)

func (l LinkType) IsValid() bool {
	switch l {
	case LinkTemporal, LinkSemantic, LinkEntity, LinkCausal:
		return true
	}
	return false
}

func (l LinkType) String() string { return string(l) }

// CausalKind qualifies the direction and mode of a causal edge.
type CausalKind string

const (
	CausalCauses   CausalKind = "causes"
	CausalCausedBy CausalKind = "caused_by"
	CausalEnables  CausalKind = "enables"
	CausalPrevents CausalKind = "prevents"
)

func (c CausalKind) IsValid() bool {
	switch c {
	case CausalCauses, CausalCausedBy, CausalEnables, CausalPrevents:
		return true
	}
	return false
}

func (c CausalKind) String() string { return string(c) }

// Edge is a typed weighted directed edge between two memory units. Entity and
// semantic edges are stored in both directions; causal edges are directed.
type Edge struct {
	SrcID      string
	DstID      string
	LinkType   LinkType
	Weight     float64
	CausalKind CausalKind
}

// Validate enforces per-type weight ranges and causal-kind consistency.
func (e *Edge) Validate() error {
	if e.SrcID == e.DstID {
		return ErrSelfEdge
	}
	if !e.LinkType.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidLinkType, e.LinkType)
	}
	if e.Weight < 0 || e.Weight > 1 {
		return fmt.Errorf("%w: weight=%f", ErrWeightOutOfRange, e.Weight)
	}
	switch e.LinkType {
	case LinkEntity:
		if e.Weight != 1.0 {
			return fmt.Errorf("%w: entity edges have weight 1.0", ErrWeightOutOfRange)
		}
	case LinkSemantic:
		if e.Weight < 0.7 {
			return fmt.Errorf("%w: semantic weight %f < 0.7", ErrWeightOutOfRange, e.Weight)
		}
	case LinkTemporal:
		if e.Weight < 0.3 {
			return fmt.Errorf("%w: temporal weight %f < 0.3", ErrWeightOutOfRange, e.Weight)
		}
	}
	hasKind := e.CausalKind != ""
	if hasKind != (e.LinkType == LinkCausal) {
		return fmt.Errorf("%w: causal_kind=%q on %s edge", ErrInvalidCausalKind, e.CausalKind, e.LinkType)
	}
	if hasKind && !e.CausalKind.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidCausalKind, e.CausalKind)
	}
	return nil
}

// Neighbor is one outgoing edge as seen from a source unit during traversal.
type Neighbor struct {
	DstID      string
	LinkType   LinkType
	Weight     float64
	CausalKind CausalKind
}

// Document groups ingested memories by source. Upserting a document with the
// same id replaces its memories.
type Document struct {
	ID      string
	BankID  string
	Content string
}
