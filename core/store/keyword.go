package store

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"

	"github.com/adalundhe/hindsight/core/memory"
)

// indexedUnit is the bleve document shape for a searchable memory unit.
type indexedUnit struct {
	BankID   string `json:"bank_id"`
	FactType string `json:"fact_type"`
	Text     string `json:"text"`
}

func (s *Store) indexUnit(u *memory.MemoryUnit) error {
	return s.index.Index(u.ID, indexedUnit{
		BankID:   u.BankID,
		FactType: string(u.FactType),
		Text:     u.Text,
	})
}

// KeywordSearch runs a BM25-style full-text match over unit text, filtered to
// the bank and fact types. Observations never match. Soft failures (breaker
// open, index error) return an error the strategy layer folds to empty.
func (s *Store) KeywordSearch(ctx context.Context, bankID string, types []memory.FactType, query string, k int) ([]ScoredUnit, error) {
	if k <= 0 || query == "" {
		return nil, nil
	}

	if !s.breaker.Allow() {
		return nil, fmt.Errorf("keyword index circuit open")
	}

	hits, err := s.searchIndex(ctx, bankID, types, query, k)
	s.breaker.RecordResult(err == nil)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	scoreByID := make(map[string]float64, len(hits))
	for i, hit := range hits {
		ids[i] = hit.id
		scoreByID[hit.id] = hit.score
	}

	units, err := s.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredUnit, 0, len(units))
	for _, u := range units {
		scored = append(scored, ScoredUnit{Unit: u, Score: scoreByID[u.ID]})
	}
	return scored, nil
}

type indexHit struct {
	id    string
	score float64
}

func (s *Store) searchIndex(ctx context.Context, bankID string, types []memory.FactType, query string, k int) ([]indexHit, error) {
	match := bleve.NewMatchQuery(query)
	match.SetField("text")

	bankTerm := bleve.NewTermQuery(bankID)
	bankTerm.SetField("bank_id")

	boolQuery := bleve.NewBooleanQuery()
	boolQuery.AddMust(match, bankTerm)

	if len(types) > 0 {
		typeQuery := bleve.NewDisjunctionQuery()
		for _, t := range types {
			if t == memory.FactObservation {
				continue
			}
			term := bleve.NewTermQuery(string(t))
			term.SetField("fact_type")
			typeQuery.AddQuery(term)
		}
		boolQuery.AddMust(typeQuery)
	}

	req := bleve.NewSearchRequestOptions(boolQuery, k, 0, false)
	result, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	hits := make([]indexHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, indexHit{id: hit.ID, score: hit.Score})
	}
	return hits, nil
}
