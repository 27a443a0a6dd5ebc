package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/hindsight/core/embedder"
	coreerrors "github.com/adalundhe/hindsight/core/errors"
	"github.com/adalundhe/hindsight/core/memory"
	"github.com/adalundhe/hindsight/core/reranker"
	"github.com/adalundhe/hindsight/core/store"
)

// scriptedReranker scores by substring affinity to the query, or fails.
type scriptedReranker struct {
	fail   bool
	scores map[string]float64
}

func (s *scriptedReranker) Rerank(_ context.Context, query string, texts []string) ([]float64, error) {
	if s.fail {
		return nil, errors.New("model crashed")
	}
	out := make([]float64, len(texts))
	for i, t := range texts {
		if score, ok := s.scores[t]; ok {
			out[i] = score
			continue
		}
		if strings.Contains(t, query) {
			out[i] = 1.0
		}
	}
	return out, nil
}

type fakeEntities struct {
	entities     []*memory.Entity
	observations map[string][]*memory.MemoryUnit
}

func (f *fakeEntities) EntitiesForUnits(_ context.Context, _ []string) ([]*memory.Entity, error) {
	return f.entities, nil
}

func (f *fakeEntities) ObservationsForEntity(_ context.Context, entityID string) ([]*memory.MemoryUnit, error) {
	return f.observations[entityID], nil
}

type recordedAccess struct {
	ids []string
}

func (r *recordedAccess) BumpAccess(_ context.Context, ids []string) {
	r.ids = append(r.ids, ids...)
}

func newTestPipeline(f *fakeGraph, rr *scriptedReranker, entities *fakeEntities, access *recordedAccess) *Pipeline {
	var reranked reranker.Reranker
	if rr != nil {
		reranked = rr
	}
	var es EntitySource
	if entities != nil {
		es = entities
	}
	var ar AccessRecorder
	if access != nil {
		ar = access
	}
	return NewPipeline(f, f, es, ar, embedder.NewLocalEmbedder(), reranked, Config{}, nil)
}

func TestRecallValidation(t *testing.T) {
	p := newTestPipeline(newFakeGraph(), nil, nil, nil)
	ctx := context.Background()

	_, err := p.Recall(ctx, Request{Query: "hello"})
	assert.ErrorIs(t, err, coreerrors.ErrInvalid)

	_, err = p.Recall(ctx, Request{BankID: "b1"})
	assert.ErrorIs(t, err, coreerrors.ErrInvalid)

	_, err = p.Recall(ctx, Request{BankID: "b1", Query: "q", MaxTokens: -1})
	assert.ErrorIs(t, err, coreerrors.ErrInvalid)

	_, err = p.Recall(ctx, Request{BankID: "b1", Query: "q", Budget: "extreme"})
	assert.ErrorIs(t, err, coreerrors.ErrInvalid)

	_, err = p.Recall(ctx, Request{BankID: "b1", Query: "q", Types: []memory.FactType{memory.FactObservation}})
	assert.ErrorIs(t, err, coreerrors.ErrInvalid)
}

func TestRecallFusesStrategies(t *testing.T) {
	f := newFakeGraph()
	a := graphUnit(f, "a")
	b := graphUnit(f, "b")
	f.knn = []store.ScoredUnit{{Unit: a, Score: 0.9}, {Unit: b, Score: 0.5}}
	f.kwScored = []store.ScoredUnit{{Unit: b, Score: 3.0}, {Unit: a, Score: 1.0}}

	p := newTestPipeline(f, nil, nil, nil)
	result, err := p.Recall(context.Background(), Request{BankID: "b1", Query: "anything"})
	require.NoError(t, err)

	require.Len(t, result.Items, 2)
	ids := []string{result.Items[0].ID, result.Items[1].ID}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
	// No reranker wired: the response carries the degradation warning.
	assert.Contains(t, result.Warnings, WarningRerankUnavailable)
}

func TestRecallRerankOrdersResults(t *testing.T) {
	f := newFakeGraph()
	a := graphUnit(f, "a")
	b := graphUnit(f, "b")
	f.knn = []store.ScoredUnit{{Unit: a, Score: 0.9}, {Unit: b, Score: 0.8}}

	rr := &scriptedReranker{scores: map[string]float64{
		"unit a": 0.1,
		"unit b": 0.9,
	}}
	p := newTestPipeline(f, rr, nil, nil)

	result, err := p.Recall(context.Background(), Request{BankID: "b1", Query: "q"})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "b", result.Items[0].ID)
	assert.Equal(t, "a", result.Items[1].ID)
	assert.NotContains(t, result.Warnings, WarningRerankUnavailable)

	// Min-max normalised weights across the returned batch.
	assert.InDelta(t, 1.0, result.Items[0].Weight, 1e-9)
	assert.InDelta(t, 0.0, result.Items[1].Weight, 1e-9)
}

func TestRecallDegradedRerankKeepsFusionOrder(t *testing.T) {
	f := newFakeGraph()
	a := graphUnit(f, "a")
	b := graphUnit(f, "b")
	f.knn = []store.ScoredUnit{{Unit: a, Score: 0.9}, {Unit: b, Score: 0.8}}

	p := newTestPipeline(f, &scriptedReranker{fail: true}, nil, nil)
	result, err := p.Recall(context.Background(), Request{BankID: "b1", Query: "q"})
	require.NoError(t, err)

	require.Len(t, result.Items, 2)
	assert.Equal(t, "a", result.Items[0].ID)
	assert.Contains(t, result.Warnings, WarningRerankUnavailable)
}

func TestRecallStrategyFailureIsSoft(t *testing.T) {
	f := newFakeGraph()
	a := graphUnit(f, "a")
	f.knnErr = errors.New("vector index offline")
	f.kwScored = []store.ScoredUnit{{Unit: a, Score: 2.0}}

	p := newTestPipeline(f, nil, nil, nil)
	result, err := p.Recall(context.Background(), Request{BankID: "b1", Query: "q"})
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.Equal(t, "a", result.Items[0].ID)
	assert.Contains(t, result.Warnings, "semantic_failed")
	assert.Contains(t, result.Warnings, "graph_failed")
}

func TestRecallSingleResultWeightIsOne(t *testing.T) {
	f := newFakeGraph()
	a := graphUnit(f, "a")
	f.knn = []store.ScoredUnit{{Unit: a, Score: 0.9}}

	p := newTestPipeline(f, nil, nil, nil)
	result, err := p.Recall(context.Background(), Request{BankID: "b1", Query: "q"})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.InDelta(t, 1.0, result.Items[0].Weight, 1e-9)
}

func TestRecallBumpsAccessCounts(t *testing.T) {
	f := newFakeGraph()
	a := graphUnit(f, "a")
	f.knn = []store.ScoredUnit{{Unit: a, Score: 0.9}}

	access := &recordedAccess{}
	p := newTestPipeline(f, nil, nil, access)
	_, err := p.Recall(context.Background(), Request{BankID: "b1", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, access.ids)
}

func TestRecallAttachesEntityObservations(t *testing.T) {
	f := newFakeGraph()
	a := graphUnit(f, "a")
	f.knn = []store.ScoredUnit{{Unit: a, Score: 0.9}}

	entities := &fakeEntities{
		entities: []*memory.Entity{
			{ID: "e1", CanonicalName: "Alice", EntityType: memory.EntityPerson},
		},
		observations: map[string][]*memory.MemoryUnit{
			"e1": {
				{ID: "o1", Text: "Alice is an engineer", FactType: memory.FactObservation},
				{ID: "o2", Text: "Alice works at Google", FactType: memory.FactObservation},
			},
		},
	}

	p := newTestPipeline(f, nil, entities, nil)
	result, err := p.Recall(context.Background(), Request{
		BankID: "b1", Query: "q", IncludeEntities: true,
	})
	require.NoError(t, err)

	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Alice", result.Entities[0].Name)
	assert.Len(t, result.Entities[0].Observations, 2)
}

func TestRecallEntityObservationsRespectTokenBudget(t *testing.T) {
	f := newFakeGraph()
	a := graphUnit(f, "a")
	f.knn = []store.ScoredUnit{{Unit: a, Score: 0.9}}

	long := strings.TrimSpace(strings.Repeat("verbose observation text ", 50))
	entities := &fakeEntities{
		entities: []*memory.Entity{{ID: "e1", CanonicalName: "Alice", EntityType: memory.EntityPerson}},
		observations: map[string][]*memory.MemoryUnit{
			"e1": {
				{ID: "o1", Text: "short note", FactType: memory.FactObservation},
				{ID: "o2", Text: long, FactType: memory.FactObservation},
			},
		},
	}

	p := newTestPipeline(f, nil, entities, nil)
	result, err := p.Recall(context.Background(), Request{
		BankID: "b1", Query: "q", IncludeEntities: true, MaxEntityTokens: 20,
	})
	require.NoError(t, err)

	require.Len(t, result.Entities, 1)
	assert.Equal(t, []string{"short note"}, result.Entities[0].Observations)
}

func TestRecallTraceReportsStrategies(t *testing.T) {
	f := newFakeGraph()
	june := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
	u := graphUnit(f, "u1")
	u.OccurredStart, u.OccurredEnd = &june, &june
	f.knn = []store.ScoredUnit{{Unit: u, Score: 0.9}}
	f.ranged = []*memory.MemoryUnit{u}

	p := newTestPipeline(f, nil, nil, nil)
	result, err := p.Recall(context.Background(), Request{
		BankID: "b1",
		Query:  "what did I do last June?",
		Trace:  true,
		Now:    time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NotNil(t, result.Trace)
	require.NotNil(t, result.Trace.Interval)
	assert.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), result.Trace.Interval.Start)
	assert.Contains(t, result.Trace.StrategyHits, StrategyTemporal)
	assert.Contains(t, result.Trace.StrategyHits, StrategySemantic)
	assert.False(t, result.Trace.Reranked)
}

func TestRecallTemporalInactiveWithoutExpression(t *testing.T) {
	f := newFakeGraph()
	u := graphUnit(f, "u1")
	f.knn = []store.ScoredUnit{{Unit: u, Score: 0.9}}

	p := newTestPipeline(f, nil, nil, nil)
	result, err := p.Recall(context.Background(), Request{
		BankID: "b1", Query: "where does Alice work?", Trace: true,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Trace)
	assert.NotContains(t, result.Trace.StrategyHits, StrategyTemporal)
}
