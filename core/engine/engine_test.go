package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/hindsight/core/embedder"
	coreerrors "github.com/adalundhe/hindsight/core/errors"
	"github.com/adalundhe/hindsight/core/ingest"
	"github.com/adalundhe/hindsight/core/llm"
	"github.com/adalundhe/hindsight/core/memory"
	"github.com/adalundhe/hindsight/core/retrieval"
	"github.com/adalundhe/hindsight/core/store"
	"github.com/adalundhe/hindsight/core/tasks"
	"github.com/adalundhe/hindsight/core/tokenizer"
)

// scriptedLLM serves canned extractions keyed by content and synthesises
// fixed observations.
type scriptedLLM struct {
	extractions map[string]*llm.Extraction
}

func (s *scriptedLLM) ExtractFacts(_ context.Context, req llm.ExtractionRequest) (*llm.Extraction, error) {
	if e, ok := s.extractions[req.Content]; ok {
		copied := *e
		copied.Validate()
		return &copied, nil
	}
	return &llm.Extraction{}, nil
}

func (s *scriptedLLM) ResolveEntity(_ context.Context, _ llm.DisambiguationRequest) (string, error) {
	return "", nil
}

func (s *scriptedLLM) SynthesizeObservations(_ context.Context, req llm.ObservationRequest) ([]string, error) {
	return []string{
		req.EntityName + " is mentioned in stored facts",
		req.EntityName + " has " + itoa(len(req.FactTexts)) + " related facts",
		req.EntityName + " is tracked by this bank",
	}, nil
}

func itoa(n int) string {
	return string(rune('0' + n%10))
}

// overlapReranker scores a candidate by stemmed-token overlap with the query.
type overlapReranker struct {
	fail bool
}

func (o *overlapReranker) Rerank(_ context.Context, query string, texts []string) ([]float64, error) {
	if o.fail {
		return nil, errors.New("cross-encoder offline")
	}
	queryTokens := stemmedSet(query)
	scores := make([]float64, len(texts))
	for i, t := range texts {
		for tok := range stemmedSet(t) {
			if queryTokens[tok] {
				scores[i]++
			}
		}
	}
	return scores, nil
}

func stemmedSet(text string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		for _, suffix := range []string{"ing", "ed", "es", "s"} {
			if trimmed, ok := strings.CutSuffix(f, suffix); ok && len(trimmed) >= 3 {
				f = trimmed
				break
			}
		}
		out[f] = true
	}
	return out
}

type fixture struct {
	engine *Engine
	llm    *scriptedLLM
}

func newFixture(t *testing.T, rr *overlapReranker) *fixture {
	t.Helper()

	st, err := store.Open(store.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)

	client := &scriptedLLM{extractions: make(map[string]*llm.Extraction)}

	opts := Options{
		Store:    st,
		Embedder: embedder.NewLocalEmbedder(),
		LLM:      client,
		Workers:  2,
	}
	if rr != nil {
		opts.Reranker = rr
	}

	eng, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	return &fixture{engine: eng, llm: client}
}

func fact(text string, entities ...llm.ExtractedEntity) llm.ExtractedFact {
	return llm.ExtractedFact{Text: text, FactType: memory.FactWorld, Entities: entities}
}

func person(name string) llm.ExtractedEntity {
	return llm.ExtractedEntity{Name: name, Type: memory.EntityPerson}
}

func org(name string) llm.ExtractedEntity {
	return llm.ExtractedEntity{Name: name, Type: memory.EntityOrg}
}

func datedFact(text string, occurred time.Time) llm.ExtractedFact {
	return llm.ExtractedFact{
		Text: text, FactType: memory.FactWorld,
		OccurredStart: &occurred, OccurredEnd: &occurred,
	}
}

func retainRequest(bank, content string) ingest.Request {
	return ingest.Request{BankID: bank, Items: []ingest.Item{{Content: content}}}
}

func (f *fixture) retain(t *testing.T, bank, content string) []string {
	t.Helper()
	result, err := f.engine.Retain(context.Background(), RetainRequest{
		Request: retainRequest(bank, content),
	})
	require.NoError(t, err)
	require.Len(t, result.UnitIDs, 1)
	return result.UnitIDs[0]
}

func TestScenarioDirectHit(t *testing.T) {
	f := newFixture(t, &overlapReranker{})
	f.llm.extractions["alice"] = &llm.Extraction{Facts: []llm.ExtractedFact{
		fact("Alice works at Google in Mountain View", person("Alice"), org("Google")),
	}}

	ids := f.retain(t, "b1", "alice")
	require.Len(t, ids, 1)

	result, err := f.engine.Recall(context.Background(), retrieval.Request{
		BankID:    "b1",
		Query:     "Where does Alice work?",
		Budget:    retrieval.BudgetLow,
		MaxTokens: 1000,
	})
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.Equal(t, ids[0], result.Items[0].ID)
	assert.Equal(t, "Alice works at Google in Mountain View", result.Items[0].Text)
	assert.GreaterOrEqual(t, result.Items[0].Weight, 0.8)
}

func TestScenarioMultiHopViaEntity(t *testing.T) {
	f := newFixture(t, &overlapReranker{})
	f.llm.extractions["facts"] = &llm.Extraction{Facts: []llm.ExtractedFact{
		fact("Alice works at Google", person("Alice"), org("Google")),
		fact("Google's office in Mountain View has a gym", org("Google")),
	}}

	ids := f.retain(t, "b1", "facts")
	require.Len(t, ids, 2)

	result, err := f.engine.Recall(context.Background(), retrieval.Request{
		BankID: "b1",
		Query:  "Does Alice have gym access at work?",
	})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(result.Items), 2)
	returned := map[string]int{}
	for rank, item := range result.Items {
		returned[item.Text] = rank
	}
	aRank, aOK := returned["Alice works at Google"]
	bRank, bOK := returned["Google's office in Mountain View has a gym"]
	require.True(t, aOK, "unit about Alice is returned")
	require.True(t, bOK, "entity-linked unit about the gym is returned")
	assert.Less(t, aRank, bRank, "the directly relevant unit outranks the hop")
}

func TestScenarioTemporalFilter(t *testing.T) {
	f := newFixture(t, &overlapReranker{})
	f.llm.extractions["events"] = &llm.Extraction{Facts: []llm.ExtractedFact{
		datedFact("Went to Yosemite", time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)),
		datedFact("Moved to Seattle", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)),
	}}

	ids := f.retain(t, "b1", "events")
	require.Len(t, ids, 2)

	result, err := f.engine.Recall(context.Background(), retrieval.Request{
		BankID: "b1",
		Query:  "What did I do last June?",
		Now:    time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.Equal(t, "Went to Yosemite", result.Items[0].Text)
	require.NotNil(t, result.Items[0].EventDate)
	assert.Equal(t, 2023, result.Items[0].EventDate.Year())
}

func TestScenarioKeywordOverSemantic(t *testing.T) {
	// No reranker: ordering is pure fusion, driven by the keyword hit.
	f := newFixture(t, nil)
	f.llm.extractions["deploys"] = &llm.Extraction{Facts: []llm.ExtractedFact{
		fact("Deployed the Foobar-9000 to prod on Tuesday"),
		fact("Lunch at the taqueria was excellent"),
		fact("The quarterly report is due Friday"),
	}}

	ids := f.retain(t, "b1", "deploys")
	require.Len(t, ids, 3)

	result, err := f.engine.Recall(context.Background(), retrieval.Request{
		BankID: "b1",
		Query:  "Foobar-9000",
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.Items)
	assert.Equal(t, "Deployed the Foobar-9000 to prod on Tuesday", result.Items[0].Text)
	assert.Contains(t, result.Warnings, retrieval.WarningRerankUnavailable)
}

func TestScenarioBudgetTruncation(t *testing.T) {
	f := newFixture(t, &overlapReranker{})

	filler := strings.TrimSpace(strings.Repeat("padding tokens for the budget filter scenario ", 14))
	facts := make([]llm.ExtractedFact, 10)
	for i := range facts {
		facts[i] = fact("Budget scenario entry " + itoa(i) + ": " + filler)
	}
	f.llm.extractions["bulk"] = &llm.Extraction{Facts: facts}

	ids := f.retain(t, "b1", "bulk")
	require.Len(t, ids, 10)

	perUnit := tokenizer.Count(facts[0].Text)
	result, err := f.engine.Recall(context.Background(), retrieval.Request{
		BankID:    "b1",
		Query:     "budget scenario entry",
		MaxTokens: 3*perUnit + perUnit/2,
	})
	require.NoError(t, err)

	assert.Len(t, result.Items, 3)

	total := 0
	for _, item := range result.Items {
		total += tokenizer.Count(item.Text)
	}
	assert.LessOrEqual(t, total, 3*perUnit+perUnit/2)
}

func TestScenarioDegradedRerank(t *testing.T) {
	f := newFixture(t, &overlapReranker{fail: true})
	f.llm.extractions["alice"] = &llm.Extraction{Facts: []llm.ExtractedFact{
		fact("Alice works at Google in Mountain View", person("Alice")),
	}}
	f.retain(t, "b1", "alice")

	result, err := f.engine.Recall(context.Background(), retrieval.Request{
		BankID: "b1",
		Query:  "Where does Alice work?",
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.Items)
	assert.Contains(t, result.Warnings, retrieval.WarningRerankUnavailable)
}

func TestRecallScopedToBankAndTypes(t *testing.T) {
	f := newFixture(t, &overlapReranker{})
	f.llm.extractions["alice"] = &llm.Extraction{Facts: []llm.ExtractedFact{
		fact("Alice works at Google", person("Alice")),
	}}
	f.retain(t, "b1", "alice")

	other, err := f.engine.Recall(context.Background(), retrieval.Request{
		BankID: "b2",
		Query:  "Where does Alice work?",
	})
	require.NoError(t, err)
	assert.Empty(t, other.Items)

	result, err := f.engine.Recall(context.Background(), retrieval.Request{
		BankID: "b1",
		Query:  "Where does Alice work?",
		Types:  []memory.FactType{memory.FactOpinion},
	})
	require.NoError(t, err)
	for _, item := range result.Items {
		assert.Equal(t, memory.FactOpinion, item.FactType)
	}
}

func TestObservationSynthesisAfterRetain(t *testing.T) {
	f := newFixture(t, &overlapReranker{})
	f.llm.extractions["alice"] = &llm.Extraction{Facts: []llm.ExtractedFact{
		fact("Alice works at Google", person("Alice"), org("Google")),
		fact("Alice leads the platform team", person("Alice")),
	}}
	f.retain(t, "b1", "alice")
	f.engine.DrainBackground()

	result, err := f.engine.Recall(context.Background(), retrieval.Request{
		BankID:          "b1",
		Query:           "Where does Alice work?",
		IncludeEntities: true,
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.Entities)
	var alice *memory.EntityObservation
	for i := range result.Entities {
		if result.Entities[i].Name == "Alice" {
			alice = &result.Entities[i]
		}
	}
	require.NotNil(t, alice)
	assert.GreaterOrEqual(t, len(alice.Observations), 1)
	assert.LessOrEqual(t, len(alice.Observations), 5)
}

func TestObservationsNeverSurfaceAsResults(t *testing.T) {
	f := newFixture(t, &overlapReranker{})
	f.llm.extractions["alice"] = &llm.Extraction{Facts: []llm.ExtractedFact{
		fact("Alice works at Google", person("Alice")),
	}}
	f.retain(t, "b1", "alice")
	f.engine.DrainBackground()

	result, err := f.engine.Recall(context.Background(), retrieval.Request{
		BankID: "b1",
		Query:  "Alice mentioned stored tracked facts",
	})
	require.NoError(t, err)
	for _, item := range result.Items {
		assert.NotEqual(t, memory.FactObservation, item.FactType)
	}
}

func TestAsyncRetainLifecycle(t *testing.T) {
	f := newFixture(t, &overlapReranker{})
	f.llm.extractions["alice"] = &llm.Extraction{Facts: []llm.ExtractedFact{
		fact("Alice works at Google", person("Alice")),
	}}

	result, err := f.engine.Retain(context.Background(), RetainRequest{
		Request: retainRequest("b1", "alice"),
		Async:   true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.OperationID)
	assert.Empty(t, result.UnitIDs)

	f.engine.DrainBackground()

	op, err := f.engine.OperationStatus(result.OperationID)
	require.NoError(t, err)
	assert.Equal(t, tasks.OperationDone, op.State)
	assert.Len(t, op.UnitIDs, 1)
}

func TestOperationStatusUnknownID(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.OperationStatus("missing")
	assert.ErrorIs(t, err, coreerrors.ErrNotFound)
}

func TestRecallResultsRespectBankInvariant(t *testing.T) {
	f := newFixture(t, &overlapReranker{})
	f.llm.extractions["b1-facts"] = &llm.Extraction{Facts: []llm.ExtractedFact{
		fact("Alpha fact about the project"),
	}}
	f.llm.extractions["b2-facts"] = &llm.Extraction{Facts: []llm.ExtractedFact{
		fact("Alpha fact about the project"),
	}}
	b1 := f.retain(t, "b1", "b1-facts")
	b2 := f.retain(t, "b2", "b2-facts")
	require.Len(t, b1, 1)
	require.Len(t, b2, 1)

	result, err := f.engine.Recall(context.Background(), retrieval.Request{
		BankID: "b1",
		Query:  "alpha fact project",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Items)
	for _, item := range result.Items {
		assert.Equal(t, b1[0], item.ID)
	}
}
