package reranker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/hindsight/core/memory"
)

// lengthReranker scores by text length; deterministic and order-preserving.
type lengthReranker struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
	delay    time.Duration
	batches  [][]string
}

func (l *lengthReranker) Rerank(ctx context.Context, query string, texts []string) ([]float64, error) {
	l.mu.Lock()
	l.inFlight++
	if l.inFlight > l.maxSeen {
		l.maxSeen = l.inFlight
	}
	l.batches = append(l.batches, texts)
	l.mu.Unlock()

	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			l.mu.Lock()
			l.inFlight--
			l.mu.Unlock()
			return nil, ctx.Err()
		}
	}

	scores := make([]float64, len(texts))
	for i, t := range texts {
		scores[i] = float64(len(t))
	}

	l.mu.Lock()
	l.inFlight--
	l.mu.Unlock()
	return scores, nil
}

func TestFormatUnitWithoutTemporalMetadata(t *testing.T) {
	u := &memory.MemoryUnit{Text: "Alice works at Google"}
	assert.Equal(t, "Alice works at Google", FormatUnit(u))
}

func TestFormatUnitWithInterval(t *testing.T) {
	start := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 6, 20, 0, 0, 0, 0, time.UTC)
	u := &memory.MemoryUnit{Text: "Went to Yosemite", OccurredStart: &start, OccurredEnd: &end}

	assert.Equal(t, "Went to Yosemite (occurred 2023-06-15 to 2023-06-20)", FormatUnit(u))
}

func TestFormatUnitWithPointDate(t *testing.T) {
	ts := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
	u := &memory.MemoryUnit{Text: "Went to Yosemite", OccurredStart: &ts, OccurredEnd: &ts}

	assert.Equal(t, "Went to Yosemite (occurred 2023-06-15)", FormatUnit(u))
}

func TestSerialPreservesOrderAndScores(t *testing.T) {
	inner := &lengthReranker{}
	s := NewSerial(inner, time.Second)
	defer s.Close()

	scores, err := s.Rerank(context.Background(), "q", []string{"aa", "aaaa", "a"})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 1}, scores)
}

func TestSerialEmptyInput(t *testing.T) {
	s := NewSerial(&lengthReranker{}, time.Second)
	defer s.Close()

	scores, err := s.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Nil(t, scores)
}

func TestSerialSplitsLargeBatches(t *testing.T) {
	inner := &lengthReranker{}
	s := NewSerial(inner, time.Second)
	defer s.Close()

	texts := make([]string, 120)
	for i := range texts {
		texts[i] = "text"
	}

	scores, err := s.Rerank(context.Background(), "q", texts)
	require.NoError(t, err)
	assert.Len(t, scores, 120)

	inner.mu.Lock()
	defer inner.mu.Unlock()
	require.Len(t, inner.batches, 3)
	assert.Len(t, inner.batches[0], MaxBatchSize)
	assert.Len(t, inner.batches[1], MaxBatchSize)
	assert.Len(t, inner.batches[2], 20)
}

func TestSerialSingleInFlight(t *testing.T) {
	inner := &lengthReranker{delay: 20 * time.Millisecond}
	s := NewSerial(inner, time.Second)
	defer s.Close()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Rerank(context.Background(), "q", []string{"one", "two"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	inner.mu.Lock()
	defer inner.mu.Unlock()
	assert.Equal(t, 1, inner.maxSeen)
}

func TestSerialDeadlineReturnsTimeout(t *testing.T) {
	inner := &lengthReranker{delay: 200 * time.Millisecond}
	s := NewSerial(inner, time.Second)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Rerank(ctx, "q", []string{"slow"})
	assert.ErrorIs(t, err, ErrRerankTimeout)
}

func TestSerialClosedRejectsRequests(t *testing.T) {
	s := NewSerial(&lengthReranker{}, time.Second)
	require.NoError(t, s.Close())

	_, err := s.Rerank(context.Background(), "q", []string{"x"})
	assert.ErrorIs(t, err, ErrRerankerClosed)
}
