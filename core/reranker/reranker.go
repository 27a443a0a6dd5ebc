// Package reranker scores query-candidate pairs with a cross-encoder model.
// Scoring is a serialisation point: one batch in flight per model instance,
// FIFO order, soft deadline. Callers treat a reranker failure as skippable
// and fall back to fusion order.
package reranker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adalundhe/hindsight/core/memory"
)

var (
	// ErrRerankTimeout indicates the soft deadline elapsed before the model
	// returned; callers fall back to the pre-rerank ordering.
	ErrRerankTimeout = errors.New("rerank deadline elapsed")

	// ErrRerankerClosed indicates the serial queue has shut down.
	ErrRerankerClosed = errors.New("reranker closed")
)

// MaxBatchSize bounds the number of pairs scored per model invocation.
const MaxBatchSize = 50

// DefaultSoftDeadline bounds one rerank batch.
const DefaultSoftDeadline = 800 * time.Millisecond

// Reranker scores candidates against a query. The returned scores preserve
// input ordering; higher is more relevant. Deterministic for a fixed model.
type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]float64, error)
}

// FormatUnit renders a unit for cross-encoder input, appending the occurred
// interval when the unit carries temporal metadata.
func FormatUnit(u *memory.MemoryUnit) string {
	if !u.HasOccurred() {
		return u.Text
	}
	return fmt.Sprintf("%s (occurred %s)", u.Text, formatOccurred(u.OccurredStart, u.OccurredEnd))
}

func formatOccurred(start, end *time.Time) string {
	const layout = "2006-01-02"
	switch {
	case start != nil && end != nil:
		if start.Equal(*end) {
			return start.UTC().Format(layout)
		}
		return start.UTC().Format(layout) + " to " + end.UTC().Format(layout)
	case start != nil:
		return start.UTC().Format(layout)
	default:
		return "until " + end.UTC().Format(layout)
	}
}

// =============================================================================
// Serial queue
// =============================================================================

type rerankRequest struct {
	query string
	texts []string
	done  chan rerankResponse
}

type rerankResponse struct {
	scores []float64
	err    error
}

// Serial wraps a Reranker so requests queue FIFO with at most one in flight,
// each bounded by a soft deadline. This matches the single-model-instance
// execution constraint for GPU or single-thread CPU inference.
type Serial struct {
	inner    Reranker
	deadline time.Duration
	requests chan rerankRequest
	closed   chan struct{}
}

// NewSerial starts the serialising worker around inner. A non-positive
// deadline falls back to DefaultSoftDeadline.
func NewSerial(inner Reranker, deadline time.Duration) *Serial {
	if deadline <= 0 {
		deadline = DefaultSoftDeadline
	}
	s := &Serial{
		inner:    inner,
		deadline: deadline,
		requests: make(chan rerankRequest),
		closed:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Serial) run() {
	for {
		select {
		case req := <-s.requests:
			scores, err := s.scoreBatches(req.query, req.texts)
			req.done <- rerankResponse{scores: scores, err: err}
		case <-s.closed:
			return
		}
	}
}

func (s *Serial) scoreBatches(query string, texts []string) ([]float64, error) {
	scores := make([]float64, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(texts))

		ctx, cancel := context.WithTimeout(context.Background(), s.deadline)
		batch, err := s.inner.Rerank(ctx, query, texts[start:end])
		cancel()
		if err != nil {
			return nil, err
		}
		scores = append(scores, batch...)
	}
	return scores, nil
}

// Rerank enqueues a scoring request and waits for its turn. Context expiry
// while queued or in flight returns ErrRerankTimeout.
func (s *Serial) Rerank(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	select {
	case <-s.closed:
		return nil, ErrRerankerClosed
	default:
	}

	req := rerankRequest{query: query, texts: texts, done: make(chan rerankResponse, 1)}

	select {
	case s.requests <- req:
	case <-ctx.Done():
		return nil, ErrRerankTimeout
	case <-s.closed:
		return nil, ErrRerankerClosed
	}

	select {
	case resp := <-req.done:
		return resp.scores, resp.err
	case <-ctx.Done():
		return nil, ErrRerankTimeout
	case <-s.closed:
		return nil, ErrRerankerClosed
	}
}

// Close stops the worker. In-flight work completes; queued requests fail.
func (s *Serial) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}
