// Package engine assembles the memory substrate: store, embedder, reranker,
// language model, worker pool, and the recall/retain pipelines behind one
// embeddable value. A process may host several engines; the engine owns no
// global state.
package engine

import (
	"context"
	"log/slog"

	"github.com/adalundhe/hindsight/core/embedder"
	coreerrors "github.com/adalundhe/hindsight/core/errors"
	"github.com/adalundhe/hindsight/core/ingest"
	"github.com/adalundhe/hindsight/core/llm"
	"github.com/adalundhe/hindsight/core/reranker"
	"github.com/adalundhe/hindsight/core/retrieval"
	"github.com/adalundhe/hindsight/core/store"
	"github.com/adalundhe/hindsight/core/tasks"
)

// Options wires an Engine. Store, Embedder, and LLM are required; a nil
// Reranker degrades recall to fusion order with a warning.
type Options struct {
	Store    *store.Store
	Embedder embedder.Embedder
	Reranker reranker.Reranker
	LLM      llm.Client

	Retrieval retrieval.Config
	Workers   int
	Logger    *slog.Logger
}

// Engine is the embeddable memory core.
type Engine struct {
	store        *store.Store
	pool         *tasks.Pool
	operations   *tasks.Operations
	observations *tasks.ObservationSynthesizer
	recall       *retrieval.Pipeline
	retain       *ingest.Pipeline
	logger       *slog.Logger
}

// New assembles an engine from its collaborators.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, coreerrors.Invalidf("store required")
	}
	if opts.Embedder == nil {
		return nil, coreerrors.Invalidf("embedder required")
	}
	if opts.LLM == nil {
		return nil, coreerrors.Invalidf("llm client required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool := tasks.NewPool(opts.Workers, 256, logger)
	observations := tasks.NewObservationSynthesizer(opts.Store, opts.LLM, opts.Embedder, pool, logger)

	return &Engine{
		store:        opts.Store,
		pool:         pool,
		operations:   tasks.NewOperations(),
		observations: observations,
		recall: retrieval.NewPipeline(
			opts.Store, opts.Store, opts.Store, opts.Store,
			opts.Embedder, opts.Reranker, opts.Retrieval, logger,
		),
		retain: ingest.NewPipeline(
			opts.Store, opts.LLM, opts.Embedder, observations, pool, logger,
		),
		logger: logger,
	}, nil
}

// Recall runs the retrieval pipeline.
func (e *Engine) Recall(ctx context.Context, req retrieval.Request) (*retrieval.Result, error) {
	return e.recall.Recall(ctx, req)
}

// RetainRequest wraps an ingest request with the async flag.
type RetainRequest struct {
	ingest.Request
	Async bool
}

// RetainResult reports stored units, or the operation id for async calls.
type RetainResult struct {
	OperationID string
	UnitIDs     [][]string
}

// Retain ingests content. With Async set the call returns immediately with an
// operation id; progress is queryable via OperationStatus.
func (e *Engine) Retain(ctx context.Context, req RetainRequest) (*RetainResult, error) {
	if !req.Async {
		result, err := e.retain.Retain(ctx, req.Request)
		if err != nil {
			return nil, err
		}
		return &RetainResult{UnitIDs: result.UnitIDs}, nil
	}

	opID := e.operations.Create()
	err := e.pool.Submit(func(ctx context.Context) {
		e.operations.SetRunning(opID)
		result, err := e.retain.Retain(ctx, req.Request)
		if err != nil {
			e.operations.Fail(opID, err)
			return
		}
		e.operations.Complete(opID, result.All())
	})
	if err != nil {
		e.operations.Fail(opID, err)
		return nil, err
	}
	return &RetainResult{OperationID: opID}, nil
}

// OperationStatus reports an async retain's progress.
func (e *Engine) OperationStatus(id string) (tasks.Operation, error) {
	return e.operations.Get(id)
}

// DrainBackground waits for all enqueued background work to finish. Intended
// for shutdown and tests.
func (e *Engine) DrainBackground() {
	e.pool.Wait()
}

// Close stops background workers and releases the store.
func (e *Engine) Close() error {
	e.pool.Close()
	return e.store.Close()
}
