package cmd

import (
	"context"
	"fmt"

	"github.com/adalundhe/hindsight/core/config"
	"github.com/adalundhe/hindsight/core/embedder"
	"github.com/adalundhe/hindsight/core/engine"
	"github.com/adalundhe/hindsight/core/reranker"
	"github.com/adalundhe/hindsight/core/store"
)

// buildEngine assembles an engine from the config file for one CLI
// invocation.
func buildEngine(ctx context.Context) (*engine.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store, nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	embed, err := embedder.NewONNXEmbedder(embedder.ONNXConfig{
		ModelRepo:      cfg.Models.EmbedderRepo,
		CacheDir:       cfg.Models.CacheDir,
		OrtLibraryPath: cfg.Models.OrtLibraryPath,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	if err := embed.EnsureModel(ctx); err != nil {
		// The hashed local fallback still serves embeddings.
		fmt.Fprintf(rootCmd.ErrOrStderr(), "embedding model unavailable, using local fallback: %v\n", err)
	}

	cached, err := embedder.NewCachedEmbedder(embed, 1024)
	if err != nil {
		st.Close()
		return nil, err
	}

	rerank, err := reranker.NewONNXReranker(reranker.ONNXConfig{
		ModelRepo:      cfg.Models.RerankerRepo,
		CacheDir:       cfg.Models.CacheDir,
		OrtLibraryPath: cfg.Models.OrtLibraryPath,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create reranker: %w", err)
	}

	opts := engine.Options{
		Store:     st,
		Embedder:  cached,
		Retrieval: cfg.Retrieval,
		Workers:   cfg.Workers,
	}
	if err := rerank.EnsureModel(ctx); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "cross-encoder unavailable, recall degrades to fusion order: %v\n", err)
	} else {
		opts.Reranker = reranker.NewSerial(rerank, cfg.Retrieval.RerankTimeout)
	}

	client, err := cfg.BuildLLM()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	opts.LLM = client

	return engine.New(opts)
}
