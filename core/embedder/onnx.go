package embedder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"

	coreerrors "github.com/adalundhe/hindsight/core/errors"
)

// DefaultModelRepo is the sentence-embedding model backing production
// embeddings: 384-dim output, L2-normalised here after inference.
const DefaultModelRepo = "BAAI/bge-small-en-v1.5"

// ONNXEmbedder runs a sentence-embedding model through hugot's ONNX runtime.
// Until EnsureModel succeeds it serves requests from the deterministic local
// fallback.
type ONNXEmbedder struct {
	repo           string
	cacheDir       string
	modelPath      string
	ortLibraryPath string
	fallback       *LocalEmbedder
	session        *hugot.Session
	pipeline       *pipelines.FeatureExtractionPipeline
	mu             sync.RWMutex
	loaded         bool
}

// ONNXConfig configures the ONNX embedder.
type ONNXConfig struct {
	// ModelRepo is the HuggingFace repo to download; DefaultModelRepo if empty.
	ModelRepo string

	// CacheDir stores downloaded model files; ~/.hindsight/models if empty.
	CacheDir string

	// OrtLibraryPath points at a custom onnxruntime shared library.
	OrtLibraryPath string
}

// NewONNXEmbedder creates the embedder without loading the model; call
// EnsureModel before relying on model-quality vectors.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.ModelRepo == "" {
		cfg.ModelRepo = DefaultModelRepo
	}
	if cfg.CacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		cfg.CacheDir = filepath.Join(home, ".hindsight", "models")
	}
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &ONNXEmbedder{
		repo:           cfg.ModelRepo,
		cacheDir:       cfg.CacheDir,
		modelPath:      filepath.Join(cfg.CacheDir, filepath.Base(cfg.ModelRepo)),
		ortLibraryPath: cfg.OrtLibraryPath,
		fallback:       NewLocalEmbedder(),
	}, nil
}

func (o *ONNXEmbedder) Dimension() int { return Dimension }

func (o *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	results, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", coreerrors.ErrEmbedUnavailable)
	}
	return results[0], nil
}

func (o *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !o.isLoaded() {
		return o.fallback.EmbedBatch(ctx, texts)
	}

	vecs, err := o.runInference(texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrEmbedUnavailable, err)
	}
	for _, v := range vecs {
		Normalize(v)
	}
	return vecs, nil
}

func (o *ONNXEmbedder) isLoaded() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.loaded
}

func (o *ONNXEmbedder) runInference(texts []string) ([][]float32, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.pipeline == nil {
		return nil, fmt.Errorf("pipeline not initialized")
	}

	output, err := o.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return output.Embeddings, nil
}

// EnsureModel downloads and loads the model if it is not loaded yet.
func (o *ONNXEmbedder) EnsureModel(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.loaded {
		return nil
	}

	if _, err := os.Stat(o.modelPath); os.IsNotExist(err) {
		if err := o.downloadModel(); err != nil {
			return fmt.Errorf("download model: %w", err)
		}
	}

	if err := o.loadModel(); err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	o.loaded = true
	return nil
}

func (o *ONNXEmbedder) downloadModel() error {
	downloadOpts := hugot.NewDownloadOptions()
	modelPath, err := hugot.DownloadModel(o.repo, o.cacheDir, downloadOpts)
	if err != nil {
		return fmt.Errorf("download from HuggingFace: %w", err)
	}
	o.modelPath = modelPath
	return nil
}

func (o *ONNXEmbedder) loadModel() error {
	sessionOpts := []options.WithOption{
		options.WithIntraOpNumThreads(runtime.NumCPU()),
	}
	if o.ortLibraryPath != "" {
		sessionOpts = append(sessionOpts, options.WithOnnxLibraryPath(o.ortLibraryPath))
	}

	session, err := hugot.NewORTSession(sessionOpts...)
	if err != nil {
		return fmt.Errorf("create ORT session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: o.modelPath,
		Name:      "hindsight-embedder",
	})
	if err != nil {
		session.Destroy()
		return fmt.Errorf("create pipeline: %w", err)
	}

	o.session = session
	o.pipeline = pipeline
	return nil
}

// IsReady reports whether the ONNX model is serving requests.
func (o *ONNXEmbedder) IsReady() bool { return o.isLoaded() }

// Close releases the ONNX session.
func (o *ONNXEmbedder) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
	o.pipeline = nil
	o.loaded = false
	return nil
}
