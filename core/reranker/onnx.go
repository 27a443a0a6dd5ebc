package reranker

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
)

// DefaultModelRepo is the cross-encoder backing production reranking.
const DefaultModelRepo = "cross-encoder/ms-marco-MiniLM-L-6-v2"

// pairSeparator joins query and candidate into the single sequence the
// cross-encoder scores jointly.
const pairSeparator = " [SEP] "

// ONNXReranker scores query-candidate pairs with a MiniLM-class cross-encoder
// through hugot's ONNX runtime.
type ONNXReranker struct {
	repo           string
	cacheDir       string
	modelPath      string
	ortLibraryPath string
	session        *hugot.Session
	pipeline       *pipelines.TextClassificationPipeline
	mu             sync.RWMutex
	loaded         bool
}

// ONNXConfig configures the cross-encoder model.
type ONNXConfig struct {
	ModelRepo      string
	CacheDir       string
	OrtLibraryPath string
}

// NewONNXReranker creates the reranker without loading the model; call
// EnsureModel before scoring.
func NewONNXReranker(cfg ONNXConfig) (*ONNXReranker, error) {
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

	return &ONNXReranker{
		repo:           cfg.ModelRepo,
		cacheDir:       cfg.CacheDir,
		modelPath:      filepath.Join(cfg.CacheDir, filepath.Base(cfg.ModelRepo)),
		ortLibraryPath: cfg.OrtLibraryPath,
	}, nil
}

// Rerank scores each text against the query. Output preserves input order.
func (o *ONNXReranker) Rerank(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.loaded || o.pipeline == nil {
		return nil, fmt.Errorf("cross-encoder not loaded")
	}

	pairs := make([]string, len(texts))
	for i, text := range texts {
		pairs[i] = query + pairSeparator + text
	}

	output, err := o.pipeline.RunPipeline(pairs)
	if err != nil {
		return nil, fmt.Errorf("cross-encoder inference: %w", err)
	}

	if len(output.ClassificationOutputs) != len(texts) {
		return nil, fmt.Errorf("cross-encoder returned %d scores for %d inputs",
			len(output.ClassificationOutputs), len(texts))
	}

	scores := make([]float64, len(texts))
	for i, classes := range output.ClassificationOutputs {
		if len(classes) == 0 {
			return nil, fmt.Errorf("cross-encoder returned empty score at index %d", i)
		}
		// Single-logit relevance head: the first class carries the score.
		scores[i] = float64(classes[0].Score)
	}
	return scores, nil
}

// EnsureModel downloads and loads the model if needed.
func (o *ONNXReranker) EnsureModel(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.loaded {
		return nil
	}

	if _, err := os.Stat(o.modelPath); os.IsNotExist(err) {
		downloadOpts := hugot.NewDownloadOptions()
		modelPath, err := hugot.DownloadModel(o.repo, o.cacheDir, downloadOpts)
		if err != nil {
			return fmt.Errorf("download from HuggingFace: %w", err)
		}
		o.modelPath = modelPath
	}

	if err := o.loadModel(); err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	o.loaded = true
	return nil
}

func (o *ONNXReranker) loadModel() error {
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

	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: o.modelPath,
		Name:      "hindsight-reranker",
	})
	if err != nil {
		session.Destroy()
		return fmt.Errorf("create pipeline: %w", err)
	}

	o.session = session
	o.pipeline = pipeline
	return nil
}

// IsReady reports whether the model is loaded.
func (o *ONNXReranker) IsReady() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.loaded
}

// Close releases the ONNX session.
func (o *ONNXReranker) Close() error {
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
