// Package retrieval implements the recall path: four parallel search
// strategies, reciprocal rank fusion, cross-encoder reranking, and
// token-budget truncation.
package retrieval

import "time"

// BudgetLevel selects how much work recall may do.
type BudgetLevel string

const (
	BudgetLow  BudgetLevel = "low"
	BudgetMid  BudgetLevel = "mid"
	BudgetHigh BudgetLevel = "high"
)

func (b BudgetLevel) IsValid() bool {
	switch b {
	case BudgetLow, BudgetMid, BudgetHigh:
		return true
	}
	return false
}

// Scale maps a budget level to the graph strategy's visited-node budget.
// Strategy fetch depth and the pre-rerank truncation point scale off the
// same number.
func (b BudgetLevel) Scale() int {
	switch b {
	case BudgetLow:
		return 100
	case BudgetHigh:
		return 600
	default:
		return 300
	}
}

// Config carries the tunables of the recall pipeline. Zero values fall back
// to defaults.
type Config struct {
	// MinSimilarity gates vector-KNN candidates and activation seeds.
	MinSimilarity float64 `yaml:"min_similarity"`

	// Decay is the per-hop activation decay factor.
	Decay float64 `yaml:"decay"`

	// MaxHops bounds graph propagation depth.
	MaxHops int `yaml:"max_hops"`

	// TemporalMaxHops bounds the temporal strategy's propagation depth.
	TemporalMaxHops int `yaml:"temporal_max_hops"`

	// MinActivation stops propagation once the frontier falls below it.
	MinActivation float64 `yaml:"min_activation"`

	// TemporalPad broadens the parsed interval when filtering neighbours.
	TemporalPad time.Duration `yaml:"temporal_pad"`

	// RRFK is the reciprocal-rank-fusion constant.
	RRFK int `yaml:"rrf_k"`

	// Per-step timeouts.
	EmbedTimeout    time.Duration `yaml:"embed_timeout"`
	VectorTimeout   time.Duration `yaml:"vector_timeout"`
	KeywordTimeout  time.Duration `yaml:"keyword_timeout"`
	GraphTimeout    time.Duration `yaml:"graph_timeout"`
	TemporalTimeout time.Duration `yaml:"temporal_timeout"`
	RerankTimeout   time.Duration `yaml:"rerank_timeout"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MinSimilarity:   0.3,
		Decay:           0.8,
		MaxHops:         5,
		TemporalMaxHops: 3,
		MinActivation:   0.05,
		TemporalPad:     30 * 24 * time.Hour,
		RRFK:            60,
		EmbedTimeout:    2 * time.Second,
		VectorTimeout:   500 * time.Millisecond,
		KeywordTimeout:  500 * time.Millisecond,
		GraphTimeout:    time.Second,
		TemporalTimeout: 1500 * time.Millisecond,
		RerankTimeout:   800 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinSimilarity == 0 {
		c.MinSimilarity = def.MinSimilarity
	}
	if c.Decay == 0 {
		c.Decay = def.Decay
	}
	if c.MaxHops == 0 {
		c.MaxHops = def.MaxHops
	}
	if c.TemporalMaxHops == 0 {
		c.TemporalMaxHops = def.TemporalMaxHops
	}
	if c.MinActivation == 0 {
		c.MinActivation = def.MinActivation
	}
	if c.TemporalPad == 0 {
		c.TemporalPad = def.TemporalPad
	}
	if c.RRFK == 0 {
		c.RRFK = def.RRFK
	}
	if c.EmbedTimeout == 0 {
		c.EmbedTimeout = def.EmbedTimeout
	}
	if c.VectorTimeout == 0 {
		c.VectorTimeout = def.VectorTimeout
	}
	if c.KeywordTimeout == 0 {
		c.KeywordTimeout = def.KeywordTimeout
	}
	if c.GraphTimeout == 0 {
		c.GraphTimeout = def.GraphTimeout
	}
	if c.TemporalTimeout == 0 {
		c.TemporalTimeout = def.TemporalTimeout
	}
	if c.RerankTimeout == 0 {
		c.RerankTimeout = def.RerankTimeout
	}
	return c
}

// seedCount is the number of activation seeds for a node budget.
func seedCount(nodeBudget int) int {
	s := nodeBudget / 5
	if s > 20 {
		s = 20
	}
	if s < 1 {
		s = 1
	}
	return s
}
