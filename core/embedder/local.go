package embedder

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// LocalEmbedder is a deterministic hashed embedding. Tokens and character
// trigrams are feature-hashed into the output vector with sign hashing, so
// texts sharing vocabulary land near each other in cosine space. It needs no
// model files, which makes it the fallback when the ONNX model is not loaded
// and the embedder of choice in tests.
type LocalEmbedder struct {
	dimension int
}

// NewLocalEmbedder creates a LocalEmbedder at the standard dimension.
func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{dimension: Dimension}
}

func (l *LocalEmbedder) Dimension() int { return l.dimension }

func (l *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return l.embed(text), nil
}

func (l *LocalEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = l.embed(t)
	}
	return out, nil
}

const (
	tokenWeight   = 0.6
	trigramWeight = 0.4
	hashesPerFeat = 4
)

func (l *LocalEmbedder) embed(text string) []float32 {
	vec := make([]float32, l.dimension)

	tokens := tokenizeWords(text)
	l.addFeatures(vec, tokens, tokenWeight)
	l.addFeatures(vec, charTrigrams(text), trigramWeight)

	Normalize(vec)
	return vec
}

func (l *LocalEmbedder) addFeatures(vec []float32, feats []string, weight float64) {
	if len(feats) == 0 {
		return
	}
	w := float32(weight) / float32(len(feats))
	for _, f := range feats {
		h := fnvHash64(f)
		for i := range hashesPerFeat {
			idx := int((h >> (i * 16)) % uint64(len(vec)))
			sign := float32(1)
			if (h>>(i*16+15))&1 == 1 {
				sign = -1
			}
			vec[idx] += w * sign
		}
	}
}

func tokenizeWords(text string) []string {
	var tokens []string
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(f) > 1 || unicode.IsNumber(rune(f[0])) {
			tokens = append(tokens, stem(f))
		}
	}
	return tokens
}

// stem trims common English suffixes so "works" and "working" share a
// feature with "work".
func stem(word string) string {
	for _, suffix := range []string{"ing", "ed", "es", "s"} {
		if trimmed, ok := strings.CutSuffix(word, suffix); ok && len(trimmed) >= 3 {
			return trimmed
		}
	}
	return word
}

func charTrigrams(text string) []string {
	runes := []rune(strings.ToLower(text))
	if len(runes) < 3 {
		return nil
	}
	grams := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+3]))
	}
	return grams
}

func fnvHash64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
