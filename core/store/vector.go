package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/adalundhe/hindsight/core/memory"
)

// encodeVector packs a float32 vector into a little-endian BLOB.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector unpacks a BLOB written by encodeVector.
func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	if len(vec) != memory.EmbeddingDimension {
		return nil, fmt.Errorf("embedding dimension %d, want %d", len(vec), memory.EmbeddingDimension)
	}
	return vec, nil
}
