package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// embedMaxRetries is the number of retries for transient embedding
// failures. Total attempts = embedMaxRetries + 1.
const embedMaxRetries = 2

// embedWithRetry calls e.Embed, retrying up to embedMaxRetries times.
// Returns immediately without burning remaining retries once ctx is done.
func embedWithRetry(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	var result [][]float32
	var err error
	attempts := 0
	for attempt := 0; attempt <= embedMaxRetries; attempt++ {
		attempts++
		result, err = e.Embed(ctx, texts)
		if err == nil {
			return result, nil
		}
		if attempt < embedMaxRetries && ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("memory: embedding failed after %d attempts: %w", attempts, err)
}

// CosineSimilarity computes cosine similarity between two vectors. Returns
// 0 for mismatched lengths, empty vectors, or zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		normA += fa * fa
		normB += fb * fb
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// EncodeFloat32s serializes a float32 vector to little-endian bytes, the
// wire format the vec0 extension expects for a FLOAT[N] column.
func EncodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeFloat32s deserializes little-endian bytes back to a float32 vector.
func DecodeFloat32s(buf []byte) []float32 {
	n := len(buf) / 4
	v := make([]float32, n)
	for i := 0; i < n; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// normalize returns a copy of v scaled to unit L2 norm. Returns v unchanged
// if its norm is zero.
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}
