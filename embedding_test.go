package memory

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"mismatched length", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
		{"zero magnitude", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestEncodeDecodeFloat32sRoundTrip(t *testing.T) {
	v := []float32{0.5, -1.25, 3.75, 0}
	got := DecodeFloat32s(EncodeFloat32s(v))
	if len(got) != len(v) {
		t.Fatalf("length = %d, want %d", len(got), len(v))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("[%d] = %v, want %v", i, got[i], v[i])
		}
	}
}

func TestNormalize(t *testing.T) {
	v := normalize([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("normalize(3,4) = %v, want (0.6, 0.8)", v)
	}

	zero := normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("normalize of zero vector should stay zero, got %v", zero)
	}
}

type stubEmbedder struct {
	calls int
	fail  int // number of leading calls to fail
	dim   int
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.calls <= s.fail {
		return nil, errors.New("transient embedder failure")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func (s *stubEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	out, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func TestEmbedWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	e := &stubEmbedder{fail: embedMaxRetries, dim: 4}
	out, err := embedWithRetry(context.Background(), e, []string{"a"})
	if err != nil {
		t.Fatalf("embedWithRetry: %v", err)
	}
	if len(out) != 1 || len(out[0]) != 4 {
		t.Errorf("unexpected result shape: %+v", out)
	}
	if e.calls != embedMaxRetries+1 {
		t.Errorf("calls = %d, want %d", e.calls, embedMaxRetries+1)
	}
}

func TestEmbedWithRetry_ExhaustsRetries(t *testing.T) {
	e := &stubEmbedder{fail: embedMaxRetries + 1, dim: 4}
	_, err := embedWithRetry(context.Background(), e, []string{"a"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if e.calls != embedMaxRetries+1 {
		t.Errorf("calls = %d, want %d", e.calls, embedMaxRetries+1)
	}
}
