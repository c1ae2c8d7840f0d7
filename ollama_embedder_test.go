package memory_test

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/esceptico/ntrp-memory"
)

func TestOllamaEmbedder_NormalizesVectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s, want /api/embed", r.URL.Path)
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %s, want nomic-embed-text", req.Model)
		}
		resp := struct {
			Embeddings [][]float32 `json:"embeddings"`
		}{Embeddings: [][]float32{{3, 4}, {0, 6}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := memory.NewOllamaEmbedder(srv.URL, "nomic-embed-text")
	got, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if math.Abs(float64(got[0][0])-0.6) > 1e-6 || math.Abs(float64(got[0][1])-0.8) > 1e-6 {
		t.Errorf("expected L2-normalized (3,4) -> (0.6,0.8), got %v", got[0])
	}
	if math.Abs(float64(got[1][1])-1.0) > 1e-6 {
		t.Errorf("expected L2-normalized (0,6) -> (0,1), got %v", got[1])
	}
}

func TestOllamaEmbedder_EmbedOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Embeddings [][]float32 `json:"embeddings"`
		}{Embeddings: [][]float32{{1, 0}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := memory.NewOllamaEmbedder(srv.URL, "test")
	got, err := e.EmbedOne(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("dim = %d, want 2", len(got))
	}
}

func TestOllamaEmbedder_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := memory.NewOllamaEmbedder(srv.URL, "nonexistent")
	_, err := e.Embed(context.Background(), []string{"test"})
	if err == nil {
		t.Error("expected error for HTTP 404")
	}
}

func TestOllamaEmbedder_MismatchedResultCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Embeddings [][]float32 `json:"embeddings"`
		}{Embeddings: [][]float32{{1, 0}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := memory.NewOllamaEmbedder(srv.URL, "test")
	_, err := e.Embed(context.Background(), []string{"one", "two"})
	if err == nil {
		t.Error("expected error when embedding count does not match input count")
	}
}

func TestOllamaEmbedder_ConnectionRefused(t *testing.T) {
	e := memory.NewOllamaEmbedder("http://127.0.0.1:1", "test")
	_, err := e.Embed(context.Background(), []string{"test"})
	if err == nil {
		t.Error("expected error for connection refused")
	}
}
