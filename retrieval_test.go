package memory

import (
	"context"
	"testing"
	"time"
)

func vecN(values ...float32) []float32 {
	out := make([]float32, 4)
	copy(out, values)
	return out
}

func TestHybridSearchFacts_MergesVectorAndFTS(t *testing.T) {
	s := newLinkTestStorage(t)
	ctx := context.Background()
	cfg := DefaultConfig()

	a, err := s.Create(ctx, Fact{Text: "the cat sat on the mat", Embedding: vecN(1, 0, 0, 0)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, Fact{Text: "completely unrelated sentence", Embedding: vecN(0, 1, 0, 0)}); err != nil {
		t.Fatal(err)
	}

	ids, scores, err := hybridSearchFacts(ctx, s, cfg, "cat mat", vecN(1, 0, 0, 0), 10)
	if err != nil {
		t.Fatalf("hybridSearchFacts: %v", err)
	}
	if len(ids) == 0 {
		t.Fatal("expected at least one result")
	}
	if ids[0] != a.ID {
		t.Errorf("top result = %d, want %d (matches both vector and FTS)", ids[0], a.ID)
	}
	if scores[a.ID] <= 0 {
		t.Errorf("expected a positive RRF score for the top match")
	}
}

func TestRetrieveFacts_SeedAndEntityExpansion(t *testing.T) {
	s := newLinkTestStorage(t)
	ctx := context.Background()
	cfg := DefaultConfig()
	f := &Facade{store: s, cfg: cfg}

	seed, err := s.Create(ctx, Fact{Text: "Alice works at Acme", Embedding: vecN(1, 0, 0, 0)})
	if err != nil {
		t.Fatal(err)
	}
	related, err := s.Create(ctx, Fact{Text: "Alice also enjoys hiking", Embedding: vecN(0.9, 0.1, 0, 0)})
	if err != nil {
		t.Fatal(err)
	}
	entity, err := s.CreateEntity(ctx, "Alice", "person", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddEntityRef(ctx, seed.ID, "Alice", "person", &entity.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddEntityRef(ctx, related.ID, "Alice", "person", &entity.ID); err != nil {
		t.Fatal(err)
	}

	facts, err := retrieveFacts(ctx, f, "Alice", vecN(1, 0, 0, 0), 10, nil)
	if err != nil {
		t.Fatalf("retrieveFacts: %v", err)
	}
	if len(facts) == 0 {
		t.Fatal("expected at least the seed fact back")
	}
}

func TestTrimCandidatesByWeight_PreservesSeeds(t *testing.T) {
	candidates := map[int64]*factCandidate{
		1: {isSeed: true, idfMax: 0.01},
		2: {idfMax: 0.9},
		3: {idfMax: 0.8},
		4: {idfMax: 0.1},
	}
	trimCandidatesByWeight(candidates, 2)

	if _, ok := candidates[1]; !ok {
		t.Error("seed candidate must never be trimmed")
	}
	if len(candidates) != 2 {
		t.Errorf("len(candidates) = %d, want 2 (seed + top-1 non-seed)", len(candidates))
	}
	if _, ok := candidates[2]; !ok {
		t.Error("expected the highest-weight non-seed candidate to survive")
	}
}

func TestComputeBaseScores_FallsBackWithoutReranker(t *testing.T) {
	candidates := map[int64]*factCandidate{
		1: {isSeed: true, baseSeed: 0.5},
		2: {isEntity: true, idfMax: 0.4, querySim: 0.6},
		3: {isTemporal: true, temporal: 0.3},
		4: {},
	}
	scores := computeBaseScores(context.Background(), nil, "query", candidates)
	if scores[1] != 0.5 {
		t.Errorf("seed score = %v, want 0.5", scores[1])
	}
	if scores[2] != 0.4*0.5*0.6 {
		t.Errorf("entity score = %v, want %v", scores[2], 0.4*0.5*0.6)
	}
	if scores[3] != 0.3 {
		t.Errorf("temporal score = %v, want 0.3", scores[3])
	}
	if scores[4] != 0 {
		t.Errorf("unclassified candidate score = %v, want 0", scores[4])
	}
}

type stubReranker struct {
	results []RerankResult
	err     error
}

func (r *stubReranker) Rerank(context.Context, string, []string) ([]RerankResult, error) {
	return r.results, r.err
}

func TestComputeBaseScores_UsesRerankerWhenAvailable(t *testing.T) {
	candidates := map[int64]*factCandidate{
		10: {fact: Fact{ID: 10, Text: "a"}, isSeed: true, baseSeed: 0.9},
		20: {fact: Fact{ID: 20, Text: "b"}, isSeed: true, baseSeed: 0.1},
	}
	reranker := &stubReranker{results: []RerankResult{{Index: 1, Score: 0.7}}}
	scores := computeBaseScores(context.Background(), reranker, "query", candidates)

	unscored := 0
	for _, s := range scores {
		if s == 0.7 {
			continue
		}
		unscored++
	}
	if unscored != 1 {
		t.Errorf("expected exactly one candidate to fall back to zero score, got %d unscored", unscored)
	}
}

func TestTimeOrZero(t *testing.T) {
	fallback := time.Now()
	if got := timeOrZero(nil, fallback); !got.Equal(fallback) {
		t.Errorf("timeOrZero(nil, fallback) = %v, want %v", got, fallback)
	}
	happened := fallback.Add(-time.Hour)
	if got := timeOrZero(&happened, fallback); !got.Equal(happened) {
		t.Errorf("timeOrZero(&happened, fallback) = %v, want %v", got, happened)
	}
}
