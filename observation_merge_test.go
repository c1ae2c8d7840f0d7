package memory

import (
	"context"
	"testing"
)

func TestPairKey_OrderIndependent(t *testing.T) {
	if pairKey(3, 7) != pairKey(7, 3) {
		t.Error("pairKey should be order-independent")
	}
}

func TestMostSimilarPair_FindsHighestAboveThreshold(t *testing.T) {
	observations := []Observation{
		{ID: 1, Embedding: []float32{1, 0}},
		{ID: 2, Embedding: []float32{0.99, 0.14}},
		{ID: 3, Embedding: []float32{0, 1}},
	}
	a, b, sim, found := mostSimilarPair(observations, 0.5, nil)
	if !found {
		t.Fatal("expected a pair to be found")
	}
	if (a.ID != 1 || b.ID != 2) && (a.ID != 2 || b.ID != 1) {
		t.Errorf("expected pair (1,2), got (%d,%d)", a.ID, b.ID)
	}
	if sim <= 0.5 {
		t.Errorf("similarity %v should exceed threshold 0.5", sim)
	}
}

func TestMostSimilarPair_NoneAboveThreshold(t *testing.T) {
	observations := []Observation{
		{ID: 1, Embedding: []float32{1, 0}},
		{ID: 2, Embedding: []float32{0, 1}},
	}
	_, _, _, found := mostSimilarPair(observations, 0.9, nil)
	if found {
		t.Error("expected no pair above threshold 0.9 for orthogonal vectors")
	}
}

func TestMostSimilarPair_RespectsSkipSet(t *testing.T) {
	observations := []Observation{
		{ID: 1, Embedding: []float32{1, 0}},
		{ID: 2, Embedding: []float32{0.99, 0.14}},
	}
	skip := map[[2]int64]bool{pairKey(1, 2): true}
	_, _, _, found := mostSimilarPair(observations, 0.5, skip)
	if found {
		t.Error("expected skipped pair to be excluded")
	}
}

func TestMostSimilarPair_IgnoresUnembedded(t *testing.T) {
	observations := []Observation{
		{ID: 1, Embedding: nil},
		{ID: 2, Embedding: []float32{1, 0}},
	}
	_, _, _, found := mostSimilarPair(observations, 0.0, nil)
	if found {
		t.Error("expected unembedded observations to be skipped entirely")
	}
}

func newMergeTestFacade(t *testing.T, gen Generator) (*Facade, ObservationStore) {
	t.Helper()
	s := newLinkTestStorage(t)
	cfg := DefaultConfig()
	f := NewFacade(s, fixedEmbedder{v: []float32{1, 0, 0, 0}}, gen, nil, "test-model", cfg, nil)
	return f, f.obsStore
}

func TestObservationMergePass_MergesAboveThreshold(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"should_merge":true,"merged_text":"merged summary","reason":"same topic"}`}}
	f, obs := newMergeTestFacade(t, gen)
	ctx := context.Background()

	if _, err := obs.Create(ctx, "User likes coffee", []float32{1, 0, 0, 0}, nil); err != nil {
		t.Fatal(err)
	}
	// Both have zero evidence, so the more recently updated one (b) is kept.
	b, err := obs.Create(ctx, "User enjoys coffee in the morning", []float32{0.99, 0.1, 0, 0}, nil)
	if err != nil {
		t.Fatal(err)
	}

	did, err := f.observationMergePass(ctx)
	if err != nil {
		t.Fatalf("observationMergePass: %v", err)
	}
	if !did {
		t.Error("expected the merge pass to report work done")
	}
	count, err := obs.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("observation count after merge = %d, want 1", count)
	}
	keeper, err := obs.Get(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if keeper == nil || keeper.Summary != "merged summary" {
		t.Errorf("expected the keeper's summary to be updated to the merged text, got %+v", keeper)
	}
}

func TestObservationMergePass_DeclinedVerdictStopsRetryingThatPair(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"should_merge":false,"reason":"different topics"}`}}
	f, obs := newMergeTestFacade(t, gen)
	ctx := context.Background()

	if _, err := obs.Create(ctx, "User likes coffee", []float32{1, 0, 0, 0}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := obs.Create(ctx, "User enjoys coffee often", []float32{0.99, 0.1, 0, 0}, nil); err != nil {
		t.Fatal(err)
	}

	did, err := f.observationMergePass(ctx)
	if err != nil {
		t.Fatalf("observationMergePass: %v", err)
	}
	if did {
		t.Error("expected no work done when the model declines every pair")
	}
	count, err := obs.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("observation count = %d, want 2 (no merge applied)", count)
	}
}

func TestObservationMergePass_FewerThanTwoObservationsIsNoop(t *testing.T) {
	f, obs := newMergeTestFacade(t, &scriptedGenerator{})
	ctx := context.Background()

	if _, err := obs.Create(ctx, "only one observation", []float32{1, 0, 0, 0}, nil); err != nil {
		t.Fatal(err)
	}

	did, err := f.observationMergePass(ctx)
	if err != nil {
		t.Fatalf("observationMergePass: %v", err)
	}
	if did {
		t.Error("expected no-op with fewer than two observations")
	}
}
