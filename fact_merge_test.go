package memory

import (
	"context"
	"testing"
	"time"
)

func TestChooseFactKeeper_MoreEntityRefsWins(t *testing.T) {
	a := Fact{ID: 1}
	b := Fact{ID: 2}
	keeper, removed := chooseFactKeeper(a, 1, b, 3)
	if keeper.ID != 2 || removed.ID != 1 {
		t.Errorf("expected fact with more entity refs to win, got keeper=%d removed=%d", keeper.ID, removed.ID)
	}
}

func TestChooseFactKeeper_TiebreaksOnAccessCount(t *testing.T) {
	a := Fact{ID: 1, AccessCount: 5}
	b := Fact{ID: 2, AccessCount: 9}
	keeper, removed := chooseFactKeeper(a, 2, b, 2)
	if keeper.ID != 2 || removed.ID != 1 {
		t.Errorf("expected higher access count to win on entity-ref tie, got keeper=%d removed=%d", keeper.ID, removed.ID)
	}
}

func TestChooseFactKeeper_TiebreaksOnRecency(t *testing.T) {
	now := time.Now()
	a := Fact{ID: 1, AccessCount: 2, CreatedAt: now.Add(-time.Hour)}
	b := Fact{ID: 2, AccessCount: 2, CreatedAt: now}
	keeper, removed := chooseFactKeeper(a, 1, b, 1)
	if keeper.ID != 2 || removed.ID != 1 {
		t.Errorf("expected more recently created fact to win final tiebreak, got keeper=%d removed=%d", keeper.ID, removed.ID)
	}
}

func TestChooseFactKeeper_StableWhenFullyTied(t *testing.T) {
	now := time.Now()
	a := Fact{ID: 1, AccessCount: 2, CreatedAt: now}
	b := Fact{ID: 2, AccessCount: 2, CreatedAt: now}
	keeper, removed := chooseFactKeeper(a, 1, b, 1)
	if keeper.ID != 1 || removed.ID != 2 {
		t.Errorf("expected first argument to win a fully-tied comparison, got keeper=%d removed=%d", keeper.ID, removed.ID)
	}
}

func TestMostSimilarFactPair_FindsHighestAboveThreshold(t *testing.T) {
	facts := []Fact{
		{ID: 1, Embedding: []float32{1, 0}},
		{ID: 2, Embedding: []float32{0, 1}},
		{ID: 3, Embedding: []float32{0.98, 0.2}},
	}
	a, b, sim, found := mostSimilarFactPair(facts, 0.5, nil)
	if !found {
		t.Fatal("expected a pair to be found")
	}
	if (a.ID != 1 || b.ID != 3) && (a.ID != 3 || b.ID != 1) {
		t.Errorf("expected pair (1,3), got (%d,%d)", a.ID, b.ID)
	}
	if sim <= 0.5 {
		t.Errorf("similarity %v should exceed threshold", sim)
	}
}

func TestFactMergePass_MergesDuplicateFacts(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"should_merge":true,"merged_text":"merged fact text","reason":"duplicate"}`}}
	s := newLinkTestStorage(t)
	cfg := DefaultConfig()
	f := NewFacade(s, fixedEmbedder{v: []float32{1, 0, 0, 0}}, gen, nil, "test-model", cfg, nil)
	ctx := context.Background()

	if _, err := s.Create(ctx, Fact{Text: "the sky is blue", Embedding: []float32{1, 0, 0, 0}}); err != nil {
		t.Fatal(err)
	}
	// Neither fact has entity refs or accesses, so the newer one (b) is kept.
	b, err := s.Create(ctx, Fact{Text: "the sky is blue today", Embedding: []float32{0.99, 0.1, 0, 0}})
	if err != nil {
		t.Fatal(err)
	}

	did, err := f.factMergePass(ctx)
	if err != nil {
		t.Fatalf("factMergePass: %v", err)
	}
	if !did {
		t.Error("expected the fact merge pass to report work done")
	}
	count, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("fact count after merge = %d, want 1", count)
	}
	keeper, err := s.Get(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if keeper == nil || keeper.Text != "merged fact text" {
		t.Errorf("expected keeper's text to be updated to the merged text, got %+v", keeper)
	}
}

func TestFactMergePass_FewerThanTwoFactsIsNoop(t *testing.T) {
	s := newLinkTestStorage(t)
	cfg := DefaultConfig()
	f := NewFacade(s, fixedEmbedder{v: []float32{1, 0, 0, 0}}, &scriptedGenerator{}, nil, "test-model", cfg, nil)
	ctx := context.Background()

	if _, err := s.Create(ctx, Fact{Text: "lonely fact", Embedding: []float32{1, 0, 0, 0}}); err != nil {
		t.Fatal(err)
	}

	did, err := f.factMergePass(ctx)
	if err != nil {
		t.Fatalf("factMergePass: %v", err)
	}
	if did {
		t.Error("expected no-op with fewer than two facts")
	}
}
