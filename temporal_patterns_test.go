package memory

import (
	"context"
	"testing"
	"time"
)

func newTemporalPatternFacade(t *testing.T, gen Generator) (*Facade, *Storage) {
	t.Helper()
	s := newLinkTestStorage(t)
	cfg := DefaultConfig()
	cfg.TemporalPatternMinFacts = 2
	f := NewFacade(s, fixedEmbedder{v: []float32{1, 0, 0, 0}}, gen, nil, "test-model", cfg, nil)
	return f, s
}

func TestMineEntityTemporalPattern_BelowMinFactsIsNoop(t *testing.T) {
	f, s := newTemporalPatternFacade(t, &scriptedGenerator{})
	ctx := context.Background()

	happened := time.Now().Add(-time.Hour)
	fact, err := s.Create(ctx, Fact{Text: "single windowed fact", HappenedAt: &happened})
	if err != nil {
		t.Fatal(err)
	}
	entity, err := s.CreateEntity(ctx, "Alice", "person", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddEntityRef(ctx, fact.ID, "Alice", "person", &entity.ID); err != nil {
		t.Fatal(err)
	}

	did, err := f.mineEntityTemporalPattern(ctx, entity, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("mineEntityTemporalPattern: %v", err)
	}
	if did {
		t.Error("expected no-op below TemporalPatternMinFacts")
	}
}

func TestMineEntityTemporalPattern_AppliesModelPatterns(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"patterns":[{"text":"Alice's activity is increasing","source_fact_indices":[0,1]}]}`,
	}}
	f, s := newTemporalPatternFacade(t, gen)
	ctx := context.Background()

	h1 := time.Now().Add(-2 * time.Hour)
	h2 := time.Now().Add(-1 * time.Hour)
	fact1, err := s.Create(ctx, Fact{Text: "Alice went for a short walk", HappenedAt: &h1})
	if err != nil {
		t.Fatal(err)
	}
	fact2, err := s.Create(ctx, Fact{Text: "Alice went for a long run", HappenedAt: &h2})
	if err != nil {
		t.Fatal(err)
	}
	entity, err := s.CreateEntity(ctx, "Alice", "person", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddEntityRef(ctx, fact1.ID, "Alice", "person", &entity.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddEntityRef(ctx, fact2.ID, "Alice", "person", &entity.ID); err != nil {
		t.Fatal(err)
	}

	did, err := f.mineEntityTemporalPattern(ctx, entity, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("mineEntityTemporalPattern: %v", err)
	}
	if !did {
		t.Fatal("expected the proposed pattern to be applied")
	}
	count, err := f.obsStore.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("observation count = %d, want 1", count)
	}
}

func TestMineEntityTemporalPattern_DropsOutOfRangePatternIndices(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"patterns":[{"text":"bogus pattern","source_fact_indices":[99]}]}`,
	}}
	f, s := newTemporalPatternFacade(t, gen)
	ctx := context.Background()

	h1 := time.Now().Add(-2 * time.Hour)
	h2 := time.Now().Add(-1 * time.Hour)
	fact1, err := s.Create(ctx, Fact{Text: "Alice did something", HappenedAt: &h1})
	if err != nil {
		t.Fatal(err)
	}
	fact2, err := s.Create(ctx, Fact{Text: "Alice did something else", HappenedAt: &h2})
	if err != nil {
		t.Fatal(err)
	}
	entity, err := s.CreateEntity(ctx, "Alice", "person", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddEntityRef(ctx, fact1.ID, "Alice", "person", &entity.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddEntityRef(ctx, fact2.ID, "Alice", "person", &entity.ID); err != nil {
		t.Fatal(err)
	}

	did, err := f.mineEntityTemporalPattern(ctx, entity, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("mineEntityTemporalPattern: %v", err)
	}
	if did {
		t.Error("expected the pattern to be dropped for not resolving to >= 2 real source facts")
	}
}

func TestApplyTemporalPattern_CreatesNewObservationWhenNoneSimilar(t *testing.T) {
	f, s := newTemporalPatternFacade(t, &scriptedGenerator{})
	ctx := context.Background()

	fact, err := s.Create(ctx, Fact{Text: "a fact"})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.applyTemporalPattern(ctx, "a new temporal pattern", []int64{fact.ID}); err != nil {
		t.Fatalf("applyTemporalPattern: %v", err)
	}
	count, err := f.obsStore.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("observation count = %d, want 1", count)
	}
}

func TestApplyTemporalPattern_MergesIntoSimilarExistingObservation(t *testing.T) {
	f, s := newTemporalPatternFacade(t, &scriptedGenerator{})
	ctx := context.Background()

	existing, err := f.obsStore.Create(ctx, "an existing pattern observation", []float32{1, 0, 0, 0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	fact, err := s.Create(ctx, Fact{Text: "a supporting fact"})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.applyTemporalPattern(ctx, "a closely related pattern", []int64{fact.ID}); err != nil {
		t.Fatalf("applyTemporalPattern: %v", err)
	}
	count, err := f.obsStore.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected the pattern to merge into the existing observation rather than create a new one, got count=%d", count)
	}
	updated, err := f.obsStore.Get(ctx, existing.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated == nil || updated.EvidenceCount < 1 {
		t.Errorf("expected the existing observation's evidence to grow, got %+v", updated)
	}
}

func TestTemporalPatternsPass_SkipsAlreadyProcessedEntities(t *testing.T) {
	f, s := newTemporalPatternFacade(t, &scriptedGenerator{})
	ctx := context.Background()

	entity, err := s.CreateEntity(ctx, "Bob", "person", nil, false)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	windowEnd := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := s.MarkProcessed(ctx, entity.ID, windowEnd); err != nil {
		t.Fatal(err)
	}

	did, err := f.temporalPatternsPass(ctx)
	if err != nil {
		t.Fatalf("temporalPatternsPass: %v", err)
	}
	if did {
		t.Error("expected already-processed entities to be skipped")
	}
}
