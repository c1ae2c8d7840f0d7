package memory_test

import (
	"context"
	"testing"

	"github.com/esceptico/ntrp-memory"
)

func openTestObservationStore(t *testing.T) memory.ObservationStore {
	t.Helper()
	return memory.ObservationStorage{Storage: openTestStorage(t)}
}

func TestObservationStore_CreateAndGet(t *testing.T) {
	store := openTestObservationStore(t)
	ctx := context.Background()

	sourceFactID := int64(1)
	obs, err := store.Create(ctx, "Alice plays music regularly", vec(1, 0, 0, 0), &sourceFactID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if obs.ID == 0 {
		t.Fatal("expected non-zero observation id")
	}
	if obs.EvidenceCount != 1 {
		t.Errorf("EvidenceCount = %d, want 1", obs.EvidenceCount)
	}

	got, err := store.Get(ctx, obs.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Summary != "Alice plays music regularly" {
		t.Errorf("unexpected observation: %+v", got)
	}
	if len(got.SourceFactIDs) != 1 || got.SourceFactIDs[0] != 1 {
		t.Errorf("SourceFactIDs = %v, want [1]", got.SourceFactIDs)
	}
}

func TestObservationStore_AddSourceFacts(t *testing.T) {
	store := openTestObservationStore(t)
	ctx := context.Background()

	first := int64(1)
	obs, err := store.Create(ctx, "summary", vec(1, 0, 0, 0), &first)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.AddSourceFacts(ctx, obs.ID, []int64{2, 3}); err != nil {
		t.Fatalf("AddSourceFacts: %v", err)
	}

	got, err := store.Get(ctx, obs.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.EvidenceCount != 3 {
		t.Errorf("EvidenceCount = %d, want 3", got.EvidenceCount)
	}
}

func TestObservationStore_Merge(t *testing.T) {
	store := openTestObservationStore(t)
	ctx := context.Background()

	f1, f2 := int64(1), int64(2)
	keeper, err := store.Create(ctx, "keeper summary", vec(1, 0, 0, 0), &f1)
	if err != nil {
		t.Fatal(err)
	}
	removed, err := store.Create(ctx, "removed summary", vec(0, 1, 0, 0), &f2)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Merge(ctx, keeper.ID, removed.ID, "merged summary", vec(0.5, 0.5, 0, 0), "same topic"); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	got, err := store.Get(ctx, keeper.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != "merged summary" {
		t.Errorf("Summary = %q, want merged summary", got.Summary)
	}
	if got.EvidenceCount != 2 {
		t.Errorf("EvidenceCount after merge = %d, want 2", got.EvidenceCount)
	}

	gone, err := store.Get(ctx, removed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gone != nil {
		t.Error("expected removed observation to no longer exist")
	}
}

func TestObservationStore_RewriteSourceFact(t *testing.T) {
	store := openTestObservationStore(t)
	ctx := context.Background()

	old := int64(10)
	obs, err := store.Create(ctx, "summary", vec(1, 0, 0, 0), &old)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.RewriteSourceFact(ctx, 10, 20); err != nil {
		t.Fatalf("RewriteSourceFact: %v", err)
	}

	got, err := store.Get(ctx, obs.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.SourceFactIDs) != 1 || got.SourceFactIDs[0] != 20 {
		t.Errorf("SourceFactIDs = %v, want [20]", got.SourceFactIDs)
	}
}

func TestObservationStore_SearchVector(t *testing.T) {
	store := openTestObservationStore(t)
	ctx := context.Background()

	f1 := int64(1)
	near, err := store.Create(ctx, "near", vec(1, 0, 0, 0), &f1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, "far", vec(0, 0, 1, 0), &f1); err != nil {
		t.Fatal(err)
	}

	results, err := store.SearchVector(ctx, vec(1, 0, 0, 0), 1)
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if len(results) != 1 || results[0].Observation.ID != near.ID {
		t.Errorf("expected nearest observation %d, got %+v", near.ID, results)
	}
}

func TestObservationStore_ClearAll(t *testing.T) {
	store := openTestObservationStore(t)
	ctx := context.Background()

	f1 := int64(1)
	for i := 0; i < 3; i++ {
		if _, err := store.Create(ctx, "summary", vec(1, 0, 0, 0), &f1); err != nil {
			t.Fatal(err)
		}
	}

	cleared, err := store.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if cleared != 3 {
		t.Errorf("ClearAll returned %d, want 3", cleared)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Count after ClearAll = %d, want 0", count)
	}
}
