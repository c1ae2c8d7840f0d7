package memory_test

import (
	"context"
	"testing"

	"github.com/esceptico/ntrp-memory"
)

func openTestDreamStore(t *testing.T) memory.DreamStore {
	t.Helper()
	return memory.DreamStorage{Storage: openTestStorage(t)}
}

func TestDreamStore_CreateAndGet(t *testing.T) {
	store := openTestDreamStore(t)
	ctx := context.Background()

	dream, err := store.Create(ctx, "shared structure", "both are feedback loops", []int64{1, 2}, vec(1, 0, 0, 0))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if dream.ID == 0 {
		t.Fatal("expected non-zero dream id")
	}

	got, err := store.Get(ctx, dream.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Bridge != "shared structure" || got.Insight != "both are feedback loops" {
		t.Errorf("unexpected dream: %+v", got)
	}
	if len(got.SourceFactIDs) != 2 {
		t.Errorf("SourceFactIDs = %v, want 2 entries", got.SourceFactIDs)
	}
}

func TestDreamStore_LastCreatedAt_NilWhenEmpty(t *testing.T) {
	store := openTestDreamStore(t)
	last, err := store.LastCreatedAt(context.Background())
	if err != nil {
		t.Fatalf("LastCreatedAt: %v", err)
	}
	if last != nil {
		t.Error("expected nil LastCreatedAt with no dreams stored")
	}
}

func TestDreamStore_LastCreatedAt_AfterCreate(t *testing.T) {
	store := openTestDreamStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "bridge", "insight", []int64{1}, vec(1, 0, 0, 0)); err != nil {
		t.Fatal(err)
	}

	last, err := store.LastCreatedAt(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last == nil {
		t.Fatal("expected non-nil LastCreatedAt after creating a dream")
	}
}

func TestDreamStore_ListRecent(t *testing.T) {
	store := openTestDreamStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Create(ctx, "bridge", "insight", []int64{1}, vec(1, 0, 0, 0)); err != nil {
			t.Fatal(err)
		}
	}

	list, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("ListRecent(2) returned %d, want 2", len(list))
	}
}

func TestDreamStore_ClearAll(t *testing.T) {
	store := openTestDreamStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "bridge", "insight", []int64{1}, vec(1, 0, 0, 0)); err != nil {
		t.Fatal(err)
	}

	cleared, err := store.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if cleared != 1 {
		t.Errorf("ClearAll returned %d, want 1", cleared)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Count after ClearAll = %d, want 0", count)
	}
}
