package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/esceptico/ntrp-memory"
)

func TestTemporalCheckpoints_MarkAndIsProcessed(t *testing.T) {
	storage := openTestStorage(t)
	ctx := context.Background()

	var checkpoint memory.TemporalCheckpointStore = storage
	windowEnd := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	processed, err := checkpoint.IsProcessed(ctx, 1, windowEnd)
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if processed {
		t.Error("expected unprocessed before MarkProcessed")
	}

	if err := checkpoint.MarkProcessed(ctx, 1, windowEnd); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	processed, err = checkpoint.IsProcessed(ctx, 1, windowEnd)
	if err != nil {
		t.Fatal(err)
	}
	if !processed {
		t.Error("expected processed after MarkProcessed")
	}
}

func TestTemporalCheckpoints_IdempotentMark(t *testing.T) {
	storage := openTestStorage(t)
	ctx := context.Background()
	windowEnd := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	if err := storage.MarkProcessed(ctx, 2, windowEnd); err != nil {
		t.Fatal(err)
	}
	if err := storage.MarkProcessed(ctx, 2, windowEnd); err != nil {
		t.Fatalf("second MarkProcessed should be idempotent, got: %v", err)
	}
}

func TestTemporalCheckpoints_DistinctEntitiesIndependent(t *testing.T) {
	storage := openTestStorage(t)
	ctx := context.Background()
	windowEnd := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	if err := storage.MarkProcessed(ctx, 1, windowEnd); err != nil {
		t.Fatal(err)
	}

	processed, err := storage.IsProcessed(ctx, 2, windowEnd)
	if err != nil {
		t.Fatal(err)
	}
	if processed {
		t.Error("expected a different entity id to remain unprocessed")
	}
}
