package memory

import (
	"context"
	"encoding/json"
	"fmt"
)

const factMergePrompt = `You decide whether two facts describe the same underlying assertion and should be merged into one.

Merge only when they are genuinely duplicates or near-duplicates of the same claim — not merely related or about the same topic. If you merge, write a single "merged_text" that preserves every distinct detail from both. If they are different assertions, set should_merge to false.

Respond as JSON: {"should_merge": true/false, "merged_text": "...", "reason": "..."}`

// factMergePass repeatedly finds the most similar pair of facts above
// FactMergeSimilarityThreshold, asks the model whether to merge them, and
// applies the decision, until no pair exceeds the threshold (§4.8.5).
func (f *Facade) factMergePass(ctx context.Context) (bool, error) {
	didAny := false
	skip := make(map[[2]int64]bool)

	for {
		facts, err := f.store.ListAllWithEmbeddings(ctx)
		if err != nil {
			return didAny, fmt.Errorf("memory: listing facts: %w", err)
		}
		if len(facts) < 2 {
			return didAny, nil
		}

		a, b, _, found := mostSimilarFactPair(facts, f.cfg.FactMergeSimilarityThreshold, skip)
		if !found {
			return didAny, nil
		}

		merged, err := f.decideFactMerge(ctx, a, b)
		if err != nil {
			return didAny, fmt.Errorf("memory: deciding fact merge (%d, %d): %w", a.ID, b.ID, err)
		}
		if !merged {
			skip[pairKey(a.ID, b.ID)] = true
			continue
		}
		didAny = true
	}
}

// decideFactMerge asks the model whether a and b should merge, and if so
// applies the merge: the keeper is the fact with more entity refs, then
// higher access count, then the more recently created (§4.8.5).
func (f *Facade) decideFactMerge(ctx context.Context, a, b Fact) (bool, error) {
	prompt := fmt.Sprintf("Fact A: %s\n\nFact B: %s", a.Text, b.Text)
	messages := []ChatMessage{
		{Role: "system", Content: factMergePrompt},
		{Role: "user", Content: prompt},
	}
	content, err := f.gen.Complete(ctx, f.model, messages, mergeVerdictSchema, f.cfg.FactMergeTemperature)
	if err != nil {
		f.log.Warn("fact merge: model call failed", "a", a.ID, "b", b.ID, "err", err)
		return false, nil
	}

	var verdict mergeVerdict
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		f.log.Warn("fact merge: malformed verdict", "a", a.ID, "b", b.ID, "err", err)
		return false, nil
	}
	if !verdict.ShouldMerge || verdict.MergedText == "" {
		return false, nil
	}

	refsA, err := f.store.GetEntityRefs(ctx, a.ID)
	if err != nil {
		return false, fmt.Errorf("loading entity refs for fact %d: %w", a.ID, err)
	}
	refsB, err := f.store.GetEntityRefs(ctx, b.ID)
	if err != nil {
		return false, fmt.Errorf("loading entity refs for fact %d: %w", b.ID, err)
	}

	keeper, removed := chooseFactKeeper(a, len(refsA), b, len(refsB))

	embedding, err := f.embedder.EmbedOne(ctx, verdict.MergedText)
	if err != nil {
		f.log.Warn("fact merge: embedding merged text failed", "err", err)
		embedding = nil
	}

	err = f.withWriteLock(func() error {
		if err := f.obsStore.RewriteSourceFact(ctx, removed.ID, keeper.ID); err != nil {
			return fmt.Errorf("rewriting observation source facts from %d to %d: %w", removed.ID, keeper.ID, err)
		}
		if err := f.store.MergeFacts(ctx, keeper.ID, removed.ID, verdict.MergedText, embedding); err != nil {
			return fmt.Errorf("merging fact %d into %d: %w", removed.ID, keeper.ID, err)
		}
		if _, err := f.store.CleanupOrphanedEntities(ctx); err != nil {
			f.log.Warn("fact merge: cleaning up orphaned entities failed", "err", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// chooseFactKeeper picks the fact to keep: more entity refs wins, then
// higher access count, then the more recently created.
func chooseFactKeeper(a Fact, refsA int, b Fact, refsB int) (keeper, removed Fact) {
	switch {
	case refsA != refsB:
		if refsA > refsB {
			return a, b
		}
		return b, a
	case a.AccessCount != b.AccessCount:
		if a.AccessCount > b.AccessCount {
			return a, b
		}
		return b, a
	case b.CreatedAt.After(a.CreatedAt):
		return b, a
	default:
		return a, b
	}
}

// mostSimilarFactPair finds the highest-cosine-similarity pair of facts at
// or above threshold, excluding pairs already in skip.
func mostSimilarFactPair(facts []Fact, threshold float64, skip map[[2]int64]bool) (Fact, Fact, float64, bool) {
	var bestA, bestB Fact
	bestSim := -1.0
	found := false

	for i := 0; i < len(facts); i++ {
		fi := facts[i]
		if len(fi.Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(facts); j++ {
			fj := facts[j]
			if len(fj.Embedding) == 0 {
				continue
			}
			if skip[pairKey(fi.ID, fj.ID)] {
				continue
			}
			sim := CosineSimilarity(fi.Embedding, fj.Embedding)
			if sim < threshold || sim <= bestSim {
				continue
			}
			bestA, bestB, bestSim, found = fi, fj, sim, true
		}
	}
	return bestA, bestB, bestSim, found
}
