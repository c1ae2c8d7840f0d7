package memory

import (
	"context"
	"encoding/json"
	"fmt"
)

type mergeVerdict struct {
	ShouldMerge bool   `json:"should_merge"`
	MergedText  string `json:"merged_text,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

var mergeVerdictSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"should_merge": map[string]any{"type": "boolean"},
		"merged_text":  map[string]any{"type": "string"},
		"reason":       map[string]any{"type": "string"},
	},
	"required":             []string{"should_merge"},
	"additionalProperties": false,
}

const observationMergePrompt = `You decide whether two observations about the same topic should be merged into one.

Merge only when they describe the same underlying pattern or fact about the same entity — not merely a similar topic. If you merge, write a single "merged_text" that preserves everything distinct from both and resolves any contradiction explicitly. If they should stay separate, set should_merge to false.

Respond as JSON: {"should_merge": true/false, "merged_text": "...", "reason": "..."}`

// observationMergePass repeatedly finds the most similar pair of
// observations above ObservationMergeSimilarityThreshold, asks the model
// whether to merge them, and applies the decision, until no pair exceeds the
// threshold or the model declines every remaining pair (§4.8.2).
func (f *Facade) observationMergePass(ctx context.Context) (bool, error) {
	didAny := false
	skip := make(map[[2]int64]bool)

	for {
		observations, err := f.obsStore.ListAllWithEmbeddings(ctx)
		if err != nil {
			return didAny, fmt.Errorf("memory: listing observations: %w", err)
		}
		if len(observations) < 2 {
			return didAny, nil
		}

		a, b, _, found := mostSimilarPair(observations, f.cfg.ObservationMergeSimilarityThreshold, skip)
		if !found {
			return didAny, nil
		}

		merged, err := f.decideObservationMerge(ctx, a, b)
		if err != nil {
			return didAny, fmt.Errorf("memory: deciding observation merge (%d, %d): %w", a.ID, b.ID, err)
		}
		if !merged {
			skip[pairKey(a.ID, b.ID)] = true
			continue
		}
		didAny = true
	}
}

// decideObservationMerge asks the model whether a and b should merge, and if
// so applies the merge, keeping the observation with higher evidence count
// (ties broken by the more recently updated one).
func (f *Facade) decideObservationMerge(ctx context.Context, a, b Observation) (bool, error) {
	prompt := fmt.Sprintf("Observation A: %s\n\nObservation B: %s", a.Summary, b.Summary)
	messages := []ChatMessage{
		{Role: "system", Content: observationMergePrompt},
		{Role: "user", Content: prompt},
	}
	content, err := f.gen.Complete(ctx, f.model, messages, mergeVerdictSchema, f.cfg.ObservationMergeTemperature)
	if err != nil {
		f.log.Warn("observation merge: model call failed", "a", a.ID, "b", b.ID, "err", err)
		return false, nil
	}

	var verdict mergeVerdict
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		f.log.Warn("observation merge: malformed verdict", "a", a.ID, "b", b.ID, "err", err)
		return false, nil
	}
	if !verdict.ShouldMerge || verdict.MergedText == "" {
		return false, nil
	}

	keeper, removed := a, b
	if b.EvidenceCount > a.EvidenceCount || (b.EvidenceCount == a.EvidenceCount && b.UpdatedAt.After(a.UpdatedAt)) {
		keeper, removed = b, a
	}

	embedding, err := f.embedder.EmbedOne(ctx, verdict.MergedText)
	if err != nil {
		f.log.Warn("observation merge: embedding merged text failed", "err", err)
		embedding = nil
	}

	err = f.withWriteLock(func() error {
		return f.obsStore.Merge(ctx, keeper.ID, removed.ID, verdict.MergedText, embedding, verdict.Reason)
	})
	if err != nil {
		return false, fmt.Errorf("merging observation %d into %d: %w", removed.ID, keeper.ID, err)
	}
	return true, nil
}

// mostSimilarPair finds the highest-cosine-similarity pair of observations
// at or above threshold, excluding pairs already in skip.
func mostSimilarPair(observations []Observation, threshold float64, skip map[[2]int64]bool) (Observation, Observation, float64, bool) {
	var bestA, bestB Observation
	bestSim := -1.0
	found := false

	for i := 0; i < len(observations); i++ {
		oi := observations[i]
		if len(oi.Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(observations); j++ {
			oj := observations[j]
			if len(oj.Embedding) == 0 {
				continue
			}
			if skip[pairKey(oi.ID, oj.ID)] {
				continue
			}
			sim := CosineSimilarity(oi.Embedding, oj.Embedding)
			if sim < threshold || sim <= bestSim {
				continue
			}
			bestA, bestB, bestSim, found = oi, oj, sim, true
		}
	}
	return bestA, bestB, bestSim, found
}

func pairKey(a, b int64) [2]int64 {
	if a > b {
		a, b = b, a
	}
	return [2]int64{a, b}
}
