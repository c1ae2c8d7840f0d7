package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type temporalPatternCandidate struct {
	Text              string `json:"text"`
	SourceFactIndices []int  `json:"source_fact_indices"`
}

type temporalPatternResult struct {
	Patterns []temporalPatternCandidate `json:"patterns"`
}

var temporalPatternSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"patterns": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text":                map[string]any{"type": "string"},
					"source_fact_indices": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
				},
				"required":             []string{"text", "source_fact_indices"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"patterns"},
	"additionalProperties": false,
}

const temporalPatternPrompt = `You look across one entity's facts, ordered by when they happened, and surface temporal patterns: trends, recurring behavior, or notable change over time.

Each fact below is numbered. Propose zero or more patterns. Each pattern needs "text" (a summary of the trend) and "source_fact_indices" (the numbers of the facts that support it — at least two). Do not propose a pattern for facts that are unrelated to each other; it is fine to return an empty list.

Respond as JSON: {"patterns": [{"text": "...", "source_fact_indices": [...]}]}`

// temporalPatternsPass mines temporal patterns for every entity with enough
// recent facts and that hasn't already been processed for today's window
// (§4.8.3).
func (f *Facade) temporalPatternsPass(ctx context.Context) (bool, error) {
	entities, err := f.store.ListAllEntities(ctx, f.cfg.EntityCandidatesLimit)
	if err != nil {
		return false, fmt.Errorf("memory: listing entities: %w", err)
	}

	now := time.Now().UTC()
	windowEnd := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	windowStart := windowEnd.AddDate(0, 0, -f.cfg.TemporalPatternWindowDays)

	didAny := false
	for _, entity := range entities {
		processed, err := f.checkpoint.IsProcessed(ctx, entity.ID, windowEnd)
		if err != nil {
			return didAny, fmt.Errorf("memory: checking temporal checkpoint for entity %d: %w", entity.ID, err)
		}
		if processed {
			continue
		}

		did, err := f.mineEntityTemporalPattern(ctx, entity, windowStart)
		if err != nil {
			f.log.Warn("temporal patterns: mining entity failed", "entity_id", entity.ID, "err", err)
			continue
		}
		didAny = didAny || did

		err = f.withWriteLock(func() error { return f.checkpoint.MarkProcessed(ctx, entity.ID, windowEnd) })
		if err != nil {
			return didAny, fmt.Errorf("memory: marking temporal checkpoint for entity %d: %w", entity.ID, err)
		}
	}
	return didAny, nil
}

func (f *Facade) mineEntityTemporalPattern(ctx context.Context, entity Entity, windowStart time.Time) (bool, error) {
	facts, err := f.store.GetFactsForEntityID(ctx, entity.ID, f.cfg.TemporalPatternSearchLimit)
	if err != nil {
		return false, fmt.Errorf("loading facts for entity %d: %w", entity.ID, err)
	}

	var windowed []Fact
	for _, fa := range facts {
		if fa.HappenedAt != nil && !fa.HappenedAt.Before(windowStart) {
			windowed = append(windowed, fa)
		}
	}
	if len(windowed) < f.cfg.TemporalPatternMinFacts {
		return false, nil
	}
	sort.Slice(windowed, func(i, j int) bool { return windowed[i].HappenedAt.Before(*windowed[j].HappenedAt) })

	var b strings.Builder
	fmt.Fprintf(&b, "Entity: %s (%s)\n\n", entity.Name, entity.EntityType)
	for i, fa := range windowed {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i, fa.HappenedAt.Format(time.RFC3339), fa.Text)
	}

	messages := []ChatMessage{
		{Role: "system", Content: temporalPatternPrompt},
		{Role: "user", Content: b.String()},
	}
	content, err := f.gen.Complete(ctx, f.model, messages, temporalPatternSchema, f.cfg.TemporalPatternTemperature)
	if err != nil {
		f.log.Warn("temporal patterns: model call failed", "entity_id", entity.ID, "err", err)
		return false, nil
	}

	var result temporalPatternResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		f.log.Warn("temporal patterns: malformed result", "entity_id", entity.ID, "err", err)
		return false, nil
	}

	didAny := false
	for _, p := range result.Patterns {
		sourceIDs := make([]int64, 0, len(p.SourceFactIndices))
		for _, idx := range p.SourceFactIndices {
			if idx >= 0 && idx < len(windowed) {
				sourceIDs = append(sourceIDs, windowed[idx].ID)
			}
		}
		if strings.TrimSpace(p.Text) == "" || len(sourceIDs) < 2 {
			continue
		}
		if err := f.applyTemporalPattern(ctx, p.Text, sourceIDs); err != nil {
			f.log.Warn("temporal patterns: applying pattern failed", "entity_id", entity.ID, "err", err)
			continue
		}
		didAny = true
	}
	return didAny, nil
}

// applyTemporalPattern embeds a proposed pattern and either appends its
// source facts to the nearest sufficiently-similar existing observation, or
// creates a new one.
func (f *Facade) applyTemporalPattern(ctx context.Context, text string, sourceIDs []int64) error {
	embedding, err := f.embedder.EmbedOne(ctx, text)
	if err != nil {
		f.log.Warn("temporal patterns: embedding pattern failed", "err", err)
		embedding = nil
	}

	if len(embedding) > 0 {
		nearest, err := f.obsStore.SearchVector(ctx, embedding, 1)
		if err != nil {
			return fmt.Errorf("searching nearest observation: %w", err)
		}
		if len(nearest) > 0 && nearest[0].Score >= f.cfg.ObservationMergeSimilarityThreshold {
			return f.withWriteLock(func() error {
				return f.obsStore.AddSourceFacts(ctx, nearest[0].Observation.ID, sourceIDs)
			})
		}
	}

	var first *int64
	if len(sourceIDs) > 0 {
		first = &sourceIDs[0]
	}
	return f.withWriteLock(func() error {
		obs, err := f.obsStore.Create(ctx, text, embedding, first)
		if err != nil {
			return fmt.Errorf("creating observation: %w", err)
		}
		if len(sourceIDs) > 1 {
			if err := f.obsStore.AddSourceFacts(ctx, obs.ID, sourceIDs[1:]); err != nil {
				return fmt.Errorf("adding remaining source facts: %w", err)
			}
		}
		return nil
	})
}
