package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// consolidationAction is the decision the language model returns for one
// unconsolidated fact (§4.8.1).
type consolidationAction string

const (
	actionCreate consolidationAction = "create"
	actionUpdate consolidationAction = "update"
	actionSkip   consolidationAction = "skip"
)

type consolidationDecision struct {
	Action        consolidationAction `json:"action"`
	ObservationID int64               `json:"observation_id,omitempty"`
	Text          string              `json:"text,omitempty"`
	Reason        string              `json:"reason,omitempty"`
}

var consolidationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"action":         map[string]any{"type": "string", "enum": []string{"create", "update", "skip"}},
		"observation_id": map[string]any{"type": "integer"},
		"text":           map[string]any{"type": "string"},
		"reason":         map[string]any{"type": "string"},
	},
	"required":             []string{"action"},
	"additionalProperties": false,
}

const consolidationPrompt = `You distill raw facts into higher-level observations about entities and patterns.

Rules:
- Observations synthesize patterns across facts; they do not merely restate or decompose one fact.
- Never merge facts about different people into one observation.
- If an observation already has 10 or more source facts, prefer creating a new sub-topic observation over growing it further.
- When a new fact contradicts an existing observation, merge it in and make the contradiction explicit in the updated text.

Given the new fact and its nearest existing observations (with their top supporting facts), choose exactly one action:
- "create": this fact doesn't fit any existing observation; create a new one. Provide "text".
- "update": this fact extends or corrects an existing observation. Provide "observation_id" and the full revised "text".
- "skip": this fact is ephemeral or transient and shouldn't be distilled into an observation. Provide "reason".

Respond as JSON: {"action": "...", "observation_id": ..., "text": "...", "reason": "..."}`

// consolidateOneFact runs the per-fact consolidation decision for a single
// fact and applies it (§4.8.1). Returns whether an observation was created
// or updated (false on skip).
func (f *Facade) consolidateOneFact(ctx context.Context, fact Fact) (bool, error) {
	nearest, err := f.obsStore.SearchVector(ctx, fact.Embedding, f.cfg.ConsolidationSearchLimit)
	if err != nil {
		return false, fmt.Errorf("memory: searching nearest observations: %w", err)
	}

	prompt, err := formatConsolidationContext(ctx, f.store, fact, nearest)
	if err != nil {
		return false, err
	}

	messages := []ChatMessage{
		{Role: "system", Content: consolidationPrompt},
		{Role: "user", Content: prompt},
	}
	content, err := f.gen.Complete(ctx, f.model, messages, consolidationSchema, f.cfg.ConsolidationTemperature)
	if err != nil {
		f.log.Warn("consolidation: model call failed, skipping fact", "fact_id", fact.ID, "err", err)
		return false, nil
	}

	var decision consolidationDecision
	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		f.log.Warn("consolidation: malformed decision, skipping fact", "fact_id", fact.ID, "err", err)
		return false, nil
	}

	did, err := f.applyConsolidationDecision(ctx, fact, decision)
	if err != nil {
		return false, err
	}

	err = f.withWriteLock(func() error { return f.store.MarkConsolidated(ctx, fact.ID) })
	if err != nil {
		return did, fmt.Errorf("memory: marking fact %d consolidated: %w", fact.ID, err)
	}
	return did, nil
}

func (f *Facade) applyConsolidationDecision(ctx context.Context, fact Fact, decision consolidationDecision) (bool, error) {
	switch decision.Action {
	case actionCreate:
		if strings.TrimSpace(decision.Text) == "" {
			return false, nil
		}
		embedding, err := f.embedder.EmbedOne(ctx, decision.Text)
		if err != nil {
			f.log.Warn("consolidation: embedding new observation failed", "err", err)
			embedding = nil
		}
		err = f.withWriteLock(func() error {
			_, err := f.obsStore.Create(ctx, decision.Text, embedding, &fact.ID)
			return err
		})
		if err != nil {
			return false, fmt.Errorf("memory: creating observation: %w", err)
		}
		return true, nil

	case actionUpdate:
		if decision.ObservationID == 0 || strings.TrimSpace(decision.Text) == "" {
			return false, nil
		}
		embedding, err := f.embedder.EmbedOne(ctx, decision.Text)
		if err != nil {
			f.log.Warn("consolidation: embedding updated observation failed", "err", err)
			embedding = nil
		}
		err = f.withWriteLock(func() error {
			return f.obsStore.Update(ctx, decision.ObservationID, decision.Text, embedding, &fact.ID, "consolidation: "+decision.Reason)
		})
		if err != nil {
			return false, fmt.Errorf("memory: updating observation %d: %w", decision.ObservationID, err)
		}
		return true, nil

	default: // actionSkip and anything unrecognized
		return false, nil
	}
}

// formatConsolidationContext renders the fact and its nearest observations
// (each with up to 3 supporting facts) into the user-message text sent to
// the model.
func formatConsolidationContext(ctx context.Context, store FactStore, fact Fact, nearest []ScoredObservation) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "New fact: %s\n\n", fact.Text)
	if len(nearest) == 0 {
		b.WriteString("No existing observations are nearby.")
		return b.String(), nil
	}

	b.WriteString("Nearby existing observations:\n")
	for _, n := range nearest {
		fmt.Fprintf(&b, "- [id=%d] %s\n", n.Observation.ID, n.Observation.Summary)
		sourceIDs := n.Observation.SourceFactIDs
		if len(sourceIDs) > 3 {
			sourceIDs = sourceIDs[:3]
		}
		if len(sourceIDs) == 0 {
			continue
		}
		batch, err := store.GetBatch(ctx, sourceIDs)
		if err != nil {
			return "", fmt.Errorf("memory: loading observation source facts: %w", err)
		}
		for _, id := range sourceIDs {
			if sf, ok := batch[id]; ok {
				fmt.Fprintf(&b, "    supporting fact: %s\n", sf.Text)
			}
		}
	}
	return b.String(), nil
}

// perFactConsolidationPass processes up to ConsolidationBatchSize
// unconsolidated facts. Errors within a fact do not halt the batch (§4.8.1).
func (f *Facade) perFactConsolidationPass(ctx context.Context) (bool, error) {
	facts, err := f.store.ListUnconsolidated(ctx, f.cfg.ConsolidationBatchSize)
	if err != nil {
		return false, fmt.Errorf("memory: listing unconsolidated facts: %w", err)
	}

	didAny := false
	for _, fact := range facts {
		if fact.Embedding == nil {
			err := f.withWriteLock(func() error { return f.store.MarkConsolidated(ctx, fact.ID) })
			if err != nil {
				f.log.Warn("consolidation: marking unembedded fact consolidated failed", "fact_id", fact.ID, "err", err)
			}
			continue
		}
		did, err := f.consolidateOneFact(ctx, fact)
		if err != nil {
			f.log.Warn("consolidation: processing fact failed", "fact_id", fact.ID, "err", err)
			continue
		}
		didAny = didAny || did
	}
	return didAny, nil
}

// consolidatePending runs one tick of the background consolidation loop:
// per-fact consolidation, observation merge, fact merge, temporal pattern
// mining, and (periodically) the dream pass. Returns whether any pass did
// work, for the loop's backoff-reset decision.
//
// Unlike the façade's foreground operations, a tick runs an unbounded number
// of language-model and embedding round-trips, so it never holds writeMu for
// the tick as a whole (§5: "network calls stay outside the write lock").
// Each pass instead acquires writeMu only around its own store mutation,
// via withWriteLock, after every network call has already returned.
func (f *Facade) consolidatePending(ctx context.Context) (bool, error) {
	didAny := false

	did, err := f.perFactConsolidationPass(ctx)
	if err != nil {
		return false, fmt.Errorf("memory: per-fact consolidation pass: %w", err)
	}
	didAny = didAny || did

	did, err = f.observationMergePass(ctx)
	if err != nil {
		return didAny, fmt.Errorf("memory: observation merge pass: %w", err)
	}
	didAny = didAny || did

	did, err = f.factMergePass(ctx)
	if err != nil {
		return didAny, fmt.Errorf("memory: fact merge pass: %w", err)
	}
	didAny = didAny || did

	did, err = f.temporalPatternsPass(ctx)
	if err != nil {
		return didAny, fmt.Errorf("memory: temporal patterns pass: %w", err)
	}
	didAny = didAny || did

	did, err = f.dreamPassIfDue(ctx)
	if err != nil {
		return didAny, fmt.Errorf("memory: dream pass: %w", err)
	}
	didAny = didAny || did

	return didAny, nil
}
