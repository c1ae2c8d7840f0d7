package memory

import (
	"context"
	"fmt"
	"time"
)

// createLinksForFact runs the three link-creation sub-passes for a
// newly-remembered fact (§4.6). Invoked while Remember holds the façade's
// write lock; each link insert commits on its own. Returns the total number
// of links created.
func createLinksForFact(ctx context.Context, store FactStore, cfg Config, f Fact, entityNames []string) (int, error) {
	count := 0

	n, err := createTemporalLinks(ctx, store, cfg, f)
	if err != nil {
		return count, fmt.Errorf("memory: creating temporal links: %w", err)
	}
	count += n

	n, err = createSemanticLinks(ctx, store, cfg, f)
	if err != nil {
		return count, fmt.Errorf("memory: creating semantic links: %w", err)
	}
	count += n

	n, err = createEntityLinks(ctx, store, f, entityNames)
	if err != nil {
		return count, fmt.Errorf("memory: creating entity links: %w", err)
	}
	count += n

	return count, nil
}

// createTemporalLinks links f to other facts whose happened_at falls within
// [happened_at - 5*sigma, happened_at], weighted by exponential time decay.
func createTemporalLinks(ctx context.Context, store FactStore, cfg Config, f Fact) (int, error) {
	if f.HappenedAt == nil {
		return 0, nil
	}

	sigma := cfg.LinkTemporalSigmaHours
	window := sigma * 5
	start := f.HappenedAt.Add(-time.Duration(window * float64(time.Hour)))
	candidates, err := store.ListInTimeWindow(ctx, start, *f.HappenedAt)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, c := range candidates {
		if c.ID == f.ID || c.HappenedAt == nil {
			continue
		}
		deltaHours := f.HappenedAt.Sub(*c.HappenedAt).Hours()
		if deltaHours < 0 {
			deltaHours = -deltaHours
		}
		w := decayExp(deltaHours, sigma)
		if w < cfg.LinkTemporalMinWeight {
			continue
		}
		if err := store.CreateLink(ctx, f.ID, c.ID, LinkTemporal, w); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// createSemanticLinks links f to its top-K most similar facts by embedding,
// above a fixed similarity threshold.
func createSemanticLinks(ctx context.Context, store FactStore, cfg Config, f Fact) (int, error) {
	if len(f.Embedding) == 0 {
		return 0, nil
	}

	similar, err := store.SearchFactsVector(ctx, f.Embedding, cfg.LinkSemanticSearchLimit)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, s := range similar {
		if s.Fact.ID == f.ID || s.Score < cfg.LinkSemanticThreshold {
			continue
		}
		if err := store.CreateLink(ctx, f.ID, s.Fact.ID, LinkSemantic, s.Score); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// entityLinkWeight is the fixed binary-overlap weight assigned to every
// entity link: sharing a referenced entity is a yes/no signal, not graded.
const entityLinkWeight = 1.0

// createEntityLinks links f to every other fact sharing at least one of the
// given entity names, with a fixed binary-overlap weight.
func createEntityLinks(ctx context.Context, store FactStore, f Fact, entityNames []string) (int, error) {
	if len(entityNames) == 0 {
		return 0, nil
	}

	linked := make(map[int64]bool)
	count := 0
	for _, name := range entityNames {
		// -1 is SQLite's "no LIMIT" idiom; passing 0 here would match zero rows.
		sharing, err := store.GetFactsForEntity(ctx, name, -1)
		if err != nil {
			return count, err
		}
		for _, c := range sharing {
			if c.ID == f.ID || linked[c.ID] {
				continue
			}
			linked[c.ID] = true
			if err := store.CreateLink(ctx, f.ID, c.ID, LinkEntity, entityLinkWeight); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}
