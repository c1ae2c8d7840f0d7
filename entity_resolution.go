package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coregx/ahocorasick"
)

// resolveEntity implements the entity resolution algorithm (spec §4.5):
// gather candidates, score three signals, discard below the name-similarity
// floor, compute a composite score, and either reuse the best candidate (if
// it clears AUTO_MERGE) or create a new entity.
func (f *Facade) resolveEntity(ctx context.Context, name, entityType, sourceRef string) (int64, error) {
	embedding, err := f.embedder.EmbedOne(ctx, canonicalEntityString(name, entityType))
	if err != nil {
		return 0, fmt.Errorf("memory: embedding entity %q: %w", name, err)
	}

	candidates, err := f.gatherEntityCandidates(ctx, name, entityType, embedding)
	if err != nil {
		return 0, err
	}

	best, bestScore, err := f.scoreEntityCandidates(ctx, candidates, name, sourceRef)
	if err != nil {
		return 0, err
	}

	if best != nil && bestScore >= f.cfg.EntityResolutionAutoMerge {
		return best.ID, nil
	}

	created, err := f.store.CreateEntity(ctx, name, entityType, embedding, false)
	if err != nil {
		return 0, fmt.Errorf("memory: creating entity %q: %w", name, err)
	}
	return created.ID, nil
}

// gatherEntityCandidates collects up to CAND_LIMIT recently-updated entities
// of the same type plus the top CAND_LIMIT by vector similarity, deduplicated
// by id preserving order (recency-first).
func (f *Facade) gatherEntityCandidates(ctx context.Context, name, entityType string, embedding []float32) ([]Entity, error) {
	recent, err := f.store.ListEntitiesByType(ctx, entityType, f.cfg.EntityCandidatesLimit)
	if err != nil {
		return nil, fmt.Errorf("memory: listing entities by type: %w", err)
	}

	scored, err := f.store.SearchEntitiesVector(ctx, embedding, f.cfg.EntityCandidatesLimit)
	if err != nil {
		return nil, fmt.Errorf("memory: searching entities by vector: %w", err)
	}

	seen := make(map[int64]bool, len(recent)+len(scored))
	out := make([]Entity, 0, len(recent)+len(scored))
	for _, e := range recent {
		if e.EntityType != entityType || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	for _, se := range scored {
		if se.Entity.EntityType != entityType || seen[se.Entity.ID] {
			continue
		}
		seen[se.Entity.ID] = true
		out = append(out, se.Entity)
	}
	return out, nil
}

// scoreEntityCandidates computes the composite resolution score for each
// candidate and returns the best one, or (nil, -1) if none clear the
// name-similarity floor.
func (f *Facade) scoreEntityCandidates(ctx context.Context, candidates []Entity, name, sourceRef string) (*Entity, float64, error) {
	now := time.Now()
	var best *Entity
	bestScore := -1.0

	for i := range candidates {
		c := &candidates[i]
		nameSim := nameSimilarity(name, c.Name)
		if nameSim < f.cfg.EntityResolutionNameSimThreshold {
			continue
		}

		coOccurrence := 0.0
		if sourceRef != "" {
			overlap, err := f.store.GetEntitySourceOverlap(ctx, c.Name, sourceRef)
			if err != nil {
				return nil, 0, fmt.Errorf("memory: checking source overlap: %w", err)
			}
			if overlap {
				coOccurrence = 1.0
			}
		}

		temporal := f.cfg.EntityTemporalNeutral
		lastMention, err := f.store.GetEntityLastMention(ctx, c.Name)
		if err != nil {
			return nil, 0, fmt.Errorf("memory: getting entity last mention: %w", err)
		}
		if lastMention != nil {
			temporal = temporalProximityScore(*lastMention, now, f.cfg.EntityTemporalSigmaHours)
		}

		score := computeResolutionScore(nameSim, coOccurrence, temporal)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best, bestScore, nil
}

// computeResolutionScore combines the three resolution signals per spec
// §4.5's three-branch formula.
func computeResolutionScore(nameSim, coOccurrence, temporal float64) float64 {
	switch {
	case coOccurrence >= 0.8:
		return 0.7 + 0.3*nameSim
	case coOccurrence == 0:
		if nameSim >= 0.95 {
			return 0.5 + 0.2*temporal
		}
		return 0.3 * nameSim
	default:
		return 0.5*coOccurrence + 0.3*nameSim + 0.2*temporal
	}
}

// temporalProximityScore exponentially decays with the absolute distance in
// hours between now and the candidate's last mention.
func temporalProximityScore(lastMention, now time.Time, sigmaHours float64) float64 {
	hours := now.Sub(lastMention).Hours()
	if hours < 0 {
		hours = -hours
	}
	return decayExp(hours, sigmaHours)
}

// nameSimilarity scores two entity names: 1.0 on case-insensitive equality,
// a prefix bonus when one is a prefix of the other, the same bonus when the
// shorter name hits verbatim as a whole-word alias inside the longer one
// (caught via an Aho-Corasick scan, not just a prefix check -- e.g. "Snow"
// inside "Jon Snow"), else the character-level longest-common-subsequence
// ratio. The alias scan only ever raises the score over what lcsRatio alone
// would give; it never lowers it.
func nameSimilarity(a, b string) float64 {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la == lb {
		return 1.0
	}
	minLen, maxLen := len(la), len(lb)
	if minLen > maxLen {
		minLen, maxLen = maxLen, minLen
	}
	if maxLen == 0 {
		return 1.0
	}
	if strings.HasPrefix(lb, la) || strings.HasPrefix(la, lb) || aliasHit(la, lb) {
		return 0.7 + 0.3*float64(minLen)/float64(maxLen)
	}
	return lcsRatio(la, lb)
}

// aliasHit reports whether the shorter of la/lb appears as a whole-word
// substring inside the longer one. Builds a single-pattern Aho-Corasick
// automaton per call the same way the pack's entity dictionary scans
// narrative text for known aliases (KittClouds-Go-Machine-n's
// implicit-matcher package), but here the "dictionary" is just the other
// candidate name.
func aliasHit(la, lb string) bool {
	shorter, longer := la, lb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if shorter == "" || shorter == longer {
		return false
	}
	automaton, err := ahocorasick.NewBuilder().
		AddStrings([]string{shorter}).
		SetMatchKind(ahocorasick.LeftmostLongest).
		Build()
	if err != nil {
		return false
	}
	for _, m := range automaton.FindAllOverlapping([]byte(longer)) {
		if onNameWordBoundary(longer, m.Start, m.End) {
			return true
		}
	}
	return false
}

// onNameWordBoundary reports whether [start, end) in s is flanked by
// separators (or the string edges) rather than sitting inside a longer
// word, so "ob" cannot alias-match inside "bob".
func onNameWordBoundary(s string, start, end int) bool {
	if start > 0 && !isNameSeparator(rune(s[start-1])) {
		return false
	}
	if end < len(s) && !isNameSeparator(rune(s[end])) {
		return false
	}
	return true
}

func isNameSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '.', ',', '-', '_', '\'':
		return true
	default:
		return false
	}
}

// lcsRatio returns 2*|LCS(a,b)| / (len(a)+len(b)), the character-level
// longest-common-subsequence ratio.
func lcsRatio(a, b string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	n, m := len(ra), len(rb)
	prev := make([]int, m+1)
	curr := make([]int, m+1)
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcsLen := prev[m]
	return 2 * float64(lcsLen) / float64(n+m)
}

// canonicalEntityString is the text embedded for an entity: "<name> (<type>)".
func canonicalEntityString(name, entityType string) string {
	return fmt.Sprintf("%s (%s)", name, entityType)
}
