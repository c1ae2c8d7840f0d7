package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// hybridSearchFacts runs the RRF-fused vector+FTS search over facts and
// returns ids ranked by fused score, along with each id's RRF score.
func hybridSearchFacts(ctx context.Context, store FactStore, cfg Config, queryText string, queryEmbedding []float32, seedLimit int) ([]int64, map[int64]float64, error) {
	overfetch := seedLimit * cfg.RRFOverfetchFactor

	var vectorIDs, ftsIDs []int64
	if len(queryEmbedding) > 0 {
		scored, err := store.SearchFactsVector(ctx, queryEmbedding, overfetch)
		if err != nil {
			return nil, nil, fmt.Errorf("memory: vector searching facts: %w", err)
		}
		for _, s := range scored {
			vectorIDs = append(vectorIDs, s.Fact.ID)
		}
	}
	if queryText != "" {
		facts, err := store.SearchFactsFTS(ctx, queryText, overfetch)
		if err != nil {
			return nil, nil, fmt.Errorf("memory: FTS searching facts: %w", err)
		}
		for _, f := range facts {
			ftsIDs = append(ftsIDs, f.ID)
		}
	}

	merged := rrfMerge(cfg.RRFK, vectorIDs, ftsIDs)
	ids := make([]int64, len(merged))
	scores := make(map[int64]float64, len(merged))
	for i, e := range merged {
		ids[i] = e.id
		scores[e.id] = e.score
	}
	return ids, scores, nil
}

// hybridSearchObservations mirrors hybridSearchFacts for observations.
func hybridSearchObservations(ctx context.Context, store ObservationStore, cfg Config, queryText string, queryEmbedding []float32, seedLimit int) ([]int64, map[int64]float64, error) {
	overfetch := seedLimit * cfg.RRFOverfetchFactor

	var vectorIDs, ftsIDs []int64
	if len(queryEmbedding) > 0 {
		scored, err := store.SearchVector(ctx, queryEmbedding, overfetch)
		if err != nil {
			return nil, nil, fmt.Errorf("memory: vector searching observations: %w", err)
		}
		for _, s := range scored {
			vectorIDs = append(vectorIDs, s.Observation.ID)
		}
	}
	if queryText != "" {
		obs, err := store.SearchFTS(ctx, queryText, overfetch)
		if err != nil {
			return nil, nil, fmt.Errorf("memory: FTS searching observations: %w", err)
		}
		for _, o := range obs {
			ftsIDs = append(ftsIDs, o.ID)
		}
	}

	merged := rrfMerge(cfg.RRFK, vectorIDs, ftsIDs)
	ids := make([]int64, len(merged))
	scores := make(map[int64]float64, len(merged))
	for i, e := range merged {
		ids[i] = e.id
		scores[e.id] = e.score
	}
	return ids, scores, nil
}

// retrieveObservations implements Phase 1 of retrieve_with_observations:
// hybrid search, decay/recency scoring, top-K by final score (§4.9).
func retrieveObservations(ctx context.Context, obsStore ObservationStore, cfg Config, queryText string, queryEmbedding []float32, seedLimit int, queryTime *time.Time) ([]Observation, error) {
	ids, rrfScores, err := hybridSearchObservations(ctx, obsStore, cfg, queryText, queryEmbedding, seedLimit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	batch, err := obsStore.GetBatch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("memory: batch loading observations: %w", err)
	}

	now := time.Now()
	type scored struct {
		obs   Observation
		score float64
	}
	var ranked []scored
	for _, id := range ids {
		o, ok := batch[id]
		if !ok {
			continue
		}
		base := rrfScores[id]
		d := decayScore(o.LastAccessedAt, o.AccessCount, now, cfg.MemoryDecayRate)
		r := recencyBoost(o.UpdatedAt, queryTime, cfg.RecencySigmaHours)
		ranked = append(ranked, scored{obs: o, score: base * d * r})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	limit := cfg.RecallObservationLimit
	if limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]Observation, limit)
	for i := 0; i < limit; i++ {
		out[i] = ranked[i].obs
	}
	return out, nil
}

// bundleSources implements Phase 2: for each observation, fetch its last
// BUNDLED_DISPLAY_LIMIT source facts, and return the union of all bundled
// fact ids (the Phase-3 exclusion set) alongside the per-observation map.
func bundleSources(ctx context.Context, factStore FactStore, cfg Config, observations []Observation) (map[int64][]Fact, map[int64]bool, error) {
	bundled := make(map[int64][]Fact, len(observations))
	excluded := make(map[int64]bool)

	for _, o := range observations {
		ids := o.SourceFactIDs
		if len(ids) > cfg.BundledDisplayLimit {
			ids = ids[len(ids)-cfg.BundledDisplayLimit:]
		}
		if len(ids) == 0 {
			continue
		}
		batch, err := factStore.GetBatch(ctx, ids)
		if err != nil {
			return nil, nil, fmt.Errorf("memory: batch loading bundled source facts: %w", err)
		}
		facts := make([]Fact, 0, len(ids))
		for _, id := range ids {
			if f, ok := batch[id]; ok {
				facts = append(facts, f)
				excluded[id] = true
			}
		}
		bundled[o.ID] = facts
	}
	return bundled, excluded, nil
}

// factCandidate accumulates a fact's base score from whichever
// expansion stage produced it, for the fallback (non-reranked) scoring path.
type factCandidate struct {
	fact     Fact
	baseSeed float64 // RRF score, if a seed
	idfMax   float64 // max IDF weight across contributing entities, if from entity expansion
	querySim float64 // cosine similarity to query embedding, if from entity or temporal expansion
	temporal float64 // base score from temporal-vector expansion
	isSeed   bool
	isEntity bool
	isTemporal bool
}

// retrieveFacts implements Phase 3 (retrieve_facts): hybrid search, entity
// expansion, temporal-vector expansion, optional reranking, and final
// decay/recency scoring (§4.9).
func retrieveFacts(ctx context.Context, f *Facade, queryText string, queryEmbedding []float32, seedLimit int, queryTime *time.Time) ([]Fact, error) {
	store := f.store
	cfg := f.cfg

	ids, rrfScores, err := hybridSearchFacts(ctx, store, cfg, queryText, queryEmbedding, seedLimit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seedIDs := ids
	if len(seedIDs) > seedLimit {
		seedIDs = seedIDs[:seedLimit]
	}

	candidates := make(map[int64]*factCandidate)
	for _, id := range seedIDs {
		candidates[id] = &factCandidate{baseSeed: rrfScores[id], isSeed: true}
	}

	if err := entityExpand(ctx, store, cfg, seedIDs, queryEmbedding, candidates); err != nil {
		return nil, err
	}

	if queryTime != nil {
		if err := temporalVectorExpand(ctx, store, cfg, *queryTime, queryEmbedding, candidates); err != nil {
			return nil, err
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	allIDs := make([]int64, 0, len(candidates))
	for id := range candidates {
		allIDs = append(allIDs, id)
	}
	batch, err := store.GetBatch(ctx, allIDs)
	if err != nil {
		return nil, fmt.Errorf("memory: batch loading candidate facts: %w", err)
	}
	for id, c := range candidates {
		if fact, ok := batch[id]; ok {
			c.fact = fact
		} else {
			delete(candidates, id)
		}
	}

	baseScores := computeBaseScores(ctx, f.reranker, queryText, candidates)

	now := time.Now()
	type scored struct {
		fact  Fact
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for id, c := range candidates {
		base := baseScores[id]
		d := decayScore(c.fact.LastAccessedAt, c.fact.AccessCount, now, cfg.MemoryDecayRate)
		r := recencyBoost(timeOrZero(c.fact.HappenedAt, c.fact.CreatedAt), queryTime, cfg.RecencySigmaHours)
		ranked = append(ranked, scored{fact: c.fact, score: base * d * r})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	limit := cfg.EntityExpansionMaxFacts
	if limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]Fact, limit)
	for i := 0; i < limit; i++ {
		out[i] = ranked[i].fact
	}
	return out, nil
}

// computeBaseScores returns each candidate's base retrieval score: the
// reranker's score when it succeeds, otherwise the multi-signal fallback.
func computeBaseScores(ctx context.Context, reranker Reranker, queryText string, candidates map[int64]*factCandidate) map[int64]float64 {
	out := make(map[int64]float64, len(candidates))

	if reranker != nil {
		ids := make([]int64, 0, len(candidates))
		docs := make([]string, 0, len(candidates))
		for id, c := range candidates {
			ids = append(ids, id)
			docs = append(docs, c.fact.Text)
		}
		results, err := reranker.Rerank(ctx, queryText, docs)
		if err == nil && len(results) > 0 {
			for _, r := range results {
				if r.Index < 0 || r.Index >= len(ids) {
					continue
				}
				out[ids[r.Index]] = r.Score
			}
			// Any candidate the reranker didn't score falls back to 0, which
			// is correct: the reranker is authoritative when it succeeds.
			for _, id := range ids {
				if _, ok := out[id]; !ok {
					out[id] = 0
				}
			}
			return out
		}
	}

	for id, c := range candidates {
		switch {
		case c.isSeed:
			out[id] = c.baseSeed
		case c.isEntity:
			sim := c.querySim
			if sim < 0 {
				sim = 0
			}
			out[id] = c.idfMax * 0.5 * sim
		case c.isTemporal:
			out[id] = c.temporal
		default:
			out[id] = 0
		}
	}
	return out
}

// entityExpand implements the entity-expansion sub-stage: pull the
// canonical entities referenced by the seed facts, weight each by inverse
// document frequency, prune common entities below the IDF floor, and
// accumulate per-fact max IDF weight and query similarity.
func entityExpand(ctx context.Context, store FactStore, cfg Config, seedIDs []int64, queryEmbedding []float32, candidates map[int64]*factCandidate) error {
	entityIDsByFact, err := store.GetEntityIDsForFacts(ctx, seedIDs)
	if err != nil {
		return fmt.Errorf("memory: getting entity ids for seeds: %w", err)
	}

	entitySeen := make(map[int64]bool)
	for _, ids := range entityIDsByFact {
		for _, id := range ids {
			entitySeen[id] = true
		}
	}

	for entityID := range entitySeen {
		freq, err := store.CountEntityFactsByID(ctx, entityID)
		if err != nil {
			return fmt.Errorf("memory: counting entity facts: %w", err)
		}
		idf := 1.0 / math.Log2(float64(freq)+1)
		if idf < cfg.EntityExpansionIDFFloor {
			continue
		}

		facts, err := store.GetFactsForEntityID(ctx, entityID, cfg.EntityExpansionPerEntityLimit)
		if err != nil {
			return fmt.Errorf("memory: getting facts for entity: %w", err)
		}
		for _, fact := range facts {
			c, ok := candidates[fact.ID]
			if !ok {
				c = &factCandidate{}
				candidates[fact.ID] = c
			}
			c.isEntity = true
			if idf > c.idfMax {
				c.idfMax = idf
			}
			if len(queryEmbedding) > 0 && len(fact.Embedding) > 0 {
				sim := CosineSimilarity(queryEmbedding, fact.Embedding)
				if sim > c.querySim {
					c.querySim = sim
				}
			}
		}
	}

	if len(candidates) > cfg.EntityExpansionMaxFacts {
		trimCandidatesByWeight(candidates, cfg.EntityExpansionMaxFacts)
	}
	return nil
}

// trimCandidatesByWeight keeps only the top-N candidates by idfMax weight,
// always preserving seeds (they are never produced by entity expansion
// alone, so trimming is scoped to non-seed growth from this stage).
func trimCandidatesByWeight(candidates map[int64]*factCandidate, maxFacts int) {
	type kv struct {
		id     int64
		weight float64
		seed   bool
	}
	all := make([]kv, 0, len(candidates))
	for id, c := range candidates {
		all = append(all, kv{id: id, weight: c.idfMax, seed: c.isSeed})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].seed != all[j].seed {
			return all[i].seed
		}
		return all[i].weight > all[j].weight
	})
	if len(all) <= maxFacts {
		return
	}
	for _, kv := range all[maxFacts:] {
		if !kv.seed {
			delete(candidates, kv.id)
		}
	}
}

// temporalVectorExpand implements the temporal-vector-expansion sub-stage:
// fetch facts with happened_at nearest query_time, score by cosine
// similarity to the query embedding, keep the top-K.
func temporalVectorExpand(ctx context.Context, store FactStore, cfg Config, queryTime time.Time, queryEmbedding []float32, candidates map[int64]*factCandidate) error {
	const temporalOverfetch = 100
	facts, err := store.SearchFactsTemporal(ctx, queryTime, temporalOverfetch)
	if err != nil {
		return fmt.Errorf("memory: temporal searching facts: %w", err)
	}

	type scored struct {
		fact Fact
		sim  float64
	}
	var ranked []scored
	for _, fact := range facts {
		if len(fact.Embedding) == 0 || len(queryEmbedding) == 0 {
			continue
		}
		ranked = append(ranked, scored{fact: fact, sim: CosineSimilarity(queryEmbedding, fact.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })

	limit := cfg.TemporalExpansionLimit
	if limit > len(ranked) {
		limit = len(ranked)
	}
	for i := 0; i < limit; i++ {
		fact := ranked[i].fact
		c, ok := candidates[fact.ID]
		if !ok {
			c = &factCandidate{}
			candidates[fact.ID] = c
		}
		c.isTemporal = true
		c.temporal = ranked[i].sim * cfg.TemporalExpansionBaseScore
		c.querySim = ranked[i].sim
	}
	return nil
}

// timeOrZero returns happenedAt if set, otherwise fallback — the event
// time used by recencyBoost for a fact (happened_at when known, else when
// the fact was created).
func timeOrZero(happenedAt *time.Time, fallback time.Time) time.Time {
	if happenedAt != nil {
		return *happenedAt
	}
	return fallback
}

// retrieveWithObservations is the top-level entry point for recall (§4.9):
// hybrid-search observations, bundle their source facts, then retrieve
// standalone facts excluding anything already bundled.
func retrieveWithObservations(ctx context.Context, f *Facade, queryText string, queryEmbedding []float32, seedLimit int, queryTime *time.Time) (FactContext, error) {
	observations, err := retrieveObservations(ctx, f.obsStore, f.cfg, queryText, queryEmbedding, seedLimit, queryTime)
	if err != nil {
		return FactContext{}, err
	}

	bundled, excluded, err := bundleSources(ctx, f.store, f.cfg, observations)
	if err != nil {
		return FactContext{}, err
	}

	standalone, err := retrieveFacts(ctx, f, queryText, queryEmbedding, seedLimit, queryTime)
	if err != nil {
		return FactContext{}, err
	}

	filtered := make([]Fact, 0, len(standalone))
	for _, fact := range standalone {
		if excluded[fact.ID] {
			continue
		}
		filtered = append(filtered, fact)
	}
	if len(filtered) > f.cfg.RecallStandaloneFactLimit {
		filtered = filtered[:f.cfg.RecallStandaloneFactLimit]
	}

	return FactContext{Facts: filtered, Observations: observations, BundledSources: bundled}, nil
}
