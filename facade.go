package memory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Facade is the engine's single public entry point: it owns the storage
// layer, the external adapters, and the background consolidation loop, and
// serializes every mutation behind one process-wide write lock (§5).
type Facade struct {
	store      FactStore
	obsStore   ObservationStore
	dreamStore DreamStore
	checkpoint TemporalCheckpointStore

	embedder Embedder
	gen      Generator
	reranker Reranker // optional; nil disables reranking

	cfg   Config
	model string // language-model name passed to gen.Complete
	log   Logger

	writeMu sync.Mutex // process-wide write lock (§5)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFacade builds a Facade over an already-open Storage. model names the
// language model passed to every Generator.Complete call; reranker may be
// nil to disable the optional reranking stage.
func NewFacade(storage *Storage, embedder Embedder, gen Generator, reranker Reranker, model string, cfg Config, log Logger) *Facade {
	if log == nil {
		log = NoopLogger()
	}
	return &Facade{
		store:      storage,
		obsStore:   ObservationStorage{storage},
		dreamStore: DreamStorage{storage},
		checkpoint: storage,
		embedder:   embedder,
		gen:        gen,
		reranker:   reranker,
		cfg:        cfg,
		model:      model,
		log:        log,
	}
}

// Remember embeds text, inserts a fact while holding the write lock,
// resolves the extracted entities, creates links, and returns the result
// (§4.7). The embedding call happens outside the write lock; only the
// database phases hold it. Each storage step commits on its own: a failure
// after the fact is inserted is logged and returned, and the steps already
// committed are not rolled back.
func (f *Facade) Remember(ctx context.Context, text, sourceType, sourceRef string, factType FactType, happenedAt *time.Time) (RememberResult, error) {
	embedding, err := f.embedder.EmbedOne(ctx, text)
	if err != nil {
		f.log.Warn("remember: embedding failed, storing fact without embedding", "err", err)
		embedding = nil
	}

	extraction := extractLogged(ctx, f.gen, f.model, text, f.log)

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	fact, err := f.store.Create(ctx, Fact{
		Text: text, FactType: factType, Embedding: embedding,
		SourceType: sourceType, SourceRef: sourceRef, HappenedAt: happenedAt,
	})
	if err != nil {
		f.log.Warn("remember: creating fact failed", "err", err)
		return RememberResult{}, fmt.Errorf("memory: remember: creating fact: %w", err)
	}

	var entityNames []string
	seen := make(map[string]bool)
	for _, e := range extraction.Entities {
		key := e.Name + "\x00" + e.EntityType
		if seen[key] {
			continue
		}
		seen[key] = true

		entityID, err := f.resolveEntity(ctx, e.Name, e.EntityType, sourceRef)
		if err != nil {
			f.log.Warn("remember: resolving entity failed", "fact_id", fact.ID, "entity", e.Name, "err", err)
			return RememberResult{}, fmt.Errorf("memory: remember: resolving entity %q: %w", e.Name, err)
		}
		id := entityID
		if _, err := f.store.AddEntityRef(ctx, fact.ID, e.Name, e.EntityType, &id); err != nil {
			f.log.Warn("remember: adding entity ref failed", "fact_id", fact.ID, "entity", e.Name, "err", err)
			return RememberResult{}, fmt.Errorf("memory: remember: adding entity ref: %w", err)
		}
		entityNames = append(entityNames, e.Name)
	}

	linksCreated, err := createLinksForFact(ctx, f.store, f.cfg, fact, entityNames)
	if err != nil {
		f.log.Warn("remember: creating links failed", "fact_id", fact.ID, "err", err)
		return RememberResult{}, fmt.Errorf("memory: remember: creating links: %w", err)
	}

	return RememberResult{Fact: fact, LinksCreated: linksCreated, EntitiesExtracted: entityNames}, nil
}

// Recall retrieves a structured context for query, embedding the query text
// first (§4.9). seedLimit defaults to RecallSearchLimit when <= 0.
func (f *Facade) Recall(ctx context.Context, query string, seedLimit int, queryTime *time.Time) (FactContext, error) {
	if seedLimit <= 0 {
		seedLimit = f.cfg.RecallSearchLimit
	}

	var queryEmbedding []float32
	if query != "" {
		embedding, err := f.embedder.EmbedOne(ctx, query)
		if err != nil {
			f.log.Warn("recall: embedding failed, falling back to lexical-only search", "err", err)
		} else {
			queryEmbedding = embedding
		}
	}

	ctxResult, err := retrieveWithObservations(ctx, f, query, queryEmbedding, seedLimit, queryTime)
	if err != nil {
		return FactContext{}, err
	}

	f.reinforceRetrieved(ctx, ctxResult)
	return ctxResult, nil
}

// reinforceRetrieved bumps access bookkeeping for everything recall
// returned: standalone facts, observations, and each observation's
// supporting facts (§4.7: "for each returned observation, reinforce it and
// reinforce its supporting facts"). Fire-and-forget: retrieval does not
// wait on its own writes (§5's "no atomic self-observation" note).
func (f *Facade) reinforceRetrieved(ctx context.Context, result FactContext) {
	factIDs := make([]int64, 0, len(result.Facts))
	for _, fa := range result.Facts {
		factIDs = append(factIDs, fa.ID)
	}
	obsIDs := make([]int64, 0, len(result.Observations))
	for _, o := range result.Observations {
		obsIDs = append(obsIDs, o.ID)
		factIDs = append(factIDs, o.SourceFactIDs...)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := f.store.Reinforce(ctx, factIDs); err != nil {
		f.log.Warn("recall: reinforcing facts failed", "err", err)
	}
	if err := f.obsStore.Reinforce(ctx, obsIDs); err != nil {
		f.log.Warn("recall: reinforcing observations failed", "err", err)
	}
}

// GetContext returns the latest facts referencing the canonical "User"
// entity and, separately, the most recent facts globally — a helper for
// callers pre-populating a static prompt section (§4.7).
func (f *Facade) GetContext(ctx context.Context, userLimit, recentLimit int) (userFacts, recentFacts []Fact, err error) {
	userFacts, err = f.store.GetFactsForEntity(ctx, "User", userLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("memory: get_context: user facts: %w", err)
	}
	recentFacts, err = f.store.ListRecent(ctx, recentLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("memory: get_context: recent facts: %w", err)
	}
	return userFacts, recentFacts, nil
}

// Forget embeds query, takes the top ForgetSearchLimit facts by vector
// similarity, deletes every one whose similarity is >= ForgetSimilarityThreshold,
// and returns the deletion count (§4.7: "delete every fact whose similarity
// >= 0.8; return the deletion count").
func (f *Facade) Forget(ctx context.Context, query string) (int, error) {
	embedding, err := f.embedder.EmbedOne(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("memory: forget: embedding query: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	matches, err := f.store.SearchFactsVector(ctx, embedding, f.cfg.ForgetSearchLimit)
	if err != nil {
		return 0, fmt.Errorf("memory: forget: searching facts: %w", err)
	}

	var deleted int
	for _, m := range matches {
		if m.Score < f.cfg.ForgetSimilarityThreshold {
			continue
		}
		if err := f.store.Delete(ctx, m.Fact.ID); err != nil {
			return deleted, fmt.Errorf("memory: forget: deleting fact %d: %w", m.Fact.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

// MergeEntities maps names to entities, picks the canonical one (explicit
// choice else first found), and delegates to the fact store's MergeEntities.
func (f *Facade) MergeEntities(ctx context.Context, names []string, canonicalName string) (int, error) {
	if len(names) < 2 {
		return 0, fmt.Errorf("%w: merge_entities requires at least two names", ErrInvalidInput)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var ids []int64
	var canonicalID int64
	haveCanonical := false
	for _, name := range names {
		entity, err := f.store.GetEntityByName(ctx, name, "")
		if err != nil {
			return 0, fmt.Errorf("memory: merge_entities: looking up %q: %w", name, err)
		}
		if entity == nil {
			continue
		}
		ids = append(ids, entity.ID)
		if !haveCanonical && (canonicalName == "" || entity.Name == canonicalName) {
			canonicalID = entity.ID
			haveCanonical = true
		}
	}
	if len(ids) < 2 {
		return 0, fmt.Errorf("%w: fewer than two of the given names resolved to entities", ErrInvalidInput)
	}
	if !haveCanonical {
		canonicalID = ids[0]
	}

	mergeIDs := filterOut(ids, canonicalID)
	return f.store.MergeEntities(ctx, canonicalID, mergeIDs)
}

// withWriteLock runs fn while holding the process-wide write lock (§5). It
// brackets a single atomic store mutation; callers must finish every network
// call (embedding, language-model) before invoking it, never inside fn.
func (f *Facade) withWriteLock(fn func() error) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return fn()
}

// Count returns the total number of facts.
func (f *Facade) Count(ctx context.Context) (int64, error) {
	return f.store.Count(ctx)
}

// LinkCount returns the total number of fact links.
func (f *Facade) LinkCount(ctx context.Context) (int64, error) {
	return f.store.LinkCount(ctx)
}

// Clear deletes every fact, link, observation, and dream, returning the
// pre-deletion counts of facts, links, and observations (§4.7: "clear() →
// {facts, links, observations}"). Dreams are cleared too but are not part
// of the façade's documented return contract.
func (f *Facade) Clear(ctx context.Context) (facts, links, observations int64, err error) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	links, err = f.store.LinkCount(ctx)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("memory: clear: counting links: %w", err)
	}
	facts, err = f.store.ClearAll(ctx)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("memory: clear: facts: %w", err)
	}
	observations, err = f.obsStore.ClearAll(ctx)
	if err != nil {
		return facts, links, 0, fmt.Errorf("memory: clear: observations: %w", err)
	}
	if _, err = f.dreamStore.ClearAll(ctx); err != nil {
		return facts, links, observations, fmt.Errorf("memory: clear: dreams: %w", err)
	}
	return facts, links, observations, nil
}

// StartConsolidation launches the background consolidation loop as a
// goroutine. It sleeps cfg.ConsolidationInterval when an iteration does no
// work, doubles the sleep (capped at BackoffCapMultiplier×) on error, and
// resets to the base interval after any iteration that ends without error
// (§5's backpressure policy). Close cancels and awaits it.
func (f *Facade) StartConsolidation(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.wg.Add(1)

	go func() {
		defer f.wg.Done()
		interval := f.cfg.ConsolidationInterval
		base := interval
		backoffCap := base * time.Duration(f.cfg.BackoffCapMultiplier)

		for {
			if ctx.Err() != nil {
				return
			}

			_, err := f.consolidatePending(ctx)
			switch {
			case err != nil:
				f.log.Warn("consolidation iteration failed", "err", err)
				interval *= 2
				if interval > backoffCap {
					interval = backoffCap
				}
			default:
				interval = base
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}()
}

// Close cancels the consolidation loop (if running) and waits for its
// current iteration to finish.
func (f *Facade) Close() error {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	if s, ok := f.store.(*Storage); ok {
		return s.Close()
	}
	return nil
}
