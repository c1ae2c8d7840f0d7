package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// dreamPassSeed fixes the k-means random source so dream-pass clustering is
// reproducible across runs given the same fact set, matching the original
// implementation's random.Random(42).
const dreamPassSeed = 42

type dreamCandidate struct {
	bridge        string
	insight       string
	sourceFactIDs []int64
}

type dreamPairProposal struct {
	Bridge  string `json:"bridge,omitempty"`
	Insight string `json:"insight,omitempty"`
}

var dreamPairSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"bridge":  map[string]any{"type": "string"},
		"insight": map[string]any{"type": "string"},
	},
	"additionalProperties": false,
}

const dreamPairPrompt = `You look at representative facts from two unrelated clusters of memory and look for a structural analogy between them — a "bridge" concept the two topics share, and a specific "insight" that follows from it.

If the clusters genuinely share nothing interesting, respond with an empty object {}. Do not force a connection.

Respond as JSON: {"bridge": "...", "insight": "..."} or {}`

type dreamSelection struct {
	SelectedIndices []int  `json:"selected_indices"`
	Reasoning       string `json:"reasoning,omitempty"`
}

var dreamSelectionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"selected_indices": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
		"reasoning":        map[string]any{"type": "string"},
	},
	"required":             []string{"selected_indices"},
	"additionalProperties": false,
}

const dreamSelectionPrompt = `You are given several candidate (bridge, insight) pairs, each derived from two clusters of memory. Select the indices of the ones that are genuinely novel and non-obvious — reject anything generic or trivially true.

Respond as JSON: {"selected_indices": [...], "reasoning": "..."}`

// dreamPassIfDue runs the dream pass if enough facts exist and enough time
// has passed since the last dream (§4.8.4, "optional, periodic").
func (f *Facade) dreamPassIfDue(ctx context.Context) (bool, error) {
	count, err := f.store.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("memory: counting facts: %w", err)
	}
	if count < int64(f.cfg.DreamMinFacts) {
		return false, nil
	}

	last, err := f.dreamStore.LastCreatedAt(ctx)
	if err != nil {
		return false, fmt.Errorf("memory: checking last dream time: %w", err)
	}
	if last != nil && time.Since(*last) < f.cfg.DreamInterval {
		return false, nil
	}

	return f.runDreamPass(ctx)
}

func (f *Facade) runDreamPass(ctx context.Context) (bool, error) {
	facts, err := f.store.ListAllWithEmbeddings(ctx)
	if err != nil {
		return false, fmt.Errorf("memory: listing embedded facts: %w", err)
	}
	var embedded []Fact
	for _, fa := range facts {
		if len(fa.Embedding) > 0 {
			embedded = append(embedded, fa)
		}
	}
	if len(embedded) < f.cfg.DreamMinFacts {
		return false, nil
	}

	k := dreamClusterCount(len(embedded), f.cfg.DreamClusterFactor)
	assignments := kMeansCluster(embedded, k, 20, dreamPassSeed)

	clusters := make([][]int, k)
	for i, c := range assignments {
		clusters[c] = append(clusters[c], i)
	}

	var candidates []dreamCandidate
	for i := 0; i < len(clusters); i++ {
		if len(clusters[i]) < 2 {
			continue
		}
		for j := i + 1; j < len(clusters); j++ {
			if len(clusters[j]) < 2 {
				continue
			}
			candidate, ok := f.proposeDreamPair(ctx, embedded, clusters[i], clusters[j])
			if ok {
				candidates = append(candidates, candidate)
			}
		}
	}
	if len(candidates) == 0 {
		return false, nil
	}

	selected := f.selectDreamCandidates(ctx, candidates)
	if len(selected) == 0 {
		return false, nil
	}

	for _, c := range selected {
		embedding, err := f.embedder.EmbedOne(ctx, c.bridge+" "+c.insight)
		if err != nil {
			f.log.Warn("dream pass: embedding dream failed", "err", err)
			embedding = nil
		}
		err = f.withWriteLock(func() error {
			_, err := f.dreamStore.Create(ctx, c.bridge, c.insight, c.sourceFactIDs, embedding)
			return err
		})
		if err != nil {
			return true, fmt.Errorf("memory: storing dream: %w", err)
		}
	}
	return true, nil
}

// proposeDreamPair picks each cluster's centroid-nearest fact as its "core"
// and the two most-similar in-cluster facts as "supporters", then asks the
// model for a bridge/insight between the two cores.
func (f *Facade) proposeDreamPair(ctx context.Context, facts []Fact, clusterA, clusterB []int) (dreamCandidate, bool) {
	coreA, supportersA := clusterCoreAndSupporters(facts, clusterA)
	coreB, supportersB := clusterCoreAndSupporters(facts, clusterB)

	prompt := fmt.Sprintf("Cluster A core fact: %s\n\nCluster B core fact: %s", facts[coreA].Text, facts[coreB].Text)
	messages := []ChatMessage{
		{Role: "system", Content: dreamPairPrompt},
		{Role: "user", Content: prompt},
	}
	content, err := f.gen.Complete(ctx, f.model, messages, dreamPairSchema, f.cfg.DreamTemperature)
	if err != nil {
		f.log.Warn("dream pass: model call failed", "err", err)
		return dreamCandidate{}, false
	}

	var proposal dreamPairProposal
	if err := json.Unmarshal([]byte(content), &proposal); err != nil {
		f.log.Warn("dream pass: malformed proposal", "err", err)
		return dreamCandidate{}, false
	}
	if proposal.Bridge == "" || proposal.Insight == "" {
		return dreamCandidate{}, false
	}

	sourceIDs := []int64{facts[coreA].ID, facts[coreB].ID}
	for _, idx := range append(supportersA, supportersB...) {
		sourceIDs = append(sourceIDs, facts[idx].ID)
	}
	return dreamCandidate{bridge: proposal.Bridge, insight: proposal.Insight, sourceFactIDs: sourceIDs}, true
}

// selectDreamCandidates evaluates all candidates in one batch call and
// returns the model's selected subset; on any failure, keep none (graceful
// degradation per §4.8.4).
func (f *Facade) selectDreamCandidates(ctx context.Context, candidates []dreamCandidate) []dreamCandidate {
	prompt := "Candidates:\n"
	for i, c := range candidates {
		prompt += fmt.Sprintf("[%d] bridge: %s | insight: %s\n", i, c.bridge, c.insight)
	}

	messages := []ChatMessage{
		{Role: "system", Content: dreamSelectionPrompt},
		{Role: "user", Content: prompt},
	}
	content, err := f.gen.Complete(ctx, f.model, messages, dreamSelectionSchema, f.cfg.DreamEvalTemperature)
	if err != nil {
		f.log.Warn("dream pass: selection call failed", "err", err)
		return nil
	}

	var selection dreamSelection
	if err := json.Unmarshal([]byte(content), &selection); err != nil {
		f.log.Warn("dream pass: malformed selection", "err", err)
		return nil
	}

	var out []dreamCandidate
	for _, idx := range selection.SelectedIndices {
		if idx >= 0 && idx < len(candidates) {
			out = append(out, candidates[idx])
		}
	}
	return out
}

// dreamClusterCount computes k = max(4, floor(sqrt(n / clusterFactor))).
func dreamClusterCount(n, clusterFactor int) int {
	if clusterFactor <= 0 {
		clusterFactor = 1
	}
	k := int(math.Sqrt(float64(n) / float64(clusterFactor)))
	if k < 4 {
		k = 4
	}
	if k > n {
		k = n
	}
	return k
}

// kMeansCluster runs k-means++ initialized k-means with cosine similarity
// over L2-normalized embeddings, returning a cluster index per fact.
func kMeansCluster(facts []Fact, k, iterations int, seed int64) []int {
	n := len(facts)
	if k > n {
		k = n
	}
	if k <= 0 {
		return make([]int, n)
	}

	vectors := make([][]float32, n)
	for i, fa := range facts {
		vectors[i] = normalize(fa.Embedding)
	}

	rng := rand.New(rand.NewSource(seed))
	centroids := kMeansPlusPlusInit(vectors, k, rng)

	assignments := make([]int, n)
	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, v := range vectors {
			best, bestSim := 0, -2.0
			for c, centroid := range centroids {
				sim := CosineSimilarity(v, centroid)
				if sim > bestSim {
					best, bestSim = c, sim
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		dim := len(vectors[0])
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for d, val := range v {
				sums[c][d] += float64(val)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			newCentroid := make([]float32, dim)
			for d := range newCentroid {
				newCentroid[d] = float32(sums[c][d] / float64(counts[c]))
			}
			centroids[c] = normalize(newCentroid)
		}

		if !changed && iter > 0 {
			break
		}
	}
	return assignments
}

// kMeansPlusPlusInit seeds k centroids using the k-means++ weighted
// distance-squared sampling strategy.
func kMeansPlusPlusInit(vectors [][]float32, k int, rng *rand.Rand) [][]float32 {
	centroids := make([][]float32, 0, k)
	first := vectors[rng.Intn(len(vectors))]
	centroids = append(centroids, first)

	for len(centroids) < k {
		weights := make([]float64, len(vectors))
		var total float64
		for i, v := range vectors {
			minDist := math.MaxFloat64
			for _, c := range centroids {
				d := 1 - CosineSimilarity(v, c)
				if d < minDist {
					minDist = d
				}
			}
			weights[i] = minDist * minDist
			total += weights[i]
		}
		if total == 0 {
			centroids = append(centroids, vectors[rng.Intn(len(vectors))])
			continue
		}
		target := rng.Float64() * total
		var cum float64
		chosen := len(vectors) - 1
		for i, w := range weights {
			cum += w
			if cum >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, vectors[chosen])
	}
	return centroids
}

// clusterCoreAndSupporters picks the cluster member nearest the cluster's
// mean embedding as the "core", and the two other members most similar to
// it as "supporters".
func clusterCoreAndSupporters(facts []Fact, cluster []int) (core int, supporters []int) {
	dim := len(facts[cluster[0]].Embedding)
	mean := make([]float64, dim)
	for _, idx := range cluster {
		for d, val := range facts[idx].Embedding {
			mean[d] += float64(val)
		}
	}
	meanVec := make([]float32, dim)
	for d := range meanVec {
		meanVec[d] = float32(mean[d] / float64(len(cluster)))
	}

	bestSim := -2.0
	for _, idx := range cluster {
		sim := CosineSimilarity(facts[idx].Embedding, meanVec)
		if sim > bestSim {
			bestSim, core = sim, idx
		}
	}

	type scored struct {
		idx int
		sim float64
	}
	var rest []scored
	for _, idx := range cluster {
		if idx == core {
			continue
		}
		rest = append(rest, scored{idx, CosineSimilarity(facts[idx].Embedding, facts[core].Embedding)})
	}
	for i := 0; i < len(rest); i++ {
		for j := i + 1; j < len(rest); j++ {
			if rest[j].sim > rest[i].sim {
				rest[i], rest[j] = rest[j], rest[i]
			}
		}
	}
	for i := 0; i < len(rest) && i < 2; i++ {
		supporters = append(supporters, rest[i].idx)
	}
	return core, supporters
}
