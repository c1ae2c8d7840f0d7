package memory

import (
	"context"
	"testing"
	"time"
)

func TestDreamClusterCount_FloorsAtFour(t *testing.T) {
	if got := dreamClusterCount(10, 50); got != 4 {
		t.Errorf("dreamClusterCount(10, 50) = %d, want 4 (floor)", got)
	}
}

func TestDreamClusterCount_ScalesWithN(t *testing.T) {
	// sqrt(400/10) = sqrt(40) ~= 6.32 -> 6
	if got := dreamClusterCount(400, 10); got != 6 {
		t.Errorf("dreamClusterCount(400, 10) = %d, want 6", got)
	}
}

func TestDreamClusterCount_CappedAtN(t *testing.T) {
	if got := dreamClusterCount(2, 1); got != 2 {
		t.Errorf("dreamClusterCount(2, 1) = %d, want capped at n=2", got)
	}
}

func TestKMeansCluster_SeparatesDistinctGroups(t *testing.T) {
	facts := []Fact{
		{ID: 1, Embedding: []float32{1, 0, 0, 0}},
		{ID: 2, Embedding: []float32{0.9, 0.1, 0, 0}},
		{ID: 3, Embedding: []float32{0, 1, 0, 0}},
		{ID: 4, Embedding: []float32{0, 0.9, 0.1, 0}},
	}
	assignments := kMeansCluster(facts, 2, 20, dreamPassSeed)
	if len(assignments) != 4 {
		t.Fatalf("expected 4 assignments, got %d", len(assignments))
	}
	if assignments[0] != assignments[1] {
		t.Errorf("expected facts 1 and 2 (near-identical embeddings) in the same cluster")
	}
	if assignments[2] != assignments[3] {
		t.Errorf("expected facts 3 and 4 (near-identical embeddings) in the same cluster")
	}
	if assignments[0] == assignments[2] {
		t.Errorf("expected the two distinct groups to land in different clusters")
	}
}

func TestKMeansCluster_DeterministicAcrossRuns(t *testing.T) {
	facts := []Fact{
		{ID: 1, Embedding: []float32{1, 0, 0}},
		{ID: 2, Embedding: []float32{0.8, 0.2, 0}},
		{ID: 3, Embedding: []float32{0, 1, 0}},
		{ID: 4, Embedding: []float32{0, 0, 1}},
		{ID: 5, Embedding: []float32{0.1, 0, 0.9}},
	}
	a := kMeansCluster(facts, 3, 20, dreamPassSeed)
	b := kMeansCluster(facts, 3, 20, dreamPassSeed)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("kMeansCluster not deterministic: run1=%v run2=%v", a, b)
		}
	}
}

func TestClusterCoreAndSupporters(t *testing.T) {
	facts := []Fact{
		{ID: 1, Embedding: []float32{1, 0}},
		{ID: 2, Embedding: []float32{0.9, 0.1}},
		{ID: 3, Embedding: []float32{0.5, 0.5}},
	}
	core, supporters := clusterCoreAndSupporters(facts, []int{0, 1, 2})
	if core < 0 || core >= len(facts) {
		t.Fatalf("core index out of range: %d", core)
	}
	if len(supporters) != 2 {
		t.Errorf("expected 2 supporters for a 3-member cluster, got %d", len(supporters))
	}
	for _, s := range supporters {
		if s == core {
			t.Errorf("core index %d should not also appear as a supporter", core)
		}
	}
}

func newDreamTestFacade(t *testing.T, gen Generator, minFacts int) (*Facade, *Storage) {
	t.Helper()
	s := newLinkTestStorage(t)
	cfg := DefaultConfig()
	cfg.DreamMinFacts = minFacts
	cfg.DreamInterval = time.Hour
	f := NewFacade(s, fixedEmbedder{v: []float32{1, 0, 0, 0}}, gen, nil, "test-model", cfg, nil)
	return f, s
}

func TestDreamPassIfDue_TooFewFactsIsNoop(t *testing.T) {
	f, s := newDreamTestFacade(t, &scriptedGenerator{}, 10)
	ctx := context.Background()

	if _, err := s.Create(ctx, Fact{Text: "only one fact", Embedding: []float32{1, 0, 0, 0}}); err != nil {
		t.Fatal(err)
	}

	did, err := f.dreamPassIfDue(ctx)
	if err != nil {
		t.Fatalf("dreamPassIfDue: %v", err)
	}
	if did {
		t.Error("expected no-op below DreamMinFacts")
	}
}

func TestDreamPassIfDue_RespectsIntervalSinceLastDream(t *testing.T) {
	f, s := newDreamTestFacade(t, &scriptedGenerator{}, 1)
	ctx := context.Background()

	if _, err := s.Create(ctx, Fact{Text: "a fact", Embedding: []float32{1, 0, 0, 0}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateDream(ctx, "bridge", "insight", nil, nil); err != nil {
		t.Fatal(err)
	}

	did, err := f.dreamPassIfDue(ctx)
	if err != nil {
		t.Fatalf("dreamPassIfDue: %v", err)
	}
	if did {
		t.Error("expected no-op when a dream ran recently, within DreamInterval")
	}
}

func TestProposeDreamPair_BuildsCandidateFromModelResponse(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"bridge":"shared structure","insight":"a derived insight"}`}}
	f, _ := newDreamTestFacade(t, gen, 1)
	ctx := context.Background()

	facts := []Fact{
		{ID: 10, Embedding: []float32{1, 0, 0, 0}},
		{ID: 11, Embedding: []float32{0.9, 0.1, 0, 0}},
		{ID: 12, Embedding: []float32{0, 1, 0, 0}},
		{ID: 13, Embedding: []float32{0, 0.9, 0.1, 0}},
	}
	candidate, ok := f.proposeDreamPair(ctx, facts, []int{0, 1}, []int{2, 3})
	if !ok {
		t.Fatal("expected a candidate to be produced")
	}
	if candidate.bridge != "shared structure" || candidate.insight != "a derived insight" {
		t.Errorf("unexpected candidate: %+v", candidate)
	}
	if len(candidate.sourceFactIDs) == 0 {
		t.Error("expected source fact ids to be recorded")
	}
}

func TestProposeDreamPair_EmptyResponseDeclines(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{}`}}
	f, _ := newDreamTestFacade(t, gen, 1)
	ctx := context.Background()

	facts := []Fact{
		{ID: 10, Embedding: []float32{1, 0, 0, 0}},
		{ID: 11, Embedding: []float32{0.9, 0.1, 0, 0}},
		{ID: 12, Embedding: []float32{0, 1, 0, 0}},
		{ID: 13, Embedding: []float32{0, 0.9, 0.1, 0}},
	}
	_, ok := f.proposeDreamPair(ctx, facts, []int{0, 1}, []int{2, 3})
	if ok {
		t.Error("expected no candidate when the model declines to propose a bridge")
	}
}

func TestSelectDreamCandidates_FiltersByModelSelection(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"selected_indices":[1],"reasoning":"only the second is novel"}`}}
	f, _ := newDreamTestFacade(t, gen, 1)
	ctx := context.Background()

	candidates := []dreamCandidate{
		{bridge: "generic", insight: "obvious"},
		{bridge: "novel", insight: "surprising"},
	}
	selected := f.selectDreamCandidates(ctx, candidates)
	if len(selected) != 1 || selected[0].bridge != "novel" {
		t.Errorf("expected only the selected candidate to survive, got %+v", selected)
	}
}

func TestSelectDreamCandidates_MalformedResponseKeepsNone(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`not json`}}
	f, _ := newDreamTestFacade(t, gen, 1)
	ctx := context.Background()

	selected := f.selectDreamCandidates(ctx, []dreamCandidate{{bridge: "a", insight: "b"}})
	if len(selected) != 0 {
		t.Errorf("expected no candidates selected on malformed response, got %d", len(selected))
	}
}
