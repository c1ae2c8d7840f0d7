package memory

import (
	"reflect"
	"testing"
)

func TestBuildFTSQuery_DropsStopwordsAndShortTokens(t *testing.T) {
	got := buildFTSQuery("the cat is a black cat")
	// "the", "is", "a" are stopwords or too short; "cat" appears twice.
	want := `"cat" OR "black" OR "cat"`
	if got != want {
		t.Errorf("buildFTSQuery = %q, want %q", got, want)
	}
}

func TestBuildFTSQuery_StripsSurroundingQuotes(t *testing.T) {
	got := buildFTSQuery(`say "hello"`)
	if got != `"say" OR "hello"` {
		t.Errorf("buildFTSQuery with quoted input = %q", got)
	}
}

func TestBuildFTSQuery_EmptyWhenNoSurvivingTokens(t *testing.T) {
	got := buildFTSQuery("the a is")
	if got != "" {
		t.Errorf("buildFTSQuery of all-stopwords = %q, want empty", got)
	}
}

func TestRRFMerge_SingleList(t *testing.T) {
	out := rrfIDs(60, []int64{10, 20, 30})
	if !reflect.DeepEqual(out, []int64{10, 20, 30}) {
		t.Errorf("rrfIDs single list = %v, want [10 20 30]", out)
	}
}

func TestRRFMerge_AgreementBoostsRank(t *testing.T) {
	// id 5 ranks low in list A but high in list B; it should still beat an
	// id that only appears once, near the top, in a single list.
	listA := []int64{1, 2, 3, 4, 5}
	listB := []int64{5, 6, 7, 8, 9}
	out := rrfIDs(60, listA, listB)

	pos := make(map[int64]int, len(out))
	for i, id := range out {
		pos[id] = i
	}
	if pos[5] >= pos[1] {
		t.Errorf("expected id 5 (appears in both lists) to outrank id 1 (appears in one); order=%v", out)
	}
}

func TestRRFMerge_EmptyInput(t *testing.T) {
	out := rrfMerge(60)
	if len(out) != 0 {
		t.Errorf("rrfMerge with no lists = %v, want empty", out)
	}
}
