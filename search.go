package memory

import (
	"sort"
	"strings"

	"github.com/orsinium-labs/stopwords"
)

var enStopwords = stopwords.MustGet("en")

// buildFTSQuery turns free text into an FTS5 MATCH expression: split on
// whitespace, drop stop words and single-character tokens, quote each
// remaining token (escaping internal quotes), and OR-join them. An input
// with no surviving tokens yields the empty string.
func buildFTSQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, w := range fields {
		w = strings.ToLower(strings.Trim(w, `"'`))
		if len(w) <= 1 || enStopwords.Contains(w) {
			continue
		}
		terms = append(terms, quoteFTSTerm(w))
	}
	return strings.Join(terms, " OR ")
}

// quoteFTSTerm wraps a token in double quotes for FTS5, escaping any
// embedded double quote by doubling it.
func quoteFTSTerm(term string) string {
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}

// rrfEntry is one item accumulating reciprocal-rank-fusion mass across
// multiple ranked lists, keyed by an arbitrary caller-chosen id.
type rrfEntry struct {
	id    int64
	score float64
}

// rrfMerge fuses any number of ranked id lists via reciprocal rank fusion:
// for each list and each item at (0-based) rank r, contribute
// 1/(k + r + 1) to that item's running total. Returns entries sorted by
// total score descending, ties broken by first-seen order.
func rrfMerge(k int, lists ...[]int64) []rrfEntry {
	scores := make(map[int64]float64)
	order := make([]int64, 0)
	for _, list := range lists {
		for r, id := range list {
			if _, seen := scores[id]; !seen {
				order = append(order, id)
			}
			scores[id] += 1.0 / float64(k+r+1)
		}
	}

	out := make([]rrfEntry, len(order))
	for i, id := range order {
		out[i] = rrfEntry{id: id, score: scores[id]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// rrfIDs is a convenience wrapper returning just the ordered ids.
func rrfIDs(k int, lists ...[]int64) []int64 {
	merged := rrfMerge(k, lists...)
	ids := make([]int64, len(merged))
	for i, e := range merged {
		ids[i] = e.id
	}
	return ids
}
