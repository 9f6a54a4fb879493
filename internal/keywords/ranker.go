package keywords

import (
	"sort"
	"strings"
)

// NormalizeKeyword trims surrounding whitespace and lowercases s.
func NormalizeKeyword(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// RankKeywords counts every keyword occurrence across pages after
// normalization. Duplicates within one page count individually and empty
// keywords are dropped. The result is sorted by count descending, then
// keyword ascending, and holds at most limit entries. It is never nil.
func RankKeywords(pages []Page, limit int) []KeywordCount {
	counts := make(map[string]int)
	for _, p := range pages {
		for _, kw := range p.Keywords {
			if n := NormalizeKeyword(kw); n != "" {
				counts[n]++
			}
		}
	}

	ranked := make([]KeywordCount, 0, len(counts))
	for kw, c := range counts {
		ranked = append(ranked, KeywordCount{Keyword: kw, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Keyword < ranked[j].Keyword
	})

	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// BuildFallbackResult returns the cluster-free result for pages: page count,
// zero clusters and the top keywords by frequency.
func BuildFallbackResult(pages []Page) ClusterResult {
	return ClusterResult{
		Meta:        Meta{TotalPages: len(pages), ClustersFound: 0},
		Clusters:    []Cluster{},
		TopKeywords: RankKeywords(pages, MaxTopKeywords),
	}
}
