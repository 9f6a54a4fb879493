package keywords

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?```$")

// StripFences removes an optional markdown code fence around model output.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// rawResult mirrors ClusterResult with pointers so absent members can be
// told apart from empty ones.
type rawResult struct {
	Meta        *Meta          `json:"meta"`
	Clusters    *[]rawCluster  `json:"clusters"`
	TopKeywords []KeywordCount `json:"topKeywords"`
}

type rawCluster struct {
	Name     string    `json:"name"`
	Keywords []string  `json:"keywords"`
	Pages    []PageRef `json:"pages"`
}

// ParseClusterResult decodes and validates model output against pages.
//
// Every cluster needs a name, at least one keyword and at least one page
// reference to a supplied page; at least one cluster is required. Page
// titles are taken from pages. Meta and TopKeywords are recomputed from
// pages so they do not depend on the model's arithmetic.
//
// All failures wrap ErrSchemaViolation.
func ParseClusterResult(raw string, pages []Page) (ClusterResult, error) {
	var parsed rawResult
	dec := json.NewDecoder(strings.NewReader(StripFences(raw)))
	if err := dec.Decode(&parsed); err != nil {
		return ClusterResult{}, violation("invalid JSON: %v", err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return ClusterResult{}, violation("trailing data after JSON")
	}

	if parsed.Clusters == nil {
		return ClusterResult{}, violation("missing clusters")
	}
	if len(*parsed.Clusters) == 0 {
		return ClusterResult{}, violation("no clusters")
	}
	if len(parsed.TopKeywords) > MaxTopKeywords {
		return ClusterResult{}, violation("topKeywords has %d entries (max %d)", len(parsed.TopKeywords), MaxTopKeywords)
	}
	for i, kc := range parsed.TopKeywords {
		if kc.Count < 1 {
			return ClusterResult{}, violation("topKeywords[%d] count %d < 1", i, kc.Count)
		}
	}

	titles := make(map[string]string, len(pages))
	for _, p := range pages {
		titles[p.PageID] = p.Title
	}

	clusters := make([]Cluster, 0, len(*parsed.Clusters))
	for i, rc := range *parsed.Clusters {
		c, err := validateCluster(rc, titles)
		if err != nil {
			return ClusterResult{}, violation("clusters[%d]: %v", i, err)
		}
		clusters = append(clusters, c)
	}

	return ClusterResult{
		Meta:        Meta{TotalPages: len(pages), ClustersFound: len(clusters)},
		Clusters:    clusters,
		TopKeywords: RankKeywords(pages, MaxTopKeywords),
	}, nil
}

func validateCluster(rc rawCluster, titles map[string]string) (Cluster, error) {
	name := strings.TrimSpace(rc.Name)
	if name == "" {
		return Cluster{}, fmt.Errorf("empty name")
	}

	seen := make(map[string]bool, len(rc.Keywords))
	kws := make([]string, 0, len(rc.Keywords))
	for _, kw := range rc.Keywords {
		n := NormalizeKeyword(kw)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		kws = append(kws, n)
	}
	if len(kws) == 0 {
		return Cluster{}, fmt.Errorf("no keywords")
	}

	if len(rc.Pages) == 0 {
		return Cluster{}, fmt.Errorf("no page references")
	}
	refs := make([]PageRef, 0, len(rc.Pages))
	seenPages := make(map[string]bool, len(rc.Pages))
	for _, ref := range rc.Pages {
		title, ok := titles[ref.PageID]
		if !ok {
			return Cluster{}, fmt.Errorf("unknown page %q", ref.PageID)
		}
		if seenPages[ref.PageID] {
			continue
		}
		seenPages[ref.PageID] = true
		refs = append(refs, PageRef{PageID: ref.PageID, Title: title})
	}

	return Cluster{Name: name, Keywords: kws, Pages: refs}, nil
}

func violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSchemaViolation, fmt.Sprintf(format, args...))
}
