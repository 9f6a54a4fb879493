// Package keywords holds keyword pages, cluster results and the
// deterministic frequency ranker used when model clustering is unavailable.
package keywords

import "errors"

// Page source errors. Their messages are shown to end users verbatim.
var (
	ErrEmptyQuery     = errors.New("search text is empty")
	ErrNoMatchingPage = errors.New("no matching page found")
)

// ErrSchemaViolation marks model output that does not match the cluster
// result schema. Its detail is for logs only.
var ErrSchemaViolation = errors.New("cluster result schema violation")

// MaxTopKeywords bounds ClusterResult.TopKeywords.
const MaxTopKeywords = 10

// Page is one keyword page fetched for a query. Keywords are raw, not
// normalized.
type Page struct {
	PageID   string   `json:"pageId" yaml:"pageId"`
	Title    string   `json:"title" yaml:"title"`
	Keywords []string `json:"keywords" yaml:"keywords"`
}

// ClusterResult is the outcome of clustering a set of pages.
// Meta.ClustersFound is zero exactly when Clusters is empty.
type ClusterResult struct {
	Meta        Meta           `json:"meta"`
	Clusters    []Cluster      `json:"clusters"`
	TopKeywords []KeywordCount `json:"topKeywords"`
}

type Meta struct {
	TotalPages    int `json:"totalPages"`
	ClustersFound int `json:"clustersFound"`
}

// Cluster groups related keywords and the pages they came from.
type Cluster struct {
	Name     string    `json:"name"`
	Keywords []string  `json:"keywords"`
	Pages    []PageRef `json:"pages"`
}

type PageRef struct {
	PageID string `json:"pageId"`
	Title  string `json:"title"`
}

type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// IsFallback reports whether r carries no clusters.
func (r ClusterResult) IsFallback() bool {
	return len(r.Clusters) == 0
}
