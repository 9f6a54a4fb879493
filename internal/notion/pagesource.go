package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/taskflow/internal/keywords"
)

// maxQueryBatches caps pagination at 1000 pages per query.
const maxQueryBatches = 10

// PageSource reads keyword pages from a Notion database whose pages carry
// a title and a multi-select keywords property.
type PageSource struct {
	client           *Client
	databaseID       string
	titleProperty    string
	keywordsProperty string
}

// NewPageSource returns a source over databaseID.
func NewPageSource(client *Client, databaseID, titleProperty, keywordsProperty string) *PageSource {
	return &PageSource{
		client:           client,
		databaseID:       databaseID,
		titleProperty:    titleProperty,
		keywordsProperty: keywordsProperty,
	}
}

// FetchPages returns the pages whose title contains query.
func (s *PageSource) FetchPages(ctx context.Context, query string) ([]keywords.Page, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, keywords.ErrEmptyQuery
	}

	filter := map[string]interface{}{
		"property": s.titleProperty,
		"title":    map[string]string{"contains": q},
	}
	results, err := s.client.queryDatabase(ctx, s.databaseID, filter, maxQueryBatches)
	if err != nil {
		if IsNotFound(err) {
			return nil, keywords.ErrNoMatchingPage
		}
		return nil, fmt.Errorf("query keyword pages: %w", err)
	}

	pages := make([]keywords.Page, 0, len(results))
	for _, r := range results {
		if r.Archived {
			continue
		}
		pages = append(pages, keywords.Page{
			PageID:   r.ID,
			Title:    readTitle(r.Properties[s.titleProperty]),
			Keywords: readMultiSelect(r.Properties[s.keywordsProperty]),
		})
	}
	return pages, nil
}

type plainText struct {
	PlainText string `json:"plain_text"`
}

func readTitle(raw json.RawMessage) string {
	var prop struct {
		Title []plainText `json:"title"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &prop) != nil {
		return ""
	}
	var b strings.Builder
	for _, t := range prop.Title {
		b.WriteString(t.PlainText)
	}
	return b.String()
}

func readMultiSelect(raw json.RawMessage) []string {
	var prop struct {
		MultiSelect []named `json:"multi_select"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &prop) != nil {
		return []string{}
	}
	out := make([]string, 0, len(prop.MultiSelect))
	for _, o := range prop.MultiSelect {
		out = append(out, o.Name)
	}
	return out
}
