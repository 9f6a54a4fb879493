package clustering

import (
	"encoding/json"
	"strings"

	"github.com/fyrsmithlabs/taskflow/internal/keywords"
)

const systemPrompt = `You group keywords collected from note pages into topical clusters.

Rules:
- Every cluster has a short descriptive name, at least one keyword and at least one page.
- Only reference pages by the pageId values given below.
- A keyword may appear in more than one cluster only if it clearly belongs to both.
- topKeywords lists at most 10 of the most frequent keywords with their occurrence counts.

Respond with a single JSON object and nothing else, using exactly this shape:
{
  "meta": {"totalPages": <int>, "clustersFound": <int>},
  "clusters": [
    {"name": "<string>", "keywords": ["<string>"], "pages": [{"pageId": "<string>", "title": "<string>"}]}
  ],
  "topKeywords": [{"keyword": "<string>", "count": <int>}]
}`

type promptPage struct {
	PageID   string   `json:"pageId"`
	Title    string   `json:"title"`
	Keywords []string `json:"keywords"`
}

// buildPrompt renders the clustering instructions followed by the pages as
// JSON lines.
func buildPrompt(pages []keywords.Page) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nPages:\n")
	for _, p := range pages {
		line, err := json.Marshal(promptPage{PageID: p.PageID, Title: p.Title, Keywords: p.Keywords})
		if err != nil {
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}
