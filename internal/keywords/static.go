package keywords

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// StaticSource serves keyword pages from a fixed list, usually loaded from
// a YAML file:
//
//	pages:
//	  - pageId: p1
//	    title: Frontend notes
//	    keywords: [react, vue]
type StaticSource struct {
	pages []Page
}

type staticFile struct {
	Pages []Page `yaml:"pages"`
}

// NewStaticSource returns a source over pages.
func NewStaticSource(pages []Page) *StaticSource {
	return &StaticSource{pages: pages}
}

// LoadStaticSource reads pages from the YAML file at path. An empty path
// yields a source with no pages.
func LoadStaticSource(path string) (*StaticSource, error) {
	if path == "" {
		return NewStaticSource(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pages file: %w", err)
	}
	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pages file %s: %w", path, err)
	}
	for i, p := range f.Pages {
		if p.PageID == "" {
			return nil, fmt.Errorf("pages[%d]: pageId is required", i)
		}
	}
	return NewStaticSource(f.Pages), nil
}

// FetchPages returns the pages whose title contains query, ignoring case.
func (s *StaticSource) FetchPages(ctx context.Context, query string) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, ErrEmptyQuery
	}

	var out []Page
	for _, p := range s.pages {
		if strings.Contains(strings.ToLower(p.Title), q) {
			out = append(out, p)
		}
	}
	return out, nil
}
