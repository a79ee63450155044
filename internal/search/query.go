package search

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Params configures a search.
type Params struct {
	Query string

	// Filters
	Categories []string // OR across categories, exact names
	OwnerID    string
	MinPages   int
	MaxPages   int

	Limit  int
	Offset int

	SortBy    string // "relevance", "title", "authors", "pages"
	SortOrder string // "asc", "desc"

	IncludeFacets bool
	Highlight     bool
}

// DefaultParams returns sensible defaults for query.
func DefaultParams(q string) Params {
	return Params{
		Query:         q,
		Limit:         20,
		SortBy:        "relevance",
		SortOrder:     "desc",
		IncludeFacets: true,
	}
}

// Result is one page of hits.
type Result struct {
	Query  string `json:"query"`
	Total  uint64 `json:"total"`
	TookMs int64  `json:"took_ms"`
	Hits   []Hit  `json:"hits"`
	Facets Facets `json:"facets,omitempty"`
}

// IDs returns the book IDs of the hits in rank order.
func (r *Result) IDs() []string {
	ids := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		ids[i] = h.ID
	}
	return ids
}

// Hit is a single matching book.
type Hit struct {
	ID         string            `json:"id"`
	Score      float64           `json:"score"`
	Title      string            `json:"title"`
	Authors    string            `json:"authors,omitempty"`
	OwnerID    string            `json:"owner_id,omitempty"`
	PageCount  int               `json:"page_count,omitempty"`
	Highlights map[string]string `json:"highlights,omitempty"`
}

// Facets holds category counts for the result set.
type Facets struct {
	Categories []FacetCount `json:"categories,omitempty"`
}

// FacetCount is a facet value and its count.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Search executes params against the index.
func (s *Index) Search(ctx context.Context, params Params) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if params.Limit <= 0 {
		params.Limit = 20
	}

	req := bleve.NewSearchRequestOptions(buildQuery(params), params.Limit, params.Offset, false)
	addSorting(req, params)

	if params.IncludeFacets {
		req.AddFacet("categories", bleve.NewFacetRequest("categories", categoryFacetSize))
	}
	if params.Highlight {
		req.Highlight = bleve.NewHighlight()
		req.Highlight.AddField("title")
		req.Highlight.AddField("authors")
	}
	req.Fields = []string{"title", "authors", "owner_id", "page_count"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	result := &Result{
		Query:  params.Query,
		Total:  res.Total,
		TookMs: res.Took.Milliseconds(),
		Hits:   make([]Hit, 0, len(res.Hits)),
	}
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		if v, ok := h.Fields["title"].(string); ok {
			hit.Title = v
		}
		if v, ok := h.Fields["authors"].(string); ok {
			hit.Authors = v
		}
		if v, ok := h.Fields["owner_id"].(string); ok {
			hit.OwnerID = v
		}
		if v, ok := h.Fields["page_count"].(float64); ok {
			hit.PageCount = int(v)
		}
		if len(h.Fragments) > 0 {
			hit.Highlights = make(map[string]string, len(h.Fragments))
			for field, fragments := range h.Fragments {
				if len(fragments) > 0 {
					hit.Highlights[field] = fragments[0]
				}
			}
		}
		result.Hits = append(result.Hits, hit)
	}

	if f, ok := res.Facets["categories"]; ok && f.Terms != nil {
		for _, term := range f.Terms.Terms() {
			result.Facets.Categories = append(result.Facets.Categories, FacetCount{Value: term.Term, Count: term.Count})
		}
	}
	return result, nil
}

// categoryFacetSize is large enough to return every known category.
const categoryFacetSize = 32

// buildQuery matches title and authors with fuzzy and prefix help on the title,
// ANDed with the filters.
func buildQuery(params Params) query.Query {
	var queries []query.Query

	if q := strings.TrimSpace(params.Query); q != "" {
		titleMatch := bleve.NewMatchQuery(q)
		titleMatch.SetField("title")
		titleMatch.SetBoost(3.0)

		authorsMatch := bleve.NewMatchQuery(q)
		authorsMatch.SetField("authors")
		authorsMatch.SetBoost(2.0)

		descMatch := bleve.NewMatchQuery(q)
		descMatch.SetField("description")
		descMatch.SetBoost(0.5)

		fuzzy := bleve.NewFuzzyQuery(strings.ToLower(q))
		fuzzy.SetFuzziness(1)
		fuzzy.SetField("title")
		fuzzy.SetBoost(0.8)

		text := []query.Query{titleMatch, authorsMatch, descMatch, fuzzy}
		if len(q) >= 2 {
			prefix := bleve.NewPrefixQuery(strings.ToLower(q))
			prefix.SetField("title")
			prefix.SetBoost(0.5)
			text = append(text, prefix)
		}
		queries = append(queries, bleve.NewDisjunctionQuery(text...))
	}

	if len(params.Categories) > 0 {
		cats := make([]query.Query, len(params.Categories))
		for i, c := range params.Categories {
			tq := bleve.NewTermQuery(c)
			tq.SetField("categories")
			cats[i] = tq
		}
		queries = append(queries, bleve.NewDisjunctionQuery(cats...))
	}

	if params.OwnerID != "" {
		tq := bleve.NewTermQuery(params.OwnerID)
		tq.SetField("owner_id")
		queries = append(queries, tq)
	}

	if params.MinPages > 0 || params.MaxPages > 0 {
		lo := float64(params.MinPages)
		hi := float64(params.MaxPages)
		if params.MaxPages == 0 {
			hi = math.MaxFloat64
		}
		rq := bleve.NewNumericRangeInclusiveQuery(&lo, &hi, boolPtr(true), boolPtr(true))
		rq.SetField("page_count")
		queries = append(queries, rq)
	}

	switch len(queries) {
	case 0:
		return bleve.NewMatchAllQuery()
	case 1:
		return queries[0]
	default:
		return bleve.NewConjunctionQuery(queries...)
	}
}

func boolPtr(b bool) *bool { return &b }

func addSorting(req *bleve.SearchRequest, params Params) {
	desc := params.SortOrder == "desc"
	field := func(name string) string {
		if desc {
			return "-" + name
		}
		return name
	}

	switch params.SortBy {
	case "title":
		req.SortBy([]string{field("title")})
	case "authors":
		req.SortBy([]string{field("authors"), field("title")})
	case "pages":
		req.SortBy([]string{field("page_count")})
	default:
		req.SortBy([]string{"-_score"})
	}
}
