package postgres

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/ignite/signals-agent/internal/catalog"
	"github.com/lib/pq"
)

// SearchQuery is one catalog search: free text plus conjunctive filters.
// Empty free text with only filters is valid and returns a coverage-ranked
// scan.
type SearchQuery struct {
	Text        string
	Categories  []string
	Providers   []string
	MaxCPM      *float64
	MinCoverage *float64
	Limit       int
}

const maxQueryTerms = 32

// sanitizeQuery reduces free text to bare search terms before it reaches the
// index query parser. Quotes, wildcards, boolean operators and every other
// character with meaning to the query syntax are stripped, so no input
// string can produce a syntax error or unintended wildcard/boolean
// behavior. Only letters, digits and spaces survive.
func sanitizeQuery(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	terms := strings.Fields(b.String())
	if len(terms) > maxQueryTerms {
		terms = terms[:maxQueryTerms]
	}
	return strings.Join(terms, " ")
}

// Search answers free-text + filtered search against the committed catalog,
// ranked by index-native relevance descending, ties broken by coverage
// descending then segment_id ascending for determinism. Filters are applied
// as a conjunction on top of the text match. No network is involved.
func (r *CatalogRepo) Search(ctx context.Context, q SearchQuery) ([]catalog.SegmentRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	text := sanitizeQuery(q.Text)

	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	selectCols := segmentColumns
	orderBy := `coverage_pct DESC NULLS LAST, segment_id ASC`
	ranked := text != ""
	if ranked {
		selectCols += `, ts_rank(search_vector, query) AS relevance`
		conds = append(conds, `search_vector @@ query`)
		orderBy = `relevance DESC, coverage_pct DESC NULLS LAST, segment_id ASC`
	}

	if len(q.Categories) > 0 {
		conds = append(conds, `categories && `+arg(pq.Array(q.Categories))+`::text[]`)
	}
	if len(q.Providers) > 0 {
		conds = append(conds, `provider_name = ANY(`+arg(pq.Array(q.Providers))+`::text[])`)
	}
	if q.MaxCPM != nil {
		// Unpriced segments are free and therefore always within budget.
		conds = append(conds, `COALESCE(cpm_price, 0) <= `+arg(*q.MaxCPM))
	}
	if q.MinCoverage != nil {
		conds = append(conds, `coverage_pct >= `+arg(*q.MinCoverage))
	}

	from := `segments`
	if ranked {
		from += `, plainto_tsquery('english', ` + arg(text) + `) query`
	}

	where := ""
	if len(conds) > 0 {
		where = ` WHERE ` + strings.Join(conds, " AND ")
	}

	query := `SELECT ` + selectCols + ` FROM ` + from + where +
		` ORDER BY ` + orderBy + ` LIMIT ` + arg(limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search segments: %w", err)
	}
	defer rows.Close()

	var out []catalog.SegmentRecord
	for rows.Next() {
		var rec catalog.SegmentRecord
		if err := scanSegment(rows, &rec, ranked); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
