package postgres

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSanitizeQuery(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"auto", "auto"},
		{"luxury auto buyers", "luxury auto buyers"},
		{`"quoted" & phrase`, "quoted phrase"},
		{"wild* card?", "wild card"},
		{"a | b & !c", "a b c"},
		{"term:* <-> other", "term other"},
		{"(boolean) AND (operators) OR NOT", "boolean AND operators OR NOT"},
		{"", ""},
		{"'); DROP TABLE segments; --", "DROP TABLE segments"},
		{"   \t\n  ", ""},
	}
	for _, c := range cases {
		if got := sanitizeQuery(c.in); got != c.want {
			t.Errorf("sanitizeQuery(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeQueryCapsTermCount(t *testing.T) {
	long := strings.Repeat("term ", 500)
	got := sanitizeQuery(long)
	if n := len(strings.Fields(got)); n != maxQueryTerms {
		t.Errorf("expected %d terms, got %d", maxQueryTerms, n)
	}
}

func TestSearchRankedQueryShape(t *testing.T) {
	repo, mock := setupRepo(t)

	rows := segmentRows(true).AddRow(
		"a", "Luxury Auto Buyers", "", "Acme", "BEHAVIORAL",
		"{Automotive}", 5000000, 2.0, true, true, 2.5, false, nil, 0.42,
	)
	mock.ExpectQuery(`ts_rank.+plainto_tsquery\('english', \$1\).+ORDER BY relevance DESC, coverage_pct DESC NULLS LAST, segment_id ASC`).
		WithArgs("auto", 50).
		WillReturnRows(rows)

	out, err := repo.Search(context.Background(), SearchQuery{Text: "auto"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 1 || out[0].SegmentID != "a" {
		t.Fatalf("unexpected results: %+v", out)
	}
	if out[0].RelevanceScore != 0.42 {
		t.Errorf("relevance not scanned: %v", out[0].RelevanceScore)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSearchAdversarialTextIsSanitizedBeforeIndex(t *testing.T) {
	repo, mock := setupRepo(t)

	// The bound parameter must contain only the surviving bare terms.
	mock.ExpectQuery(`plainto_tsquery`).
		WithArgs("auto OR", 50).
		WillReturnRows(segmentRows(true))

	_, err := repo.Search(context.Background(), SearchQuery{Text: `auto!* | "OR"`})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSearchEmptyTextIsFilterOnlyScan(t *testing.T) {
	repo, mock := setupRepo(t)

	rows := segmentRows(false).AddRow(
		"c", "Travel Enthusiasts", "", "Acme", "",
		"{Travel}", 10000000, 4.0, true, false, nil, true, nil,
	)
	mock.ExpectQuery(`SELECT .+ FROM segments WHERE coverage_pct >= \$1 ORDER BY coverage_pct DESC NULLS LAST, segment_id ASC`).
		WithArgs(3.0, 50).
		WillReturnRows(rows)

	out, err := repo.Search(context.Background(), SearchQuery{MinCoverage: f64(3.0)})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 1 || out[0].SegmentID != "c" {
		t.Fatalf("unexpected results: %+v", out)
	}
}

func TestSearchSanitizedToNothingFallsBackToScan(t *testing.T) {
	repo, mock := setupRepo(t)

	// Pure operator soup sanitizes to "", so no tsquery may appear.
	mock.ExpectQuery(`SELECT .+ FROM segments ORDER BY coverage_pct DESC NULLS LAST, segment_id ASC`).
		WithArgs(50).
		WillReturnRows(segmentRows(false))

	out, err := repo.Search(context.Background(), SearchQuery{Text: `!&|*"()`})
	if err != nil {
		t.Fatalf("adversarial input must never raise: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty result, got %d", len(out))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSearchConjunctiveFilters(t *testing.T) {
	repo, mock := setupRepo(t)

	mock.ExpectQuery(`search_vector @@ query AND categories && \$1::text\[\] AND provider_name = ANY\(\$2::text\[\]\) AND COALESCE\(cpm_price, 0\) <= \$3 AND coverage_pct >= \$4`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 5.0, 1.0, "auto", 25).
		WillReturnRows(segmentRows(true))

	_, err := repo.Search(context.Background(), SearchQuery{
		Text:        "auto",
		Categories:  []string{"Automotive"},
		Providers:   []string{"Acme"},
		MaxCPM:      f64(5.0),
		MinCoverage: f64(1.0),
		Limit:       25,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
