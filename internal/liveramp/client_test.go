package liveramp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignite/signals-agent/internal/config"
	"github.com/ignite/signals-agent/internal/pkg/httpretry"
)

// newTokenServer returns an httptest server that answers the OAuth2 password
// grant and counts how many tokens it issued.
func newTokenServer(t *testing.T, issued *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("token request parse: %v", err)
		}
		if r.FormValue("grant_type") != "password" {
			t.Errorf("expected password grant, got %q", r.FormValue("grant_type"))
		}
		n := atomic.AddInt32(issued, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": fmt.Sprintf("tok-%d", n),
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
}

func newTestConfig(segmentsURL, tokenURL string) config.LiveRampConfig {
	return config.LiveRampConfig{
		BaseURL:        segmentsURL,
		TokenURL:       tokenURL,
		ClientID:       "test-client",
		SecretKey:      "test-secret",
		AccountID:      "test-account",
		OwnerOrg:       "org-1",
		TimeoutSeconds: 5,
	}
}

func segmentJSON(id, name string) map[string]interface{} {
	return map[string]interface{}{"id": id, "name": name}
}

func TestFetchPagePaginatesAndTerminates(t *testing.T) {
	var issued int32
	tokenSrv := newTokenServer(t, &issued)
	defer tokenSrv.Close()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("unexpected auth header %q", got)
		}
		if got := r.Header.Get("LR-Org-Id"); got != "org-1" {
			t.Errorf("unexpected org header %q", got)
		}
		resp := map[string]interface{}{}
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			if r.URL.Query().Get("after") != "" {
				t.Errorf("first page must not carry a cursor, got %q", r.URL.Query().Get("after"))
			}
			resp["v3_Segments"] = []interface{}{segmentJSON("a", "One"), segmentJSON("b", "Two")}
			resp["_pagination"] = map[string]string{"after": "cursor-2"}
		default:
			if r.URL.Query().Get("after") != "cursor-2" {
				t.Errorf("second page must carry cursor-2, got %q", r.URL.Query().Get("after"))
			}
			resp["v3_Segments"] = []interface{}{segmentJSON("c", "Three")}
			// no _pagination: end of catalog
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(newTestConfig(server.URL, tokenSrv.URL), NewNormalizer(0, 0))
	ctx := context.Background()

	page1, err := client.FetchPage(ctx, "", 100)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page1.Records) != 2 || page1.NextCursor != "cursor-2" {
		t.Fatalf("unexpected first page: %d records, cursor %q", len(page1.Records), page1.NextCursor)
	}

	page2, err := client.FetchPage(ctx, page1.NextCursor, 100)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page2.Records) != 1 {
		t.Fatalf("unexpected second page: %d records", len(page2.Records))
	}
	if page2.NextCursor != "" {
		t.Error("absent cursor must signal end of catalog")
	}
	if atomic.LoadInt32(&issued) != 1 {
		t.Errorf("token must be cached across pages, issued %d", issued)
	}
}

func TestFetchPageRateLimitRepeatsSameCursor(t *testing.T) {
	var issued int32
	tokenSrv := newTokenServer(t, &issued)
	defer tokenSrv.Close()

	var cursors []string
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursors = append(cursors, r.URL.Query().Get("after"))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"v3_Segments": []interface{}{segmentJSON("a", "One")},
		})
	}))
	defer server.Close()

	client := NewClient(newTestConfig(server.URL, tokenSrv.URL), NewNormalizer(0, 0))
	page, err := client.FetchPage(context.Background(), "cursor-7", 100)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Records) != 1 {
		t.Fatalf("expected 1 record after rate-limit retry, got %d", len(page.Records))
	}
	if len(cursors) != 2 || cursors[0] != "cursor-7" || cursors[1] != "cursor-7" {
		t.Errorf("rate-limited page must be retried with the same cursor, got %v", cursors)
	}
}

func TestFetchPageReauthenticatesOnceOnAuthExpiry(t *testing.T) {
	var issued int32
	tokenSrv := newTokenServer(t, &issued)
	defer tokenSrv.Close()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-2" {
			t.Errorf("retry must carry the fresh token, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"v3_Segments": []interface{}{segmentJSON("a", "One")},
		})
	}))
	defer server.Close()

	client := NewClient(newTestConfig(server.URL, tokenSrv.URL), NewNormalizer(0, 0))
	page, err := client.FetchPage(context.Background(), "", 100)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Records) != 1 {
		t.Fatalf("expected page after re-auth, got %d records", len(page.Records))
	}
	if atomic.LoadInt32(&issued) != 2 {
		t.Errorf("expected exactly one re-authentication, issued %d tokens", issued)
	}
}

func TestFetchPagePersistentAuthRejectionFails(t *testing.T) {
	var issued int32
	tokenSrv := newTokenServer(t, &issued)
	defer tokenSrv.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(newTestConfig(server.URL, tokenSrv.URL), NewNormalizer(0, 0))
	if _, err := client.FetchPage(context.Background(), "", 100); err == nil {
		t.Fatal("expected error after auth rejected twice")
	}
	if atomic.LoadInt32(&issued) != 2 {
		t.Errorf("expected exactly two token fetches, got %d", issued)
	}
}

func TestFetchPageClampsPageSize(t *testing.T) {
	var issued int32
	tokenSrv := newTokenServer(t, &issued)
	defer tokenSrv.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "100" {
			t.Errorf("page size must be clamped to the partner cap, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"v3_Segments": []interface{}{}})
	}))
	defer server.Close()

	client := NewClient(newTestConfig(server.URL, tokenSrv.URL), NewNormalizer(0, 0))
	page, err := client.FetchPage(context.Background(), "", 100000)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Records) != 0 || page.NextCursor != "" {
		t.Error("empty page must come back empty with no cursor")
	}
}

func TestFetchPageTransientErrorsRetryThenSurface(t *testing.T) {
	var issued int32
	tokenSrv := newTokenServer(t, &issued)
	defer tokenSrv.Close()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(newTestConfig(server.URL, tokenSrv.URL), NewNormalizer(0, 0))
	// Small budget so the test stays fast.
	client.SetHTTPClient(httpretry.NewRetryClient(&http.Client{Timeout: time.Second}, 1))

	if _, err := client.FetchPage(context.Background(), "", 100); err == nil {
		t.Fatal("expected page-level failure after retry budget exhausted")
	}
	if n := atomic.LoadInt32(&calls); n < 2 {
		t.Errorf("expected retries before surfacing failure, got %d calls", n)
	}
}
