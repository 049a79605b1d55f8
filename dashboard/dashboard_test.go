package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/convo/store"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// stubExporter returns a fixed snapshot and counts calls.
type stubExporter struct {
	users []store.User
	err   error
	calls int
}

func (s *stubExporter) AllUsers(ctx context.Context) ([]store.User, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.users, nil
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func sampleUsers(t *testing.T) []store.User {
	t.Helper()
	return []store.User{
		{
			Identity: "u1", DisplayName: "Ada", Phone: "+14155550123",
			Searches: []store.SearchEntry{
				{Query: "go", ResultsCount: 3, CreatedAt: day(t, "2026-08-01")},
				{Query: "sqlite", ResultsCount: 3, CreatedAt: day(t, "2026-08-02")},
			},
			Chats: []store.ChatEntry{
				{UserMessage: "hi", BotResponse: "hello", CreatedAt: day(t, "2026-08-02")},
			},
		},
		{
			Identity: "u2", DisplayName: "Grace",
			Files: []store.FileEntry{
				{ID: "f1", FileRef: "r1", FileType: "image", CreatedAt: day(t, "2026-08-02")},
			},
		},
	}
}

func testServer(t *testing.T, exp store.Exporter, opts ...Option) *httptest.Server {
	t.Helper()
	s := NewServer(exp, time.Minute, opts...)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

// ---------------------------------------------------------------------------
// Aggregation
// ---------------------------------------------------------------------------

func TestComputeTotals(t *testing.T) {
	got := computeTotals(sampleUsers(t))
	want := Totals{Users: 2, Registered: 1, Searches: 2, Chats: 1, Files: 1}
	if got != want {
		t.Fatalf("totals = %+v, want %+v", got, want)
	}
}

func TestDailyActivity_ZeroFilled(t *testing.T) {
	users := sampleUsers(t)
	days := dailyActivity(users, day(t, "2026-07-31"), day(t, "2026-08-03"))
	if len(days) != 4 {
		t.Fatalf("days = %d, want 4", len(days))
	}
	if days[0].Date != "2026-07-31" || days[3].Date != "2026-08-03" {
		t.Fatalf("range = %s..%s", days[0].Date, days[3].Date)
	}
	// 2026-08-02 has one search, one chat, one file.
	d := days[2]
	if d.Searches != 1 || d.Chats != 1 || d.Files != 1 {
		t.Fatalf("2026-08-02 = %+v", d)
	}
	// Zero-filled edge day.
	if days[0].Searches != 0 || days[0].Chats != 0 || days[0].Files != 0 {
		t.Fatalf("2026-07-31 = %+v, want zeros", days[0])
	}
}

func TestDailyActivity_OutOfRangeIgnored(t *testing.T) {
	users := sampleUsers(t)
	days := dailyActivity(users, day(t, "2026-08-03"), day(t, "2026-08-04"))
	for _, d := range days {
		if d.Searches+d.Chats+d.Files != 0 {
			t.Fatalf("day %s should be empty: %+v", d.Date, d)
		}
	}
}

func TestDailyActivity_InvertedRange(t *testing.T) {
	if got := dailyActivity(nil, day(t, "2026-08-02"), day(t, "2026-08-01")); got != nil {
		t.Fatalf("inverted range = %v, want nil", got)
	}
}

func TestComputeEngagement_SortedByTotal(t *testing.T) {
	got := computeEngagement(sampleUsers(t))
	if len(got) != 2 {
		t.Fatalf("engagement = %d entries", len(got))
	}
	if got[0].Identity != "u1" || got[0].Total != 3 {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].Identity != "u2" || got[1].Total != 1 {
		t.Fatalf("second = %+v", got[1])
	}
}

// ---------------------------------------------------------------------------
// HTTP API
// ---------------------------------------------------------------------------

func TestAPI_Stats(t *testing.T) {
	srv := testServer(t, &stubExporter{users: sampleUsers(t)})
	var got Totals
	resp := getJSON(t, srv.URL+"/api/stats", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got.Users != 2 || got.Searches != 2 {
		t.Fatalf("stats = %+v", got)
	}
}

func TestAPI_ActivityRange(t *testing.T) {
	fixed := day(t, "2026-08-03")
	srv := testServer(t, &stubExporter{users: sampleUsers(t)},
		WithClock(func() time.Time { return fixed }))

	var got []DayActivity
	getJSON(t, srv.URL+"/api/activity?days=3", &got)
	if len(got) != 3 {
		t.Fatalf("days = %d, want 3", len(got))
	}
	if got[0].Date != "2026-08-01" || got[2].Date != "2026-08-03" {
		t.Fatalf("range = %s..%s", got[0].Date, got[2].Date)
	}
	if got[1].Searches != 1 || got[1].Chats != 1 || got[1].Files != 1 {
		t.Fatalf("2026-08-02 = %+v", got[1])
	}
}

func TestAPI_ActivityBadDays(t *testing.T) {
	srv := testServer(t, &stubExporter{})
	for _, q := range []string{"days=0", "days=-5", "days=abc"} {
		resp := getJSON(t, srv.URL+"/api/activity?"+q, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestAPI_Engagement(t *testing.T) {
	srv := testServer(t, &stubExporter{users: sampleUsers(t)})
	var got []Engagement
	getJSON(t, srv.URL+"/api/engagement", &got)
	if len(got) != 2 || got[0].Identity != "u1" {
		t.Fatalf("engagement = %+v", got)
	}
}

func TestAPI_Distribution(t *testing.T) {
	srv := testServer(t, &stubExporter{users: sampleUsers(t)})
	var got Distribution
	getJSON(t, srv.URL+"/api/distribution", &got)
	if got.Searches != 2 || got.Chats != 1 || got.Files != 1 {
		t.Fatalf("distribution = %+v", got)
	}
}

func TestAPI_StoreFailure(t *testing.T) {
	srv := testServer(t, &stubExporter{err: errors.New("db gone")})
	resp := getJSON(t, srv.URL+"/api/stats", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestAPI_IndexServed(t *testing.T) {
	srv := testServer(t, &stubExporter{})
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}
}

func TestAPI_Healthz(t *testing.T) {
	srv := testServer(t, &stubExporter{})
	resp := getJSON(t, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

// ---------------------------------------------------------------------------
// Snapshot cache
// ---------------------------------------------------------------------------

func TestCache_ServesWithinTTL(t *testing.T) {
	exp := &stubExporter{users: sampleUsers(t)}
	srv := testServer(t, exp)

	getJSON(t, srv.URL+"/api/stats", nil)
	getJSON(t, srv.URL+"/api/distribution", nil)
	getJSON(t, srv.URL+"/api/engagement", nil)

	if exp.calls != 1 {
		t.Fatalf("exporter calls = %d, want 1 (cached)", exp.calls)
	}
}

func TestCache_RefreshAfterExpiry(t *testing.T) {
	exp := &stubExporter{users: sampleUsers(t)}
	now := day(t, "2026-08-03")
	c := newSnapshotCache(exp, time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.get(ctx)
	c.get(ctx)
	if exp.calls != 1 {
		t.Fatalf("calls = %d, want 1", exp.calls)
	}

	now = now.Add(2 * time.Minute)
	c.get(ctx)
	if exp.calls != 2 {
		t.Fatalf("calls = %d after expiry, want 2", exp.calls)
	}
}

func TestCache_ServesStaleOnRefreshFailure(t *testing.T) {
	exp := &stubExporter{users: sampleUsers(t)}
	now := day(t, "2026-08-03")
	c := newSnapshotCache(exp, time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := c.get(ctx); err != nil {
		t.Fatal(err)
	}

	exp.err = errors.New("db gone")
	now = now.Add(2 * time.Minute)
	users, err := c.get(ctx)
	if err != nil {
		t.Fatalf("stale serve failed: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("stale users = %d", len(users))
	}
}

func TestCache_Invalidate(t *testing.T) {
	exp := &stubExporter{users: sampleUsers(t)}
	c := newSnapshotCache(exp, time.Hour)
	ctx := context.Background()

	c.get(ctx)
	c.invalidate()
	c.get(ctx)
	if exp.calls != 2 {
		t.Fatalf("calls = %d, want 2 after invalidate", exp.calls)
	}
}
