package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TobiSchelling/scoopfeed/internal/classify"
	"github.com/TobiSchelling/scoopfeed/internal/collect"
	"github.com/TobiSchelling/scoopfeed/internal/config"
	"github.com/TobiSchelling/scoopfeed/internal/database"
	"github.com/TobiSchelling/scoopfeed/internal/llm"
)

// mockProvider implements llm.Provider for testing.
type mockProvider struct {
	response string
	err      error
	calls    atomic.Int32
}

func (m *mockProvider) Generate(_ context.Context, _ llm.Request) (string, error) {
	m.calls.Add(1)
	return m.response, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }
func (m *mockProvider) Name() string       { return "mock" }

type recordingPublisher struct {
	mu  sync.Mutex
	got []database.Article
}

func (r *recordingPublisher) Publish(_ context.Context, a []database.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, a...)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

// searchServer serves whatever items currently holds as a single page.
type searchServer struct {
	mu    sync.Mutex
	items []collect.RawItem
	srv   *httptest.Server
}

func newSearchServer(t *testing.T, items []collect.RawItem) *searchServer {
	t.Helper()
	s := &searchServer{items: items}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		json.NewEncoder(w).Encode(collect.SearchResponse{
			Total:   len(s.items),
			Start:   1,
			Display: len(s.items),
			Items:   s.items,
		})
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *searchServer) set(items []collect.RawItem) {
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func item(n int, title, desc string) collect.RawItem {
	return collect.RawItem{
		Title:       title,
		Description: desc,
		Link:        "https://n.news.naver.com/article/" + string(rune('a'+n)),
		PubDate:     time.Date(2026, 3, 1, 9, n, 0, 0, time.UTC).Format(time.RFC1123Z),
	}
}

// tenItems returns ten headlines, three of which are exclusive.
func tenItems() []collect.RawItem {
	var items []collect.RawItem
	for i := 0; i < 10; i++ {
		title := "일반 기사"
		switch i {
		case 2:
			title = "<b>[단독]</b> 검찰 수사"
		case 5:
			title = "[단독] 반도체 투자"
		case 8:
			title = "&lt;단독&gt; 야구 이적"
		}
		items = append(items, item(i, title, "요약"))
	}
	return items
}

func newTestPipeline(t *testing.T, db *database.DB, srv *searchServer, provider llm.Provider, pub *recordingPublisher) *Pipeline {
	t.Helper()
	fetcher := &collect.Fetcher{
		Client:   collect.NewSearchClient(srv.srv.URL, "id", "secret", 0, 5*time.Second),
		Filter:   collect.NewExclusiveFilter([]string{"[단독]", "<단독>"}, "contains"),
		Display:  100,
		MaxPages: 1,
	}
	p := NewWith(db, collect.NewCollectorWith(fetcher, nil), classify.New(provider, 10, false), nil, nil,
		Settings{ItemCap: 100, GroupSize: 3, PersistGroupSize: 2})
	if pub != nil {
		p.publisher = pub
	}
	return p
}

func TestRunStoresOnlyExclusives(t *testing.T) {
	db := openTestDB(t)
	srv := newSearchServer(t, tenItems())
	provider := &mockProvider{response: "Politics"}
	p := newTestPipeline(t, db, srv, provider, nil)

	r, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Found != 3 || r.Saved != 3 {
		t.Errorf("expected 3 found and saved, got %d and %d", r.Found, r.Saved)
	}
	if len(r.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(r.Outcomes))
	}
	for _, o := range r.Outcomes {
		if o.Persist != database.Inserted || o.Category != classify.Politics || o.Classification != classify.Classified {
			t.Errorf("unexpected outcome %+v", o)
		}
	}

	stored, err := db.ListArticles(database.ArticleFilter{Limit: 20})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected 3 stored articles, got %d", len(stored))
	}
	for i := 1; i < len(stored); i++ {
		if stored[i].PubDate.After(stored[i-1].PubDate) {
			t.Error("expected newest first")
		}
	}
	if stored[2].Title != "[단독] 검찰 수사" {
		t.Errorf("expected tags stripped, got %q", stored[2].Title)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	srv := newSearchServer(t, tenItems())
	provider := &mockProvider{response: "Society"}
	p := newTestPipeline(t, db, srv, provider, nil)

	if _, err := p.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	calls := provider.calls.Load()

	r, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if r.Saved != 0 || r.Unchanged != 3 {
		t.Errorf("expected 0 saved and 3 unchanged, got %d and %d", r.Saved, r.Unchanged)
	}
	if provider.calls.Load() != calls {
		t.Errorf("expected no classifier calls for unchanged articles, got %d more", provider.calls.Load()-calls)
	}
	if n, _ := db.CountArticles(database.ArticleFilter{}); n != 3 {
		t.Errorf("expected 3 rows, got %d", n)
	}
}

func TestRunUpdatesChangedTitleInPlace(t *testing.T) {
	db := openTestDB(t)
	items := tenItems()
	srv := newSearchServer(t, items)
	p := newTestPipeline(t, db, srv, &mockProvider{response: "IT"}, nil)

	first, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	ids := make(map[string]string)
	for _, o := range first.Outcomes {
		ids[o.Link] = o.ID
	}

	changed := append([]collect.RawItem(nil), items...)
	changed[5].Title = "[단독] 반도체 투자 확대"
	srv.set(changed)

	r, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if r.Updated != 1 || r.Unchanged != 2 {
		t.Errorf("expected 1 updated and 2 unchanged, got %d and %d", r.Updated, r.Unchanged)
	}

	a, err := db.FindArticle("", changed[5].Link)
	if err != nil || a == nil {
		t.Fatalf("expected stored article, got %v", err)
	}
	if a.Title != "[단독] 반도체 투자 확대" {
		t.Errorf("expected updated title, got %q", a.Title)
	}
	if a.ID != ids[changed[5].Link] {
		t.Errorf("expected id %s to be preserved, got %s", ids[changed[5].Link], a.ID)
	}
}

func TestRunClassifierFailureDefaultsToOther(t *testing.T) {
	db := openTestDB(t)
	srv := newSearchServer(t, tenItems())
	p := newTestPipeline(t, db, srv, &mockProvider{err: errors.New("connection refused")}, nil)

	r, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Saved != 3 {
		t.Errorf("expected 3 saved, got %d", r.Saved)
	}
	for _, o := range r.Outcomes {
		if o.Category != classify.Other || o.Classification != classify.Failed {
			t.Errorf("expected Other/failed, got %+v", o)
		}
	}
	uncategorized, _ := db.CountArticles(database.ArticleFilter{Category: string(classify.Other), NullCategory: true})
	if uncategorized != 3 {
		t.Errorf("expected 3 articles listed under Other, got %d", uncategorized)
	}
	for _, o := range r.Outcomes {
		a, _ := db.GetArticle(o.ID)
		if a == nil || a.Category != nil {
			t.Errorf("expected NULL category for failed classification, got %+v", a)
		}
	}
}

func TestRunReclassifiesAfterProviderRecovers(t *testing.T) {
	db := openTestDB(t)
	srv := newSearchServer(t, tenItems())
	provider := &mockProvider{err: errors.New("connection refused")}
	p := newTestPipeline(t, db, srv, provider, nil)

	if _, err := p.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	provider.err = nil
	provider.response = "Politics"
	r, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if provider.calls.Load() != 6 {
		t.Errorf("expected 3 more classifier calls after recovery, got %d total", provider.calls.Load())
	}
	if r.Reclassified != 3 || r.Saved != 0 || r.Updated != 0 {
		t.Errorf("expected 3 reclassified, got %+v", r)
	}
	for _, o := range r.Outcomes {
		a, _ := db.GetArticle(o.ID)
		if a.Category == nil || *a.Category != "Politics" {
			t.Errorf("expected Politics for %s, got %v", o.Link, a.Category)
		}
	}
	if n, _ := db.CountArticles(database.ArticleFilter{}); n != 3 {
		t.Errorf("expected 3 rows, got %d", n)
	}

	// Once classified, nothing goes back to the model.
	if _, err := p.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if provider.calls.Load() != 6 {
		t.Errorf("expected no calls for classified articles, got %d total", provider.calls.Load())
	}
}

func TestRunDuplicateLinksStoreOneRow(t *testing.T) {
	db := openTestDB(t)
	a := item(1, "[단독] 첫 보도", "초판")
	b := item(1, "[단독] 첫 보도 (종합)", "수정판")
	srv := newSearchServer(t, []collect.RawItem{a, b})
	p := newTestPipeline(t, db, srv, &mockProvider{response: "Economy"}, nil)

	r, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Saved != 1 {
		t.Errorf("expected 1 saved, got %d", r.Saved)
	}
	stored, _ := db.FindArticle("", a.Link)
	if stored == nil || stored.Title != "[단독] 첫 보도 (종합)" {
		t.Errorf("expected last occurrence to win, got %+v", stored)
	}
}

func TestRunClassifyLimit(t *testing.T) {
	db := openTestDB(t)
	srv := newSearchServer(t, tenItems())
	provider := &mockProvider{response: "Sports"}
	p := newTestPipeline(t, db, srv, provider, nil)

	r, err := p.Run(context.Background(), Options{ClassifyLimit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.calls.Load() != 1 {
		t.Errorf("expected 1 classifier call, got %d", provider.calls.Load())
	}
	if r.Saved != 3 {
		t.Errorf("expected all 3 saved, got %d", r.Saved)
	}
	skipped := 0
	for _, o := range r.Outcomes {
		if o.Classification == classify.Skipped {
			skipped++
		}
	}
	if skipped != 2 {
		t.Errorf("expected 2 skipped classifications, got %d", skipped)
	}
}

func TestRunClassifiesCappedArticlesOnLaterRun(t *testing.T) {
	db := openTestDB(t)
	srv := newSearchServer(t, tenItems())
	provider := &mockProvider{response: "Sports"}
	p := newTestPipeline(t, db, srv, provider, nil)

	if _, err := p.Run(context.Background(), Options{ClassifyLimit: 1}); err != nil {
		t.Fatalf("capped run: %v", err)
	}
	r, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("uncapped run: %v", err)
	}
	if provider.calls.Load() != 3 {
		t.Errorf("expected the 2 skipped articles to be classified, got %d calls total", provider.calls.Load())
	}
	if r.Unchanged != 1 || r.Reclassified != 2 {
		t.Errorf("expected 1 unchanged and 2 reclassified, got %d and %d", r.Unchanged, r.Reclassified)
	}
	counts, _ := db.GetCategoryCounts()
	if len(counts) != 1 || counts[0].Name != "Sports" || counts[0].Count != 3 {
		t.Errorf("unexpected category counts %+v", counts)
	}
}

func TestRunPublishesInsertedOnly(t *testing.T) {
	db := openTestDB(t)
	srv := newSearchServer(t, tenItems())
	pub := &recordingPublisher{}
	p := newTestPipeline(t, db, srv, &mockProvider{response: "Culture"}, pub)

	if _, err := p.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := p.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(pub.got) != 3 {
		t.Errorf("expected 3 published articles across runs, got %d", len(pub.got))
	}
}

func TestNewWithoutPublishersSkipsNotify(t *testing.T) {
	db := openTestDB(t)
	p := New(config.Default(), db, config.Secrets{})
	if p.publisher != nil {
		t.Fatalf("expected no publisher when none is enabled, got %T", p.publisher)
	}

	srv := newSearchServer(t, tenItems())
	p.collector = newTestPipeline(t, db, srv, nil, nil).collector
	r, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Saved != 3 {
		t.Errorf("expected 3 saved, got %d", r.Saved)
	}
	for _, s := range r.Steps {
		if s.Name == "Notify" {
			t.Errorf("expected no notify step, got %+v", s)
		}
	}
}

func TestRunNotConfigured(t *testing.T) {
	db := openTestDB(t)
	fetcher := &collect.Fetcher{Client: collect.NewSearchClient("http://unused", "", "", 0, time.Second)}
	p := NewWith(db, collect.NewCollectorWith(fetcher, nil), classify.New(nil, 10, false), nil, nil, Settings{})

	if p.IsConfigured() {
		t.Error("expected unconfigured pipeline")
	}
	r, err := p.Run(context.Background(), Options{})
	if !errors.Is(err, collect.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if len(r.Steps) != 1 || r.Steps[0].Err == nil {
		t.Errorf("expected failed collect step, got %+v", r.Steps)
	}
}

func TestSchedulerHonorsSetting(t *testing.T) {
	db := openTestDB(t)
	srv := newSearchServer(t, tenItems())
	p := newTestPipeline(t, db, srv, &mockProvider{response: "Politics"}, nil)
	s := &Scheduler{Pipeline: p, DB: db, Setting: database.CollectorSetting}

	if _, err := db.UpdateAPISetting(database.CollectorSetting, false, 0); err != nil {
		t.Fatalf("update setting: %v", err)
	}
	if s.RunOnce(context.Background()) {
		t.Error("expected inactive setting to block the run")
	}

	if _, err := db.UpdateAPISetting(database.CollectorSetting, true, 60); err != nil {
		t.Fatalf("update setting: %v", err)
	}
	if !s.RunOnce(context.Background()) {
		t.Error("expected first active check to run")
	}
	if s.RunOnce(context.Background()) {
		t.Error("expected second check within the interval to wait")
	}
	if n, _ := db.CountArticles(database.ArticleFilter{}); n != 3 {
		t.Errorf("expected 3 stored articles, got %d", n)
	}
}
