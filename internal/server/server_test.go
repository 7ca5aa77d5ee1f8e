package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/scoopfeed/internal/auth"
	"github.com/TobiSchelling/scoopfeed/internal/config"
	"github.com/TobiSchelling/scoopfeed/internal/database"
	"github.com/TobiSchelling/scoopfeed/internal/pipeline"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func seedArticle(t *testing.T, db *database.DB, id, title string, content *string) {
	t.Helper()
	a := &database.Article{
		ID:           id,
		Link:         "https://n.news.naver.com/" + id,
		OriginalLink: "https://press.example.com/" + id,
		Title:        title,
		Description:  "요약 " + title,
		PubDate:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Category:     ptr("Politics"),
	}
	if _, err := db.UpsertArticle(a); err != nil {
		t.Fatalf("seeding article: %v", err)
	}
	if content != nil {
		if err := db.UpdateArticleContent(id, content); err != nil {
			t.Fatalf("seeding content: %v", err)
		}
	}
}

// fakeRunner stores one article per run.
type fakeRunner struct {
	mu    sync.Mutex
	db    *database.DB
	t     *testing.T
	err   error
	calls int
}

func (f *fakeRunner) Run(_ context.Context, _ pipeline.Options) (*pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return &pipeline.Result{}, f.err
	}
	seedArticle(f.t, f.db, fmt.Sprintf("run-%d", f.calls), "[단독] 수집 기사", nil)
	return &pipeline.Result{Found: 1, Saved: 1, Elapsed: 1500 * time.Millisecond}, nil
}

func (f *fakeRunner) IsConfigured() bool { return true }

// recordingSender records magic link requests.
type recordingSender struct {
	emails []string
	err    error
}

func (r *recordingSender) SendLink(_ context.Context, email string, _ bool) error {
	r.emails = append(r.emails, email)
	return r.err
}

type testEnv struct {
	db     *database.DB
	srv    *Server
	runner *fakeRunner
	links  *recordingSender
	issuer *auth.Issuer
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db := openTestDB(t)
	env := &testEnv{
		db:     db,
		runner: &fakeRunner{db: db, t: t},
		links:  &recordingSender{},
		issuer: auth.NewIssuer("jwt-secret", time.Hour),
	}
	srv, err := New(Deps{
		DB:         db,
		Runner:     env.runner,
		Issuer:     env.issuer,
		Links:      env.links,
		CronSecret: "cron-secret",
		RateLimit:  config.RateLimit{RequestsPerSecond: 100, Burst: 100},
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	env.srv = srv
	return env
}

func (e *testEnv) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) adminToken(t *testing.T, super bool) string {
	t.Helper()
	email := fmt.Sprintf("admin-%v@example.com", super)
	hash, err := auth.HashPassword("password123")
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	if _, err := e.db.CreateAdmin(email, hash, super); err != nil {
		t.Fatalf("creating admin: %v", err)
	}
	rec := e.do("POST", "/api/admin/login", fmt.Sprintf(`{"email":%q,"password":"password123"}`, email), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct{ Token string }
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return "Bearer " + resp.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestHealth(t *testing.T) {
	env := newEnv(t)
	rec := env.do("GET", "/health", "", nil)
	if rec.Code != http.StatusOK || decode(t, rec)["status"] != "ok" {
		t.Errorf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestPreflight(t *testing.T) {
	env := newEnv(t)
	rec := env.do("OPTIONS", "/api/feedback", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header")
	}
}

func TestArticlesEmptyStoreIngests(t *testing.T) {
	env := newEnv(t)
	rec := env.do("GET", "/api/articles?page=1&pageSize=10&userEmail=reader@example.com", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if articles := body["articles"].([]any); len(articles) != 1 {
		t.Errorf("expected 1 article, got %d", len(articles))
	}
	pag := body["pagination"].(map[string]any)
	if pag["total"].(float64) != 1 || pag["pageSize"].(float64) != 10 {
		t.Errorf("unexpected pagination %v", pag)
	}
	if env.runner.calls != 1 {
		t.Errorf("expected 1 ingestion run, got %d", env.runner.calls)
	}

	logs, _ := env.db.GetUserLogs("reader@example.com", 10)
	if len(logs) != 1 || logs[0].Action != "view_articles" {
		t.Errorf("expected view_articles log, got %+v", logs)
	}
}

func TestArticlesBadParams(t *testing.T) {
	env := newEnv(t)
	for _, target := range []string{
		"/api/articles?page=0",
		"/api/articles?page=abc",
		"/api/articles?pageSize=500",
		"/api/articles?category=Weather",
	} {
		if rec := env.do("GET", target, "", nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestArticleLookup(t *testing.T) {
	env := newEnv(t)
	seedArticle(t, env.db, "a1", "[단독] 하나", nil)

	if rec := env.do("GET", "/api/article", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without id, got %d", rec.Code)
	}
	if rec := env.do("GET", "/api/article?id=missing", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	rec := env.do("GET", "/api/article?id=a1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	article := decode(t, rec)["article"].(map[string]any)
	if article["title"] != "[단독] 하나" || article["views"].(float64) != 1 {
		t.Errorf("unexpected article %v", article)
	}
}

func TestCategoriesAndStats(t *testing.T) {
	env := newEnv(t)
	seedArticle(t, env.db, "a1", "[단독] 하나", nil)

	rec := env.do("GET", "/api/categories", "", nil)
	cats := decode(t, rec)["categories"].([]any)
	if len(cats) != 1 || cats[0].(map[string]any)["name"] != "Politics" {
		t.Errorf("unexpected categories %v", cats)
	}

	rec = env.do("GET", "/api/stats", "", nil)
	stats := decode(t, rec)["stats"].(map[string]any)
	if stats["totalArticles"].(float64) != 1 {
		t.Errorf("unexpected stats %v", stats)
	}
}

func TestFeedback(t *testing.T) {
	env := newEnv(t)
	seedArticle(t, env.db, "a1", "[단독] 하나", nil)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"created", `{"articleId":"a1","userEmail":"r@example.com","userComment":"좋아요"}`, http.StatusCreated},
		{"missing email", `{"articleId":"a1"}`, http.StatusBadRequest},
		{"bad email", `{"articleId":"a1","userEmail":"nope"}`, http.StatusBadRequest},
		{"unknown article", `{"articleId":"zz","userEmail":"r@example.com"}`, http.StatusNotFound},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do("POST", "/api/feedback", tt.body, nil); rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}

	fb, _ := env.db.GetFeedbackForArticle("a1")
	if len(fb) != 1 || fb[0].UserComment != "좋아요" {
		t.Errorf("expected one stored feedback, got %+v", fb)
	}
}

func TestAuthSignupAndSignin(t *testing.T) {
	env := newEnv(t)

	rec := env.do("POST", "/api/auth", `{"email":"new@example.com","username":"기자","action":"signup"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("signup: expected 200, got %d", rec.Code)
	}
	u, _ := env.db.GetUser("new@example.com")
	if u == nil || u.Username != "기자" {
		t.Errorf("expected registered user, got %+v", u)
	}

	if rec := env.do("POST", "/api/auth", `{"email":"new@example.com","action":"signin"}`, nil); rec.Code != http.StatusOK {
		t.Errorf("signin: expected 200, got %d", rec.Code)
	}
	if len(env.links.emails) != 2 {
		t.Errorf("expected 2 links sent, got %d", len(env.links.emails))
	}

	for _, body := range []string{
		`{"email":"new@example.com","action":"signup"}`,
		`{"email":"new@example.com","action":"reset"}`,
		`{"email":"bad","action":"signin"}`,
	} {
		if rec := env.do("POST", "/api/auth", body, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestCronCollect(t *testing.T) {
	env := newEnv(t)

	if rec := env.do("POST", "/api/cron/collect-news", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without secret, got %d", rec.Code)
	}
	if rec := env.do("POST", "/api/cron/collect-news", "", map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong secret, got %d", rec.Code)
	}

	good := map[string]string{"Authorization": "Bearer cron-secret"}
	rec := env.do("POST", "/api/cron/collect-news", "", good)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["success"] != true || body["savedCount"].(float64) != 1 {
		t.Errorf("unexpected response %v", body)
	}

	if _, err := env.db.UpdateAPISetting(database.CollectorSetting, false, 0); err != nil {
		t.Fatalf("update setting: %v", err)
	}
	rec = env.do("POST", "/api/cron/collect-news", "", good)
	if body := decode(t, rec); body["skipped"] != true {
		t.Errorf("expected skipped run, got %v", body)
	}
	if env.runner.calls != 1 {
		t.Errorf("expected 1 run, got %d", env.runner.calls)
	}
}

func TestRefreshArticles(t *testing.T) {
	env := newEnv(t)

	if rec := env.do("POST", "/api/refresh-articles", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	token := env.adminToken(t, false)
	rec := env.do("POST", "/api/refresh-articles", "", map[string]string{"Authorization": token})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["articlesSaved"].(float64) != 1 || body["timeElapsed"] != "1.5s" {
		t.Errorf("unexpected response %v", body)
	}

	env.runner.err = errors.New("upstream down")
	rec = env.do("GET", "/api/refresh-articles", "", map[string]string{"Authorization": "Bearer cron-secret"})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on failed run, got %d", rec.Code)
	}
}

func TestAdminLoginRejectsBadPassword(t *testing.T) {
	env := newEnv(t)
	env.adminToken(t, true)
	rec := env.do("POST", "/api/admin/login", `{"email":"admin-true@example.com","password":"wrong-pass"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAdminSettings(t *testing.T) {
	env := newEnv(t)
	regular := env.adminToken(t, false)
	super := env.adminToken(t, true)

	if rec := env.do("GET", "/api/admin/api-settings", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if rec := env.do("GET", "/api/admin/api-settings", "", map[string]string{"Authorization": regular}); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for regular admin, got %d", rec.Code)
	}

	rec := env.do("PUT", "/api/admin/api-settings",
		`{"apiName":"naver_news_collector","isActive":false,"runInterval":30}`,
		map[string]string{"Authorization": super})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	s, _ := env.db.GetAPISetting(database.CollectorSetting)
	if s.IsActive || s.RunInterval != 30 {
		t.Errorf("expected inactive with 30 minute interval, got %+v", s)
	}

	rec = env.do("GET", "/api/admin/api-settings", "", map[string]string{"Authorization": super})
	if settings := decode(t, rec)["settings"].([]any); len(settings) != 1 {
		t.Errorf("expected 1 setting, got %d", len(settings))
	}
}

func TestAdminUsers(t *testing.T) {
	env := newEnv(t)
	regular := env.adminToken(t, false)
	super := env.adminToken(t, true)
	env.db.RegisterUser("a@example.com", "a")
	env.db.RegisterUser("b@example.com", "b")

	rec := env.do("GET", "/api/admin/users?pageSize=1", "", map[string]string{"Authorization": regular})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if pag := body["pagination"].(map[string]any); pag["total"].(float64) != 2 || pag["totalPages"].(float64) != 2 {
		t.Errorf("unexpected pagination %v", pag)
	}

	if rec := env.do("DELETE", "/api/admin/users?email=a@example.com", "", map[string]string{"Authorization": regular}); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for regular admin, got %d", rec.Code)
	}
	if rec := env.do("DELETE", "/api/admin/users?email=a@example.com", "", map[string]string{"Authorization": super}); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec := env.do("DELETE", "/api/admin/users?email=a@example.com", "", map[string]string{"Authorization": super}); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	db := openTestDB(t)
	srv, err := New(Deps{DB: db, RateLimit: config.RateLimit{RequestsPerSecond: 0.001, Burst: 2}})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/api/feedback", strings.NewReader(`{}`))
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusBadRequest || codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected 400, 400, 429; got %v", codes)
	}

	req := httptest.NewRequest("POST", "/api/feedback", strings.NewReader(`{}`))
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected a different client to pass, got %d", rec.Code)
	}
}

func TestRateLimitIgnoresForwardedForByDefault(t *testing.T) {
	db := openTestDB(t)
	srv, err := New(Deps{DB: db, RateLimit: config.RateLimit{RequestsPerSecond: 0.001, Burst: 1}})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	var codes []int
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/api/feedback", strings.NewReader(`{}`))
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[1] != http.StatusTooManyRequests {
		t.Errorf("expected rotating X-Forwarded-For to be ignored, got %v", codes)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if got := clientIP(req, false); got != "10.0.0.1" {
		t.Errorf("expected remote address, got %q", got)
	}
	if got := clientIP(req, true); got != "203.0.113.7" {
		t.Errorf("expected forwarded address behind a proxy, got %q", got)
	}
}

func TestIndexPage(t *testing.T) {
	env := newEnv(t)
	seedArticle(t, env.db, "a1", "[단독] 첫 화면", nil)

	rec := env.do("GET", "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "[단독] 첫 화면") || !strings.Contains(body, "/article/a1") {
		t.Error("expected article link in index page")
	}

	if rec := env.do("GET", "/nope", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestArticlePageRendersMarkdownBody(t *testing.T) {
	env := newEnv(t)
	seedArticle(t, env.db, "a1", "[단독] 본문", ptr("첫 문단\n\n**강조** 문단"))

	rec := env.do("GET", "/article/a1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<strong>강조</strong>") {
		t.Error("expected rendered markdown in article page")
	}

	if rec := env.do("GET", "/article/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
