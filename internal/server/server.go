package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/scoopfeed/internal/auth"
	"github.com/TobiSchelling/scoopfeed/internal/classify"
	"github.com/TobiSchelling/scoopfeed/internal/config"
	"github.com/TobiSchelling/scoopfeed/internal/database"
	"github.com/TobiSchelling/scoopfeed/internal/query"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Deps are the collaborators the server needs.
type Deps struct {
	DB         *database.DB
	Query      *query.Service
	Runner     query.Runner
	Issuer     *auth.Issuer
	Links      auth.LinkSender
	CronSecret string
	RateLimit  config.RateLimit
	TrustProxy bool // key rate limits on X-Forwarded-For
}

// Server serves the JSON API and the HTML feed.
type Server struct {
	Deps
	pages   map[string]*template.Template
	mux     *http.ServeMux
	limiter *ipLimiter
}

// New creates a new Server.
func New(d Deps) (*Server, error) {
	if d.Query == nil {
		d.Query = query.New(d.DB, d.Runner)
	}
	if d.Links == nil {
		d.Links = auth.LogSender{}
	}
	if d.Issuer == nil {
		d.Issuer = auth.NewIssuer("", 0)
	}

	funcMap := template.FuncMap{
		"markdown":   renderMarkdown,
		"formatDate": formatDate,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone so {{define "content"}} does not collide.
	pageNames := []string{"index.html", "article.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		Deps:    d,
		pages:   pages,
		mux:     http.NewServeMux(),
		limiter: newIPLimiter(d.RateLimit.RequestsPerSecond, d.RateLimit.Burst),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return cors(s.mux)
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /article/{id}", s.handleArticlePage)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/articles", s.handleArticles)
	s.mux.HandleFunc("GET /api/article", s.handleArticle)
	s.mux.HandleFunc("GET /api/categories", s.handleCategories)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.Handle("POST /api/feedback", s.limit(http.HandlerFunc(s.handleFeedback)))
	s.mux.Handle("POST /api/auth", s.limit(http.HandlerFunc(s.handleAuth)))

	s.mux.HandleFunc("POST /api/cron/collect-news", s.handleCronCollect)
	s.mux.HandleFunc("GET /api/refresh-articles", s.handleRefresh)
	s.mux.HandleFunc("POST /api/refresh-articles", s.handleRefresh)

	s.mux.Handle("POST /api/admin/login", s.limit(http.HandlerFunc(s.handleAdminLogin)))
	s.mux.HandleFunc("GET /api/admin/api-settings", s.handleListSettings)
	s.mux.HandleFunc("PUT /api/admin/api-settings", s.handleUpdateSetting)
	s.mux.HandleFunc("GET /api/admin/users", s.handleListUsers)
	s.mux.HandleFunc("DELETE /api/admin/users", s.handleDeleteUser)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	params, err := parsePaging(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	page, err := s.Query.List(r.Context(), params)
	if errors.Is(err, query.ErrInvalidParams) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	cats, err := s.Query.Categories(r.Context())
	if err != nil {
		log.Printf("Error loading categories: %v", err)
	}

	s.render(w, "index.html", map[string]any{
		"Page":       page,
		"Categories": cats,
		"All":        classify.AllCategories(),
		"Category":   params.Category,
		"PrevPage":   page.Page - 1,
		"NextPage":   nextPage(page),
	})
}

func (s *Server) handleArticlePage(w http.ResponseWriter, r *http.Request) {
	a, err := s.Query.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if a == nil {
		http.NotFound(w, r)
		return
	}
	s.render(w, "article.html", map[string]any{"Article": a})
}

func nextPage(p *query.Page) int {
	if p.Page < p.TotalPages {
		return p.Page + 1
	}
	return 0
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

var seoul = time.FixedZone("KST", 9*60*60)

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(seoul).Format("2006-01-02 15:04")
}

// Serve runs the server on the given port until ctx is cancelled, then
// shuts down gracefully.
func Serve(ctx context.Context, d Deps, port int) error {
	srv, err := New(d)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://localhost:%d", port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
