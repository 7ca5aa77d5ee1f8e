package query

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/TobiSchelling/scoopfeed/internal/classify"
	"github.com/TobiSchelling/scoopfeed/internal/collect"
	"github.com/TobiSchelling/scoopfeed/internal/database"
	"github.com/TobiSchelling/scoopfeed/internal/pipeline"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ErrInvalidParams is returned for out-of-range paging or an unknown category.
var ErrInvalidParams = errors.New("invalid parameters")

// Runner runs one ingestion pass.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error)
	IsConfigured() bool
}

// Params selects a page of articles.
type Params struct {
	Page     int
	PageSize int
	Category string
	Refresh  bool
}

// Page is one page of articles with paging metadata.
type Page struct {
	Articles   []database.Article
	Total      int
	Page       int
	PageSize   int
	TotalPages int
	Message    string
	Refreshed  *pipeline.Result
}

// Stats summarises the store for the dashboard.
type Stats struct {
	TotalArticles  int                      `json:"totalArticles"`
	CategoryCounts []database.CategoryCount `json:"categoryCounts"`
	TopArticles    []database.Article       `json:"topArticles"`
	LatestArticles []database.Article       `json:"latestArticles"`
	DailyCounts    []database.DailyCount    `json:"dailyCounts"`
}

// Service answers read queries, ingesting on demand when the store is empty.
type Service struct {
	db     *database.DB
	runner Runner
}

// New creates a query service. runner may be nil, in which case reads never
// trigger ingestion.
func New(db *database.DB, runner Runner) *Service {
	return &Service{db: db, runner: runner}
}

// List returns a page of articles, newest first. When the page is empty or
// a refresh is requested the pipeline runs once before re-reading. Ingestion
// problems are reported through Page.Message rather than an error.
func (s *Service) List(ctx context.Context, p Params) (*Page, error) {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.PageSize == 0 {
		p.PageSize = DefaultPageSize
	}
	if p.Page < 1 {
		return nil, fmt.Errorf("%w: page must be at least 1", ErrInvalidParams)
	}
	if p.PageSize < 1 || p.PageSize > MaxPageSize {
		return nil, fmt.Errorf("%w: pageSize must be between 1 and %d", ErrInvalidParams, MaxPageSize)
	}

	filter := database.ArticleFilter{Limit: p.PageSize, Offset: (p.Page - 1) * p.PageSize}
	if p.Category != "" {
		cat, ok := classify.Parse(p.Category)
		if !ok {
			return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidParams, p.Category)
		}
		filter.Category = string(cat)
		filter.NullCategory = cat == classify.Other
	}

	page := &Page{Page: p.Page, PageSize: p.PageSize}
	if err := s.read(page, filter); err != nil {
		log.Printf("Error reading articles: %v", err)
		page.Message = "Articles could not be loaded right now"
		return page, nil
	}

	if len(page.Articles) > 0 && !p.Refresh {
		return page, nil
	}

	switch {
	case s.runner == nil || !s.runner.IsConfigured():
		if len(page.Articles) == 0 {
			page.Message = "News search is not configured; no articles available"
		}
		return page, nil
	default:
		result, err := s.runner.Run(ctx, pipeline.Options{})
		page.Refreshed = result
		if err != nil {
			log.Printf("On-demand ingestion failed: %v", err)
			if errors.Is(err, collect.ErrNotConfigured) {
				page.Message = "News search is not configured; no articles available"
			} else {
				page.Message = "Fresh articles could not be fetched; showing stored articles"
			}
		}
	}

	if err := s.read(page, filter); err != nil {
		log.Printf("Error reading articles: %v", err)
		page.Articles = nil
		page.Message = "Articles could not be loaded right now"
		return page, nil
	}
	if len(page.Articles) == 0 && page.Message == "" {
		page.Message = "No exclusive articles found"
	}
	return page, nil
}

func (s *Service) read(page *Page, f database.ArticleFilter) error {
	articles, err := s.db.ListArticles(f)
	if err != nil {
		return err
	}
	total, err := s.db.CountArticles(f)
	if err != nil {
		return err
	}
	page.Articles = articles
	if page.Articles == nil {
		page.Articles = []database.Article{}
	}
	page.Total = total
	page.TotalPages = (total + f.Limit - 1) / f.Limit
	return nil
}

// Get returns one article and counts the view. A missing article is nil.
func (s *Service) Get(_ context.Context, id string) (*database.Article, error) {
	a, err := s.db.GetArticle(id)
	if err != nil {
		return nil, fmt.Errorf("loading article: %w", err)
	}
	if a == nil {
		return nil, nil
	}
	if err := s.db.IncrementViews(id); err != nil {
		log.Printf("Error counting view for %s: %v", id, err)
	} else {
		a.Views++
	}
	return a, nil
}

// Categories returns article counts per category, largest first. Articles
// without a category count as Other. With no articles every category is
// listed with zero.
func (s *Service) Categories(_ context.Context) ([]database.CategoryCount, error) {
	raw, err := s.db.GetCategoryCounts()
	if err != nil {
		return nil, fmt.Errorf("counting categories: %w", err)
	}
	return mergeCounts(raw), nil
}

func mergeCounts(raw []database.CategoryCount) []database.CategoryCount {
	byName := make(map[string]int)
	total := 0
	for _, c := range raw {
		name := c.Name
		if cat, ok := classify.Parse(name); ok {
			name = string(cat)
		} else {
			name = string(classify.Other)
		}
		byName[name] += c.Count
		total += c.Count
	}

	if total == 0 {
		out := make([]database.CategoryCount, 0, len(classify.AllCategories()))
		for _, cat := range classify.AllCategories() {
			out = append(out, database.CategoryCount{Name: string(cat), Count: 0})
		}
		return out
	}

	var out []database.CategoryCount
	for _, cat := range classify.AllCategories() {
		if n := byName[string(cat)]; n > 0 {
			out = append(out, database.CategoryCount{Name: string(cat), Count: n})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// Stats returns totals, category counts, the most viewed and latest
// articles, and daily counts for the past week.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	total, err := s.db.CountArticles(database.ArticleFilter{})
	if err != nil {
		return nil, fmt.Errorf("counting articles: %w", err)
	}
	cats, err := s.Categories(ctx)
	if err != nil {
		return nil, err
	}
	top, err := s.db.GetTopArticles(5)
	if err != nil {
		return nil, fmt.Errorf("loading top articles: %w", err)
	}
	latest, err := s.db.ListArticles(database.ArticleFilter{Limit: 5})
	if err != nil {
		return nil, fmt.Errorf("loading latest articles: %w", err)
	}
	daily, err := s.db.GetDailyCounts(7)
	if err != nil {
		return nil, fmt.Errorf("counting daily articles: %w", err)
	}
	return &Stats{
		TotalArticles:  total,
		CategoryCounts: cats,
		TopArticles:    nonNil(top),
		LatestArticles: nonNil(latest),
		DailyCounts:    daily,
	}, nil
}

func nonNil(a []database.Article) []database.Article {
	if a == nil {
		return []database.Article{}
	}
	return a
}
