package collect

import (
	"context"
	"errors"
	"log"

	"github.com/TobiSchelling/scoopfeed/internal/config"
	"github.com/TobiSchelling/scoopfeed/internal/database"
)

// Result holds the results of a collection run.
type Result struct {
	Articles   []database.Article // cleaned, deduplicated, newest first
	Found      int                // exclusive items before dedupe
	Duplicates int
	Sources    map[string]int
	Errors     []string
}

// Collector gathers exclusive headlines from the news search API and any
// configured feeds.
type Collector struct {
	fetcher *Fetcher
	feeds   *FeedSource
	filter  ExclusiveFilter
}

// NewCollector creates a collector from configuration and resolved secrets.
func NewCollector(cfg *config.Config, secrets config.Secrets) *Collector {
	filter := NewExclusiveFilter(cfg.Exclusive.Markers, cfg.Exclusive.Match)
	c := &Collector{
		filter: filter,
		fetcher: &Fetcher{
			Client: NewSearchClient(cfg.Search.BaseURL, secrets.SearchClientID, secrets.SearchClientSecret,
				cfg.Search.RequestsPerSecond, cfg.Search.RequestTimeout()),
			Filter:   filter,
			Queries:  cfg.Search.Queries,
			Display:  cfg.Search.Display,
			Sort:     cfg.Search.Sort,
			MaxPages: cfg.Search.MaxPages,
		},
	}

	if len(cfg.Feeds) > 0 {
		feeds := make([]FeedConfig, len(cfg.Feeds))
		for i, f := range cfg.Feeds {
			feeds[i] = FeedConfig{URL: f.URL, Name: f.Name}
		}
		c.feeds = NewFeedSource(feeds)
	}
	return c
}

// NewCollectorWith assembles a collector from parts.
func NewCollectorWith(fetcher *Fetcher, feeds *FeedSource) *Collector {
	c := &Collector{fetcher: fetcher, feeds: feeds}
	if fetcher != nil {
		c.filter = fetcher.Filter
	}
	return c
}

// IsConfigured reports whether at least one source can be queried.
func (c *Collector) IsConfigured() bool {
	return c.feeds != nil || (c.fetcher != nil && c.fetcher.Client != nil && c.fetcher.Client.IsConfigured())
}

// Collect fetches, filters, cleans and deduplicates up to limit articles.
// It fails only when no source produced a usable response.
func (c *Collector) Collect(ctx context.Context, limit int) (*Result, error) {
	r := &Result{Sources: make(map[string]int)}

	var raw []RawItem
	searchOK := false
	if c.fetcher != nil {
		items, err := c.fetcher.FetchExclusives(ctx, limit)
		switch {
		case errors.Is(err, ErrNotConfigured):
			if c.feeds == nil {
				return nil, err
			}
			log.Println("News search not configured, using feeds only")
		case err != nil:
			r.Errors = append(r.Errors, err.Error())
			if c.feeds == nil {
				return nil, err
			}
		default:
			searchOK = true
			raw = append(raw, items...)
		}
	}

	if c.feeds != nil {
		raw = append(raw, c.filter.Apply(c.feeds.Fetch(ctx))...)
	} else if !searchOK {
		return nil, ErrNotConfigured
	}

	r.Found = len(raw)
	cleaned := make([]database.Article, 0, len(raw))
	for _, it := range raw {
		a := Clean(it)
		if a.Link == "" || a.Title == "" {
			continue
		}
		cleaned = append(cleaned, a)
	}

	r.Articles = Dedupe(cleaned)
	r.Duplicates = len(cleaned) - len(r.Articles)
	if limit > 0 && len(r.Articles) > limit {
		r.Articles = r.Articles[:limit]
	}
	for _, a := range r.Articles {
		r.Sources[a.Source]++
	}

	log.Printf("Collection complete: %d exclusive, %d unique, %d duplicates",
		r.Found, len(r.Articles), r.Duplicates)
	return r, nil
}
