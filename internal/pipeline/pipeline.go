package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/scoopfeed/internal/classify"
	"github.com/TobiSchelling/scoopfeed/internal/collect"
	"github.com/TobiSchelling/scoopfeed/internal/config"
	"github.com/TobiSchelling/scoopfeed/internal/database"
	"github.com/TobiSchelling/scoopfeed/internal/fetch"
	"github.com/TobiSchelling/scoopfeed/internal/llm"
	"github.com/TobiSchelling/scoopfeed/internal/notify"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// ItemOutcome records what happened to one article during a run.
type ItemOutcome struct {
	ID             string
	Link           string
	Title          string
	Category       classify.Category
	Classification classify.Status
	Reason         string
	Persist        database.UpsertResult
	Err            error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Steps        []StepResult
	Outcomes     []ItemOutcome
	Found        int
	Saved        int
	Updated      int
	Reclassified int // stored rows that gained their first category
	Unchanged    int
	Failed       int
	Errors       []string
	Elapsed      time.Duration
}

// Options bounds a single run. Zero values fall back to the configured caps.
type Options struct {
	Limit         int
	ClassifyLimit int
}

// Settings are the tunables a pipeline runs with.
type Settings struct {
	ItemCap          int
	ClassifyCap      int
	GroupSize        int
	GroupDelay       time.Duration
	PersistGroupSize int
}

// Pipeline orchestrates collect, classify, persist, fetch and notify.
type Pipeline struct {
	db         *database.DB
	collector  *collect.Collector
	classifier *classify.Classifier
	fetcher    *fetch.ContentFetcher
	publisher  notify.Publisher
	settings   Settings
}

// New creates a pipeline from configuration.
func New(cfg *config.Config, db *database.DB, secrets config.Secrets) *Pipeline {
	cls := cfg.Classifier
	provider := llm.CreateProvider(llm.Options{
		Provider:    cls.Provider,
		Model:       cls.Model,
		OpenAIModel: cls.OpenAIModel,
		OllamaURL:   cls.OllamaURL,
		BaseURL:     cls.BaseURL,
		APIKey:      secrets.LLMAPIKey,
	})

	var fetcher *fetch.ContentFetcher
	if cfg.Pipeline.FetchContent {
		fetcher = fetch.NewContentFetcher(db, 15*time.Second)
	}

	var publisher notify.Publisher
	if fanout := notify.FromConfig(cfg, secrets); len(fanout) > 0 {
		publisher = fanout
	}

	return &Pipeline{
		db:         db,
		collector:  collect.NewCollector(cfg, secrets),
		classifier: classify.New(provider, cls.MaxTokens, cfg.Debug()),
		fetcher:    fetcher,
		publisher:  publisher,
		settings: Settings{
			ItemCap:          cfg.ItemCap(),
			ClassifyCap:      cfg.ClassifyCap(),
			GroupSize:        cls.GroupSize,
			GroupDelay:       cls.Delay(),
			PersistGroupSize: cfg.Pipeline.PersistGroupSize,
		},
	}
}

// NewWith assembles a pipeline from parts. fetcher and publisher may be nil.
func NewWith(db *database.DB, collector *collect.Collector, classifier *classify.Classifier,
	fetcher *fetch.ContentFetcher, publisher notify.Publisher, s Settings) *Pipeline {
	return &Pipeline{
		db:         db,
		collector:  collector,
		classifier: classifier,
		fetcher:    fetcher,
		publisher:  publisher,
		settings:   s,
	}
}

// IsConfigured reports whether any news source can be queried.
func (p *Pipeline) IsConfigured() bool {
	return p.collector.IsConfigured()
}

// Close releases the publishers.
func (p *Pipeline) Close() error {
	if p.publisher == nil {
		return nil
	}
	return p.publisher.Close()
}

// Run executes one ingestion pass. It returns an error only when no source
// could be queried; per-article failures are reported in Outcomes.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	r := &Result{}
	defer func() { r.Elapsed = time.Since(start) }()

	limit := opts.Limit
	if limit <= 0 {
		limit = p.settings.ItemCap
	}
	classifyLimit := opts.ClassifyLimit
	if classifyLimit <= 0 {
		classifyLimit = p.settings.ClassifyCap
	}

	// Step 1: Collect
	log.Println("Step 1/5: Collecting exclusive articles...")
	collected, err := p.collector.Collect(ctx, limit)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Collect", Err: err})
		r.Errors = append(r.Errors, err.Error())
		return r, fmt.Errorf("collecting articles: %w", err)
	}
	r.Found = len(collected.Articles)
	r.Errors = append(r.Errors, collected.Errors...)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Collect",
		Summary: fmt.Sprintf("Found %d exclusive articles (%d duplicates)", r.Found, collected.Duplicates),
	})

	// Step 2: Classify
	log.Println("Step 2/5: Classifying articles...")
	r.Outcomes = make([]ItemOutcome, len(collected.Articles))
	var pending []int
	for i := range collected.Articles {
		a := &collected.Articles[i]
		r.Outcomes[i] = ItemOutcome{ID: a.ID, Link: a.Link, Title: a.Title}

		existing, err := p.db.FindArticle(a.ID, a.Link)
		if err != nil {
			log.Printf("Error looking up %s: %v", a.Link, err)
		}
		if existing != nil && existing.Category != nil &&
			existing.Title == a.Title && existing.Description == a.Description {
			cat, ok := classify.Parse(*existing.Category)
			if !ok {
				cat = classify.Other
			}
			r.Outcomes[i].ID = existing.ID
			r.Outcomes[i].Category = cat
			r.Outcomes[i].Classification = classify.Skipped
			r.Outcomes[i].Reason = "already stored"
			r.Outcomes[i].Persist = database.Unchanged
			r.Unchanged++
			continue
		}
		pending = append(pending, i)
	}

	inputs := make([]classify.Input, len(pending))
	for j, i := range pending {
		inputs[j] = classify.Input{Title: collected.Articles[i].Title, Description: collected.Articles[i].Description}
	}
	outcomes := p.classifier.ClassifyAll(ctx, inputs, classify.Options{
		GroupSize: p.settings.GroupSize,
		Delay:     p.settings.GroupDelay,
		Limit:     classifyLimit,
	})
	classified := 0
	for j, i := range pending {
		o := outcomes[j]
		// Only a model-chosen label is stored; anything else stays NULL
		// so the next run classifies it again.
		if o.Status == classify.Classified {
			cat := string(o.Category)
			collected.Articles[i].Category = &cat
			classified++
		}
		r.Outcomes[i].Category = o.Category
		r.Outcomes[i].Classification = o.Status
		r.Outcomes[i].Reason = o.Reason
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Classify",
		Summary: fmt.Sprintf("Classified %d of %d new, changed or unclassified articles", classified, len(pending)),
	})

	// Step 3: Persist
	log.Println("Step 3/5: Saving articles...")
	var inserted []database.Article
	groupSize := p.settings.PersistGroupSize
	if groupSize <= 0 {
		groupSize = 5
	}
	for g := 0; g < len(pending); g += groupSize {
		if g > 0 && !sleep(ctx, p.settings.GroupDelay) {
			break
		}
		end := min(g+groupSize, len(pending))
		for _, i := range pending[g:end] {
			a := &collected.Articles[i]
			res, err := p.db.UpsertArticle(a)
			out := &r.Outcomes[i]
			out.ID = a.ID
			if err != nil {
				log.Printf("Error saving %s: %v", a.Link, err)
				out.Err = err
				r.Failed++
				r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", a.Link, err))
				continue
			}
			out.Persist = res
			switch res {
			case database.Inserted:
				r.Saved++
				inserted = append(inserted, *a)
			case database.Updated:
				r.Updated++
			case database.Classified:
				r.Reclassified++
			case database.Unchanged:
				r.Unchanged++
			}
		}
	}
	if err := ctx.Err(); err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Persist",
		Summary: fmt.Sprintf("Saved %d new, updated %d, reclassified %d, unchanged %d, failed %d",
			r.Saved, r.Updated, r.Reclassified, r.Unchanged, r.Failed),
	})

	// Step 4: Fetch content
	if p.fetcher != nil && len(inserted) > 0 {
		log.Println("Step 4/5: Fetching article content...")
		ids := make([]string, len(inserted))
		for i, a := range inserted {
			ids[i] = a.ID
		}
		fr := p.fetcher.FetchContent(ctx, ids)
		r.Steps = append(r.Steps, StepResult{
			Name:    "Fetch",
			Summary: fmt.Sprintf("Fetched %d articles, %d failed, %d skipped", fr.Fetched, fr.Failed, fr.Skipped),
		})
	}

	// Step 5: Notify
	if p.publisher != nil && len(inserted) > 0 {
		log.Println("Step 5/5: Publishing new articles...")
		step := StepResult{Name: "Notify", Summary: fmt.Sprintf("Published %d new articles", len(inserted))}
		if err := p.publisher.Publish(ctx, inserted); err != nil {
			step.Err = err
			r.Errors = append(r.Errors, err.Error())
		}
		r.Steps = append(r.Steps, step)
	}

	log.Printf("Pipeline complete: %d found, %d saved, %d updated, %d unchanged, %d failed",
		r.Found, r.Saved, r.Updated, r.Unchanged, r.Failed)
	return r, nil
}

// sleep waits for d or until ctx is done. It reports whether the wait
// completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
