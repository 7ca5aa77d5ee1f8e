package classify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/TobiSchelling/scoopfeed/internal/llm"
)

const systemPrompt = `You are a news classification assistant. Read the Korean news headline and summary and answer with exactly one category name from this list, and nothing else:
%s`

const userPrompt = `Title: %s
Description: %s

Category:`

// Status explains how a category was reached.
type Status string

const (
	Classified   Status = "classified"    // the model returned a valid label
	InvalidLabel Status = "invalid_label" // the model answered outside the set
	Failed       Status = "failed"        // the call itself failed
	Unconfigured Status = "unconfigured"  // no provider available
	Skipped      Status = "skipped"       // over the per-run cap
)

// Outcome is the result of classifying one article. Category is always a
// member of AllCategories.
type Outcome struct {
	Category Category
	Status   Status
	Reason   string
}

// Input is the text sent to the model for one article.
type Input struct {
	Title       string
	Description string
}

// Options bounds a batch run.
type Options struct {
	GroupSize int           // concurrent calls per group
	Delay     time.Duration // pause between groups
	Limit     int           // items past this index are skipped; 0 means all
}

// Classifier labels articles with a category using an LLM.
type Classifier struct {
	provider  llm.Provider
	maxTokens int
	debug     bool
}

// New creates a classifier. A nil provider yields Other for every article.
func New(provider llm.Provider, maxTokens int, debug bool) *Classifier {
	if maxTokens <= 0 {
		maxTokens = 10
	}
	return &Classifier{provider: provider, maxTokens: maxTokens, debug: debug}
}

// Classify returns the category for one article. It never fails; problems
// are reported through the outcome's Status and Reason.
func (c *Classifier) Classify(ctx context.Context, title, description string) Outcome {
	if c.provider == nil {
		return Outcome{Category: Other, Status: Unconfigured, Reason: "no LLM provider configured"}
	}

	names := make([]string, 0, len(AllCategories()))
	for _, cat := range AllCategories() {
		names = append(names, string(cat))
	}

	text, err := c.provider.Generate(ctx, llm.Request{
		System:      fmt.Sprintf(systemPrompt, strings.Join(names, ", ")),
		Prompt:      fmt.Sprintf(userPrompt, truncate(title, 300), truncate(description, 1000)),
		MaxTokens:   c.maxTokens,
		Temperature: 0,
	})
	if err != nil {
		return Outcome{Category: Other, Status: Failed, Reason: err.Error()}
	}

	label := normalizeLabel(text)
	cat, ok := Parse(label)
	if !ok {
		return Outcome{Category: Other, Status: InvalidLabel, Reason: fmt.Sprintf("unexpected label %q", truncate(text, 40))}
	}
	if c.debug {
		log.Printf("Classified %q as %s", truncate(title, 60), cat)
	}
	return Outcome{Category: cat, Status: Classified}
}

// ClassifyAll classifies items in concurrent groups, pausing between groups.
// Outcomes are returned in input order. A failing item never stops the batch.
func (c *Classifier) ClassifyAll(ctx context.Context, items []Input, opts Options) []Outcome {
	out := make([]Outcome, len(items))
	if opts.GroupSize <= 0 {
		opts.GroupSize = 3
	}

	limit := len(items)
	if opts.Limit > 0 && opts.Limit < limit {
		limit = opts.Limit
	}
	for i := limit; i < len(items); i++ {
		out[i] = Outcome{Category: Other, Status: Skipped, Reason: "over per-run classification cap"}
	}

	for start := 0; start < limit; start += opts.GroupSize {
		if start > 0 && opts.Delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.Delay):
			}
		}

		end := min(start+opts.GroupSize, limit)
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				out[i] = c.Classify(ctx, items[i].Title, items[i].Description)
			}(i)
		}
		wg.Wait()
	}

	var failed int
	for _, o := range out[:limit] {
		if o.Status != Classified {
			failed++
		}
	}
	if failed > 0 {
		log.Printf("Classification: %d of %d articles defaulted to %s", failed, limit, Other)
	}
	return out
}

// normalizeLabel strips the decoration models add around a bare label.
func normalizeLabel(text string) string {
	if parsed := llm.ParseJSONResponse(text); parsed != nil {
		if s, ok := parsed["category"].(string); ok {
			return s
		}
		return ""
	}

	s := strings.TrimSpace(text)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "Category:")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".")
	s = strings.Trim(s, "\"'`“”‘’[]「」*")
	s = strings.TrimSuffix(s, ".")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
