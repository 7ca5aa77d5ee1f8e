package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/scoopfeed/internal/database"
)

const (
	maxBodyBytes   = 2 << 20
	minTextLength  = 100
	maxStoredRunes = 20000
)

// Result holds the results of a content fetch run.
type Result struct {
	Fetched int
	Failed  int
	Skipped int
}

// ContentFetcher fetches readable article bodies from the publisher's page.
type ContentFetcher struct {
	db     *database.DB
	client *http.Client
}

// NewContentFetcher creates a new content fetcher.
func NewContentFetcher(db *database.DB, timeout time.Duration) *ContentFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ContentFetcher{
		db: db,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// FetchContent fetches bodies for the given articles that have none yet.
// After an HTTP error from a domain the rest of that domain is skipped.
func (f *ContentFetcher) FetchContent(ctx context.Context, ids []string) *Result {
	result := &Result{}
	if len(ids) == 0 {
		return result
	}

	articles, err := f.db.GetArticlesNeedingFetch(ids)
	if err != nil {
		log.Printf("Error getting articles needing fetch: %v", err)
		return result
	}

	failedDomains := make(map[string]struct{})
	for _, article := range articles {
		target := article.OriginalLink
		if target == "" {
			target = article.Link
		}
		domain := ""
		if u, err := url.Parse(target); err == nil {
			domain = strings.ToLower(u.Host)
		}

		if _, failed := failedDomains[domain]; failed {
			f.markAttempted(article.ID)
			result.Skipped++
			continue
		}

		content, err := f.fetchArticleContent(ctx, target)
		if err != nil {
			f.markAttempted(article.ID)
			result.Failed++
			if domain != "" {
				failedDomains[domain] = struct{}{}
			}
			log.Printf("Fetch failed for %s (%v), skipping remaining from %s", target, err, domain)
			continue
		}

		if content == "" {
			f.markAttempted(article.ID)
			result.Failed++
			log.Printf("No extractable content from: %s", target)
			continue
		}

		if err := f.db.UpdateArticleContent(article.ID, &content); err != nil {
			log.Printf("Error storing content for %s: %v", article.ID, err)
			result.Failed++
			continue
		}
		result.Fetched++
	}

	log.Printf("Content fetch complete: %d fetched, %d failed, %d skipped", result.Fetched, result.Failed, result.Skipped)
	return result
}

// markAttempted records a fetch attempt that produced no content.
func (f *ContentFetcher) markAttempted(id string) {
	if err := f.db.UpdateArticleContent(id, nil); err != nil {
		log.Printf("Error marking fetch attempt for %s: %v", id, err)
	}
}

func (f *ContentFetcher) fetchArticleContent(ctx context.Context, articleURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", articleURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "scoopfeed/1.0 (news aggregator)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	parsedURL, _ := url.Parse(articleURL)
	article, err := readability.FromReader(io.LimitReader(resp.Body, maxBodyBytes), parsedURL)
	if err != nil {
		return "", nil
	}

	text := strings.TrimSpace(article.TextContent)
	if len([]rune(text)) < minTextLength {
		return "", nil
	}
	if r := []rune(text); len(r) > maxStoredRunes {
		text = string(r[:maxStoredRunes])
	}
	return text, nil
}
