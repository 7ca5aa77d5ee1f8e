package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// DefaultQuery is searched when no query is given.
const DefaultQuery = "[단독]"

const (
	maxDisplay = 100
	maxStart   = 1000
)

// ErrNotConfigured is returned when no search credentials are available.
var ErrNotConfigured = errors.New("news search credentials not configured")

// SearchRequest is one call to the news search endpoint.
type SearchRequest struct {
	Query   string
	Display int
	Start   int
	Sort    string // "date" or "sim"
}

// SearchResponse is the decoded body of a news search call.
type SearchResponse struct {
	LastBuildDate string    `json:"lastBuildDate"`
	Total         int       `json:"total"`
	Start         int       `json:"start"`
	Display       int       `json:"display"`
	Items         []RawItem `json:"items"`
}

// SearchClient queries the Naver news search API.
type SearchClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	client       *http.Client
	limiter      *rate.Limiter
}

// NewSearchClient creates a search client paced at rps requests per second.
func NewSearchClient(baseURL, clientID, clientSecret string, rps float64, timeout time.Duration) *SearchClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &SearchClient{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(limit, 1),
	}
}

// IsConfigured returns whether credentials are available.
func (c *SearchClient) IsConfigured() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// Search performs one search call. Transport failures and non-2xx statuses
// are returned as errors.
func (c *SearchClient) Search(ctx context.Context, sr SearchRequest) (*SearchResponse, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	sr = sr.normalized()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"query":   {sr.Query},
		"display": {strconv.Itoa(sr.Display)},
		"start":   {strconv.Itoa(sr.Start)},
		"sort":    {sr.Sort},
	}
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Naver-Client-Id", c.clientID)
	req.Header.Set("X-Naver-Client-Secret", c.clientSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news search error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("news search returned %d: %s", resp.StatusCode, string(body))
	}

	var result SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &result, nil
}

func (sr SearchRequest) normalized() SearchRequest {
	if sr.Query == "" {
		sr.Query = DefaultQuery
	}
	sr.Display = clamp(sr.Display, 1, maxDisplay, 10)
	sr.Start = clamp(sr.Start, 1, maxStart, 1)
	if sr.Sort != "sim" {
		sr.Sort = "date"
	}
	return sr
}

func clamp(v, lo, hi, zero int) int {
	if v == 0 {
		return zero
	}
	return max(lo, min(v, hi))
}

// Fetcher runs paged searches for exclusive headlines.
type Fetcher struct {
	Client   *SearchClient
	Filter   ExclusiveFilter
	Queries  []string
	Display  int
	Sort     string
	MaxPages int
}

// FetchExclusives searches every query and returns items whose titles carry
// an exclusivity marker, at most limit of them. A further page is requested
// only when the previous one came back full. Failed calls are logged and
// skipped; an error is returned only when every call failed.
func (f *Fetcher) FetchExclusives(ctx context.Context, limit int) ([]RawItem, error) {
	if f.Client == nil || !f.Client.IsConfigured() {
		return nil, ErrNotConfigured
	}

	queries := f.Queries
	if len(queries) == 0 {
		queries = []string{DefaultQuery}
	}
	display := clamp(f.Display, 1, maxDisplay, maxDisplay)
	pages := max(f.MaxPages, 1)

	var (
		items            []RawItem
		attempts, failed int
		lastErr          error
	)

queries:
	for _, q := range queries {
		for page := 0; page < pages; page++ {
			start := 1 + page*display
			if start > maxStart {
				break
			}

			attempts++
			resp, err := f.Client.Search(ctx, SearchRequest{Query: q, Display: display, Start: start, Sort: f.Sort})
			if err != nil {
				failed++
				lastErr = err
				log.Printf("Search %q (start %d) failed: %v", q, start, err)
				if ctx.Err() != nil {
					break queries
				}
				break
			}

			matched := f.Filter.Apply(resp.Items)
			items = append(items, matched...)
			log.Printf("Search %q (start %d): %d results, %d exclusive", q, start, len(resp.Items), len(matched))

			if limit > 0 && len(items) >= limit {
				break queries
			}
			if len(resp.Items) < display {
				break
			}
		}
	}

	if attempts > 0 && failed == attempts {
		return nil, lastErr
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
