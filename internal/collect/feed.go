package collect

import (
	"context"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const maxPerFeed = 50

// FeedConfig represents a single feed configuration.
type FeedConfig struct {
	URL  string
	Name string
}

// FeedSource reads RSS/Atom feeds as an additional source of headlines.
type FeedSource struct {
	feeds  []FeedConfig
	parser *gofeed.Parser
}

// NewFeedSource creates a FeedSource for the given feeds.
func NewFeedSource(feeds []FeedConfig) *FeedSource {
	return &FeedSource{feeds: feeds, parser: gofeed.NewParser()}
}

// Fetch parses every feed and returns its items as raw items. A feed that
// fails is logged and skipped.
func (fs *FeedSource) Fetch(ctx context.Context) []RawItem {
	var all []RawItem
	for _, fc := range fs.feeds {
		name := fc.Name
		if name == "" {
			name = extractSourceName(fc.URL)
		}

		feed, err := fs.parser.ParseURLWithContext(fc.URL, ctx)
		if err != nil {
			log.Printf("Failed to parse feed %s: %v", fc.URL, err)
			continue
		}
		items := feedItems(feed, name)
		all = append(all, items...)
		log.Printf("Parsed %d entries from %s", len(items), name)
	}
	return all
}

// ParseFeed converts feed XML into raw items. Used for feeds fetched by
// other means.
func (fs *FeedSource) ParseFeed(data, name string) ([]RawItem, error) {
	feed, err := fs.parser.ParseString(data)
	if err != nil {
		return nil, err
	}
	return feedItems(feed, name), nil
}

func feedItems(feed *gofeed.Feed, source string) []RawItem {
	var items []RawItem
	for _, it := range feed.Items {
		if len(items) >= maxPerFeed {
			break
		}
		link := it.Link
		if link == "" {
			link = it.GUID
		}
		if link == "" || strings.TrimSpace(it.Title) == "" {
			continue
		}

		var pubDate string
		if it.PublishedParsed != nil {
			pubDate = it.PublishedParsed.Format(time.RFC1123Z)
		} else if it.UpdatedParsed != nil {
			pubDate = it.UpdatedParsed.Format(time.RFC1123Z)
		}

		items = append(items, RawItem{
			Title:       it.Title,
			Link:        link,
			Description: it.Description,
			PubDate:     pubDate,
			Source:      source,
		})
	}
	return items
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "rss.", "feeds.", "news."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return parts[0]
	}
	return host
}
