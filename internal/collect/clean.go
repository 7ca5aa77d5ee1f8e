package collect

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/scoopfeed/internal/database"
)

// RawItem is one search or feed result before cleaning.
type RawItem struct {
	Title        string `json:"title"`
	OriginalLink string `json:"originallink"`
	Link         string `json:"link"`
	Description  string `json:"description"`
	PubDate      string `json:"pubDate"`
	Source       string `json:"-"`
}

// Markup tags start with a letter, '/' or '!'. Bracketed Hangul such as
// "<단독>" is headline text and survives.
var tagPattern = regexp.MustCompile(`</?[A-Za-z!][^>]*(>|$)`)

var entityReplacer = strings.NewReplacer(
	"&quot;", `"`,
	"&#34;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&lt;", "<",
	"&gt;", ">",
	"&nbsp;", " ",
	"&amp;", "&",
	"\u2018", "'",
	"\u2019", "'",
	"\u201C", `"`,
	"\u201D", `"`,
)

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

// CleanText strips markup and normalizes quotes and whitespace.
func CleanText(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = entityReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// ArticleID derives the stable identifier for a canonical link.
func ArticleID(link string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.TrimSpace(link))).String()
}

// Clean maps a raw item to an unclassified article.
func Clean(item RawItem) database.Article {
	link := strings.TrimSpace(item.Link)
	original := strings.TrimSpace(item.OriginalLink)
	if original == "" {
		original = link
	}
	source := item.Source
	if source == "" {
		source = hostName(original)
	}
	return database.Article{
		ID:           ArticleID(link),
		Link:         link,
		OriginalLink: original,
		Title:        CleanText(item.Title),
		Description:  CleanText(item.Description),
		Source:       source,
		PubDate:      ParsePubDate(item.PubDate),
	}
}

// ParsePubDate parses a feed timestamp. Unparsable input yields the zero time.
func ParsePubDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func hostName(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
