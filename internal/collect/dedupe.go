package collect

import (
	"sort"
	"strings"

	"github.com/TobiSchelling/scoopfeed/internal/database"
)

// Dedupe keeps one article per canonical link and sorts by publish time,
// newest first. A later duplicate replaces an earlier one. Articles without
// a publish time sort last.
func Dedupe(articles []database.Article) []database.Article {
	index := make(map[string]int, len(articles))
	out := make([]database.Article, 0, len(articles))
	for _, a := range articles {
		key := strings.TrimSpace(a.Link)
		if i, ok := index[key]; ok {
			out[i] = a
			continue
		}
		index[key] = len(out)
		out = append(out, a)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].PubDate, out[j].PubDate
		if ti.IsZero() != tj.IsZero() {
			return tj.IsZero()
		}
		return ti.After(tj)
	})
	return out
}
