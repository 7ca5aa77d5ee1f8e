package collect

import "strings"

// ExclusiveFilter decides whether a headline carries an exclusivity marker.
type ExclusiveFilter struct {
	Markers []string
	Prefix  bool // require the marker at the start instead of anywhere
}

// NewExclusiveFilter builds a filter from config values. match is
// "contains" or "prefix".
func NewExclusiveFilter(markers []string, match string) ExclusiveFilter {
	return ExclusiveFilter{Markers: markers, Prefix: strings.EqualFold(match, "prefix")}
}

// Match reports whether the cleaned title carries a marker.
func (f ExclusiveFilter) Match(title string) bool {
	title = CleanText(title)
	for _, m := range f.Markers {
		if m == "" {
			continue
		}
		if f.Prefix {
			if strings.HasPrefix(title, m) {
				return true
			}
		} else if strings.Contains(title, m) {
			return true
		}
	}
	return false
}

// Apply returns the items whose titles match.
func (f ExclusiveFilter) Apply(items []RawItem) []RawItem {
	var out []RawItem
	for _, it := range items {
		if f.Match(it.Title) {
			out = append(out, it)
		}
	}
	return out
}
