package classify

import "strings"

// Category is a topical label assigned to an article.
type Category string

const (
	Politics      Category = "Politics"
	Economy       Category = "Economy"
	Society       Category = "Society"
	International Category = "International"
	Culture       Category = "Culture"
	Sports        Category = "Sports"
	Science       Category = "Science"
	IT            Category = "IT"
	Entertainment Category = "Entertainment"
	Other         Category = "Other"
)

// AllCategories returns every category in display order.
func AllCategories() []Category {
	return []Category{
		Politics, Economy, Society, International, Culture,
		Sports, Science, IT, Entertainment, Other,
	}
}

// Korean section names that models tend to answer with for Korean headlines.
var aliases = map[string]Category{
	"정치":    Politics,
	"경제":    Economy,
	"사회":    Society,
	"국제":    International,
	"문화":    Culture,
	"스포츠":   Sports,
	"과학":    Science,
	"연예":    Entertainment,
	"기타":    Other,
	"it/과학": IT,
}

// Parse maps a label to a Category. Matching is exact apart from case.
func Parse(label string) (Category, bool) {
	label = strings.TrimSpace(label)
	for _, c := range AllCategories() {
		if strings.EqualFold(label, string(c)) {
			return c, true
		}
	}
	if c, ok := aliases[strings.ToLower(label)]; ok {
		return c, true
	}
	return "", false
}

// Valid reports whether s names a category.
func Valid(s string) bool {
	_, ok := Parse(s)
	return ok
}
