package listitems

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// source adapts list items to fuzzy.Source. Each item is matched on
// "title author", lowercased once up front.
type source struct {
	items []ListItem
	text  []string
}

func newSource(items []ListItem) *source {
	s := &source{items: items, text: make([]string, len(items))}
	for i, li := range items {
		if li.Book != nil {
			s.text[i] = strings.ToLower(li.Book.Title + " " + li.Book.Author)
		} else {
			s.text[i] = strings.ToLower(li.BookID)
		}
	}
	return s
}

func (s *source) String(i int) string { return s.text[i] }
func (s *source) Len() int            { return len(s.items) }

// Filter returns the items whose book title or author fuzzily matches
// query, best match first. An empty query returns items unchanged.
func Filter(items []ListItem, query string) []ListItem {
	query = strings.TrimSpace(query)
	if query == "" {
		return items
	}
	matches := fuzzy.FindFrom(strings.ToLower(query), newSource(items))
	out := make([]ListItem, len(matches))
	for i, m := range matches {
		out[i] = items[m.Index]
	}
	return out
}
