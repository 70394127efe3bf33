// Package names orders people by name the way a reader of Arabic or English
// expects: locale aware, ignoring case and diacritics.
package names

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

var (
	mu       sync.Mutex
	collator = collate.New(language.Und, collate.Loose)
)

// Compare returns -1, 0 or 1. Collators are not safe for concurrent use.
func Compare(a, b string) int {
	mu.Lock()
	defer mu.Unlock()
	return collator.CompareString(a, b)
}

// SortBy sorts items in place by key, stable on ties.
func SortBy[T any](items []T, key func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		return Compare(key(items[i]), key(items[j])) < 0
	})
}

// Contains reports whether name contains query, ignoring case. The query is
// trimmed first; an empty query matches everything.
func Contains(name, query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(name), query)
}
