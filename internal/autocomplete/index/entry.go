// Package index holds the in-memory prefix index behind tech-stack
// autocomplete. It is a cache derived entirely from the portfolio store and
// is rebuilt from it on every start.
package index

// Record is the slice of a stored portfolio the index is built from.
// A nil TechStack means the field is absent.
type Record struct {
	ID        int64
	TechStack *string
}

// Entry is one keyword and the portfolios currently listing it.
type Entry struct {
	Keyword string
	IDs     []int64
}
