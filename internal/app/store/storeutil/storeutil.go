// internal/app/store/storeutil/storeutil.go
package storeutil

import "go.mongodb.org/mongo-driver/mongo/options"

// Page size bounds for listing queries.
const (
	DefaultPageSize int64 = 25
	MaxPageSize     int64 = 200
)

// Page is a normalized 1-based page request.
type Page struct {
	Number int64
	Size   int64
}

// NewPage clamps number to at least 1 and size to (0, MaxPageSize],
// substituting DefaultPageSize for a non-positive size.
func NewPage(number, size int64) Page {
	if number <= 0 {
		number = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// Skip is the number of documents before this page.
func (p Page) Skip() int64 {
	return (p.Number - 1) * p.Size
}

// Pages returns how many pages total documents fill; at least 1.
func (p Page) Pages(total int64) int64 {
	if total <= 0 || p.Size <= 0 {
		return 1
	}
	return (total + p.Size - 1) / p.Size
}

// Paginate returns *options.FindOptions with skip/limit given a 1-based page.
func Paginate(limit, page int64) *options.FindOptions {
	p := NewPage(page, limit)
	return options.Find().SetLimit(p.Size).SetSkip(p.Skip())
}
