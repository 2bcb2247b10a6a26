// Package pagination resolves optional page parameters into limit/offset
// pairs shared by every repository adapter.
package pagination

import "errors"

// Defaults applied when a parameter is absent.
const (
	DefaultPage     int64 = 0
	DefaultPageSize int64 = 10
)

var (
	ErrInvalidPage     = errors.New("page must be at least 0")
	ErrInvalidPageSize = errors.New("page_size must be at least 1")
)

// Resolve converts optional page/pageSize into (limit, offset). Nil inputs
// take the defaults. Pure function.
func Resolve(page, pageSize *int64) (limit, offset int64, err error) {
	p := DefaultPage
	if page != nil {
		p = *page
	}
	size := DefaultPageSize
	if pageSize != nil {
		size = *pageSize
	}
	if p < 0 {
		return 0, 0, ErrInvalidPage
	}
	if size < 1 {
		return 0, 0, ErrInvalidPageSize
	}
	return size, p * size, nil
}
