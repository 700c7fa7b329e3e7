// Package page normalizes page/limit parameters for list endpoints.
package page

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

type Request struct {
	Page  int
	Limit int
}

// Normalize defaults page to 1 and limit to DefaultLimit, capping limit at MaxLimit.
func Normalize(page, limit int) Request {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Request{Page: page, Limit: limit}
}

func (r Request) Offset() int {
	return (r.Page - 1) * r.Limit
}

// Window returns slice bounds of this page over total items.
func (r Request) Window(total int) (start, end int) {
	start = r.Offset()
	end = start + r.Limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return start, end
}

type Result[T any] struct {
	Items []T
	Total int
	Page  int
	Limit int
}

func NewResult[T any](items []T, total int, r Request) Result[T] {
	if items == nil {
		items = []T{}
	}
	return Result[T]{Items: items, Total: total, Page: r.Page, Limit: r.Limit}
}

// Pages is at least 1 so an empty listing still reports one page.
func (r Result[T]) Pages() int {
	if r.Total == 0 || r.Limit == 0 {
		return 1
	}
	return (r.Total + r.Limit - 1) / r.Limit
}
