package listquery

type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"pageSize"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

func NewPagination(q Query, total int) Pagination {
	size := q.limit()
	page := q.Page
	if page < 1 {
		page = 1
	}

	pages := 0
	if total > 0 {
		pages = (total + size - 1) / size
	}

	return Pagination{
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
		HasPrev:    page > 1,
	}
}

type Result[T any, S any] struct {
	Items      []T        `json:"items"`
	Stats      S          `json:"stats"`
	Pagination Pagination `json:"pagination"`
}

func NewResult[T any, S any](q Query, items []T, total int, stats S) Result[T, S] {
	if items == nil {
		items = []T{}
	}

	return Result[T, S]{
		Items:      items,
		Stats:      stats,
		Pagination: NewPagination(q, total),
	}
}
