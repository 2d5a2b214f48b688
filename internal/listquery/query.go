// Package listquery is the one list capability every admin collection shares:
// {search, filters, page} in, {items, stats, pagination} out.
package listquery

import (
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxPage keeps (page-1)*MaxPageSize well inside a Postgres bigint OFFSET.
	MaxPage      = 1_000_000
	maxSearchLen = 200
)

var (
	ErrInvalidPage     = errors.New("page must be between 1 and 1000000")
	ErrInvalidPageSize = errors.New("pageSize must be between 1 and 100")
	ErrUnknownFilter   = errors.New("unknown filter")
	ErrSearchTooLong   = errors.New("search is too long")
)

type Query struct {
	Search   string
	Filters  map[string]string
	Page     int
	PageSize int
}

func New() Query {
	return Query{Page: 1, PageSize: DefaultPageSize}
}

// Parse reads search, page, pageSize and the named filters from a query string.
// Unknown non-reserved keys are rejected so typos do not silently widen a list.
func Parse(values url.Values, filterKeys ...string) (Query, error) {
	q := New()

	allowed := make(map[string]struct{}, len(filterKeys))
	for _, k := range filterKeys {
		allowed[k] = struct{}{}
	}

	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		v := strings.TrimSpace(vals[0])

		switch key {
		case "search", "q":
			if len(v) > maxSearchLen {
				return Query{}, ErrSearchTooLong
			}
			q.Search = v
		case "page":
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > MaxPage {
				return Query{}, ErrInvalidPage
			}
			q.Page = n
		case "pageSize", "limit":
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > MaxPageSize {
				return Query{}, ErrInvalidPageSize
			}
			q.PageSize = n
		default:
			if _, ok := allowed[key]; !ok {
				return Query{}, ErrUnknownFilter
			}
			// "all" is how dropdowns spell "no filter"
			if v == "" || strings.EqualFold(v, "all") {
				continue
			}
			if q.Filters == nil {
				q.Filters = make(map[string]string)
			}
			q.Filters[key] = v
		}
	}

	return q, nil
}

func (q Query) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (min(q.Page, MaxPage) - 1) * q.limit()
}

func (q Query) Limit() int {
	return q.limit()
}

func (q Query) limit() int {
	if q.PageSize < 1 {
		return DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return q.PageSize
}

// Filter returns the filter value or nil when unset.
func (q Query) Filter(key string) *string {
	v, ok := q.Filters[key]
	if !ok || v == "" {
		return nil
	}
	return &v
}

// SearchPtr returns nil for an empty search.
func (q Query) SearchPtr() *string {
	if q.Search == "" {
		return nil
	}
	s := q.Search
	return &s
}

// WithSearch changes the search term and resets to the first page.
func (q Query) WithSearch(s string) Query {
	q.Search = strings.TrimSpace(s)
	q.Page = 1
	return q
}

// WithFilter sets (or clears, for "" and "all") a filter and resets to the first page.
func (q Query) WithFilter(key, value string) Query {
	filters := make(map[string]string, len(q.Filters)+1)
	for k, v := range q.Filters {
		filters[k] = v
	}

	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "all") {
		delete(filters, key)
	} else {
		filters[key] = value
	}

	q.Filters = filters
	q.Page = 1
	return q
}

func (q Query) WithPage(page int) Query {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	q.Page = page
	return q
}

// Values encodes the query back into url form with stable key order.
func (q Query) Values() url.Values {
	v := url.Values{}

	if q.Search != "" {
		v.Set("search", q.Search)
	}

	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.Set(k, q.Filters[k])
	}

	v.Set("page", strconv.Itoa(q.Page))
	v.Set("pageSize", strconv.Itoa(q.limit()))

	return v
}

// CacheKey is a stable identifier for the query, scoped by collection.
func (q Query) CacheKey(collection string) string {
	return collection + ":list:v1:" + q.Values().Encode()
}
