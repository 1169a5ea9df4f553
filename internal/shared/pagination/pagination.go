// Package pagination parses page/pageSize query parameters and builds list envelopes.
package pagination

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Params is a normalized page request.
type Params struct {
	Page     int
	PageSize int
	Search   string
}

// Offset returns the SQL offset for the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Limit returns the SQL limit for the page.
func (p Params) Limit() int {
	return p.PageSize
}

// Page is the JSON envelope for list endpoints.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// FromQuery reads page, pageSize and search from the request query.
// Invalid or out of range values fall back to defaults.
func FromQuery(c *gin.Context) Params {
	return Normalize(
		atoiOr(c.Query("page"), 1),
		atoiOr(c.Query("pageSize"), DefaultPageSize),
		c.Query("search"),
	)
}

// Normalize clamps page and pageSize into their valid ranges.
func Normalize(page, pageSize int, search string) Params {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Params{Page: page, PageSize: pageSize, Search: strings.TrimSpace(search)}
}

// NewPage wraps items with paging metadata.
func NewPage[T any](items []T, p Params, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if p.PageSize > 0 {
		totalPages = (total + p.PageSize - 1) / p.PageSize
	}
	return Page[T]{
		Items:      items,
		Page:       p.Page,
		PageSize:   p.PageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}

// Slice applies p to an in-memory slice.
func Slice[T any](items []T, p Params) []T {
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.PageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func atoiOr(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
