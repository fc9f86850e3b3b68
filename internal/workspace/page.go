package workspace

import (
	"fmt"
	"math"
	"strconv"

	"taskflow.dev/internal/auth"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxPage keeps Page*Size inside int on every platform.
	MaxPage         = math.MaxInt32 / MaxPageSize
)

// PageRequest selects a zero-based page. Results are ordered newest first.
type PageRequest struct {
	Page int
	Size int
}

// Offset is the number of rows skipped.
func (r PageRequest) Offset() int { return r.Page * r.Size }

// ParsePageRequest reads the page and size query values. Empty values take defaults.
func ParsePageRequest(page, size string) (PageRequest, error) {
	req := PageRequest{Page: 0, Size: DefaultPageSize}
	if page != "" {
		n, err := strconv.Atoi(page)
		if err != nil || n < 0 || n > MaxPage {
			return PageRequest{}, fmt.Errorf("%w: page must be between 0 and %d", auth.ErrInvalidInput, MaxPage)
		}
		req.Page = n
	}
	if size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n < 1 || n > MaxPageSize {
			return PageRequest{}, fmt.Errorf("%w: size must be between 1 and %d", auth.ErrInvalidInput, MaxPageSize)
		}
		req.Size = n
	}
	return req, nil
}

func (r PageRequest) normalized() PageRequest {
	if r.Page < 0 {
		r.Page = 0
	}
	if r.Page > MaxPage {
		r.Page = MaxPage
	}
	if r.Size <= 0 {
		r.Size = DefaultPageSize
	}
	if r.Size > MaxPageSize {
		r.Size = MaxPageSize
	}
	return r
}

// Page is one slice of a larger ordered result.
type Page[T any] struct {
	Content       []T   `json:"content"`
	PageNumber    int   `json:"pageNumber"`
	PageSize      int   `json:"pageSize"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	First         bool  `json:"first"`
	Last          bool  `json:"last"`
	Empty         bool  `json:"empty"`
}

// NewPage wraps content fetched for req out of total rows.
func NewPage[T any](content []T, req PageRequest, total int64) Page[T] {
	if content == nil {
		content = []T{}
	}
	pages := 0
	if req.Size > 0 {
		pages = int((total + int64(req.Size) - 1) / int64(req.Size))
	}
	return Page[T]{
		Content:       content,
		PageNumber:    req.Page,
		PageSize:      req.Size,
		TotalElements: total,
		TotalPages:    pages,
		First:         req.Page == 0,
		Last:          req.Page+1 >= pages,
		Empty:         len(content) == 0,
	}
}
