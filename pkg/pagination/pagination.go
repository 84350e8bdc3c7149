package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultSize = 20
	MaxSize     = 100
)

// Params holds zero-based page parameters extracted from a request.
type Params struct {
	Page int
	Size int
}

// FromContext extracts ?page and ?size from the echo context. Missing or
// invalid values fall back to page 0 and DefaultSize; size is capped at
// MaxSize.
func FromContext(c echo.Context) Params {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 0 {
		page = 0
	}
	size, _ := strconv.Atoi(c.QueryParam("size"))
	if size <= 0 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}
	return Params{Page: page, Size: size}
}

// Offset returns the number of rows to skip.
func (p Params) Offset() int {
	return p.Page * p.Size
}

// Limit returns the page size.
func (p Params) Limit() int {
	return p.Size
}

// TotalPages returns ceil(total/size).
func (p Params) TotalPages(total int) int {
	if p.Size <= 0 || total <= 0 {
		return 0
	}
	return (total + p.Size - 1) / p.Size
}

// Page is the Spring Data style list envelope.
type Page struct {
	Content    interface{} `json:"content"`
	TotalSize  int         `json:"totalSize"`
	TotalPages int         `json:"totalPages"`
	Number     int         `json:"number"`
	Size       int         `json:"size"`
	First      bool        `json:"first"`
	Last       bool        `json:"last"`
}

func NewPage(content interface{}, total int, p Params) *Page {
	pages := p.TotalPages(total)
	return &Page{
		Content:    content,
		TotalSize:  total,
		TotalPages: pages,
		Number:     p.Page,
		Size:       p.Size,
		First:      p.Page == 0,
		Last:       p.Page+1 >= pages,
	}
}

// LegacyPage is the older {content, total, page, size} envelope.
type LegacyPage struct {
	Content interface{} `json:"content"`
	Total   int         `json:"total"`
	Page    int         `json:"page"`
	Size    int         `json:"size"`
}

func NewLegacyPage(content interface{}, total int, p Params) *LegacyPage {
	return &LegacyPage{Content: content, Total: total, Page: p.Page, Size: p.Size}
}
