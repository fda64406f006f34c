package tgui

import "fmt"

// Page is one window over a listing. Index is 0-based.
type Page[T any] struct {
	Items   []T
	Index   int
	Size    int
	From    int
	To      int
	Total   int
	HasPrev bool
	HasNext bool
}

// Paginate returns the requested page of items. A negative index is treated as
// 0; an index past the end yields an empty page with HasNext false.
func Paginate[T any](items []T, page, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	if page < 0 {
		page = 0
	}
	total := len(items)
	start := total
	if page <= total/size {
		start = page * size
	}
	end := min(start+size, total)
	return Page[T]{
		Items:   items[start:end],
		Index:   page,
		Size:    size,
		From:    start,
		To:      end,
		Total:   total,
		HasPrev: page > 0,
		HasNext: end < total,
	}
}

// PageLabel returns a compact, human-friendly pagination label.
// page is 0-based.
func PageLabel(page, size, total int) string {
	if size <= 0 {
		size = 10
	}
	if total <= 0 {
		return "Página 1/1"
	}
	pages := (total + size - 1) / size
	page = max(0, min(page, pages-1))
	from := page*size + 1
	to := min((page+1)*size, total)
	return fmt.Sprintf("Página %d/%d • %d–%d de %d", page+1, pages, from, to, total)
}
