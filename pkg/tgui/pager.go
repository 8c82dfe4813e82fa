package tgui

import "fmt"

// PageCount is ceil(total/size); it is 0 for an empty list.
func PageCount(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// PaginateSlice returns the items of the 0-based page (clamped to the valid
// range) and whether previous/next pages exist.
func PaginateSlice[T any](items []T, page, size int) (sub []T, page2 int, hasPrev bool, hasNext bool) {
	if size <= 0 {
		size = 10
	}
	pages := PageCount(len(items), size)
	if page >= pages {
		page = pages - 1
	}
	if page < 0 {
		page = 0
	}
	start := min(page*size, len(items))
	end := min(start+size, len(items))
	return items[start:end], page, page > 0, end < len(items)
}

// PageLabel returns a compact pagination label. page is 0-based.
func PageLabel(page, size, total int) string {
	pages := max(PageCount(total, size), 1)
	page = min(max(page, 0), pages-1)
	return fmt.Sprintf("Page %d/%d", page+1, pages)
}
