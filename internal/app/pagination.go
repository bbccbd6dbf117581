package app

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Pagination describes one page of a collection response.
type Pagination struct {
	Page    int
	PerPage int
	Total   int
}

// Pages returns the number of pages implied by Total and PerPage.
func (p Pagination) Pages() int {
	if p.PerPage <= 0 {
		return 0
	}
	pages := p.Total / p.PerPage
	if p.Total%p.PerPage != 0 {
		pages++
	}
	return pages
}

// SetHeaders writes the pagination headers, including RFC 5988 Link
// relations derived from the request URL.
func (p Pagination) SetHeaders(h http.Header, u *url.URL) {
	h.Set("X-Pagination-Count", strconv.Itoa(p.Total))
	h.Set("X-Pagination-Page", strconv.Itoa(p.Page))
	h.Set("X-Pagination-Num-Pages", strconv.Itoa(p.Pages()))
	h.Set("X-Pagination-Page-Size", strconv.Itoa(p.PerPage))

	if u == nil {
		return
	}
	var links []string
	add := func(page int, rel string) {
		q := u.Query()
		q.Set("page", strconv.Itoa(page))
		ref := *u
		ref.RawQuery = q.Encode()
		links = append(links, fmt.Sprintf("<%s>; rel=%q", ref.String(), rel))
	}
	pages := p.Pages()
	add(1, "first")
	if pages > 0 {
		add(pages, "last")
	}
	if p.Page > 1 {
		add(p.Page-1, "prev")
	}
	if p.Page < pages {
		add(p.Page+1, "next")
	}
	h.Set("Link", joinLinks(links))
}

func joinLinks(links []string) string {
	out := ""
	for i, l := range links {
		if i > 0 {
			out += ", "
		}
		out += l
	}
	return out
}

// PageParams reads page/per_page query parameters with bounds applied.
func PageParams(r *http.Request, defaultPerPage, maxPerPage int) (page, perPage int) {
	page = 1
	perPage = defaultPerPage
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && v > 0 {
		perPage = v
	}
	if maxPerPage > 0 && perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}
