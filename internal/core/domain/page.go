package domain

const (
	DefaultPerPage = 25
	MaxPerPage     = 100
)

// Page is a 1-based pagination request.
type Page struct {
	Number  int
	PerPage int
}

func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.PerPage
}

// Pagination is the metadata returned alongside a listed page.
type Pagination struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	TotalPages  int `json:"total_pages"`
	TotalCount  int `json:"total_count"`
}

func NewPagination(p Page, total int) Pagination {
	pages := 0
	if total > 0 {
		pages = (total + p.PerPage - 1) / p.PerPage
	}
	return Pagination{
		CurrentPage: p.Number,
		PerPage:     p.PerPage,
		TotalPages:  pages,
		TotalCount:  total,
	}
}
