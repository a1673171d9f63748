package services

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Page is a 1-based page request. Zero values select the first page of
// DefaultPageSize items.
type Page struct {
	Page     int `form:"page" json:"page"`
	PageSize int `form:"page_size" json:"page_size"`
}

func (p Page) Validate() error {
	if p.Page < 0 {
		return newValidationError("page", "must be at least 1")
	}
	if p.PageSize < 0 || p.PageSize > MaxPageSize {
		return newValidationError("page_size", "must be between 1 and %d", MaxPageSize)
	}
	return nil
}

func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p Page) Limit() int {
	return p.Normalize().PageSize
}

func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PageSize
}
