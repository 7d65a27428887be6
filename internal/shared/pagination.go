package shared

import "fmt"

// Pagination bounds for list endpoints.
const (
	MinPageLimit     = 1
	MaxPageLimit     = 100
	DefaultPageLimit = 20
)

// Pagination contains the window of a paginated listing.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NewPagination applies defaults to a zero limit.
func NewPagination(limit, offset int) Pagination {
	if limit == 0 {
		limit = DefaultPageLimit
	}
	return Pagination{Limit: limit, Offset: offset}
}

// Validate checks the window bounds.
func (p Pagination) Validate() error {
	if p.Limit < MinPageLimit || p.Limit > MaxPageLimit {
		return fmt.Errorf("limit must be between %d and %d: %w", MinPageLimit, MaxPageLimit, ErrValidation)
	}
	if p.Offset < 0 {
		return fmt.Errorf("offset must not be negative: %w", ErrValidation)
	}
	return nil
}
