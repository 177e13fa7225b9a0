package domain

import (
	"slices"
	"time"
)

// Category names one independent numbering series.
type Category string

const (
	CategoryLetter Category = "letter" // ofícios
	CategoryMemo   Category = "memo"   // memorandos
)

// Categories lists every known series in display order.
var Categories = []Category{CategoryLetter, CategoryMemo}

// ParseCategory validates a user-supplied category name.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// NumberSet is a set of used correspondence numbers.
type NumberSet map[int]struct{}

// NewNumberSet builds a set from a list, dropping duplicates and non-positive values.
func NewNumberSet(nums ...int) NumberSet {
	s := make(NumberSet, len(nums))
	for _, n := range nums {
		if n > 0 {
			s[n] = struct{}{}
		}
	}
	return s
}

func (s NumberSet) Has(n int) bool {
	_, ok := s[n]
	return ok
}

// With returns a copy of s that also contains n.
func (s NumberSet) With(n int) NumberSet {
	out := s.Clone()
	out[n] = struct{}{}
	return out
}

// Without returns a copy of s that no longer contains n.
func (s NumberSet) Without(n int) NumberSet {
	out := s.Clone()
	delete(out, n)
	return out
}

func (s NumberSet) Clone() NumberSet {
	out := make(NumberSet, len(s))
	for n := range s {
		out[n] = struct{}{}
	}
	return out
}

// Sorted returns the members in ascending order. Never nil, so it marshals as [].
func (s NumberSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// NumberPool is one tenant's allocation state.
// PK: tenant_id. Each category is its own attribute so writes can merge per field.
type NumberPool struct {
	TenantID  string    `json:"tenant_id" dynamodbav:"tenant_id"`
	Letter    []int     `json:"letter" dynamodbav:"letter"`
	Memo      []int     `json:"memo" dynamodbav:"memo"`
	Version   int64     `json:"version" dynamodbav:"version"`
	UpdatedAt time.Time `json:"updated" dynamodbav:"updated_at"`
}

// AnyVersion makes a category write unconditional. Any other value is the
// pool version the write was computed from; the write fails with ErrConflict
// when the stored pool has moved past it.
const AnyVersion int64 = -1

// NewNumberPool returns the empty default pool for a tenant.
func NewNumberPool(tenantID string) *NumberPool {
	return &NumberPool{TenantID: tenantID, Letter: []int{}, Memo: []int{}}
}

// Used returns the set of used numbers for c.
func (p *NumberPool) Used(c Category) NumberSet {
	if p == nil {
		return NumberSet{}
	}
	switch c {
	case CategoryLetter:
		return NewNumberSet(p.Letter...)
	case CategoryMemo:
		return NewNumberSet(p.Memo...)
	}
	return NumberSet{}
}
