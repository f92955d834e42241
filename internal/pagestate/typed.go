package pagestate

import (
	"context"
	"encoding/json"
	"sync"
)

// Key names a page-state entry whose value has type T.
type Key[T any] struct {
	name string
}

// NewKey builds the conventional "<page>-<purpose>" key.
func NewKey[T any](page, purpose string) Key[T] {
	return Key[T]{name: page + "-" + purpose}
}

// RawKey wraps an existing key name.
func RawKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// String returns the key name.
func (k Key[T]) String() string {
	return k.name
}

// Get decodes the value stored under key. A missing or mismatched entry
// reports false.
func Get[T any](c *Cache, key Key[T]) (T, bool) {
	var out T
	raw, ok := c.GetState(key.name)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		var zero T
		return zero, false
	}
	return out, true
}

// Set stores value under key.
func Set[T any](ctx context.Context, c *Cache, key Key[T], value T) error {
	return c.SetState(ctx, key.name, value)
}

// Clear removes key.
func Clear[T any](ctx context.Context, c *Cache, key Key[T]) {
	c.ClearState(ctx, key.name)
}

// Slot is a value/setter pair over one key, starting from initial until
// something is stored.
type Slot[T any] struct {
	mu      sync.Mutex
	cache   *Cache
	key     Key[T]
	initial T
}

// NewSlot binds a Slot to key.
func NewSlot[T any](c *Cache, key Key[T], initial T) *Slot[T] {
	return &Slot[T]{cache: c, key: key, initial: initial}
}

// Value returns the stored value, or the initial value when nothing is stored.
func (s *Slot[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := Get(s.cache, s.key); ok {
		return v
	}
	return s.initial
}

// Set stores v.
func (s *Slot[T]) Set(ctx context.Context, v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Set(ctx, s.cache, s.key, v)
}

// Update applies fn to the current value and stores the result.
func (s *Slot[T]) Update(ctx context.Context, fn func(T) T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := Get(s.cache, s.key)
	if !ok {
		current = s.initial
	}
	return Set(ctx, s.cache, s.key, fn(current))
}

// Pagination is the list paging state most pages keep.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// DefaultPagination is the first page with the console's default size.
var DefaultPagination = Pagination{Page: 1, PageSize: 10}

// SearchParams holds the filter form values of a list page.
type SearchParams map[string]string

// PaginationKey returns the pagination key for page.
func PaginationKey(page string) Key[Pagination] {
	return NewKey[Pagination](page, "pagination")
}

// SearchKey returns the search filter key for page.
func SearchKey(page string) Key[SearchParams] {
	return NewKey[SearchParams](page, "search-params")
}

// ActiveTabKey returns the active tab key for page.
func ActiveTabKey(page string) Key[string] {
	return NewKey[string](page, "active-tab")
}
