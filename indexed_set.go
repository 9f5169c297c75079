package guardkit

import "fmt"

// IndexedSet is an enumerable set: a dense slice of members plus a map from
// member to its slot. Removal swaps the last member into the freed slot, so it
// is O(1) and iteration order is insertion order only until the first removal.
//
// IndexedSet is not safe for concurrent use; owners serialise access.
type IndexedSet[T comparable] struct {
	items []T
	index map[T]int
}

// NewIndexedSet creates an empty set.
func NewIndexedSet[T comparable]() *IndexedSet[T] {
	return &IndexedSet[T]{index: make(map[T]int)}
}

// Add inserts v. It returns false if v was already a member.
func (s *IndexedSet[T]) Add(v T) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = len(s.items)
	s.items = append(s.items, v)
	return true
}

// Remove deletes v. It returns false if v was not a member.
func (s *IndexedSet[T]) Remove(v T) bool {
	pos, ok := s.index[v]
	if !ok {
		return false
	}
	last := len(s.items) - 1
	if pos != last {
		moved := s.items[last]
		s.items[pos] = moved
		s.index[moved] = pos
	}
	var zero T
	s.items[last] = zero
	s.items = s.items[:last]
	delete(s.index, v)
	return true
}

// Contains reports whether v is a member.
func (s *IndexedSet[T]) Contains(v T) bool {
	_, ok := s.index[v]
	return ok
}

// IndexOf returns the slot of v and whether v is a member.
func (s *IndexedSet[T]) IndexOf(v T) (int, bool) {
	pos, ok := s.index[v]
	return pos, ok
}

// At returns the member at slot i.
func (s *IndexedSet[T]) At(i int) (T, bool) {
	if i < 0 || i >= len(s.items) {
		var zero T
		return zero, false
	}
	return s.items[i], true
}

// Len returns the number of members.
func (s *IndexedSet[T]) Len() int {
	return len(s.items)
}

// Values returns a copy of the members in slot order.
func (s *IndexedSet[T]) Values() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Page returns a copy of up to limit members starting at offset.
// An offset at or past the end yields an empty page.
func (s *IndexedSet[T]) Page(offset, limit int) []T {
	return page(s.items, offset, limit)
}

// verify checks that every member's recorded slot points at itself.
func (s *IndexedSet[T]) verify() error {
	if len(s.items) != len(s.index) {
		return fmt.Errorf("indexed set: %d items but %d index entries", len(s.items), len(s.index))
	}
	for i, v := range s.items {
		pos, ok := s.index[v]
		if !ok {
			return fmt.Errorf("indexed set: member at slot %d has no index entry", i)
		}
		if pos != i {
			return fmt.Errorf("indexed set: member at slot %d indexed at %d", i, pos)
		}
	}
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit < end-offset {
		end = offset + limit
	}
	out := make([]T, end-offset)
	copy(out, items[offset:end])
	return out
}
