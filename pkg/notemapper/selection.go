package notemapper

import "sort"

// Selection tracks which notes of the current batch will be submitted.
// It is not safe for concurrent use; Pipeline guards it.
type Selection struct {
	n   int
	set map[int]struct{}
}

// NewSelection returns an empty selection over a zero-length batch.
func NewSelection() *Selection {
	return &Selection{set: make(map[int]struct{})}
}

// Reset replaces the selection with every index of a batch of n notes.
// All earlier indices are dropped.
func (s *Selection) Reset(n int) {
	if n < 0 {
		n = 0
	}
	s.n = n
	s.set = make(map[int]struct{}, n)
	for i := 0; i < n; i++ {
		s.set[i] = struct{}{}
	}
}

// Len is the size of the batch the selection indexes into.
func (s *Selection) Len() int { return s.n }

func (s *Selection) check(op string, i int) error {
	if i < 0 || i >= s.n {
		return Errorf(ErrIndexOutOfRange, op, "index %d not in [0, %d)", i, s.n)
	}
	return nil
}

// Select adds i. Selecting an already selected index is a no-op.
func (s *Selection) Select(i int) error {
	if err := s.check("select", i); err != nil {
		return err
	}
	s.set[i] = struct{}{}
	return nil
}

// Deselect removes i. Deselecting an unselected index is a no-op.
func (s *Selection) Deselect(i int) error {
	if err := s.check("deselect", i); err != nil {
		return err
	}
	delete(s.set, i)
	return nil
}

// IsSelected reports whether i is selected.
func (s *Selection) IsSelected(i int) bool {
	_, ok := s.set[i]
	return ok
}

func (s *Selection) SelectAll() { s.Reset(s.n) }

func (s *Selection) Clear() {
	s.set = make(map[int]struct{})
}

// Selected returns the selected indices in ascending order.
func (s *Selection) Selected() []int {
	out := make([]int, 0, len(s.set))
	for i := range s.set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
