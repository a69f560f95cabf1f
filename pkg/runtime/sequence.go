package runtime

// Sequence is anything that can be iterated once from the start.
type Sequence interface {
	// Iterator returns a fresh iterator positioned before the first element.
	Iterator() Iterator
}

// Iterator walks a Sequence. Next must keep returning false, without side
// effects, once the sequence is exhausted; Current is only valid after a
// Next that returned true.
type Iterator interface {
	Next() bool
	Current() any
}

// SliceSeq is a Sequence over a Go slice. It is a pointer type so that two
// SliceSeq values are the same instance only when they are the same pointer.
type SliceSeq[T any] struct {
	items []T
}

// Slice wraps items as a Sequence.
func Slice[T any](items ...T) *SliceSeq[T] {
	return &SliceSeq[T]{items: items}
}

// Iterator implements Sequence.
func (s *SliceSeq[T]) Iterator() Iterator {
	return &sliceIterator[T]{items: s.items, pos: -1}
}

// Len returns the number of elements.
func (s *SliceSeq[T]) Len() int {
	return len(s.items)
}

type sliceIterator[T any] struct {
	items []T
	pos   int
}

func (it *sliceIterator[T]) Next() bool {
	if it.pos+1 >= len(it.items) {
		it.pos = len(it.items)
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator[T]) Current() any {
	return it.items[it.pos]
}

// FuncSeq adapts a factory function to a Sequence.
type FuncSeq func() Iterator

// Iterator implements Sequence.
func (f FuncSeq) Iterator() Iterator {
	return f()
}
