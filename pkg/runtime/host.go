package runtime

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/chazu/seqweave/pkg/bytecode"
	"github.com/chazu/seqweave/pkg/module"
)

var (
	// ErrNullReference is returned when an extern receives nil where an
	// instance is required.
	ErrNullReference = errors.New("null reference")

	// ErrNotSequence is returned when GetIterator receives a value that is
	// not a Sequence.
	ErrNotSequence = errors.New("value is not a sequence")

	// ErrNotIterator is returned when MoveNext or Current receives a value
	// that is not an Iterator.
	ErrNotIterator = errors.New("value is not an iterator")
)

// Equaler is implemented by values that define their own equality. The
// default ValueEquals honors it before falling back to deep equality.
type Equaler interface {
	Equal(other any) bool
}

// Host implements the standard externs over Go values.
type Host struct {
	// ValueEquals decides element equality. Nil means DefaultValueEquals.
	ValueEquals func(a, b any) bool
}

// CallExtern implements bytecode.Externs. A nil *Host behaves like the
// zero Host.
func (h *Host) CallExtern(symbol string, args []bytecode.Value) (bytecode.Value, error) {
	ref, ok := module.StandardExterns[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", module.ErrUnknownExtern, symbol)
	}
	if len(args) != ref.Argc {
		return nil, fmt.Errorf("%s: expects %d arguments, got %d", symbol, ref.Argc, len(args))
	}

	switch symbol {
	case module.ExternReferenceEquals:
		return ReferenceEquals(args[0], args[1]), nil

	case module.ExternValueEquals:
		var eq func(a, b any) bool
		if h != nil {
			eq = h.ValueEquals
		}
		if eq == nil {
			eq = DefaultValueEquals
		}
		return eq(args[0], args[1]), nil

	case module.ExternGetIterator:
		if IsNull(args[0]) {
			return nil, fmt.Errorf("%s: %w", symbol, ErrNullReference)
		}
		seq, ok := args[0].(Sequence)
		if !ok {
			return nil, fmt.Errorf("%s: %w: %T", symbol, ErrNotSequence, args[0])
		}
		return seq.Iterator(), nil

	case module.ExternIteratorAdvance:
		it, err := iteratorArg(symbol, args[0])
		if err != nil {
			return nil, err
		}
		return it.Next(), nil

	case module.ExternIteratorCurrent:
		it, err := iteratorArg(symbol, args[0])
		if err != nil {
			return nil, err
		}
		return it.Current(), nil
	}

	return nil, fmt.Errorf("%w: %s", module.ErrUnknownExtern, symbol)
}

func iteratorArg(symbol string, v any) (Iterator, error) {
	if IsNull(v) {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNullReference)
	}
	it, ok := v.(Iterator)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %T", symbol, ErrNotIterator, v)
	}
	return it, nil
}

// IsNull reports whether v is the null reference: an untyped nil, or a nil
// pointer, map, slice, channel, function or interface.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface, reflect.UnsafePointer:
		return rv.IsNil()
	}
	return false
}

// ReferenceEquals reports whether a and b are the same instance or both
// null. Values with no identity (structs, numbers, strings, functions) are
// never the same instance as anything.
func ReferenceEquals(a, b any) bool {
	aNull, bNull := IsNull(a), IsNull(b)
	if aNull || bNull {
		return aNull && bNull
	}

	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if av.Type() != bv.Type() {
		return false
	}
	switch av.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return av.Pointer() == bv.Pointer()
	case reflect.Slice:
		return av.Pointer() == bv.Pointer() && av.Len() == bv.Len()
	}
	return false
}

// DefaultValueEquals treats two nulls as equal and a null as unequal to
// anything else. Otherwise it defers to Equaler, then to reflect.DeepEqual.
func DefaultValueEquals(a, b any) bool {
	aNull, bNull := IsNull(a), IsNull(b)
	if aNull || bNull {
		return aNull && bNull
	}
	if e, ok := a.(Equaler); ok {
		return e.Equal(b)
	}
	return reflect.DeepEqual(a, b)
}
