package models

// Lookup is the result of a catalog lookup that may legitimately find nothing.
// Absence is a value, not an error
type Lookup[T any] struct {
	value *T
}

// Found wraps a located record
func Found[T any](v T) Lookup[T] {
	return Lookup[T]{value: &v}
}

// NotFound is the empty lookup result
func NotFound[T any]() Lookup[T] {
	return Lookup[T]{}
}

// Get returns the record and whether it was found
func (l Lookup[T]) Get() (T, bool) {
	if l.value == nil {
		var zero T
		return zero, false
	}
	return *l.value, true
}

// IsFound reports whether the lookup located a record
func (l Lookup[T]) IsFound() bool {
	return l.value != nil
}
