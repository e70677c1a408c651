// Package stdx holds small generic helpers missing from the standard library.
package stdx

// Zero returns the zero value of T, for returning alongside an error from
// generic functions.
func Zero[T any]() T {
	var zero T
	return zero
}

// Must returns v and panics when err is not nil. Use it only for values that
// are known to be valid, such as literals parsed at start-up.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// Or returns v unless it is the zero value, in which case it returns fallback.
func Or[T comparable](v, fallback T) T {
	if v == Zero[T]() {
		return fallback
	}
	return v
}
