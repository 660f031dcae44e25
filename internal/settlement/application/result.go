package application

// Result carries a value together with the error that produced it, so a
// degraded read can be shown as such instead of as a plain zero.
type Result[T any] struct {
	Value T
	Err   error
}

// OK wraps a successful value.
func OK[T any](value T) Result[T] {
	return Result[T]{Value: value}
}

// Fail wraps an error with the zero value.
func Fail[T any](err error) Result[T] {
	var zero T
	return Result[T]{Value: zero, Err: err}
}

// Degraded reports whether the value is a fallback.
func (r Result[T]) Degraded() bool { return r.Err != nil }

// OrZero returns the value, or the zero value on error.
func (r Result[T]) OrZero() T {
	if r.Err != nil {
		var zero T
		return zero
	}
	return r.Value
}
