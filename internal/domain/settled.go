package domain

// Settled is the outcome of one branch of an all-settled fan-out. Exactly one of
// Value or Err is meaningful.
type Settled[T any] struct {
	Source string
	Value  T
	Err    error
}

// OK reports whether the branch succeeded.
func (s Settled[T]) OK() bool { return s.Err == nil }

// Fulfilled returns the values of all successful branches in input order.
func Fulfilled[T any](in []Settled[T]) []T {
	out := make([]T, 0, len(in))
	for _, s := range in {
		if s.OK() {
			out = append(out, s.Value)
		}
	}
	return out
}

// Rejected returns the errors of all failed branches keyed by source.
func Rejected[T any](in []Settled[T]) map[string]error {
	out := make(map[string]error)
	for _, s := range in {
		if !s.OK() {
			out[s.Source] = s.Err
		}
	}
	return out
}
