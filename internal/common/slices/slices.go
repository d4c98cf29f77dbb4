package slices

// Unique returns a copy of s with duplicate elements removed, keeping only the first occurrence.
func Unique[S ~[]E, E comparable](s S) S {
	if s == nil {
		return nil
	}
	rv := make(S, 0, len(s))
	seen := make(map[E]bool, len(s))
	for _, v := range s {
		if !seen[v] {
			rv = append(rv, v)
			seen[v] = true
		}
	}
	return rv
}

// Map returns the result of applying f to every element of s, in order.
func Map[S ~[]E, E any, V any](s S, f func(E) V) []V {
	if s == nil {
		return nil
	}
	rv := make([]V, len(s))
	for i, v := range s {
		rv[i] = f(v)
	}
	return rv
}
