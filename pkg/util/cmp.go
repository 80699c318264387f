package util

// EqualSlices reports whether a and b hold equal elements in the same order.
func EqualSlices[T any](a, b []T, equal func(x, y T) bool) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if !equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// IndexSequence returns the index of the first window of haystack equal to
// needle, or -1. An empty needle never matches.
func IndexSequence[T any](haystack, needle []T, equal func(x, y T) bool) int {
	if len(needle) == 0 {
		return -1
	}

	for i := 0; i+len(needle) <= len(haystack); i++ {
		if EqualSlices(haystack[i:i+len(needle)], needle, equal) {
			return i
		}
	}
	return -1
}

// ContainsSequence reports whether needle appears contiguously in haystack.
func ContainsSequence[T any](haystack, needle []T, equal func(x, y T) bool) bool {
	return IndexSequence(haystack, needle, equal) >= 0
}
