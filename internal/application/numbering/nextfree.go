package numbering

import "github.com/prazos-api/internal/domain"

// DefaultUpperBound is the ceiling used when none is configured.
const DefaultUpperBound = 9999

// NextFree returns the smallest n in [1, upperBound] not in used.
//
// When every number in range is taken it returns 1, even though 1 is in use.
// Callers that need to tell the two cases apart should check Exhausted.
func NextFree(used domain.NumberSet, upperBound int) int {
	for n := 1; n <= upperBound; n++ {
		if !used.Has(n) {
			return n
		}
	}
	return 1
}

// Exhausted reports whether every number in [1, upperBound] is used.
func Exhausted(used domain.NumberSet, upperBound int) bool {
	if len(used) < upperBound {
		return false
	}
	for n := 1; n <= upperBound; n++ {
		if !used.Has(n) {
			return false
		}
	}
	return true
}
