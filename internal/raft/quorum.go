package raft

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// majority returns the quorum size, floor(n/2)+1, for n servers.
func majority[T constraints.Integer](n T) T {
	return n/2 + 1
}

// majorityValue returns the largest v such that at least a majority of
// vals are >= v. It returns the zero value for an empty slice.
func majorityValue[T constraints.Unsigned](vals []T) T {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]T, len(vals))
	copy(sorted, vals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	return sorted[majority(len(sorted))-1]
}

// countKind returns how many slots hold the given kind.
func countKind(slots []Response, kind ResponseKind) int {
	n := 0
	for _, s := range slots {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// maxTerm returns the largest term reported in any answered slot.
func maxTerm(slots []Response) uint64 {
	var highest uint64
	for _, s := range slots {
		if s.Kind != ResponseNone && s.Term > highest {
			highest = s.Term
		}
	}
	return highest
}
