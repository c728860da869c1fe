package patterns

import "sort"

// Elect picks a leader from candidates by deterministic tiebreak (spec.md
// §4.8: "elect a leader by deterministic tiebreak over registered IDs").
// The lexicographically smallest ID wins; callers that want highest-wins
// semantics can reverse the slice first.
func Elect(candidates []string) (leader string, ok bool) {
	if len(candidates) == 0 {
		return "", false
	}
	cp := append([]string{}, candidates...)
	sort.Strings(cp)
	return cp[0], true
}
