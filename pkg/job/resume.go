package job

import "sort"

// ResumeOrder reorders an ascending candidate list for a run resuming after
// cursor. Candidates sorting after cursor come first, followed by the ones
// at or before it. The cursor does not need to be present in the list, so a
// candidate set that shrank or grew since the cancelled run is handled.
//
// Candidates at or before the cursor were still unresolved when the list
// was built, so they are new or previously failed and must not be skipped.
func ResumeOrder(candidates []string, cursor string) []string {
	if cursor == "" || len(candidates) == 0 {
		return candidates
	}

	i := sort.Search(len(candidates), func(i int) bool { return candidates[i] > cursor })

	out := make([]string, 0, len(candidates))
	out = append(out, candidates[i:]...)
	out = append(out, candidates[:i]...)
	return out
}
