package status

// AggregateItem combines the three raw phase statuses of an item into one
// overall status. Any phase in flight dominates, then all-completed, then
// any failure which yields PartiallyCompleted.
//
// Failed is never returned here even when every phase failed: the
// any-failed rule runs first. Callers that need a hard failure signal
// inspect the phase statuses directly.
func AggregateItem(extraction, generation, submission string) Canonical {
	return rollup([]Canonical{
		Normalize(extraction),
		Normalize(generation),
		Normalize(submission),
	}, false)
}

// AggregateChunk rolls item statuses up into a chunk status.
func AggregateChunk(items []Canonical) Canonical {
	return rollup(items, true)
}

// AggregateUpload rolls chunk statuses up into an upload status.
func AggregateUpload(chunks []Canonical) Canonical {
	return rollup(chunks, true)
}

// rollup applies processing > all-completed > any-failed > pending.
// When partialIsFailure is set, children that are already partially
// completed count as carrying a failure.
func rollup(children []Canonical, partialIsFailure bool) Canonical {
	if len(children) == 0 {
		return Pending
	}

	completed := 0
	failed := false
	for _, c := range children {
		switch c {
		case Processing:
			return Processing
		case Completed:
			completed++
		case Failed:
			failed = true
		case PartiallyCompleted:
			if partialIsFailure {
				failed = true
			}
		}
	}

	switch {
	case completed == len(children):
		return Completed
	case failed:
		return PartiallyCompleted
	default:
		return Pending
	}
}
