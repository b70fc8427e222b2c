package model

import "sort"

// StatusRank orders statuses for dispatch and listings: active work first,
// then pending work, then finished work.
func StatusRank(status string) int {
	switch status {
	case JobStatusProcessing:
		return 0
	case JobStatusQueued:
		return 1
	case JobStatusFailed:
		return 2
	case JobStatusCompleted:
		return 3
	default:
		return 4
	}
}

// DispatchLess reports whether a sorts before b: status rank, then higher
// priority, then older creation time.
func DispatchLess(a, b Job) bool {
	ra, rb := StatusRank(a.Status), StatusRank(b.Status)
	if ra != rb {
		return ra < rb
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func SortJobs(jobs []Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return DispatchLess(jobs[i], jobs[j])
	})
}
