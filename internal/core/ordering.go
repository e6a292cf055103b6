package core

import (
	"sort"
	"strings"
)

// CompareJobs orders jobs by descending priority, then by added time (oldest
// first), then by name. It returns a negative number when a sorts before b.
func CompareJobs(a, b *Job) int {
	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return -1
		}
		return 1
	}
	if !a.AddedAt.Equal(b.AddedAt) {
		if a.AddedAt.Before(b.AddedAt) {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Name, b.Name)
}

func SortJobs(jobs []*Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return CompareJobs(jobs[i], jobs[j]) < 0
	})
}

func IsSorted(jobs []*Job) bool {
	return sort.SliceIsSorted(jobs, func(i, j int) bool {
		return CompareJobs(jobs[i], jobs[j]) < 0
	})
}
