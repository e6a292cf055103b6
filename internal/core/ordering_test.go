package core

import (
	"math/rand"
	"testing"
	"time"
)

func names(jobs []*Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Name
	}
	return out
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCompareJobs(t *testing.T) {
	urgent := mustJob(t, "z", PriorityUrgent, t0.Add(time.Hour))
	high := mustJob(t, "y", PriorityHigh, t0)
	older := mustJob(t, "b", PriorityNormal, t0)
	newer := mustJob(t, "a", PriorityNormal, t0.Add(time.Minute))
	twin := mustJob(t, "c", PriorityNormal, t0)

	if CompareJobs(urgent, high) >= 0 {
		t.Fatal("urgent should sort before high")
	}
	if CompareJobs(high, older) >= 0 {
		t.Fatal("high should sort before normal")
	}
	if CompareJobs(older, newer) >= 0 {
		t.Fatal("older should sort before newer at equal priority")
	}
	if CompareJobs(older, twin) >= 0 {
		t.Fatal("name breaks ties")
	}
	if CompareJobs(twin, twin) != 0 {
		t.Fatal("a job compares equal to itself")
	}
}

func TestSortJobsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var jobs []*Job
	for i := 0; i < 40; i++ {
		name := string(rune('a'+i%26)) + string(rune('a'+i/26))
		added := t0.Add(time.Duration(rng.Intn(5)) * time.Minute)
		jobs = append(jobs, mustJob(t, name, Priority(rng.Intn(3)), added))
	}
	rng.Shuffle(len(jobs), func(i, j int) { jobs[i], jobs[j] = jobs[j], jobs[i] })

	SortJobs(jobs)
	if !IsSorted(jobs) {
		t.Fatal("SortJobs did not produce a sorted queue")
	}
	once := names(jobs)
	SortJobs(jobs)
	if !equalNames(once, names(jobs)) {
		t.Fatalf("re-sort changed order:\n%v\n%v", once, names(jobs))
	}
}
