package core

import (
	"errors"
	"testing"
	"time"
)

func newTestMachine(t *testing.T, name string, jobs ...*Job) *Machine {
	t.Helper()
	m, err := NewMachine(name, MachineStatusEnabled)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	for _, job := range jobs {
		if err := m.Add(job); err != nil {
			t.Fatalf("Add(%s): %v", job.Name, err)
		}
	}
	m.ReSort()
	return m
}

func TestMachineAddSetsBackReference(t *testing.T) {
	m := newTestMachine(t, "printerB")
	job := mustJob(t, "print1", PriorityNormal, t0)
	if err := m.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if job.MachineName != "printerB" {
		t.Fatalf("machine name = %s", job.MachineName)
	}
	if err := m.Add(job.Clone()); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestMachineScenarioShiftOverridesPolicy(t *testing.T) {
	j1 := mustJob(t, "J1", PriorityNormal, t0)
	j2 := mustJob(t, "J2", PriorityUrgent, t0.Add(time.Second))
	m := newTestMachine(t, "M1", j1, j2)

	if got := names(m.Jobs()); !equalNames(got, []string{"J2", "J1"}) {
		t.Fatalf("sorted queue = %v", got)
	}
	if err := m.Shift("J1", -1); err != nil {
		t.Fatalf("Shift: %v", err)
	}
	if got := names(m.Jobs()); !equalNames(got, []string{"J1", "J2"}) {
		t.Fatalf("after shift = %v", got)
	}
}

func TestMachineShiftClamps(t *testing.T) {
	m := newTestMachine(t, "M1",
		mustJob(t, "a", PriorityNormal, t0),
		mustJob(t, "b", PriorityNormal, t0.Add(time.Minute)),
		mustJob(t, "c", PriorityNormal, t0.Add(2*time.Minute)),
		mustJob(t, "d", PriorityNormal, t0.Add(3*time.Minute)),
	)

	tests := []struct {
		job   string
		delta int
		want  []string
	}{
		{"c", -10, []string{"c", "a", "b", "d"}},
		{"c", 10, []string{"a", "b", "d", "c"}},
		{"a", 2, []string{"b", "d", "a", "c"}},
		{"c", 0, []string{"b", "d", "a", "c"}},
	}
	for _, tt := range tests {
		if err := m.Shift(tt.job, tt.delta); err != nil {
			t.Fatalf("Shift(%s, %d): %v", tt.job, tt.delta, err)
		}
		if got := names(m.Jobs()); !equalNames(got, tt.want) {
			t.Fatalf("Shift(%s, %d) = %v, want %v", tt.job, tt.delta, got, tt.want)
		}
	}
	if err := m.Shift("ghost", 1); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMachineCleanAndFlush(t *testing.T) {
	queued := mustJob(t, "q", PriorityNormal, t0)
	running := mustJob(t, "r", PriorityNormal, t0)
	paused := mustJob(t, "p", PriorityNormal, t0)
	finished := mustJob(t, "f", PriorityNormal, t0)
	cancelled := mustJob(t, "c", PriorityNormal, t0)
	deleting := mustJob(t, "d", PriorityNormal, t0)
	running.Status = JobStatusRunning
	paused.Status = JobStatusPaused
	finished.Status = JobStatusFinished
	cancelled.Status = JobStatusCancelled
	deleting.Status = JobStatusDeleting

	m := newTestMachine(t, "M1", queued, running, paused, finished, cancelled, deleting)
	if got := m.RemainingDuration(); got != 90 {
		t.Fatalf("remaining duration = %d, want 90", got)
	}

	removed := m.Clean()
	if len(removed) != 3 {
		t.Fatalf("clean removed %v", names(removed))
	}
	if got := names(m.Jobs()); !equalNames(got, []string{"p", "q", "r"}) {
		t.Fatalf("after clean = %v", got)
	}

	flushed := m.Flush()
	if len(flushed) != 3 || m.Len() != 0 {
		t.Fatalf("flush removed %v, left %d", names(flushed), m.Len())
	}
}

func TestMachineJobsIsDefensive(t *testing.T) {
	m := newTestMachine(t, "M1", mustJob(t, "a", PriorityNormal, t0))
	snapshot := m.Jobs()
	snapshot[0].Status = JobStatusFinished
	snapshot[0].Tags = append(snapshot[0].Tags, "x")

	job, _ := m.Find("a")
	if job.Status != JobStatusQueued || len(job.Tags) != 0 {
		t.Fatalf("snapshot mutation leaked into queue: %+v", job)
	}
}

func TestMachineReplace(t *testing.T) {
	a := mustJob(t, "a", PriorityNormal, t0)
	b := mustJob(t, "b", PriorityNormal, t0)
	m := newTestMachine(t, "M1", a)
	if err := m.Replace(a, b); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if _, ok := m.Find("a"); ok {
		t.Fatal("old job still present")
	}
	if b.MachineName != "M1" {
		t.Fatalf("replacement machine = %s", b.MachineName)
	}
	if err := m.Replace(a, b); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
