package core

import (
	"errors"
	"testing"
)

func TestRegistryMostFree(t *testing.T) {
	r := NewRegistry()
	busy := newTestMachine(t, "alpha", mustJob(t, "a1", PriorityNormal, t0))
	idleB := newTestMachine(t, "bravo")
	idleC := newTestMachine(t, "charlie")
	off, _ := NewMachine("delta", MachineStatusDisabled)
	for _, m := range []*Machine{busy, idleB, idleC, off} {
		if err := r.Add(m); err != nil {
			t.Fatalf("Add(%s): %v", m.Name, err)
		}
	}

	m, err := r.MostFree()
	if err != nil {
		t.Fatalf("MostFree: %v", err)
	}
	if m.Name != "bravo" {
		t.Fatalf("MostFree = %s, want bravo (tie broken by name)", m.Name)
	}

	m, err = r.MostFreeExcept("bravo")
	if err != nil {
		t.Fatalf("MostFreeExcept: %v", err)
	}
	if m.Name != "charlie" {
		t.Fatalf("MostFreeExcept = %s, want charlie", m.Name)
	}

	idleB.Status = MachineStatusDisabled
	idleC.Status = MachineStatusDisabled
	m, err = r.MostFree()
	if err != nil || m.Name != "alpha" {
		t.Fatalf("MostFree with one enabled machine = %v, %v", m, err)
	}
	if _, err := r.MostFreeExcept("alpha"); !errors.Is(err, ErrMachineNotFound) {
		t.Fatalf("expected ErrMachineNotFound, got %v", err)
	}
}

func TestRegistryDuplicatesAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(newTestMachine(t, "alpha", mustJob(t, "a1", PriorityNormal, t0))); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(newTestMachine(t, "alpha")); !errors.Is(err, ErrDuplicateMachine) {
		t.Fatalf("expected ErrDuplicateMachine, got %v", err)
	}
	job, m, err := r.FindJob("a1")
	if err != nil || job.Name != "a1" || m.Name != "alpha" {
		t.Fatalf("FindJob = %v, %v, %v", job, m, err)
	}
	if _, _, err := r.FindJob("ghost"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := r.Remove("ghost"); !errors.Is(err, ErrMachineNotFound) {
		t.Fatalf("expected ErrMachineNotFound, got %v", err)
	}
	if r.TotalJobs() != 1 {
		t.Fatalf("total jobs = %d", r.TotalJobs())
	}
}
