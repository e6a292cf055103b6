package core

import (
	"fmt"
	"sort"
)

// Registry is the set of machines known to the scheduler, keyed by name.
type Registry struct {
	machines map[string]*Machine
}

func NewRegistry() *Registry {
	return &Registry{machines: make(map[string]*Machine)}
}

func (r *Registry) Add(m *Machine) error {
	if _, exists := r.machines[m.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMachine, m.Name)
	}
	r.machines[m.Name] = m
	return nil
}

func (r *Registry) Remove(name string) (*Machine, error) {
	m, exists := r.machines[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMachineNotFound, name)
	}
	delete(r.machines, name)
	return m, nil
}

func (r *Registry) Find(name string) (*Machine, error) {
	m, exists := r.machines[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMachineNotFound, name)
	}
	return m, nil
}

// FindJob locates a job by name across every machine.
func (r *Registry) FindJob(name string) (*Job, *Machine, error) {
	for _, m := range r.List() {
		if job, ok := m.Find(name); ok {
			return job, m, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
}

// List returns the registered machines ordered by name.
func (r *Registry) List() []*Machine {
	out := make([]*Machine, 0, len(r.machines))
	for _, m := range r.machines {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

func (r *Registry) Len() int {
	return len(r.machines)
}

func (r *Registry) TotalJobs() int {
	total := 0
	for _, m := range r.machines {
		total += m.Len()
	}
	return total
}

// MostFree picks the enabled machine with the least remaining queued
// duration, breaking ties by name.
func (r *Registry) MostFree() (*Machine, error) {
	return r.mostFree("")
}

// MostFreeExcept is MostFree with the named machine excluded, so a job being
// reassigned never lands back where it started.
func (r *Registry) MostFreeExcept(name string) (*Machine, error) {
	return r.mostFree(name)
}

func (r *Registry) mostFree(exclude string) (*Machine, error) {
	var best *Machine
	var bestLoad int64
	for _, m := range r.List() {
		if m.Name == exclude || !m.IsEnabled() {
			continue
		}
		load := m.RemainingDuration()
		if best == nil || load < bestLoad {
			best, bestLoad = m, load
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no enabled machine available", ErrMachineNotFound)
	}
	return best, nil
}
