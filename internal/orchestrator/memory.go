package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[string]*RunJob
	results  map[string][]RunResult
	healings map[string][]HealingAttempt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     map[string]*RunJob{},
		results:  map[string][]RunResult{},
		healings: map[string][]HealingAttempt{},
	}
}

func cloneJob(j *RunJob) *RunJob {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

func (m *MemoryStore) Create(_ context.Context, job *RunJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("run job %s already exists", job.ID)
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*RunJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneJob(j), nil
}

func (m *MemoryStore) List(_ context.Context, status Status, limit int) ([]RunJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RunJob
	for _, j := range m.jobs {
		if status == "" || j.Status == status {
			out = append(out, *cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, from Status, u Update) (*RunJob, error) {
	if err := checkTransition(from, u); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.Status != from {
		return nil, transitionError(id, j.Status, from)
	}
	applyUpdate(j, u)
	return cloneJob(j), nil
}

func (m *MemoryStore) SaveResults(_ context.Context, runID string, results []RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]RunResult, len(results))
	for i, r := range results {
		r.RunID = runID
		cp[i] = r
	}
	m.results[runID] = cp
	return nil
}

func (m *MemoryStore) Results(_ context.Context, runID string) ([]RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunResult(nil), m.results[runID]...), nil
}

func (m *MemoryStore) SaveHealing(_ context.Context, a *HealingAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healings[a.RunID] = append(m.healings[a.RunID], *a)
	return nil
}

func (m *MemoryStore) Healings(_ context.Context, runID string) ([]HealingAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HealingAttempt(nil), m.healings[runID]...), nil
}

func (m *MemoryStore) Close() error { return nil }
