package task

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps tasks in a mutex-guarded map. It is a legitimate store
// for single-process deployments and the default for tests; it lives behind
// the Store interface like the durable one, never as ambient global state.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	results map[string]*Result
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]*Task),
		results: make(map[string]*Result),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status, errMsg string) error {
	if status == StatusCompleted {
		return ErrNilResult
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	noop, err := CheckTransition(t, status, errMsg)
	if err != nil || noop {
		return err
	}
	t.Status = status
	t.Error = errMsg
	return nil
}

func (s *MemoryStore) SetResult(_ context.Context, id string, res *Result) error {
	if res == nil {
		return ErrNilResult
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status == StatusCompleted {
		return nil
	}
	if !ValidTransition(t.Status, StatusCompleted) {
		return ErrInvalidTransition
	}
	t.Status = StatusCompleted
	t.Error = ""
	cp := *res
	cp.Pages = append([]string(nil), res.Pages...)
	s.results[id] = &cp
	return nil
}

func (s *MemoryStore) Result(_ context.Context, id string) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tasks[id]; !ok {
		return nil, ErrNotFound
	}
	res, ok := s.results[id]
	if !ok {
		return nil, ErrNoResult
	}
	cp := *res
	cp.Pages = append([]string(nil), res.Pages...)
	return &cp, nil
}

func (s *MemoryStore) SetExternalJobID(_ context.Context, id, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.ExternalJobID = jobID
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	delete(s.results, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context, owner string, statusFilter Status) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0)
	for _, t := range s.tasks {
		if t.Owner != owner {
			continue
		}
		if statusFilter != "" && t.Status != statusFilter {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
