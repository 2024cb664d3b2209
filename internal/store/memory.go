package store

import (
	"context"
	"sync"
)

type linkKey struct {
	siteID  string
	localID int64
}

// memoryStore is an in-process JobStore and LinkStore. State does not
// survive a restart; intended for tests and single-node evaluation.
type memoryStore struct {
	mu    sync.RWMutex
	jobs  map[JobKey]*Job
	links map[linkKey]int64
}

// NewMemoryStore creates an empty in-memory store implementing both
// JobStore and LinkStore.
func NewMemoryStore() *memoryStore { //nolint:revive // unexported-return is intentional
	return &memoryStore{
		jobs:  make(map[JobKey]*Job),
		links: make(map[linkKey]int64),
	}
}

func (m *memoryStore) GetJob(_ context.Context, key JobKey) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(job), nil
}

func (m *memoryStore) SaveJob(_ context.Context, key JobKey, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[key] = copyJob(job)
	return nil
}

func (m *memoryStore) DeleteJob(_ context.Context, key JobKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, key)
	return nil
}

func (m *memoryStore) GetLink(_ context.Context, siteID string, localID int64) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	remoteID, ok := m.links[linkKey{siteID: siteID, localID: localID}]
	return remoteID, ok, nil
}

func (m *memoryStore) SaveLink(_ context.Context, siteID string, localID, remoteID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[linkKey{siteID: siteID, localID: localID}] = remoteID
	return nil
}

// copyJob returns a deep copy so callers cannot mutate stored state.
func copyJob(job *Job) *Job {
	jobCopy := *job
	if job.RemainingIDs != nil {
		jobCopy.RemainingIDs = append([]int64(nil), job.RemainingIDs...)
	}
	if job.Errors != nil {
		jobCopy.Errors = make(map[string]int, len(job.Errors))
		for code, count := range job.Errors {
			jobCopy.Errors[code] = count
		}
	}
	return &jobCopy
}
